package apiclient

import (
	"context"
	"fmt"
	"net/http"
)

// GenerateImages runs one generation batch on the backend.
func (client *Client) GenerateImages(ctx context.Context, prompt string, style string, transparent bool, count int) (GenerationResult, error) {
	var data GenerationResult
	payload := generateRequest{Prompt: prompt, Style: style, Transparent: transparent, Count: count}
	if err := client.request(ctx, http.MethodPost, "/images/generate", payload, &data); err != nil {
		return GenerationResult{}, err
	}
	return data, nil
}

// ImageHistory returns one page of past generations.
func (client *Client) ImageHistory(ctx context.Context, page int, limit int) ([]GeneratedImage, error) {
	var data struct {
		History []GeneratedImage `json:"history"`
		Total   int64            `json:"total"`
		Page    int              `json:"page"`
		Limit   int              `json:"limit"`
	}
	path := fmt.Sprintf("/images/history?page=%d&limit=%d", page, limit)
	if err := client.request(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.History, nil
}
