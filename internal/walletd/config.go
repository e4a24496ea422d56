package walletd

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr           = ":8080"
	defaultTokenIssuer          = "walletd"
	defaultAllowedOrigin        = "http://localhost:5173"
	defaultCheckoutBaseURL      = "http://localhost:8080/checkout"
	defaultTokenTTL             = 24 * time.Hour
	defaultCodeTTL              = 15 * time.Minute
	signupBonusCredits    int64 = 20
	generationCostCredits int64 = 10
	creditsPerDollar      int64 = 10
	minRechargeDollars    int64 = 1
)

// RechargePackage is a predefined credit bundle offered at checkout. Credits
// follow the flat creditsPerDollar rate.
type RechargePackage struct {
	PriceDollars int64
	Credits      int64
}

var rechargePackages = []RechargePackage{
	{PriceDollars: 5, Credits: 5 * creditsPerDollar},
	{PriceDollars: 10, Credits: 10 * creditsPerDollar},
	{PriceDollars: 20, Credits: 20 * creditsPerDollar},
	{PriceDollars: 50, Credits: 50 * creditsPerDollar},
}

// RechargePackages returns the catalog of purchasable credit bundles.
func RechargePackages() []RechargePackage {
	catalog := make([]RechargePackage, len(rechargePackages))
	copy(catalog, rechargePackages)
	return catalog
}

// Config aggregates runtime settings for the wallet backend.
type Config struct {
	ListenAddr      string
	DatabasePath    string
	AllowedOrigins  []string
	TokenSigningKey string
	TokenIssuer     string
	TokenTTL        time.Duration
	CheckoutBaseURL string
	SignupBonus     int64
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.TokenIssuer = defaultIfEmpty(cfg.TokenIssuer, defaultTokenIssuer)
	cfg.CheckoutBaseURL = defaultIfEmpty(cfg.CheckoutBaseURL, defaultCheckoutBaseURL)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.SignupBonus < 0 {
		return fmt.Errorf("%w: signup bonus must not be negative", ErrInvalidServiceConfig)
	}
	if cfg.SignupBonus == 0 {
		cfg.SignupBonus = signupBonusCredits
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidServiceConfig)
	}
	if len(cfg.TokenSigningKey) == 0 {
		return fmt.Errorf("%w: token signing key is required", ErrInvalidServiceConfig)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
