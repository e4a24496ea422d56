package apiclient

import (
	"context"
	"net/http"
)

// Register creates an account; the caller must verify the email before the
// first login succeeds.
func (client *Client) Register(ctx context.Context, email string, password string, name string) (User, error) {
	var data struct {
		User User `json:"user"`
	}
	err := client.request(ctx, http.MethodPost, "/auth/register", registerRequest{Email: email, Password: password, Name: name}, &data)
	if err != nil {
		return User{}, err
	}
	return data.User, nil
}

// Login exchanges credentials for a session; the bearer token is captured on
// the client for subsequent requests.
func (client *Client) Login(ctx context.Context, email string, password string) (AuthSession, error) {
	var data AuthSession
	err := client.request(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &data)
	if err != nil {
		return AuthSession{}, err
	}
	if data.Token != "" {
		client.SetToken(data.Token)
	}
	return data, nil
}

// GoogleLogin completes the OAuth redirect with the provider code and state.
func (client *Client) GoogleLogin(ctx context.Context, code string, state string) (AuthSession, error) {
	var data AuthSession
	err := client.request(ctx, http.MethodPost, "/auth/google", googleLoginRequest{Code: code, State: state}, &data)
	if err != nil {
		return AuthSession{}, err
	}
	if data.Token != "" {
		client.SetToken(data.Token)
	}
	return data, nil
}

// SendVerification asks the backend to email a verification code.
func (client *Client) SendVerification(ctx context.Context, email string, kind VerificationKind, name string) error {
	return client.request(ctx, http.MethodPost, "/auth/send-verification", sendVerificationRequest{Email: email, Type: string(kind), Name: name}, nil)
}

// VerifyEmail redeems a verification code. For signup verification the
// backend returns a session token, which is captured.
func (client *Client) VerifyEmail(ctx context.Context, email string, code string, kind VerificationKind) (AuthSession, error) {
	var data AuthSession
	err := client.request(ctx, http.MethodPost, "/auth/verify-email", verifyEmailRequest{Email: email, Code: code, Type: string(kind)}, &data)
	if err != nil {
		return AuthSession{}, err
	}
	if data.Token != "" {
		client.SetToken(data.Token)
	}
	return data, nil
}

// ResetPassword sets a new password using a previously verified reset code.
func (client *Client) ResetPassword(ctx context.Context, email string, code string, newPassword string) error {
	return client.request(ctx, http.MethodPost, "/auth/reset-password", resetPasswordRequest{Email: email, Code: code, NewPassword: newPassword}, nil)
}

// Profile fetches the signed-in user.
func (client *Client) Profile(ctx context.Context) (User, error) {
	var data struct {
		User User `json:"user"`
	}
	if err := client.request(ctx, http.MethodGet, "/user/profile", nil, &data); err != nil {
		return User{}, err
	}
	return data.User, nil
}

// UpdateProfile changes the display name or avatar.
func (client *Client) UpdateProfile(ctx context.Context, name string, avatarURL string) (User, error) {
	var data struct {
		User User `json:"user"`
	}
	err := client.request(ctx, http.MethodPut, "/user/profile", updateProfileRequest{Name: name, AvatarURL: avatarURL}, &data)
	if err != nil {
		return User{}, err
	}
	return data.User, nil
}
