package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token errors.
var (
	ErrInvalidPrincipal = errors.New("invalid principal")
	ErrInvalidToken     = errors.New("invalid session token")
	ErrTokenExpired     = errors.New("session token expired")
)

// Claims carries the identity fields embedded in a Brushmint session token.
type Claims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewTokenCodec validates the signing configuration.
func NewTokenCodec(signingKey []byte, issuer string, ttl time.Duration) (*TokenCodec, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidToken)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCodec{signingKey: signingKey, issuer: issuer, ttl: ttl}, nil
}

// Issue mints a signed token for the principal.
func (codec *TokenCodec) Issue(principal Principal, now time.Time) (string, error) {
	if principal.ID == "" {
		return "", ErrInvalidPrincipal
	}
	claims := Claims{
		Email:       principal.Email,
		DisplayName: principal.DisplayName,
		AvatarURL:   principal.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    codec.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(codec.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(codec.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and expiry and returns the principal.
func (codec *TokenCodec) Decode(raw string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return codec.signingKey, nil
	}, jwt.WithIssuer(codec.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	return NewPrincipal(claims.Subject, claims.Email, claims.DisplayName, claims.AvatarURL)
}
