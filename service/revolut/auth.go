package revolut

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the iss claim used when none is configured.
	DefaultIssuer = "127.0.0.1"

	assertionAudience = "https://revolut.com"
	assertionType     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionLifetime = time.Hour
)

// LoadPrivateKey reads a PEM encoded RSA private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return key, nil
}

// ClientAssertion signs the JWT that authenticates this client to auth/token.
func (c *Client) ClientAssertion() (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("no private key configured")
	}
	claims := jwt.MapClaims{
		"iss": c.issuer,
		"sub": c.clientID,
		"aud": assertionAudience,
		"exp": c.now().Add(assertionLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

// ExchangeAuthCode trades an authorization code for a token pair.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) (*AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.requestToken(ctx, form)
}

// RefreshToken obtains a new access token. The API does not rotate the
// refresh token, so the one passed in is carried over.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	token, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*AccessToken, error) {
	assertion, err := c.ClientAssertion()
	if err != nil {
		return nil, err
	}
	form.Set("client_id", c.clientID)
	form.Set("client_assertion_type", assertionType)
	form.Set("client_assertion", assertion)
	encoded := form.Encode()

	var token AccessToken
	err = c.do(ctx, "auth/token", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"auth/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, &token)
	if err != nil {
		return nil, err
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	c.logger.InfoContext(ctx, "obtained access token",
		"grant_type", form.Get("grant_type"),
		"expires_at", token.ExpiresAt,
	)
	return &token, nil
}
