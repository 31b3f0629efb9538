package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthFatal marks a credential failure that retrying cannot fix,
// such as a revoked API key or a server the user can no longer access.
var ErrAuthFatal = errors.New("authentication failed permanently")

// Credential is what a connection needs to reach and authenticate with
// the daemon. It is replaced wholesale on refresh.
type Credential struct {
	Token     string
	SocketURL string
	// ExpiresAt is zero when the token carries no expiry.
	ExpiresAt time.Time
}

// NewCredential builds a credential, reading the expiry from the
// token's exp claim. The token is not verified here; the daemon does
// that.
func NewCredential(token, socketURL string) (*Credential, error) {
	if token == "" {
		return nil, fmt.Errorf("credential: empty token")
	}
	if socketURL == "" {
		return nil, fmt.Errorf("credential: empty socket url")
	}
	expiresAt, err := TokenExpiry(token)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: token, SocketURL: socketURL, ExpiresAt: expiresAt}, nil
}

// TokenExpiry returns the exp claim of a JWT, or the zero time if the
// claim is absent.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// ExpiresWithin reports whether the credential is missing, or expires
// less than margin after now.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c == nil {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// CredentialFetcher obtains fresh connection details from the panel.
// Errors wrapping ErrAuthFatal stop the transport; any other error is
// retried with backoff.
type CredentialFetcher interface {
	Fetch(ctx context.Context, serverID string) (*Credential, error)
}

// FetcherFunc adapts a function to CredentialFetcher.
type FetcherFunc func(ctx context.Context, serverID string) (*Credential, error)

func (f FetcherFunc) Fetch(ctx context.Context, serverID string) (*Credential, error) {
	return f(ctx, serverID)
}
