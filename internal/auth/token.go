// Package auth supplies the bearer token used against the care API.
//
// Obtaining and refreshing tokens belongs to an external collaborator. This
// package only reads the current token and inspects its claims so callers
// can warn about an expired session before the backend rejects it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrNoToken      = errors.New("no access token configured")
	ErrInvalidToken = errors.New("invalid access token")
)

// TokenSource returns the current access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed access token.
type StaticToken string

// Token returns the token, or ErrNoToken if it is empty.
func (t StaticToken) Token(context.Context) (string, error) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return "", ErrNoToken
	}
	return s, nil
}

// FileToken reads the token from a file on every call, so a rotated token
// is picked up without a restart.
type FileToken struct {
	Path string
}

// Token reads and trims the token file.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", ErrNoToken
	}
	return s, nil
}

// Claims are the parts of an access token the client cares about.
type Claims struct {
	Subject   string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token has expired at now.
// Tokens without an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type accessClaims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id,omitempty"`
}

// Inspect decodes a JWT access token without verifying its signature.
// The signing key belongs to the backend; the client only reads claims.
func Inspect(token string) (Claims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	c := Claims{
		Subject: claims.Subject,
		UserID:  claims.UserID,
	}
	if claims.IssuedAt != nil {
		c.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	return c, nil
}
