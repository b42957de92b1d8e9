package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/doctordirect/consult-relay/internal/core"
)

// Mode selects how identities presented by clients are checked.
type Mode string

const (
	// ModeToken requires a valid JWT; its claims define the identity.
	ModeToken Mode = "token"
	// ModeTrust accepts the claimed identity unless a token is presented.
	ModeTrust Mode = "trust"
)

var ErrTokenRequired = errors.New("token required")

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeToken, ModeTrust:
		return m, nil
	case "":
		return ModeToken, nil
	}
	return "", fmt.Errorf("unknown auth mode %q", s)
}

// Resolver turns what a client presents into a relay identity.
type Resolver struct {
	mode Mode
	jwt  *JWTConfig
}

// NewResolver creates a resolver. ModeToken needs a JWT secret.
func NewResolver(mode Mode, cfg *JWTConfig) (*Resolver, error) {
	if cfg == nil {
		cfg = &JWTConfig{}
	}
	if mode == ModeToken && len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth mode %s: %w", mode, ErrNoSecret)
	}
	return &Resolver{mode: mode, jwt: cfg}, nil
}

// Mode returns the configured mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns the identity for a connection. A token, when present, always
// takes precedence over claimed.
func (r *Resolver) Resolve(token string, claimed core.Identity) (core.Identity, error) {
	token = strings.TrimSpace(token)
	if token != "" {
		claims, err := ValidateToken(r.jwt, token)
		if err != nil {
			return core.Identity{}, err
		}
		return IdentityFromClaims(claims), nil
	}

	if r.mode == ModeToken {
		return core.Identity{}, ErrTokenRequired
	}
	return claimed, nil
}

// ResolveBearer validates an HTTP Authorization header value.
func (r *Resolver) ResolveBearer(header string) (core.Identity, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return core.Identity{}, ErrTokenRequired
	}
	claims, err := ValidateToken(r.jwt, token)
	if err != nil {
		return core.Identity{}, err
	}
	return IdentityFromClaims(claims), nil
}

// IdentityFromClaims maps token claims onto a relay identity.
func IdentityFromClaims(c *Claims) core.Identity {
	return core.Identity{
		UserID:      c.Subject,
		DisplayName: c.Name,
		Role:        core.Role(c.Role),
	}
}
