// Package auth resolves the caller identity from trusted gateway headers.
// The service never handles user credentials itself; the gateway signs the
// identity headers with a shared secret.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller as asserted by the gateway.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type Config struct {
	InternalAuthSecret string
	MaxSkew            time.Duration
}

func ConfigFromEnv() (Config, error) {
	maxSkew, err := env.Duration("TASKRELAY_INTERNAL_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		InternalAuthSecret: env.String("TASKRELAY_INTERNAL_AUTH_SECRET", ""),
		MaxSkew:            maxSkew,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.InternalAuthSecret) == "" {
		return errors.New("TASKRELAY_INTERNAL_AUTH_SECRET is required")
	}
	if c.MaxSkew <= 0 {
		return errors.New("TASKRELAY_INTERNAL_AUTH_MAX_SKEW must be positive")
	}
	return nil
}

type GatewayHeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
}

func NewGatewayHeadersAuthenticator(cfg Config) (*GatewayHeadersAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GatewayHeadersAuthenticator{
		Secret:  cfg.InternalAuthSecret,
		MaxSkew: cfg.MaxSkew,
	}, nil
}

func (a *GatewayHeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}

	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	ts := strings.TrimSpace(r.Header.Get(HeaderInternalAuthTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderInternalAuthSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}

	if err := VerifyInternalAuthTimestamp(ts, time.Now().UTC(), a.MaxSkew); err != nil {
		return Identity{}, err
	}
	if err := VerifyInternalAuthSignature(
		a.Secret,
		ts,
		r.Method,
		r.URL.Path,
		r.Header.Get("X-Request-Id"),
		subject,
		email,
		rolesRaw,
		sig,
	); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
