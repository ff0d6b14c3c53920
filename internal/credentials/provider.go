// Package credentials supplies the bearer token attached to backend calls.
// Providers are read at request time; an empty token means the request goes
// out unauthenticated and the backend decides.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider yields the current bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type staticProvider string

// Static returns a provider that always yields token.
func Static(token string) Provider { return staticProvider(token) }

func (s staticProvider) Token(context.Context) (string, error) { return string(s), nil }

// None returns a provider that never yields a token.
func None() Provider { return staticProvider("") }

type envProvider struct {
	name string
}

// Env reads the token from the named environment variable on every call.
func Env(name string) Provider { return envProvider{name: name} }

func (e envProvider) Token(context.Context) (string, error) {
	return Decode(os.Getenv(e.name))
}

type fileProvider struct {
	path string
}

// File reads the token from path on every call. A missing file yields an
// empty token rather than an error.
func File(path string) Provider { return fileProvider{path: path} }

func (f fileProvider) Token(context.Context) (string, error) {
	return readTokenFile(f.path)
}

func readTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return Decode(string(data))
}

// Decode normalizes a persisted token. Browser storage keeps the token as a
// JSON string literal, so quoted values are unmarshalled; anything else is
// taken as the raw token.
func Decode(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var token string
		if err := json.Unmarshal([]byte(trimmed), &token); err != nil {
			return "", fmt.Errorf("credentials: decode token: %w", err)
		}
		return strings.TrimSpace(token), nil
	}
	return trimmed, nil
}
