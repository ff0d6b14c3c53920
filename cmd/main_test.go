package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/admindata/internal/config"
	"github.com/l0p7/admindata/internal/logging"
	"github.com/l0p7/admindata/internal/querycache/backend"
)

func TestBuildPersistedStore(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(t *testing.T) config.CachePersistConfig
		verify func(t *testing.T, store backend.Store)
	}{
		{
			name: "none disables persistence",
			cfg: func(t *testing.T) config.CachePersistConfig {
				return config.CachePersistConfig{Backend: "none"}
			},
			verify: func(t *testing.T, store backend.Store) {
				require.Nil(t, store)
			},
		},
		{
			name: "memory",
			cfg: func(t *testing.T) config.CachePersistConfig {
				return config.CachePersistConfig{Backend: "memory", TTL: time.Minute}
			},
			verify: roundTrip,
		},
		{
			name: "constructs redis store",
			cfg: func(t *testing.T) config.CachePersistConfig {
				server, err := miniredis.Run()
				if err != nil {
					if strings.Contains(err.Error(), "operation not permitted") {
						t.Skip("miniredis unavailable in sandbox")
					}
					require.NoError(t, err)
				}
				t.Cleanup(server.Close)
				return config.CachePersistConfig{
					Backend: "redis",
					TTL:     time.Minute,
					Redis:   config.CacheRedisConfig{Address: server.Addr()},
				}
			},
			verify: roundTrip,
		},
		{
			name: "unreachable redis falls back to memory",
			cfg: func(t *testing.T) config.CachePersistConfig {
				return config.CachePersistConfig{
					Backend: "redis",
					TTL:     time.Minute,
					Redis:   config.CacheRedisConfig{Address: "127.0.0.1:1"},
				}
			},
			verify: roundTrip,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := buildPersistedStore(logging.Discard(), tc.cfg(t))
			if store != nil {
				t.Cleanup(func() {
					require.NoError(t, store.Close(context.Background()))
				})
			}
			tc.verify(t, store)
		})
	}
}

func roundTrip(t *testing.T, store backend.Store) {
	t.Helper()
	require.NotNil(t, store)
	ctx := context.Background()
	require.NoError(t, store.Store(ctx, "getAllCategories:1", backend.Entry{
		Endpoint: "getAllCategories",
		Raw:      []byte(`{"success":true,"message":"ok","data":[]}`),
		Tags:     []string{"Category"},
	}))
	entry, ok, err := store.Lookup(ctx, "getAllCategories:1")
	require.NoError(t, err)
	require.True(t, ok, "expected lookup to succeed")
	require.Equal(t, "getAllCategories", entry.Endpoint)
}

func TestBuildCredentials(t *testing.T) {
	ctx := context.Background()

	provider, stop, err := buildCredentials(ctx, logging.Discard(), config.CredentialsConfig{Source: "static", Token: "s3cret"})
	require.NoError(t, err)
	stop()
	token, err := provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "s3cret", token)

	t.Setenv("ADMINDATA_TEST_TOKEN", "from-env")
	provider, _, err = buildCredentials(ctx, logging.Discard(), config.CredentialsConfig{Source: "env", Env: "ADMINDATA_TEST_TOKEN"})
	require.NoError(t, err)
	token, err = provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-env", token)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	provider, stop, err = buildCredentials(ctx, logging.Discard(), config.CredentialsConfig{Source: "file", File: path, Watch: true})
	require.NoError(t, err)
	defer stop()
	token, err = provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-file", token)

	provider, _, err = buildCredentials(ctx, logging.Discard(), config.CredentialsConfig{})
	require.NoError(t, err)
	token, err = provider.Token(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	_, _, err = buildCredentials(ctx, logging.Discard(), config.CredentialsConfig{Source: "vault"})
	require.Error(t, err)
}

func TestRunLoaderError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{loadErr: errors.New("boom")}
	})

	err := run(context.Background(), "ADMINDATA", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load configuration")
}

func TestRunRejectsPinsWithArguments(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Pinned = []string{"generalStats", "userById"}
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: cfg}
	})

	err := run(context.Background(), "ADMINDATA", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "userById")
}

func TestRunServerConstructorError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig()}
	})

	overrideHTTPServer(t, func(config.ServerConfig, *slog.Logger, http.Handler) (runnableServer, error) {
		return nil, errors.New("construct failed")
	})

	err := run(context.Background(), "ADMINDATA", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "construct failed")
}

func TestRunServerRunError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig()}
	})

	overrideHTTPServer(t, func(config.ServerConfig, *slog.Logger, http.Handler) (runnableServer, error) {
		return &stubServer{err: errors.New("run failed")}, nil
	})

	err := run(context.Background(), "ADMINDATA", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "run failed")
}

func TestRunWiresGatewayHandler(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Pinned = []string{"getAllCategories"}
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: cfg}
	})

	stub := &stubServer{err: context.Canceled}
	overrideHTTPServer(t, func(_ config.ServerConfig, _ *slog.Logger, handler http.Handler) (runnableServer, error) {
		stub.handler = handler
		return stub, nil
	})

	err := run(context.Background(), "ADMINDATA", "")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, http.StatusOK, stub.healthStatus)
}

func overrideConfigLoader(t *testing.T, fn func(string, string) configLoader) {
	original := newConfigLoader
	newConfigLoader = fn
	t.Cleanup(func() { newConfigLoader = original })
}

func overrideHTTPServer(t *testing.T, fn func(config.ServerConfig, *slog.Logger, http.Handler) (runnableServer, error)) {
	original := newHTTPServer
	newHTTPServer = fn
	t.Cleanup(func() { newHTTPServer = original })
}

type fakeLoader struct {
	cfg     config.Config
	loadErr error
}

func (f *fakeLoader) Load(context.Context) (config.Config, error) {
	if f.loadErr != nil {
		return config.Config{}, f.loadErr
	}
	return f.cfg, nil
}

type stubServer struct {
	err          error
	handler      http.Handler
	healthStatus int
}

func (s *stubServer) Run(context.Context) error {
	if s.handler != nil {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.healthStatus = rec.Code
	}
	return s.err
}
