// Package api binds the endpoint declarations to the query store. Reads go
// through the cache; writes go through Store.Mutate so their tags are
// invalidated on success.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/l0p7/admindata/internal/endpoints"
	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/l0p7/admindata/internal/querycache"
)

// ErrUnexpectedData reports envelope data that does not match the endpoint's
// declared response type. The envelope itself is still returned.
var ErrUnexpectedData = errors.New("api: unexpected data shape")

// Executor performs one backend call; *httpclient.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req httpclient.Request) (httpclient.Envelope, error)
}

// Client couples an Executor with a query store.
type Client struct {
	exec   Executor
	store  *querycache.Store
	logger *slog.Logger
}

// New builds a Client. Both exec and store are required.
func New(exec Executor, store *querycache.Store, logger *slog.Logger) (*Client, error) {
	if exec == nil {
		return nil, errors.New("api: executor required")
	}
	if store == nil {
		return nil, errors.New("api: store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{exec: exec, store: store, logger: logger.With(slog.String("agent", "api"))}, nil
}

// Store returns the underlying query store.
func (c *Client) Store() *querycache.Store { return c.store }

// Result is a decoded envelope.
type Result[R any] struct {
	Envelope httpclient.Envelope
	Data     R
}

// Decode unmarshals env.Data into R. Absent or null data leaves R zero.
func Decode[R any](env httpclient.Envelope) (Result[R], error) {
	out := Result[R]{Envelope: env}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(trimmed, &out.Data); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnexpectedData, err)
	}
	return out, nil
}

func (c *Client) queryRequest(def endpoints.Definition, arg any, req httpclient.Request) querycache.Request {
	return querycache.Request{
		Endpoint: def.Name,
		Arg:      arg,
		Tags:     def.Provides,
		Fetch: func(ctx context.Context) (httpclient.Envelope, error) {
			return c.exec.Execute(ctx, req)
		},
	}
}

// Read returns the cached value for (q, arg), loading it once if needed.
// Validation failures are returned before anything is cached or sent.
func Read[A, R any](ctx context.Context, c *Client, q endpoints.Query[A, R], arg A) (Result[R], error) {
	req, err := q.Request(arg)
	if err != nil {
		return Result[R]{}, err
	}
	sub, _, err := c.store.Subscribe(ctx, c.queryRequest(q.Definition(), arg, req), nil)
	if err != nil {
		return Result[R]{}, err
	}
	defer sub.Unsubscribe()

	state, err := sub.Wait(ctx)
	if err != nil {
		return Result[R]{}, err
	}
	return resultOf[R](state)
}

// Fresh bypasses the in-memory entry and loads (q, arg) from the backend,
// joining a load already in flight for the same key.
func Fresh[A, R any](ctx context.Context, c *Client, q endpoints.Query[A, R], arg A) (Result[R], error) {
	req, err := q.Request(arg)
	if err != nil {
		return Result[R]{}, err
	}
	env, err := c.store.FetchNow(ctx, c.queryRequest(q.Definition(), arg, req))
	if err != nil {
		return Result[R]{}, err
	}
	return Decode[R](env)
}

// Watch subscribes to (q, arg). fn runs on the store's dispatcher goroutine
// each time the entry settles, including after invalidation refetches.
// The caller owns the returned subscription.
func Watch[A, R any](ctx context.Context, c *Client, q endpoints.Query[A, R], arg A, fn func(Result[R], error)) (*querycache.Subscription, error) {
	req, err := q.Request(arg)
	if err != nil {
		return nil, err
	}
	sub, _, err := c.store.Subscribe(ctx, c.queryRequest(q.Definition(), arg, req), func(state querycache.State) {
		if state.Status != querycache.StatusSuccess && state.Status != querycache.StatusError {
			return
		}
		fn(resultOf[R](state))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Prefetch starts loading (q, arg) without holding a subscription; the entry
// stays cached for the store's grace period.
func Prefetch[A, R any](ctx context.Context, c *Client, q endpoints.Query[A, R], arg A) error {
	req, err := q.Request(arg)
	if err != nil {
		return err
	}
	sub, _, err := c.store.Subscribe(ctx, c.queryRequest(q.Definition(), arg, req), nil)
	if err != nil {
		return err
	}
	sub.Unsubscribe()
	return nil
}

// Run executes mutation m. onResult, when non-nil, sees the result before the
// mutation's tags are invalidated.
func Run[A, R any](ctx context.Context, c *Client, m endpoints.Mutation[A, R], arg A, onResult func(Result[R], error)) (Result[R], error) {
	req, err := m.Request(arg)
	if err != nil {
		return Result[R]{}, err
	}
	def := m.Definition()
	var decoded Result[R]
	var decodeErr error
	env, err := c.store.Mutate(ctx, querycache.MutationRequest{
		Endpoint: def.Name,
		Tags:     def.Invalidates,
		Run: func(ctx context.Context) (httpclient.Envelope, error) {
			return c.exec.Execute(ctx, req)
		},
		OnResult: func(env httpclient.Envelope, err error) {
			if err == nil {
				decoded, decodeErr = Decode[R](env)
			}
			if onResult != nil {
				if err != nil {
					onResult(Result[R]{Envelope: env}, err)
				} else {
					onResult(decoded, decodeErr)
				}
			}
		},
	})
	if err != nil {
		return Result[R]{Envelope: env}, err
	}
	if decodeErr != nil {
		c.logger.Warn("mutation response did not match declared shape", slog.String("endpoint", def.Name), slog.Any("error", decodeErr))
	}
	return decoded, decodeErr
}

func resultOf[R any](state querycache.State) (Result[R], error) {
	if state.Err != nil && state.Status == querycache.StatusError {
		return Result[R]{Envelope: state.Envelope}, state.Err
	}
	return Decode[R](state.Envelope)
}
