package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/l0p7/admindata/internal/endpoints"
	"github.com/l0p7/admindata/internal/httpclient"
)

// ErrClosed is reported by subscriptions made after Close.
var ErrClosed = errors.New("querycache: store closed")

// Status is the lifecycle position of a cache entry.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusSuccess
	StatusError
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// State is an immutable snapshot of one entry. While a refetch is loading,
// Envelope and Err still hold the previous result.
type State struct {
	Key       string
	Endpoint  string
	Status    Status
	Envelope  httpclient.Envelope
	Err       error
	Tags      []endpoints.Tag
	UpdatedAt time.Time
}

// FetchFunc performs the network call for an entry. It receives the store's
// context, never a subscriber's.
type FetchFunc func(ctx context.Context) (httpclient.Envelope, error)

// Request identifies a query and how to load it.
type Request struct {
	Endpoint string
	Arg      any
	Tags     []endpoints.Tag
	Fetch    FetchFunc
}

// Listener observes entry transitions. Callbacks run on the store's single
// dispatcher goroutine in event order and must not block for long.
type Listener func(State)

// MutationRequest describes one write.
type MutationRequest struct {
	Endpoint string
	// Tags are invalidated only when Run succeeds.
	Tags []endpoints.Tag
	Run  func(ctx context.Context) (httpclient.Envelope, error)
	// OnResult receives the mutation's own result before any invalidation.
	OnResult func(httpclient.Envelope, error)
}

// Key hashes the endpoint name and the JSON encoding of arg with FNV-1a.
// Equal arguments always produce equal keys.
func Key(endpoint string, arg any) (string, error) {
	payload, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("querycache: key %s: %w", endpoint, err)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(endpoint))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write(payload)
	return fmt.Sprintf("%s:%016x", endpoint, h.Sum64()), nil
}
