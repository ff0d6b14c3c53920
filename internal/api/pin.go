package api

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/l0p7/admindata/internal/endpoints"
	"github.com/l0p7/admindata/internal/querycache"
)

type pinFunc func(ctx context.Context, c *Client) (*querycache.Subscription, error)

func pinQuery[R any](q endpoints.Query[endpoints.NoArg, R]) pinFunc {
	return func(ctx context.Context, c *Client) (*querycache.Subscription, error) {
		return Watch(ctx, c, q, endpoints.NoArg{}, func(Result[R], error) {})
	}
}

var pinnable = map[string]pinFunc{
	endpoints.GetAllCategories.Name():      pinQuery(endpoints.GetAllCategories),
	endpoints.GeneralStats.Name():          pinQuery(endpoints.GeneralStats),
	endpoints.ProjectStatusFunnel.Name():   pinQuery(endpoints.ProjectStatusFunnel),
	endpoints.RecentProjects.Name():        pinQuery(endpoints.RecentProjects),
	endpoints.VendorsConversionData.Name(): pinQuery(endpoints.VendorsConversionData),
}

// PinnableNames lists the queries Pin accepts: every query without an argument.
func PinnableNames() []string {
	names := make([]string, 0, len(pinnable))
	for name := range pinnable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePins reports the first name Pin would reject.
func ValidatePins(names []string) error {
	for _, name := range names {
		if _, ok := pinnable[name]; !ok {
			return fmt.Errorf("api: %q is not a pinnable query (allowed: %v)", name, PinnableNames())
		}
	}
	return nil
}

// Pins holds permanent subscriptions so invalidations refetch those queries
// eagerly instead of on next use.
type Pins struct {
	mu   sync.Mutex
	subs []*querycache.Subscription
}

// Pin subscribes to each named no-argument query. On error nothing stays pinned.
func (c *Client) Pin(ctx context.Context, names ...string) (*Pins, error) {
	if err := ValidatePins(names); err != nil {
		return nil, err
	}
	pins := &Pins{}
	for _, name := range names {
		sub, err := pinnable[name](ctx, c)
		if err != nil {
			pins.Release()
			return nil, fmt.Errorf("api: pin %s: %w", name, err)
		}
		pins.subs = append(pins.subs, sub)
	}
	return pins, nil
}

// Len reports the number of held subscriptions.
func (p *Pins) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Release drops every pin. It is safe to call more than once.
func (p *Pins) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
