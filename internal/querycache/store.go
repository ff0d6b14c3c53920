// Package querycache is the process-wide query store. Entries are keyed by
// (endpoint, argument), deduplicate concurrent loads, serve repeat callers
// from memory and are invalidated by tag when a mutation succeeds.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/admindata/internal/endpoints"
	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/l0p7/admindata/internal/metrics"
	"github.com/l0p7/admindata/internal/querycache/backend"
)

const (
	// DefaultGracePeriod keeps an unsubscribed entry around for the next
	// identical subscription.
	DefaultGracePeriod = 60 * time.Second

	persistTimeout = 2 * time.Second
)

// Options configures a Store.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// GracePeriod delays eviction after the last unsubscribe. Zero selects
	// DefaultGracePeriod.
	GracePeriod time.Duration
	// Backend persists successful payloads. Nil keeps everything in memory.
	Backend    backend.Store
	PersistTTL time.Duration
}

// Store holds every live cache entry. It is safe for concurrent use.
type Store struct {
	ctx    context.Context
	cancel context.CancelFunc

	logger     *slog.Logger
	metrics    *metrics.Recorder
	grace      time.Duration
	persist    backend.Store
	persistTTL time.Duration

	// inflight tracks running loads by key. A load that has been superseded
	// is forgotten so newer loads never join it.
	inflight singleflight.Group
	events   *dispatcher
	fetches  sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	// bypass holds FetchNow loads by key so invalidation can forget them
	// even when no entry exists.
	bypass  map[string]*bypassLoad
	nextSub uint64
	closed  bool
}

type bypassLoad struct {
	tags    []endpoints.Tag
	callers int
}

type entry struct {
	key      string
	endpoint string
	tags     []endpoints.Tag
	fetch    FetchFunc

	state      State
	subs       map[uint64]*Subscription
	generation uint64
	loading    bool
	settled    chan struct{}

	evictTimer *time.Timer
	evictSeq   uint64
}

// snapshot copies the state; Tags is cloned so listeners cannot alter what
// invalidation matches on.
func (e *entry) snapshot() State {
	state := e.state
	state.Tags = slices.Clone(e.state.Tags)
	return state
}

// New builds a Store. Call Close to stop timers and wait for loads.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", "query_cache"))
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		metrics:    opts.Metrics,
		grace:      grace,
		persist:    opts.Backend,
		persistTTL: opts.PersistTTL,
		events:     newDispatcher(logger),
		entries:    make(map[string]*entry),
		bypass:     make(map[string]*bypassLoad),
	}
}

// Subscribe registers listener on the entry for req and returns the entry's
// state at registration. The first subscriber to an absent, stale or failed
// entry starts exactly one load; subscribers arriving while it runs join it.
// The subscription ends when ctx is done or Unsubscribe is called.
func (s *Store) Subscribe(ctx context.Context, req Request, listener Listener) (*Subscription, State, error) {
	if req.Fetch == nil {
		return nil, State{}, fmt.Errorf("querycache: %s: fetch function required", req.Endpoint)
	}
	key, err := Key(req.Endpoint, req.Arg)
	if err != nil {
		return nil, State{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, State{Key: key, Endpoint: req.Endpoint, Status: StatusError, Err: ErrClosed}, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		tags := slices.Clone(req.Tags)
		e = &entry{
			key:      key,
			endpoint: req.Endpoint,
			tags:     tags,
			subs:     make(map[uint64]*Subscription),
			state:    State{Key: key, Endpoint: req.Endpoint, Status: StatusUninitialized, Tags: tags},
		}
		s.entries[key] = e
		s.metrics.SetEntries(len(s.entries))
	}
	e.fetch = req.Fetch
	s.stopEvictionLocked(e)

	s.nextSub++
	sub := &Subscription{id: s.nextSub, store: s, entry: e, listener: listener}
	sub.active.Store(true)
	e.subs[sub.id] = sub

	switch {
	case e.loading:
		s.metrics.ObserveCache(e.endpoint, metrics.CacheJoin)
	case e.state.Status == StatusSuccess:
		s.metrics.ObserveCache(e.endpoint, metrics.CacheHit)
	default:
		s.metrics.ObserveCache(e.endpoint, metrics.CacheMiss)
		s.startFetchLocked(e, e.state.Status == StatusUninitialized)
	}
	state := e.snapshot()
	s.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Unsubscribe)
		sub.mu.Lock()
		sub.stopAfter = stop
		sub.mu.Unlock()
	}
	return sub, state, nil
}

// FetchNow loads req without reading the in-memory entry. It joins a load
// already running for the same key instead of issuing a second call. A
// successful result refreshes an existing entry unless a newer load or an
// invalidation got there first.
func (s *Store) FetchNow(ctx context.Context, req Request) (httpclient.Envelope, error) {
	if req.Fetch == nil {
		return httpclient.Envelope{}, fmt.Errorf("querycache: %s: fetch function required", req.Endpoint)
	}
	key, err := Key(req.Endpoint, req.Arg)
	if err != nil {
		return httpclient.Envelope{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return httpclient.Envelope{}, ErrClosed
	}
	e := s.entries[key]
	var gen uint64
	if e != nil {
		gen = e.generation
	}
	tags := slices.Clone(req.Tags)
	s.trackBypassLocked(key, tags)
	s.mu.Unlock()
	defer s.untrackBypass(key)

	ch := s.inflight.DoChan(key, func() (any, error) {
		return s.load(key, req.Endpoint, tags, req.Fetch, false)
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.ObserveCache(req.Endpoint, metrics.CacheJoin)
		}
		env, _ := res.Val.(httpclient.Envelope)
		if res.Err == nil && e != nil {
			s.refresh(e, gen, env)
		}
		return env, res.Err
	case <-ctx.Done():
		return httpclient.Envelope{}, ctx.Err()
	}
}

// Invalidate marks every entry providing any of tags as stale. Entries with
// subscribers refetch immediately; the rest wait for their next subscriber.
// Persisted payloads under tags are deleted first. The number of affected
// in-memory entries is returned.
func (s *Store) Invalidate(ctx context.Context, tags ...endpoints.Tag) int {
	if len(tags) == 0 {
		return 0
	}
	if s.persist != nil {
		removed, err := s.persist.DeleteTags(ctx, endpoints.TagNames(tags)...)
		if err != nil {
			s.logger.Warn("persisted invalidation failed", slog.Any("tags", endpoints.TagNames(tags)), slog.Any("error", err))
		} else if removed > 0 {
			s.logger.Debug("persisted payloads invalidated", slog.Int("removed", removed))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	perTag := make(map[endpoints.Tag]int, len(tags))
	affected := 0
	for key, load := range s.bypass {
		if _, ok := s.entries[key]; !ok && overlaps(load.tags, tags) {
			s.inflight.Forget(key)
		}
	}
	for _, e := range s.entries {
		matched := false
		for _, tag := range tags {
			if slices.Contains(e.tags, tag) {
				perTag[tag]++
				matched = true
			}
		}
		if !matched {
			continue
		}
		affected++
		// No caller may join a load issued before this invalidation.
		s.inflight.Forget(e.key)
		switch {
		case len(e.subs) > 0:
			if !e.loading {
				e.state.Status = StatusStale
				s.notifyLocked(e)
			}
			s.metrics.ObserveCache(e.endpoint, metrics.CacheRefetch)
			s.startFetchLocked(e, false)
		case e.loading:
			// The running load predates the mutation; drop its result.
			e.generation++
			e.loading = false
			close(e.settled)
			e.state.Status = StatusStale
			s.notifyLocked(e)
		default:
			e.generation++
			e.state.Status = StatusStale
			s.notifyLocked(e)
		}
	}
	for _, tag := range tags {
		s.metrics.ObserveInvalidation(tag.String(), perTag[tag])
	}
	s.logger.Debug("tags invalidated", slog.Any("tags", endpoints.TagNames(tags)), slog.Int("entries", affected))
	return affected
}

// Mutate runs a write. OnResult sees the mutation's own result before
// anything else happens; only on success are the declared tags invalidated.
// Refetches triggered by the invalidation run asynchronously.
func (s *Store) Mutate(ctx context.Context, req MutationRequest) (httpclient.Envelope, error) {
	if req.Run == nil {
		return httpclient.Envelope{}, fmt.Errorf("querycache: %s: run function required", req.Endpoint)
	}
	env, err := req.Run(ctx)
	if req.OnResult != nil {
		req.OnResult(env, err)
	}
	if err != nil {
		s.logger.Info("mutation failed", slog.String("endpoint", req.Endpoint), slog.Any("error", err))
		return env, err
	}
	if len(req.Tags) > 0 {
		s.Invalidate(context.WithoutCancel(ctx), req.Tags...)
	}
	return env, nil
}

// Peek returns the current state of the entry for (endpoint, arg) without
// subscribing.
func (s *Store) Peek(endpoint string, arg any) (State, bool) {
	key, err := Key(endpoint, arg)
	if err != nil {
		return State{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return State{}, false
	}
	return e.snapshot(), true
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PersistedSize counts payloads in the persisted backend. ok is false when
// the store has none.
func (s *Store) PersistedSize(ctx context.Context) (size int64, ok bool, err error) {
	if s.persist == nil {
		return 0, false, nil
	}
	size, err = s.persist.Size(ctx)
	return size, true, err
}

// Close stops eviction timers, cancels running loads, waits for them and
// delivers queued listener callbacks.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, e := range s.entries {
		s.stopEvictionLocked(e)
	}
	s.mu.Unlock()

	s.cancel()
	s.fetches.Wait()
	s.events.close()
	if s.persist != nil {
		if err := s.persist.Close(ctx); err != nil {
			return fmt.Errorf("querycache: close backend: %w", err)
		}
	}
	return nil
}

func (s *Store) startFetchLocked(e *entry, consultPersisted bool) {
	if s.closed {
		return
	}
	if e.loading {
		// Wake waiters of the superseded load; they re-check and wait again.
		close(e.settled)
	}
	e.generation++
	gen := e.generation
	e.loading = true
	e.settled = make(chan struct{})
	e.state.Status = StatusLoading
	e.state.UpdatedAt = time.Now().UTC()
	s.notifyLocked(e)

	s.inflight.Forget(e.key)
	fetch := e.fetch
	s.fetches.Add(1)
	go s.runFetch(e, gen, fetch, consultPersisted)
}

func (s *Store) runFetch(e *entry, gen uint64, fetch FetchFunc, consultPersisted bool) {
	defer s.fetches.Done()
	res := <-s.inflight.DoChan(e.key, func() (any, error) {
		return s.load(e.key, e.endpoint, e.tags, fetch, consultPersisted)
	})
	s.apply(e, gen, res)
}

func (s *Store) load(key, endpoint string, tags []endpoints.Tag, fetch FetchFunc, consultPersisted bool) (any, error) {
	if s.persist != nil && consultPersisted {
		if env, ok := s.lookupPersisted(key); ok {
			s.metrics.ObserveCache(endpoint, metrics.CachePersistedHit)
			return env, nil
		}
	}
	env, err := fetch(s.ctx)
	if err != nil {
		return env, err
	}
	if s.persist != nil {
		s.storePersisted(key, endpoint, tags, env)
	}
	return env, nil
}

func (s *Store) apply(e *entry, gen uint64, res singleflight.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.generation != gen || !e.loading {
		s.metrics.ObserveCache(e.endpoint, metrics.CacheDiscard)
		return
	}
	e.loading = false
	e.state.UpdatedAt = time.Now().UTC()
	if res.Err != nil {
		e.state.Status = StatusError
		e.state.Err = res.Err
		level := slog.LevelInfo
		if httpclient.IsNetworkFailure(res.Err) || errors.Is(res.Err, context.Canceled) {
			level = slog.LevelWarn
		}
		s.logger.Log(s.ctx, level, "query load failed",
			slog.String("endpoint", e.endpoint),
			slog.String("key", e.key),
			slog.Any("error", res.Err))
	} else {
		env, _ := res.Val.(httpclient.Envelope)
		e.state.Status = StatusSuccess
		e.state.Envelope = env
		e.state.Err = nil
	}
	close(e.settled)
	s.notifyLocked(e)
}

func (s *Store) trackBypassLocked(key string, tags []endpoints.Tag) {
	load, ok := s.bypass[key]
	if !ok {
		load = &bypassLoad{tags: tags}
		s.bypass[key] = load
	}
	load.callers++
}

func (s *Store) untrackBypass(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	load, ok := s.bypass[key]
	if !ok {
		return
	}
	load.callers--
	if load.callers <= 0 {
		delete(s.bypass, key)
	}
}

func overlaps(a, b []endpoints.Tag) bool {
	for _, tag := range a {
		if slices.Contains(b, tag) {
			return true
		}
	}
	return false
}

// refresh records a bypass load on an idle entry.
func (s *Store) refresh(e *entry, gen uint64, env httpclient.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.entries[e.key] != e || e.loading || e.generation != gen {
		return
	}
	e.state.Status = StatusSuccess
	e.state.Envelope = env
	e.state.Err = nil
	e.state.UpdatedAt = time.Now().UTC()
	s.notifyLocked(e)
}

func (s *Store) notifyLocked(e *entry) {
	state := e.snapshot()
	for _, sub := range e.subs {
		if sub.listener == nil {
			continue
		}
		s.events.enqueue(func() {
			if sub.active.Load() {
				sub.listener(state)
			}
		})
	}
}

func (s *Store) detach(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := sub.entry
	delete(e.subs, sub.id)
	if len(e.subs) == 0 && !s.closed && s.entries[e.key] == e {
		s.scheduleEvictionLocked(e)
	}
}

func (s *Store) scheduleEvictionLocked(e *entry) {
	s.stopEvictionLocked(e)
	seq := e.evictSeq
	e.evictTimer = time.AfterFunc(s.grace, func() { s.evict(e, seq) })
}

func (s *Store) stopEvictionLocked(e *entry) {
	e.evictSeq++
	if e.evictTimer != nil {
		e.evictTimer.Stop()
		e.evictTimer = nil
	}
}

func (s *Store) evict(e *entry, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || e.evictSeq != seq || s.entries[e.key] != e || len(e.subs) > 0 {
		return
	}
	if e.loading {
		s.scheduleEvictionLocked(e)
		return
	}
	delete(s.entries, e.key)
	s.metrics.ObserveCache(e.endpoint, metrics.CacheEvict)
	s.metrics.SetEntries(len(s.entries))
	s.logger.Debug("entry evicted", slog.String("endpoint", e.endpoint), slog.String("key", e.key))
}

func (s *Store) lookupPersisted(key string) (httpclient.Envelope, bool) {
	ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
	defer cancel()
	stored, ok, err := s.persist.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("persisted lookup failed", slog.String("key", key), slog.Any("error", err))
		return httpclient.Envelope{}, false
	}
	if !ok {
		return httpclient.Envelope{}, false
	}
	env, err := httpclient.DecodeEnvelope(stored.Raw)
	if err != nil {
		s.logger.Warn("persisted payload unreadable", slog.String("key", key), slog.Any("error", err))
		return httpclient.Envelope{}, false
	}
	return env, true
}

func (s *Store) storePersisted(key, endpoint string, tags []endpoints.Tag, env httpclient.Envelope) {
	ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
	defer cancel()
	now := time.Now().UTC()
	stored := backend.Entry{
		Endpoint: endpoint,
		Raw:      env.Raw,
		Tags:     endpoints.TagNames(tags),
		StoredAt: now,
	}
	if s.persistTTL > 0 {
		stored.ExpiresAt = now.Add(s.persistTTL)
	}
	if err := s.persist.Store(ctx, key, stored); err != nil {
		s.logger.Warn("persisting payload failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Subscription is one live consumer of an entry.
type Subscription struct {
	id       uint64
	store    *Store
	entry    *entry
	listener Listener
	active   atomic.Bool
	once     sync.Once

	mu        sync.Mutex
	stopAfter func() bool
}

// Key returns the entry key.
func (sub *Subscription) Key() string { return sub.entry.key }

// Current returns the latest state of the entry.
func (sub *Subscription) Current() State {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	return sub.entry.snapshot()
}

// Wait blocks until no load is pending for the entry or ctx is done.
// Cancelling ctx never cancels the load itself.
func (sub *Subscription) Wait(ctx context.Context) (State, error) {
	for {
		sub.store.mu.Lock()
		e := sub.entry
		if !e.loading {
			state := e.snapshot()
			sub.store.mu.Unlock()
			return state, nil
		}
		settled := e.settled
		sub.store.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return sub.Current(), ctx.Err()
		}
	}
}

// Refetch starts a new load unless one is already running, bypassing any
// persisted payload.
func (sub *Subscription) Refetch() State {
	s := sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	e := sub.entry
	if s.closed || s.entries[e.key] != e || !sub.active.Load() {
		return e.snapshot()
	}
	if !e.loading {
		s.metrics.ObserveCache(e.endpoint, metrics.CacheRefetch)
		s.startFetchLocked(e, false)
	}
	return e.snapshot()
}

// Unsubscribe detaches the subscription. It is idempotent; pending listener
// deliveries are dropped.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.active.Store(false)
		sub.mu.Lock()
		stop := sub.stopAfter
		sub.mu.Unlock()
		if stop != nil {
			stop()
		}
		sub.store.detach(sub)
	})
}
