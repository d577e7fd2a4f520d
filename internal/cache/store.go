// Package cache is the read-through, single-flight cache shared by every
// component that talks to the upstream market service.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Policy controls how an entry is kept.
type Policy struct {
	TTL     time.Duration
	Persist bool // also write through to the Backend (L2) when one is configured
}

// Entry is one immutable cached value. A refresh replaces the whole entry.
type Entry struct {
	Key       string
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
}

// Stale reports whether the entry has outlived its TTL at now.
func (e *Entry) Stale(now time.Time) bool {
	return !now.Before(e.FetchedAt.Add(e.TTL))
}

// Result is what callers get back from GetOrFetch and ForceRefresh.
type Result[T any] struct {
	Value     T
	FetchedAt time.Time
	Stale     bool // served from an expired entry because the fetch failed
}

// Backend is an optional persistent second level.
type Backend interface {
	LoadEntry(ctx context.Context, key string) (payload []byte, fetchedAt time.Time, ttl time.Duration, ok bool, err error)
	SaveEntry(ctx context.Context, key string, payload []byte, fetchedAt time.Time, ttl time.Duration) error
}

// Outcome labels a cache lookup for observers.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeL2Hit   Outcome = "l2_hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeStale   Outcome = "stale"
	OutcomeRefresh Outcome = "refresh"
	OutcomeCorrupt Outcome = "corrupt"
	OutcomeError   Outcome = "error"
)

// Observer receives one event per lookup, labelled by key namespace.
type Observer interface {
	CacheEvent(namespace string, outcome Outcome)
}

// Store holds entries for the lifetime of the process. Construct one with New
// and pass it to every data-access component.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group

	flightsMu sync.Mutex
	flights   map[string]*waiters

	now      func() time.Time
	backend  Backend
	observer Observer
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBackend enables the persistent L2 for policies with Persist set.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		flights: make(map[string]*waiters),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of L1 entries, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) entry(key string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

// install swaps in a new entry. FetchedAt always moves forward, even when
// the clock has not advanced since the previous fetch.
func (s *Store) install(key string, value any, ttl time.Duration) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if old, ok := s.entries[key]; ok && !now.After(old.FetchedAt) {
		now = old.FetchedAt.Add(time.Nanosecond)
	}
	e := &Entry{Key: key, Value: value, FetchedAt: now, TTL: ttl}
	s.entries[key] = e
	return e
}

// promote installs an L2 entry unless L1 already holds something newer.
func (s *Store) promote(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[e.Key]; ok && !e.FetchedAt.After(old.FetchedAt) {
		return
	}
	s.entries[e.Key] = e
}

func (s *Store) observe(key string, o Outcome) {
	if s.observer == nil {
		return
	}
	s.observer.CacheEvent(Namespace(key), o)
}

func (s *Store) persist(ctx context.Context, e *Entry) {
	payload, err := json.Marshal(e.Value)
	if err != nil {
		log.Printf("[Cache] encode %s: %v", e.Key, err)
		return
	}
	if err := s.backend.SaveEntry(ctx, e.Key, payload, e.FetchedAt, e.TTL); err != nil {
		log.Printf("[Cache] persist %s: %v", e.Key, err)
	}
}

// Namespace returns the part of key before the first ':'.
func Namespace(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

// Get returns the value stored under key, fresh or stale. A value of a
// different type counts as not found.
func Get[T any](s *Store, key string) (T, bool) {
	var zero T
	e := s.entry(key)
	if e == nil {
		return zero, false
	}
	v, ok := e.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// lookup returns the typed L1 entry for key, if any.
func lookup[T any](s *Store, key string) (*Entry, T, bool) {
	var zero T
	e := s.entry(key)
	if e == nil {
		return nil, zero, false
	}
	v, ok := e.Value.(T)
	if !ok {
		s.observe(key, OutcomeCorrupt)
		return nil, zero, false
	}
	return e, v, true
}

// loadL2 decodes the persisted entry for key. Decode failures are misses.
func loadL2[T any](ctx context.Context, s *Store, key string) (*Entry, T, bool) {
	var zero T
	payload, fetchedAt, ttl, ok, err := s.backend.LoadEntry(ctx, key)
	if err != nil {
		log.Printf("[Cache] L2 load %s: %v", key, err)
		return nil, zero, false
	}
	if !ok {
		return nil, zero, false
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Printf("[Cache] L2 decode %s: %v (treating as miss)", key, err)
		s.observe(key, OutcomeCorrupt)
		return nil, zero, false
	}
	return &Entry{Key: key, Value: v, FetchedAt: fetchedAt, TTL: ttl}, v, true
}

// GetOrFetch returns the cached value if it is fresh, otherwise fetches it
// once for all concurrent callers of the same key. When the fetch fails and a
// previous entry exists, that entry is returned with Stale set and no error.
func GetOrFetch[T any](ctx context.Context, s *Store, key string, p Policy, fetch func(context.Context) (T, error)) (Result[T], error) {
	now := s.now()
	e, v, ok := lookup[T](s, key)
	if ok && !e.Stale(now) {
		s.observe(key, OutcomeHit)
		return Result[T]{Value: v, FetchedAt: e.FetchedAt}, nil
	}

	fallback, fallbackVal, haveFallback := e, v, ok
	if p.Persist && s.backend != nil {
		if le, lv, lok := loadL2[T](ctx, s, key); lok {
			if !le.Stale(now) {
				s.promote(le)
				s.observe(key, OutcomeL2Hit)
				return Result[T]{Value: lv, FetchedAt: le.FetchedAt}, nil
			}
			if !haveFallback || le.FetchedAt.After(fallback.FetchedAt) {
				fallback, fallbackVal, haveFallback = le, lv, true
			}
		}
	}

	res, err := flight(ctx, s, key, p, fetch)
	if err == nil {
		s.observe(key, OutcomeMiss)
		return res, nil
	}
	if ctx.Err() != nil {
		return Result[T]{}, ctx.Err()
	}
	// Another caller may have installed a fresher entry meanwhile.
	if le, lv, lok := lookup[T](s, key); lok && (!haveFallback || le.FetchedAt.After(fallback.FetchedAt)) {
		fallback, fallbackVal, haveFallback = le, lv, true
	}
	if haveFallback {
		log.Printf("[Cache] serving stale %s (fetched %s): %v", key, fallback.FetchedAt.Format(time.RFC3339), err)
		s.observe(key, OutcomeStale)
		return Result[T]{Value: fallbackVal, FetchedAt: fallback.FetchedAt, Stale: true}, nil
	}
	s.observe(key, OutcomeError)
	return Result[T]{}, err
}

// ForceRefresh always fetches, replaces the entry and returns the new value.
// Failures are returned to the caller and the previous entry is kept.
func ForceRefresh[T any](ctx context.Context, s *Store, key string, p Policy, fetch func(context.Context) (T, error)) (Result[T], error) {
	res, err := flight(ctx, s, key, p, fetch)
	if err != nil {
		s.observe(key, OutcomeError)
		return Result[T]{}, err
	}
	s.observe(key, OutcomeRefresh)
	return res, nil
}

// waiters tracks the callers of one in-flight key. The shared fetch runs on
// ctx, which is cancelled when the last caller leaves.
type waiters struct {
	n      int
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Store) join(ctx context.Context, key string) *waiters {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	w := s.flights[key]
	if w == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w = &waiters{ctx: fctx, cancel: cancel}
		s.flights[key] = w
	}
	w.n++
	return w
}

func (s *Store) leave(key string, w *waiters) {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	w.n--
	if w.n > 0 {
		return
	}
	w.cancel()
	if s.flights[key] == w {
		delete(s.flights, key)
		// Callers arriving later start a new fetch instead of joining the
		// cancelled one.
		s.group.Forget(key)
	}
}

// flight runs fetch through the per-key single-flight group. The shared
// fetch outlives any one caller and is cancelled only when every caller
// waiting on it has left. A result that lands while a caller is still
// waiting is cached for everyone.
func flight[T any](ctx context.Context, s *Store, key string, p Policy, fetch func(context.Context) (T, error)) (Result[T], error) {
	w := s.join(ctx, key)
	defer s.leave(key, w)
	ch := s.group.DoChan(key, func() (any, error) {
		v, err := fetch(w.ctx)
		if err != nil {
			return nil, err
		}
		e := s.install(key, v, p.TTL)
		if p.Persist && s.backend != nil {
			s.persist(context.WithoutCancel(w.ctx), e)
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result[T]{}, r.Err
		}
		e := r.Val.(*Entry)
		v, ok := e.Value.(T)
		if !ok {
			return Result[T]{}, fmt.Errorf("cache: key %q holds %T", key, e.Value)
		}
		return Result[T]{Value: v, FetchedAt: e.FetchedAt}, nil
	}
}
