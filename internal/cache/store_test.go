package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memBackend struct {
	mu   sync.Mutex
	rows map[string]memRow
}

type memRow struct {
	payload   []byte
	fetchedAt time.Time
	ttl       time.Duration
}

func newMemBackend() *memBackend { return &memBackend{rows: make(map[string]memRow)} }

func (b *memBackend) LoadEntry(_ context.Context, key string) ([]byte, time.Time, time.Duration, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[key]
	return r.payload, r.fetchedAt, r.ttl, ok, nil
}

func (b *memBackend) SaveEntry(_ context.Context, key string, payload []byte, fetchedAt time.Time, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[key] = memRow{payload: payload, fetchedAt: fetchedAt, ttl: ttl}
	return nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) CacheEvent(ns string, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[ns+"/"+string(out)]++
}

func (o *countingObserver) get(k string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[k]
}

var errUpstream = errors.New("upstream down")

func constFetch(v int, calls *int32) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func failFetch(calls *int32) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		atomic.AddInt32(calls, 1)
		return 0, errUpstream
	}
}

func TestGetOrFetch_HitWithinTTL(t *testing.T) {
	clk := newFakeClock()
	s := New(WithClock(clk.Now))
	p := Policy{TTL: time.Minute}
	var calls int32

	r1, err := GetOrFetch(context.Background(), s, "orders:1:2", p, constFetch(7, &calls))
	if err != nil || r1.Value != 7 {
		t.Fatalf("first fetch = %v, %v", r1.Value, err)
	}
	clk.Advance(30 * time.Second)
	r2, err := GetOrFetch(context.Background(), s, "orders:1:2", p, constFetch(8, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if r2.Value != 7 || calls != 1 {
		t.Fatalf("within TTL: value=%d calls=%d, want 7 and 1", r2.Value, calls)
	}
	if !r2.FetchedAt.Equal(r1.FetchedAt) {
		t.Errorf("FetchedAt changed on hit")
	}
}

func TestGetOrFetch_RefetchAfterTTL(t *testing.T) {
	clk := newFakeClock()
	s := New(WithClock(clk.Now))
	p := Policy{TTL: time.Minute}
	var calls int32

	GetOrFetch(context.Background(), s, "k", p, constFetch(1, &calls))
	clk.Advance(time.Minute)
	r, err := GetOrFetch(context.Background(), s, "k", p, constFetch(2, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 2 || calls != 2 {
		t.Fatalf("after TTL: value=%d calls=%d, want 2 and 2", r.Value, calls)
	}
	if r.Stale {
		t.Error("fresh fetch reported stale")
	}
}

func TestGetOrFetch_SingleFlight(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := GetOrFetch(context.Background(), s, "orders:10000002:34", p, fetch)
			results[i], errs[i] = r.Value, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != 42 {
			t.Fatalf("caller %d got %d, %v", i, results[i], errs[i])
		}
	}
}

func TestGetOrFetch_DifferentKeysDoNotBlock(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	block := make(chan struct{})
	defer close(block)

	go GetOrFetch(context.Background(), s, "orders:1:1", p, func(context.Context) (int, error) {
		<-block
		return 1, nil
	})

	done := make(chan struct{})
	go func() {
		var calls int32
		ForceRefresh(context.Background(), s, "orders:1:2", p, constFetch(2, &calls))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh on a different key blocked behind an in-flight fetch")
	}
}

func TestGetOrFetch_StaleOnFailure(t *testing.T) {
	clk := newFakeClock()
	s := New(WithClock(clk.Now))
	p := Policy{TTL: time.Minute}
	var calls int32

	first, _ := GetOrFetch(context.Background(), s, "k", p, constFetch(5, &calls))
	clk.Advance(2 * time.Minute)
	r, err := GetOrFetch(context.Background(), s, "k", p, failFetch(&calls))
	if err != nil {
		t.Fatalf("expected stale value, got error %v", err)
	}
	if !r.Stale || r.Value != 5 {
		t.Fatalf("got value=%d stale=%v, want 5 and true", r.Value, r.Stale)
	}
	if !r.FetchedAt.Equal(first.FetchedAt) {
		t.Errorf("stale FetchedAt = %v, want %v", r.FetchedAt, first.FetchedAt)
	}
}

func TestGetOrFetch_ErrorWithoutEntry(t *testing.T) {
	s := New()
	var calls int32
	_, err := GetOrFetch(context.Background(), s, "k", Policy{TTL: time.Minute}, failFetch(&calls))
	if !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want errUpstream", err)
	}
	if _, ok := Get[int](s, "k"); ok {
		t.Error("failed fetch left an entry behind")
	}
}

func TestForceRefresh_PropagatesErrorAndKeepsEntry(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	var calls int32
	GetOrFetch(context.Background(), s, "k", p, constFetch(3, &calls))

	if _, err := ForceRefresh(context.Background(), s, "k", p, failFetch(&calls)); !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want errUpstream", err)
	}
	v, ok := Get[int](s, "k")
	if !ok || v != 3 {
		t.Fatalf("entry after failed refresh = %d, %v; want 3, true", v, ok)
	}
}

func TestForceRefresh_TimestampStrictlyForward(t *testing.T) {
	clk := newFakeClock() // never advanced
	s := New(WithClock(clk.Now))
	p := Policy{TTL: time.Hour}
	var calls int32

	r1, _ := GetOrFetch(context.Background(), s, "k", p, constFetch(1, &calls))
	r2, err := ForceRefresh(context.Background(), s, "k", p, constFetch(2, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if !r2.FetchedAt.After(r1.FetchedAt) {
		t.Fatalf("refresh FetchedAt %v not after %v", r2.FetchedAt, r1.FetchedAt)
	}

	r3, err := GetOrFetch(context.Background(), s, "k", p, constFetch(99, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if r3.Value != 2 {
		t.Fatalf("read after refresh = %d, want refreshed value 2", r3.Value)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestGetOrFetch_CancelledCallerKeepsSharedFetch(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 11, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := GetOrFetch(ctx, s, "k", p, fetch)
		errc <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	other := make(chan result, 1)
	go func() {
		r, err := GetOrFetch(context.Background(), s, "k", p, fetch)
		other <- result{r.Value, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)

	r := <-other
	if r.err != nil || r.v != 11 {
		t.Fatalf("remaining caller = %d, %v; want 11, nil", r.v, r.err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if v, ok := Get[int](s, "k"); !ok || v != 11 {
		t.Errorf("cached = %d, %v; want 11", v, ok)
	}
}

func TestGetOrFetch_LastCallerCancelStopsFetch(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	started := make(chan struct{})
	stopped := make(chan error, 1)
	fetch := func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return 0, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := GetOrFetch(ctx, s, "k", p, fetch)
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller err = %v, want context.Canceled", err)
	}
	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("fetch ctx err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shared fetch kept running after its only caller left")
	}

	// A later caller starts a fresh fetch rather than joining the cancelled one.
	var calls int32
	r, err := GetOrFetch(context.Background(), s, "k", p, constFetch(12, &calls))
	if err != nil || r.Value != 12 || calls != 1 {
		t.Fatalf("later caller = %d, %v (calls %d); want 12 from a new fetch", r.Value, err, calls)
	}
}

func TestGetOrFetch_TypeMismatchIsMiss(t *testing.T) {
	s := New()
	p := Policy{TTL: time.Minute}
	GetOrFetch(context.Background(), s, "k", p, func(context.Context) (string, error) { return "text", nil })

	var calls int32
	r, err := GetOrFetch(context.Background(), s, "k", p, constFetch(4, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 4 || calls != 1 {
		t.Fatalf("value=%d calls=%d, want refetch", r.Value, calls)
	}
}

func TestGetOrFetch_L2FreshSkipsFetch(t *testing.T) {
	clk := newFakeClock()
	b := newMemBackend()
	b.SaveEntry(context.Background(), "taxonomy:groups", []byte(`[1,2,3]`), clk.Now(), time.Hour)
	s := New(WithClock(clk.Now), WithBackend(b))

	var calls int32
	r, err := GetOrFetch(context.Background(), s, "taxonomy:groups", Policy{TTL: time.Hour, Persist: true},
		func(context.Context) ([]int, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errUpstream
		})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 || len(r.Value) != 3 {
		t.Fatalf("calls=%d value=%v, want L2 hit", calls, r.Value)
	}
	if _, ok := Get[[]int](s, "taxonomy:groups"); !ok {
		t.Error("L2 hit was not promoted to L1")
	}
}

func TestGetOrFetch_L2CorruptionIsMiss(t *testing.T) {
	clk := newFakeClock()
	b := newMemBackend()
	b.SaveEntry(context.Background(), "taxonomy:type:34", []byte(`{not json`), clk.Now(), time.Hour)
	obs := &countingObserver{}
	s := New(WithClock(clk.Now), WithBackend(b), WithObserver(obs))

	type info struct{ Name string }
	r, err := GetOrFetch(context.Background(), s, "taxonomy:type:34", Policy{TTL: time.Hour, Persist: true},
		func(context.Context) (info, error) { return info{Name: "Tritanium"}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if r.Value.Name != "Tritanium" {
		t.Fatalf("value = %+v, want fetched value", r.Value)
	}
	if obs.get("taxonomy/corrupt") != 1 || obs.get("taxonomy/miss") != 1 {
		t.Errorf("observer counts = %v", obs.counts)
	}
	payload, _, _, _, _ := b.LoadEntry(context.Background(), "taxonomy:type:34")
	if string(payload) != `{"Name":"Tritanium"}` {
		t.Errorf("L2 not rewritten, payload = %s", payload)
	}
}

func TestGetOrFetch_StaleL2OnFailure(t *testing.T) {
	clk := newFakeClock()
	b := newMemBackend()
	b.SaveEntry(context.Background(), "k", []byte(`9`), clk.Now(), time.Minute)
	clk.Advance(time.Hour)
	s := New(WithClock(clk.Now), WithBackend(b))

	var calls int32
	r, err := GetOrFetch(context.Background(), s, "k", Policy{TTL: time.Minute, Persist: true}, failFetch(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Stale || r.Value != 9 {
		t.Fatalf("value=%d stale=%v, want stale 9 from L2", r.Value, r.Stale)
	}
}

func TestNamespace(t *testing.T) {
	tests := map[string]string{
		"orders:1:2":      "orders",
		"taxonomy:groups": "taxonomy",
		"universe":        "universe",
		"adjacency:100:1": "adjacency",
	}
	for key, want := range tests {
		if got := Namespace(key); got != want {
			t.Errorf("Namespace(%q) = %q, want %q", key, got, want)
		}
	}
}
