package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"munportal/internal/api"
	"munportal/internal/cache"
)

type reply struct {
	data []string
	err  error
}

type fixture struct {
	clock   time.Time
	cache   *cache.InMemoryCache
	orch    *Orchestrator
	replies chan reply
	calls   atomic.Int32
	logouts atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
		replies: make(chan reply, 4),
	}
	f.cache = cache.NewInMemoryCache(100, cache.WithClock(func() time.Time { return f.clock }))
	f.orch = New(f.cache, func(context.Context) {
		f.logouts.Add(1)
		f.cache.InvalidateAll()
	}, nil)
	return f
}

func (f *fixture) resource(policy ErrorPolicy) Resource[string, []string] {
	return Resource[string, []string]{
		Name:   "registrations",
		Prefix: "priority-list:",
		Key:    func(p string) string { return p },
		TTL:    time.Minute,
		Fetch: func(ctx context.Context, p string) ([]string, error) {
			f.calls.Add(1)
			r := <-f.replies
			return r.data, r.err
		},
		Policy: policy,
	}
}

func items(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("reg-%d", i)
	}
	return out
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not settle")
	}
}

var errOffline = &api.NetworkError{Op: "GET admin_list", Err: errors.New("connection refused")}

func TestColdCacheShowsSkeletonThenData(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	st := v.State()
	if !st.Loading || st.HasData {
		t.Fatalf("initial state = %+v, want loading skeleton", st)
	}

	f.replies <- reply{data: items(12)}
	wait(t, done)

	st = v.State()
	if st.Loading || !st.HasData || len(st.Data) != 12 || st.FromCache {
		t.Fatalf("settled state = %+v", st)
	}

	cached, ok := cache.Lookup[[]string](f.cache, "priority-list:a")
	if !ok || len(cached) != 12 {
		t.Fatalf("cache holds %v, %v", cached, ok)
	}

	f.clock = f.clock.Add(time.Minute + time.Second)
	if _, ok := f.cache.Get("priority-list:a"); ok {
		t.Error("entry should expire after the resource TTL")
	}
}

func TestWarmCacheRendersThenRevalidates(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("priority-list:a", items(5), time.Minute)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	st := v.State()
	if st.Loading || !st.HasData || len(st.Data) != 5 || !st.FromCache {
		t.Fatalf("initial state = %+v, want cached data", st)
	}

	f.replies <- reply{data: items(7)}
	wait(t, done)

	if st := v.State(); len(st.Data) != 7 || st.FromCache {
		t.Fatalf("state after revalidation = %+v", st)
	}
	if cached, _ := cache.Lookup[[]string](f.cache, "priority-list:a"); len(cached) != 7 {
		t.Errorf("cache not overwritten: %d items", len(cached))
	}
	if f.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", f.calls.Load())
	}
}

func TestRevalidationFailureKeepsCachedData(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("priority-list:a", items(5), time.Minute)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	f.replies <- reply{err: errOffline}
	wait(t, done)

	st := v.State()
	if !st.HasData || len(st.Data) != 5 {
		t.Fatalf("cached data lost: %+v", st)
	}
	if st.Notice != NoticeStale {
		t.Errorf("Notice = %q", st.Notice)
	}
	if st.Error != "" || st.Loading {
		t.Errorf("state = %+v", st)
	}
}

func TestColdFailureSurfacesError(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	f.replies <- reply{err: errOffline}
	wait(t, done)

	st := v.State()
	if st.Error != "Failed to load registrations" || st.HasData || st.Loading {
		t.Fatalf("state = %+v", st)
	}
}

func TestUnauthorizedTearsDownSession(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("priority-list:a", items(5), time.Minute)
	f.cache.Set("past-doc:1", "x", time.Minute)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	f.replies <- reply{err: fmt.Errorf("list: %w", api.ErrUnauthorized)}
	wait(t, done)

	if f.logouts.Load() != 1 {
		t.Fatalf("logouts = %d", f.logouts.Load())
	}
	if f.cache.Len() != 0 {
		t.Errorf("cache has %d entries after 401", f.cache.Len())
	}
	st := v.State()
	if !st.Unauthorized || st.HasData || st.Loading {
		t.Errorf("state = %+v", st)
	}
}

func TestErrorPayloadPolicies(t *testing.T) {
	payload := &api.Error{StatusCode: 404, Message: "Registration not found"}

	t.Run("ClearOnError", func(t *testing.T) {
		f := newFixture(t)
		f.cache.Set("priority-list:a", items(2), time.Minute)
		v := NewView(f.orch, f.resource(ClearOnError), nil)

		done := v.Activate(context.Background(), "a")
		f.replies <- reply{err: payload}
		wait(t, done)

		st := v.State()
		if st.HasData || st.Error != "Registration not found" {
			t.Fatalf("state = %+v", st)
		}
	})

	t.Run("IgnoreErrorPayload", func(t *testing.T) {
		f := newFixture(t)
		f.cache.Set("priority-list:a", items(2), time.Minute)
		v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

		done := v.Activate(context.Background(), "a")
		f.replies <- reply{err: payload}
		wait(t, done)

		st := v.State()
		if !st.HasData || len(st.Data) != 2 || st.Error != "" || st.Loading {
			t.Fatalf("state = %+v", st)
		}
	})
}

func TestValidateRejectsPayload(t *testing.T) {
	f := newFixture(t)
	res := f.resource(ClearOnError)
	res.Validate = func(d []string) error {
		if len(d) == 0 {
			return errors.New("empty")
		}
		return nil
	}
	res.Message = func(error) string { return "Screenshot not available" }
	v := NewView(f.orch, res, nil)

	done := v.Activate(context.Background(), "a")
	f.replies <- reply{data: []string{}}
	wait(t, done)

	if st := v.State(); st.Error != "Screenshot not available" || st.HasData {
		t.Fatalf("state = %+v", st)
	}
	if _, ok := f.cache.Get("priority-list:a"); ok {
		t.Error("rejected payload must not be cached")
	}
}

func TestSupersededActivationIsDiscarded(t *testing.T) {
	f := newFixture(t)
	gates := map[string]chan reply{"old": make(chan reply), "new": make(chan reply)}
	res := f.resource(IgnoreErrorPayload)
	res.Fetch = func(ctx context.Context, p string) ([]string, error) {
		r := <-gates[p]
		return r.data, r.err
	}
	v := NewView(f.orch, res, nil)

	oldDone := v.Activate(context.Background(), "old")
	newDone := v.Activate(context.Background(), "new")

	gates["new"] <- reply{data: items(3)}
	wait(t, newDone)
	wait(t, oldDone)

	go func() { gates["old"] <- reply{data: items(9)} }()
	// The shared fetch of "old" still completes and must not touch the view.
	time.Sleep(20 * time.Millisecond)

	if st := v.State(); len(st.Data) != 3 {
		t.Fatalf("late result applied: %+v", st)
	}
	if _, ok := f.cache.Get("priority-list:old"); ok {
		t.Error("discarded result must not be cached")
	}
}

func TestCloseDiscardsResult(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Activate(context.Background(), "a")
	v.Close()
	wait(t, done)
	f.replies <- reply{data: items(1)}

	if st := v.State(); !st.Loading || st.HasData {
		t.Fatalf("closed view changed: %+v", st)
	}

	again := v.Activate(context.Background(), "a")
	wait(t, again)
}

func TestRefreshForcesRoundTrip(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	done := v.Refresh(context.Background())
	wait(t, done)
	if f.calls.Load() != 0 {
		t.Fatal("Refresh before Activate must not fetch")
	}

	f.replies <- reply{data: items(2)}
	wait(t, v.Activate(context.Background(), "a"))

	done = v.Refresh(context.Background())
	if st := v.State(); !st.Loading || st.HasData {
		t.Fatalf("refresh should start from an invalidated key: %+v", st)
	}
	f.replies <- reply{data: items(4)}
	wait(t, done)

	if st := v.State(); len(st.Data) != 4 {
		t.Fatalf("state = %+v", st)
	}
	if f.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", f.calls.Load())
	}
}

func TestRefreshDoesNotJoinInFlightFetch(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	first := v.Activate(context.Background(), "a")
	waitCalls(t, f, 1)

	done := v.Refresh(context.Background())
	waitCalls(t, f, 2)

	f.replies <- reply{data: items(1)}
	f.replies <- reply{data: items(2)}
	wait(t, first)
	wait(t, done)

	if f.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", f.calls.Load())
	}
	if st := v.State(); !st.HasData || st.Loading {
		t.Fatalf("state = %+v", st)
	}
}

func waitCalls(t *testing.T, f *fixture, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("backend calls = %d, want %d", f.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBannerResetsWhenKeyChanges(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("priority-list:b", items(2), time.Minute)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	f.replies <- reply{err: errOffline}
	wait(t, v.Activate(context.Background(), "a"))
	if v.State().Error == "" {
		t.Fatal("expected error banner for a")
	}

	done := v.Activate(context.Background(), "b")
	if st := v.State(); st.Error != "" || !st.HasData {
		t.Fatalf("state for b = %+v, want cached data without banner", st)
	}
	f.replies <- reply{err: &api.Error{StatusCode: 500, Message: "boom"}}
	wait(t, done)

	if st := v.State(); st.Error != "" || st.Notice != "" || len(st.Data) != 2 {
		t.Errorf("state for b = %+v", st)
	}
}

func TestSuccessClearsPreviousBanner(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	f.replies <- reply{err: errOffline}
	wait(t, v.Activate(context.Background(), "a"))
	if v.State().Error == "" {
		t.Fatal("expected error banner")
	}

	done := v.Activate(context.Background(), "a")
	if v.State().Error == "" {
		t.Error("banner should stay until a fetch succeeds")
	}
	f.replies <- reply{data: items(1)}
	wait(t, done)
	if st := v.State(); st.Error != "" || st.Notice != "" {
		t.Errorf("banner not cleared: %+v", st)
	}
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	f.replies <- reply{data: items(2)}
	st, err := v.Load(context.Background(), "a")
	if err != nil || len(st.Data) != 2 {
		t.Fatalf("cold Load = %+v, %v", st, err)
	}

	// Warm: returns the cached value before the backend answers.
	st, err = v.Load(context.Background(), "a")
	if err != nil || !st.FromCache || len(st.Data) != 2 {
		t.Fatalf("warm Load = %+v, %v", st, err)
	}
	f.replies <- reply{data: items(3)}
}

func TestLoadCancelledWhileCold(t *testing.T) {
	f := newFixture(t)
	v := NewView(f.orch, f.resource(IgnoreErrorPayload), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := v.Load(ctx, "b")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cold Load with cancelled ctx: %v", err)
	}
	if !st.Loading {
		t.Errorf("state = %+v, want the skeleton", st)
	}
	f.replies <- reply{data: items(1)}
}

func TestOnChangeSequence(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []State[[]string]
	var v *View[string, []string]
	v = NewView(f.orch, f.resource(IgnoreErrorPayload), func(st State[[]string]) {
		_ = v.State()
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	f.replies <- reply{data: items(3)}
	wait(t, v.Activate(context.Background(), "a"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("published %d states, want 2", len(seen))
	}
	if !seen[0].Loading || seen[1].Loading || len(seen[1].Data) != 3 {
		t.Errorf("sequence = %+v", seen)
	}
}

func TestConcurrentViewsShareOneFetch(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	res := f.resource(IgnoreErrorPayload)
	res.Fetch = func(ctx context.Context, p string) ([]string, error) {
		f.calls.Add(1)
		<-release
		return items(2), nil
	}

	a := NewView(f.orch, res, nil)
	b := NewView(f.orch, res, nil)
	doneA := a.Activate(context.Background(), "x")
	doneB := b.Activate(context.Background(), "x")
	// Give both activations time to join the same flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wait(t, doneA)
	wait(t, doneB)

	if f.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", f.calls.Load())
	}
	if len(a.State().Data) != 2 || len(b.State().Data) != 2 {
		t.Error("both views should receive the shared result")
	}
}
