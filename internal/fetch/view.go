package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"munportal/internal/cache"
	"munportal/internal/logging"
	"munportal/internal/metrics"
)

// NoticeStale is shown when a revalidation failed but cached data remains.
const NoticeStale = "Could not refresh; showing cached data"

// State is what a view currently shows.
type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	// FromCache is set while Data has not been confirmed by the backend.
	FromCache bool
	Error     string
	Notice    string
	// Unauthorized is set once the backend rejected the session.
	Unauthorized bool
}

// Orchestrator holds what views share: the cache, the handler for a
// rejected session and the in-flight request group.
type Orchestrator struct {
	cache          cache.Cache
	onUnauthorized func(ctx context.Context)
	logger         logging.Logger
	group          singleflight.Group
}

// New returns an Orchestrator. onUnauthorized runs once per fetch that the
// backend answered with 401 and is expected to tear the session down.
func New(c cache.Cache, onUnauthorized func(ctx context.Context), logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	if onUnauthorized == nil {
		onUnauthorized = func(context.Context) {}
	}
	return &Orchestrator{cache: c, onUnauthorized: onUnauthorized, logger: logger}
}

func (o *Orchestrator) Cache() cache.Cache {
	return o.cache
}

// View runs the show-cached-then-revalidate protocol for one resource.
// Each Activate supersedes the previous one; results of a superseded or
// closed activation are dropped.
type View[P, T any] struct {
	o        *Orchestrator
	res      Resource[P, T]
	onChange func(State[T])

	// pub serialises state changes with their publication.
	pub sync.Mutex

	mu     sync.Mutex
	state  State[T]
	params P
	key    string
	seq    uint64
	cancel context.CancelFunc
	active bool
	closed bool
}

// NewView returns a view of res. onChange, if set, receives every state
// change in order; it may call State but must not call Activate, Refresh
// or Close.
func NewView[P, T any](o *Orchestrator, res Resource[P, T], onChange func(State[T])) *View[P, T] {
	return &View[P, T]{o: o, res: res, onChange: onChange}
}

func (v *View[P, T]) State() State[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Activate shows whatever the cache holds for p and starts a fetch of the
// authoritative value. The returned channel is closed once that fetch has
// settled or has been discarded.
func (v *View[P, T]) Activate(ctx context.Context, p P) <-chan struct{} {
	done := make(chan struct{})

	v.pub.Lock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.pub.Unlock()
		close(done)
		return done
	}
	if v.cancel != nil {
		v.cancel()
	}
	actx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.seq++
	seq := v.seq
	v.params = p
	v.active = true

	key := v.res.CacheKey(p)
	cached, hit := cache.Lookup[T](v.o.cache, key)

	// Banners carry over only while the view keeps showing the same key.
	next := State[T]{}
	if key == v.key {
		next.Error = v.state.Error
		next.Notice = v.state.Notice
	}
	v.key = key
	if hit {
		next.Data = cached
		next.HasData = true
		next.FromCache = true
	} else {
		next.Loading = true
	}
	v.state = next
	v.mu.Unlock()
	v.publish(next)
	v.pub.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		data, err := v.fetch(actx, key, p)
		v.settle(actx, seq, key, data, err)
	}()

	return done
}

// Refresh drops the cached value of the current activation and activates
// it again, forcing a backend round trip. A request for the key already in
// flight is not joined: it was sent before the invalidation.
func (v *View[P, T]) Refresh(ctx context.Context) <-chan struct{} {
	v.mu.Lock()
	active, p := v.active, v.params
	v.mu.Unlock()

	if !active {
		done := make(chan struct{})
		close(done)
		return done
	}
	key := v.res.CacheKey(p)
	v.o.cache.Invalidate(key)
	v.o.group.Forget(key)
	return v.Activate(ctx, p)
}

// Load activates p and returns the first state worth showing: the cached
// value at once, otherwise the settled result. Revalidation outlives ctx.
func (v *View[P, T]) Load(ctx context.Context, p P) (State[T], error) {
	done := v.Activate(context.WithoutCancel(ctx), p)

	st := v.State()
	if st.HasData && !st.Loading {
		return st, nil
	}

	select {
	case <-done:
		return v.State(), nil
	case <-ctx.Done():
		return st, ctx.Err()
	}
}

// Close discards any in-flight result. The view cannot be activated again.
func (v *View[P, T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
	}
}

// fetch collapses concurrent fetches of the same key. The shared call does
// not inherit ctx cancellation so one departing view cannot fail the others.
func (v *View[P, T]) fetch(ctx context.Context, key string, p P) (T, error) {
	ch := v.o.group.DoChan(key, func() (any, error) {
		return v.res.Fetch(context.WithoutCancel(ctx), p)
	})

	var zero T
	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		data, _ := r.Val.(T)
		return data, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (v *View[P, T]) live(ctx context.Context, seq uint64) bool {
	return ctx.Err() == nil && !v.closed && v.seq == seq
}

func (v *View[P, T]) settle(ctx context.Context, seq uint64, key string, data T, err error) {
	if err == nil && v.res.Validate != nil {
		err = v.res.Validate(data)
	}
	kind := classify(err)

	if kind == outcomeUnauthorized {
		v.mu.Lock()
		isLive := v.live(ctx, seq)
		v.mu.Unlock()
		if !isLive {
			metrics.IncFetch(v.res.Name, string(outcomeDiscarded))
			return
		}
		// Runs outside the view lock: it clears the cache and the token.
		v.o.onUnauthorized(ctx)
	}

	v.pub.Lock()
	defer v.pub.Unlock()
	v.mu.Lock()
	if !v.live(ctx, seq) {
		v.mu.Unlock()
		metrics.IncFetch(v.res.Name, string(outcomeDiscarded))
		return
	}

	st := v.state
	switch kind {
	case outcomeOK:
		st.Data = data
		st.HasData = true
		st.FromCache = false
		st.Error = ""
		st.Notice = ""
		v.o.cache.Set(key, data, v.res.TTL)

	case outcomeUnauthorized:
		var zero T
		st.Data = zero
		st.HasData = false
		st.FromCache = false
		st.Unauthorized = true

	case outcomeNetwork:
		if st.HasData {
			st.Notice = NoticeStale
		} else {
			st.Error = v.res.loadFailed()
		}
		v.o.logger.Warn("fetch failed", "resource", v.res.Name, "key", key, "error", err)

	case outcomePayload:
		if v.res.Policy == ClearOnError {
			var zero T
			st.Data = zero
			st.HasData = false
			st.FromCache = false
			st.Error = v.res.message(err)
		}
		v.o.logger.Warn("fetch returned error payload", "resource", v.res.Name, "key", key, "error", err)
	}
	st.Loading = false
	v.state = st
	v.mu.Unlock()

	metrics.IncFetch(v.res.Name, string(kind))
	v.publish(st)
}

func (v *View[P, T]) publish(st State[T]) {
	if v.onChange != nil {
		v.onChange(st)
	}
}
