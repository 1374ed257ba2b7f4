// Package admin wires the registration listings, details and payment
// screenshots to cached, revalidating views.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"munportal/internal/api"
	"munportal/internal/cache"
	"munportal/internal/fetch"
	"munportal/internal/logging"
)

// ErrScreenshotUnavailable marks a screenshot payload that cannot be shown.
var ErrScreenshotUnavailable = errors.New("screenshot not available")

// Backend is the admin part of the API.
type Backend interface {
	ListRegistrations(ctx context.Context, kind api.Kind, f api.Filter) ([]api.Registration, error)
	GetRegistration(ctx context.Context, kind api.Kind, id string) (*api.Registration, error)
	GetScreenshot(ctx context.Context, kind api.Kind, id string) (string, error)
	Login(ctx context.Context, creds api.Credentials) (string, error)
	Me(ctx context.Context) (*api.Admin, error)
}

type TTLs struct {
	List       time.Duration
	Detail     time.Duration
	Screenshot time.Duration
}

type (
	ListView       = fetch.View[api.Filter, []api.Registration]
	DetailView     = fetch.View[string, *api.Registration]
	ScreenshotView = fetch.View[string, string]

	ListState       = fetch.State[[]api.Registration]
	DetailState     = fetch.State[*api.Registration]
	ScreenshotState = fetch.State[string]
)

type Dashboard struct {
	backend Backend
	cache   cache.Cache
	session *Session
	orch    *fetch.Orchestrator
	ttl     TTLs
}

func NewDashboard(backend Backend, c cache.Cache, s *Session, ttl TTLs, logger logging.Logger) *Dashboard {
	return &Dashboard{
		backend: backend,
		cache:   c,
		session: s,
		orch:    fetch.New(c, s.expire, logger),
		ttl:     ttl,
	}
}

func (d *Dashboard) Session() *Session {
	return d.session
}

func ListPrefix(kind api.Kind) string       { return string(kind) + "-list:" }
func DetailPrefix(kind api.Kind) string     { return string(kind) + "-doc:" }
func ScreenshotPrefix(kind api.Kind) string { return string(kind) + "-screenshot:" }

func (d *Dashboard) ListResource(kind api.Kind) fetch.Resource[api.Filter, []api.Registration] {
	return fetch.Resource[api.Filter, []api.Registration]{
		Name:   string(kind) + " registrations",
		Prefix: ListPrefix(kind),
		Key:    api.Filter.Fingerprint,
		TTL:    d.ttl.List,
		Fetch: func(ctx context.Context, f api.Filter) ([]api.Registration, error) {
			return d.backend.ListRegistrations(ctx, kind, f)
		},
		Policy: fetch.IgnoreErrorPayload,
	}
}

func (d *Dashboard) DetailResource(kind api.Kind) fetch.Resource[string, *api.Registration] {
	return fetch.Resource[string, *api.Registration]{
		Name:   "registration",
		Prefix: DetailPrefix(kind),
		Key:    func(id string) string { return id },
		TTL:    d.ttl.Detail,
		Fetch: func(ctx context.Context, id string) (*api.Registration, error) {
			return d.backend.GetRegistration(ctx, kind, id)
		},
		Validate: func(r *api.Registration) error {
			if r == nil || r.ID == "" {
				return fmt.Errorf("%w: empty registration", api.ErrMalformed)
			}
			return nil
		},
		Policy: fetch.ClearOnError,
	}
}

func (d *Dashboard) ScreenshotResource(kind api.Kind) fetch.Resource[string, string] {
	return fetch.Resource[string, string]{
		Name:   "screenshot",
		Prefix: ScreenshotPrefix(kind),
		Key:    func(id string) string { return id },
		TTL:    d.ttl.Screenshot,
		Fetch: func(ctx context.Context, id string) (string, error) {
			return d.backend.GetScreenshot(ctx, kind, id)
		},
		Validate: func(s string) error {
			if !api.IsProofReference(s) {
				return ErrScreenshotUnavailable
			}
			return nil
		},
		Policy: fetch.ClearOnError,
		Message: func(err error) string {
			if errors.Is(err, ErrScreenshotUnavailable) {
				return "Screenshot not available"
			}
			return ""
		},
	}
}

func (d *Dashboard) ListView(kind api.Kind, onChange func(ListState)) *ListView {
	return fetch.NewView(d.orch, d.ListResource(kind), onChange)
}

func (d *Dashboard) DetailView(kind api.Kind, onChange func(DetailState)) *DetailView {
	return fetch.NewView(d.orch, d.DetailResource(kind), onChange)
}

// ScreenshotView is only activated on explicit request; nothing loads it
// together with the registration it belongs to.
func (d *Dashboard) ScreenshotView(kind api.Kind, onChange func(ScreenshotState)) *ScreenshotView {
	return fetch.NewView(d.orch, d.ScreenshotResource(kind), onChange)
}

// RefreshLists drops every cached listing of kind.
func (d *Dashboard) RefreshLists(kind api.Kind) {
	d.cache.Invalidate(ListPrefix(kind))
}

// InvalidateRegistration drops the cached document and screenshot of id.
func (d *Dashboard) InvalidateRegistration(kind api.Kind, id string) {
	d.cache.Invalidate(DetailPrefix(kind) + id)
	d.cache.Invalidate(ScreenshotPrefix(kind) + id)
}

// RefreshAll drops every cached admin response.
func (d *Dashboard) RefreshAll() {
	d.cache.InvalidateAll()
}
