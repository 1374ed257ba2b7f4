// Package fetch shows cached data immediately and revalidates it against the
// backend, for any resource that can be keyed, fetched and validated.
package fetch

import (
	"context"
	"errors"
	"time"

	"munportal/internal/api"
)

// ErrorPolicy decides what a view does with an error payload.
type ErrorPolicy int

const (
	// ClearOnError drops the shown data and surfaces the payload message.
	ClearOnError ErrorPolicy = iota
	// IgnoreErrorPayload leaves the view untouched; the error is only logged.
	IgnoreErrorPayload
)

// Resource describes one cacheable backend resource. P is the activation
// parameter (a filter, an id), T the payload.
type Resource[P, T any] struct {
	// Name labels metrics and messages, e.g. "registrations".
	Name string
	// Prefix namespaces the cache keys of this resource class.
	Prefix string
	Key    func(P) string
	TTL    time.Duration
	Fetch  func(ctx context.Context, p P) (T, error)
	// Validate rejects payloads of the wrong shape. Optional.
	Validate func(T) error
	Policy   ErrorPolicy
	// Message turns an error payload into user-facing text. Optional.
	Message func(error) string
}

// CacheKey is the full cache key for p.
func (r Resource[P, T]) CacheKey(p P) string {
	return r.Prefix + r.Key(p)
}

func (r Resource[P, T]) loadFailed() string {
	return "Failed to load " + r.Name
}

func (r Resource[P, T]) message(err error) string {
	if r.Message != nil {
		if m := r.Message(err); m != "" {
			return m
		}
	}
	return api.Message(err, r.loadFailed())
}

// outcome classifies a settled fetch.
type outcome string

const (
	outcomeOK           outcome = "ok"
	outcomeUnauthorized outcome = "unauthorized"
	outcomeNetwork      outcome = "network"
	outcomePayload      outcome = "payload"
	outcomeDiscarded    outcome = "discarded"
)

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, api.ErrUnauthorized):
		return outcomeUnauthorized
	case api.IsNetwork(err):
		return outcomeNetwork
	default:
		return outcomePayload
	}
}
