package cache

import (
	"strings"
	"time"
)

// Entry is a cached payload and the instant after which it is stale.
type Entry struct {
	Data      any
	ExpiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(keyOrPrefix string)
	InvalidateAll()
}

// Lookup reads key and asserts the stored value to T. A value of another
// type is reported as a miss.
func Lookup[T any](c Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Namespace returns the resource class of key: everything up to and
// including the first ':'. Keys without a separator have no namespace.
func Namespace(key string) string {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return ""
	}
	return key[:i+1]
}
