// Package ratelimit defines the windowed-counter rate limiting port used by
// the email pipeline. Two scopes are checked before every send: the per-user
// scope and the single global provider scope; both must allow.
package ratelimit

import "context"

// Unit selects the counter window width.
type Unit string

const (
	UnitSecond Unit = "second"
	UnitDay    Unit = "day"
)

func (u Unit) String() string { return string(u) }

// ProviderScope is the global bucket shared by all users against the sending
// provider's ceiling.
const ProviderScope = "provider"

// UserScope builds a per-user counter scope.
func UserScope(userID string) string {
	return "user:" + userID
}

// Decision is the outcome of a consume attempt. Denials carry a
// machine-distinguishable reason; callers must treat a denial as retryable,
// never as a permanent failure.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter consumes one unit from a windowed counter and reports whether the
// request stays within limit. Implementations fail open when the counter
// store is unavailable.
type Limiter interface {
	TryConsume(ctx context.Context, scope string, unit Unit, limit int) Decision
}

// Usage reports current window counts for a scope.
type Usage struct {
	PerSecond int
	PerDay    int
}

// Inspector exposes current counter values for status surfaces.
type Inspector interface {
	Current(ctx context.Context, scope string) (Usage, error)
	Reset(ctx context.Context, scope string, unit Unit) error
}
