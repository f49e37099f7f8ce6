// Package inflight provides short-lived per-key markers so at most one
// completion run per job is active at a time.
package inflight

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a marker survives a run that never releases it.
const DefaultTTL = 10 * time.Minute

// ErrHeld is returned by Acquire when another holder owns the marker.
var ErrHeld = errors.New("inflight: marker already held")

// Release gives up a marker. Releasing a marker that expired and was taken
// by someone else is a no-op.
type Release func(ctx context.Context) error

// Guard hands out exclusive, expiring markers keyed by string.
type Guard interface {
	// Acquire takes the marker for key, or returns ErrHeld.
	Acquire(ctx context.Context, key string) (Release, error)
}

// Compile-time check that MemoryGuard implements Guard.
var _ Guard = (*MemoryGuard)(nil)

type marker struct {
	token   string
	expires time.Time
}

// MemoryGuard keeps markers in process memory.
type MemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[string]marker
	now     func() time.Time
}

// NewMemoryGuard creates a MemoryGuard. A non-positive ttl uses DefaultTTL.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{
		ttl:     ttl,
		markers: make(map[string]marker),
		now:     time.Now,
	}
}

// Acquire takes the marker for key unless a live one exists.
func (g *MemoryGuard) Acquire(_ context.Context, key string) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if m, ok := g.markers[key]; ok && now.Before(m.expires) {
		return nil, ErrHeld
	}

	token := uuid.NewString()
	g.markers[key] = marker{token: token, expires: now.Add(g.ttl)}

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if m, ok := g.markers[key]; ok && m.token == token {
			delete(g.markers, key)
		}
		return nil
	}, nil
}

// Held reports whether a live marker exists for key.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.markers[key]
	return ok && g.now().Before(m.expires)
}
