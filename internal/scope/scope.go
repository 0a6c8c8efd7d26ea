// Package scope provides the per-unit-of-work memoization window for
// setting reads. Inside one scope every key resolves exactly once, so a
// background cache refresh firing mid-request can never change a value
// the request has already observed. A scope also owns a lazily seeded
// pseudo-random source, keeping randomized decisions (e.g. percentage
// rollouts) stable within one unit of work and independent across units.
//
// Scopes are explicit objects carried through context.Context; there is
// no ambient global or thread-local stack. Each logical unit of work
// gets its own scope, never shared across goroutine domains.
package scope

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
)

type ctxKey struct{}

// Scope memoizes resolved setting values for one unit of work.
type Scope struct {
	parent *Scope

	mu     sync.Mutex
	values map[string]setting.Value
	rng    *rand.Rand
}

// New creates a root scope.
func New() *Scope {
	return &Scope{values: make(map[string]setting.Value)}
}

// Child creates a nested scope. The child falls back to the parent's
// already-resolved values, while its own resolutions and overrides stay
// local and vanish when the child is discarded.
func (s *Scope) Child() *Scope {
	return &Scope{parent: s, values: make(map[string]setting.Value)}
}

// Resolve returns the memoized value for key, consulting the parent
// chain before falling through to fetch. The fetched value is memoized
// in this scope, not in any parent.
func (s *Scope) Resolve(key string, fetch func() (setting.Value, error)) (setting.Value, error) {
	s.mu.Lock()

	if v, ok := s.values[key]; ok {
		s.mu.Unlock()

		return v, nil
	}

	s.mu.Unlock()

	for p := s.parent; p != nil; p = p.parent {
		p.mu.Lock()
		v, ok := p.values[key]
		p.mu.Unlock()

		if ok {
			return v, nil
		}
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}

	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()

	return v, nil
}

// Put records an explicit value for key in this scope, shadowing any
// parent resolution until the scope ends.
func (s *Scope) Put(key string, v setting.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = v
}

// Random returns the next float64 in [0, 1) from the scope's generator.
// The first call seeds the generator; later calls advance it, so a
// randomized decision memoized through Resolve stays stable for the
// whole unit of work.
func (s *Scope) Random() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // rollout decisions, not crypto
	}

	return s.rng.Float64()
}

// Seed replaces the scope's generator with a deterministic one. Tests
// use it to make randomized decisions reproducible.
func (s *Scope) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // rollout decisions, not crypto
}

// Attach returns a context carrying the scope.
func Attach(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From extracts the scope carried by the context, if any.
func From(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Scope)

	return s, ok
}

// Enter begins a unit of work: it attaches a fresh scope, nested under
// the context's current scope when one exists.
func Enter(ctx context.Context) (context.Context, *Scope) {
	var s *Scope

	if parent, ok := From(ctx); ok {
		s = parent.Child()
	} else {
		s = New()
	}

	return Attach(ctx, s), s
}
