package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownProvider is returned when a locator names a secrets provider
// that is not registered.
var ErrUnknownProvider = errors.New("unknown secrets provider")

// Bundle is resolved transport credential material. All fields are paths
// handed to the retrieval agent; a bundle lives only for the current run and
// is never persisted.
type Bundle struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

// Provider resolves one named credential source into a Bundle.
type Provider interface {
	ID() string
	Resolve(ctx context.Context) (*Bundle, error)
}

// Resolver looks up providers by name and memoizes their result: a provider
// is resolved at most once per run, no matter how many items reference it or
// how many workers race on the first use. The first resolution wins; errors
// are memoized too, so a broken provider fails every item that needs it
// without re-scanning.
type Resolver struct {
	mu        sync.Mutex
	providers map[string]Provider
	resolved  map[string]resolution
}

type resolution struct {
	bundle *Bundle
	err    error
}

func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
		resolved:  make(map[string]resolution),
	}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Resolve returns the memoized bundle for name, resolving it on first use.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resolved[name]; ok {
		return res.bundle, res.err
	}
	p, ok := r.providers[name]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		r.resolved[name] = resolution{err: err}
		return nil, err
	}
	bundle, err := p.Resolve(ctx)
	r.resolved[name] = resolution{bundle: bundle, err: err}
	return bundle, err
}
