package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/arvimal/osbuild/pkg/digest"
	"github.com/arvimal/osbuild/pkg/secrets"
	"github.com/arvimal/osbuild/pkg/store"
)

// ErrChecksumMismatch marks a completed transfer whose content does not
// re-hash to its declared digest. It is never retried: the scratch data is
// discarded and nothing reaches the store.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ErrBudgetExhausted marks a fetch abandoned because its wall-clock budget
// ran out with attempts to spare.
var ErrBudgetExhausted = errors.New("time budget exhausted")

const (
	// DefaultBudget is the wall-clock limit for all attempts of one item.
	DefaultBudget = 300 * time.Second
	// DefaultMaxAttempts bounds how often a flaky transfer is retried.
	DefaultMaxAttempts = 20
	// DefaultConnectTimeout is the fixed per-attempt connection limit.
	DefaultConnectTimeout = 60 * time.Second
)

// Locator describes where to retrieve one object from, with credentials
// already resolved. Immutable once the batch starts.
type Locator struct {
	URL     string
	Secrets *secrets.Bundle
}

// Fetcher retrieves single objects into the store. Zero-value time fields
// fall back to the package defaults.
type Fetcher struct {
	Store          *store.Store
	Agent          Agent
	Budget         time.Duration
	MaxAttempts    uint
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
}

func NewFetcher(s *store.Store, agent Agent) *Fetcher {
	return &Fetcher{
		Store:          s,
		Agent:          agent,
		Budget:         DefaultBudget,
		MaxAttempts:    DefaultMaxAttempts,
		ConnectTimeout: DefaultConnectTimeout,
		RetryInterval:  time.Second,
	}
}

// Fetch retrieves the object for d from loc and commits it under d.
//
// An object already committed under d is a success with no network
// activity. Otherwise the transfer lands in a private scratch directory
// inside the store root, is retried on transient failure within the
// attempt and time budgets, verified against d and committed by atomic
// rename. The scratch directory is removed on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, loc Locator, d digest.Digest) error {
	if f.Store.Contains(d) {
		slog.Debug("cache hit", "digest", d)
		return nil
	}

	scratch, cleanup, err := f.Store.Scratch()
	if err != nil {
		return err
	}
	defer cleanup()

	dest := filepath.Join(scratch, d.Hex)
	if err := f.retrieve(ctx, loc, d, dest); err != nil {
		return fmt.Errorf("fetch %s: %w", d, err)
	}

	ok, err := d.MatchesFile(dest)
	if err != nil {
		return fmt.Errorf("verify %s: %w", d, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrChecksumMismatch, d, loc.URL)
	}

	return f.Store.Commit(dest, d)
}

// retrieve runs the bounded retry loop around the agent. A nonzero agent
// exit is transient (a retry may land on a healthier mirror); the loop
// stops at MaxAttempts or, immediately, when the time budget is spent.
func (f *Fetcher) retrieve(ctx context.Context, loc Locator, d digest.Digest, dest string) error {
	deadline := time.Now().Add(f.Budget)

	var lastErr error
	operation := func() (struct{}, error) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err := fmt.Errorf("%w after %s", ErrBudgetExhausted, f.Budget)
			if lastErr != nil {
				err = fmt.Errorf("%w, last failure: %w", err, lastErr)
			}
			return struct{}{}, backoff.Permanent(err)
		}
		err := f.Agent.Retrieve(ctx, Transfer{
			URL:            loc.URL,
			Dest:           dest,
			Digest:         d,
			Timeout:        remaining,
			ConnectTimeout: f.ConnectTimeout,
			Secrets:        loc.Secrets,
		})
		if err != nil {
			lastErr = err
			slog.Debug("transfer attempt failed", "digest", d, "err", err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.RetryInterval)),
		backoff.WithMaxTries(f.MaxAttempts),
	)
	return err
}
