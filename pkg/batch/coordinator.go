// Package batch fans a work request out across a bounded pool of fetch
// workers and reduces the outcomes to a single success-or-error result.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/arvimal/osbuild/pkg/digest"
	"github.com/arvimal/osbuild/pkg/fetch"
	"github.com/arvimal/osbuild/pkg/index"
	"github.com/arvimal/osbuild/pkg/jobapi"
	"github.com/arvimal/osbuild/pkg/secrets"
	"github.com/arvimal/osbuild/pkg/store"
)

// DefaultWorkers bounds in-flight transfers regardless of batch size.
const DefaultWorkers = 4

// Coordinator runs whole batches. Agent and Resolver are shared across all
// workers; Index and ProgressWriter are optional.
type Coordinator struct {
	Agent          fetch.Agent
	Resolver       *secrets.Resolver
	Workers        int
	Index          *index.Index
	ProgressWriter io.Writer

	// NewFetcher, when set, replaces the default single-item fetcher
	// construction. Tests use it to shrink retry budgets.
	NewFetcher func(s *store.Store, agent fetch.Agent) *fetch.Fetcher
}

type job struct {
	digest  digest.Digest
	locator jobapi.Locator
}

// Run executes one work request: validate, fetch everything through the
// worker pool, then (on full success) export to the output directory when
// one was requested. The first failure observed while draining results is
// the batch's single error; in-flight sibling fetches are left to finish.
func (c *Coordinator) Run(ctx context.Context, req jobapi.Request) jobapi.Response {
	if err := c.run(ctx, req); err != nil {
		return jobapi.Failure(err)
	}
	return jobapi.Response{}
}

func (c *Coordinator) run(ctx context.Context, req jobapi.Request) error {
	jobs, err := plan(req)
	if err != nil {
		return err
	}

	st, err := store.Open(req.StoreDir)
	if err != nil {
		return err
	}

	if err := c.fetchAll(ctx, st, jobs); err != nil {
		return err
	}

	if req.OutputDir != "" {
		digests := make([]digest.Digest, len(jobs))
		for i, j := range jobs {
			digests[i] = j.digest
		}
		if err := st.Export(ctx, digests, req.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

// plan validates the request before any network activity: every requested
// digest must parse and must have a locator.
func plan(req jobapi.Request) ([]job, error) {
	requested := req.RequestedOrAll()
	jobs := make([]job, 0, len(requested))
	for _, name := range requested {
		d, err := digest.Parse(name)
		if err != nil {
			return nil, err
		}
		loc, ok := req.Items[name]
		if !ok {
			return nil, fmt.Errorf("requested digest %s has no source", name)
		}
		jobs = append(jobs, job{digest: d, locator: loc})
	}
	return jobs, nil
}

func (c *Coordinator) fetchAll(ctx context.Context, st *store.Store, jobs []job) error {
	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if len(jobs) == 0 {
		return nil
	}

	newFetcher := c.NewFetcher
	if newFetcher == nil {
		newFetcher = fetch.NewFetcher
	}
	fetcher := newFetcher(st, c.Agent)

	var bar *progressbar.ProgressBar
	if c.ProgressWriter != nil {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetWriter(c.ProgressWriter),
			progressbar.OptionSetDescription("fetching"),
			progressbar.OptionShowCount(),
		)
	}

	queue := make(chan job)
	results := make(chan error)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				results <- c.fetchOne(ctx, fetcher, st, j)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, j := range jobs {
			select {
			case queue <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Drain everything. The first error wins; siblings already in flight
	// run to completion and their outcomes are discarded.
	var firstErr error
	for err := range results {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (c *Coordinator) fetchOne(ctx context.Context, fetcher *fetch.Fetcher, st *store.Store, j job) error {
	loc := fetch.Locator{URL: j.locator.URL}
	if j.locator.Secrets != nil {
		bundle, err := c.Resolver.Resolve(ctx, j.locator.Secrets.Name)
		if err != nil {
			return err
		}
		loc.Secrets = bundle
	}

	if err := fetcher.Fetch(ctx, loc, j.digest); err != nil {
		return err
	}

	if c.Index != nil {
		var size int64
		if fi, err := os.Stat(st.Path(j.digest)); err == nil {
			size = fi.Size()
		}
		err := c.Index.Record(ctx, index.Entry{
			Digest:      j.digest.String(),
			URL:         j.locator.URL,
			SizeBytes:   size,
			CompletedAt: time.Now(),
		})
		if err != nil {
			// Provenance is advisory; a failed row never fails the batch.
			slog.Warn("failed to record provenance", "digest", j.digest, "err", err)
		}
	}
	return nil
}
