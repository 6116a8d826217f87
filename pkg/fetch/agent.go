// Package fetch retrieves single objects from their origin, verifies them
// against their declared digest and commits them into the store.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/arvimal/osbuild/pkg/digest"
	"github.com/arvimal/osbuild/pkg/secrets"
)

// Transfer describes one retrieval attempt: where to download from, where
// the bytes land, and the time limits for this attempt.
type Transfer struct {
	URL            string
	Dest           string
	Digest         digest.Digest
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Secrets        *secrets.Bundle
}

// Agent is the retrieval capability. An agent downloads t.URL to t.Dest
// within the given limits; any returned error is treated by the caller as
// transient and retried within its budget. Agents do not verify digests
// (the native agent happens to, but the fetcher re-verifies regardless).
type Agent interface {
	Retrieve(ctx context.Context, t Transfer) error
}

// ExitError reports a retrieval subprocess that exited nonzero. The exit
// code is the only failure signal consulted.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("retrieval agent exited with status %d", e.Code)
}
