// Package jobapi defines the work request/response payloads exchanged with
// the orchestrating process. A batch is all-or-nothing at this boundary:
// the response is either empty success or a single error string.
package jobapi

import (
	"encoding/json"
	"fmt"
)

// SecretsRef names a credential provider a locator wants injected.
type SecretsRef struct {
	Name string `json:"name"`
}

// Locator is a retrieval descriptor. On the wire it is either a bare URL
// string or an object with url and optional secrets.
type Locator struct {
	URL     string      `json:"url"`
	Secrets *SecretsRef `json:"secrets,omitempty"`
}

// UnmarshalJSON accepts the bare-string shorthand for a locator without
// credentials.
func (l *Locator) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		*l = Locator{URL: url}
		return nil
	}
	type plain Locator
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Locator(p)
	return nil
}

// Request is one batch of work: which digests to fetch, from where, into
// which store, and optionally where to deliver them afterwards.
type Request struct {
	// Items maps digest strings ("algo:hex") to locators.
	Items map[string]Locator `json:"items"`

	// Requested lists the digests to fetch. Empty means every key of Items.
	Requested []string `json:"requested,omitempty"`

	// StoreDir is the cache root for this batch.
	StoreDir string `json:"store_dir"`

	// OutputDir, when set, receives a copy of every requested entry after
	// the batch succeeds.
	OutputDir string `json:"output_dir,omitempty"`
}

// RequestedOrAll returns the explicit request list, or all item digests
// when none was given.
func (r *Request) RequestedOrAll() []string {
	if len(r.Requested) > 0 {
		return r.Requested
	}
	out := make([]string, 0, len(r.Items))
	for d := range r.Items {
		out = append(out, d)
	}
	return out
}

// Response reports the batch outcome. Error is empty on success; there is
// no partial-success shape.
type Response struct {
	Error string `json:"error,omitempty"`
}

// Failure builds an error response from err.
func Failure(err error) Response {
	return Response{Error: fmt.Sprintf("%v", err)}
}
