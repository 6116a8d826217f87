package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arvimal/osbuild/pkg/fetch"
	"github.com/arvimal/osbuild/pkg/jobapi"
	"github.com/arvimal/osbuild/pkg/secrets"
	"github.com/arvimal/osbuild/pkg/store"
)

// gaugeAgent serves content keyed by URL and tracks how many retrievals are
// in flight simultaneously.
type gaugeAgent struct {
	mu       sync.Mutex
	content  map[string]string // url -> body
	fail     map[string]bool   // url -> always fail
	inFlight int
	maxSeen  int
	calls    atomic.Int32
	delay    time.Duration
}

func (a *gaugeAgent) Retrieve(ctx context.Context, t fetch.Transfer) error {
	a.calls.Add(1)
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > a.maxSeen {
		a.maxSeen = a.inFlight
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail[t.URL] {
		return &fetch.ExitError{Code: 22}
	}
	body, ok := a.content[t.URL]
	if !ok {
		return &fetch.ExitError{Code: 404}
	}
	return os.WriteFile(t.Dest, []byte(body), 0644)
}

func sumOf(content string) string {
	h := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(h[:])
}

// fastFetchers shrinks retry pauses so failure tests finish quickly.
func fastFetchers(s *store.Store, agent fetch.Agent) *fetch.Fetcher {
	f := fetch.NewFetcher(s, agent)
	f.MaxAttempts = 2
	f.RetryInterval = time.Millisecond
	return f
}

func TestRunFetchesWholeBatch(t *testing.T) {
	t.Parallel()

	agent := &gaugeAgent{content: map[string]string{}}
	req := jobapi.Request{
		Items:    map[string]jobapi.Locator{},
		StoreDir: filepath.Join(t.TempDir(), "store"),
	}
	for i := 0; i < 6; i++ {
		body := fmt.Sprintf("object %d", i)
		url := fmt.Sprintf("https://mirror/obj%d", i)
		agent.content[url] = body
		req.Items[sumOf(body)] = jobapi.Locator{URL: url}
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(), NewFetcher: fastFetchers}
	resp := c.Run(context.Background(), req)
	if resp.Error != "" {
		t.Fatalf("unexpected batch error: %s", resp.Error)
	}

	st, err := store.Open(req.StoreDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	entries, err := st.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 committed entries, got %d", len(entries))
	}
}

func TestRunUnknownDigestFailsBeforeAnyRetrieval(t *testing.T) {
	t.Parallel()

	agent := &gaugeAgent{content: map[string]string{}}
	req := jobapi.Request{
		Items:     map[string]jobapi.Locator{},
		Requested: []string{"sha256:" + strings.Repeat("ab", 32)},
		StoreDir:  filepath.Join(t.TempDir(), "store"),
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver()}
	resp := c.Run(context.Background(), req)
	if resp.Error == "" {
		t.Fatal("expected batch failure")
	}
	if !strings.Contains(resp.Error, strings.Repeat("ab", 32)) {
		t.Fatalf("error should name the missing digest: %q", resp.Error)
	}
	if got := agent.calls.Load(); got != 0 {
		t.Fatalf("agent invoked %d times before validation failure, want 0", got)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	agent := &gaugeAgent{content: map[string]string{}, delay: 20 * time.Millisecond}
	req := jobapi.Request{
		Items:    map[string]jobapi.Locator{},
		StoreDir: filepath.Join(t.TempDir(), "store"),
	}
	for i := 0; i < 10; i++ {
		body := fmt.Sprintf("payload %d", i)
		url := fmt.Sprintf("https://mirror/p%d", i)
		agent.content[url] = body
		req.Items[sumOf(body)] = jobapi.Locator{URL: url}
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(), Workers: 4, NewFetcher: fastFetchers}
	if resp := c.Run(context.Background(), req); resp.Error != "" {
		t.Fatalf("unexpected batch error: %s", resp.Error)
	}
	if agent.maxSeen > 4 {
		t.Fatalf("observed %d concurrent retrievals, pool size is 4", agent.maxSeen)
	}
}

func TestRunReportsFirstErrorWhileSiblingsFinish(t *testing.T) {
	t.Parallel()

	good := "healthy object"
	agent := &gaugeAgent{
		content: map[string]string{"https://mirror/good": good},
		fail:    map[string]bool{"https://mirror/bad": true},
	}
	badDigest := sumOf("whatever the bad object was")
	req := jobapi.Request{
		Items: map[string]jobapi.Locator{
			sumOf(good): {URL: "https://mirror/good"},
			badDigest:   {URL: "https://mirror/bad"},
		},
		StoreDir: filepath.Join(t.TempDir(), "store"),
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(), NewFetcher: fastFetchers}
	resp := c.Run(context.Background(), req)
	if resp.Error == "" {
		t.Fatal("expected batch failure")
	}
	if !strings.Contains(resp.Error, "exited with status 22") {
		t.Fatalf("expected the transfer failure to surface, got %q", resp.Error)
	}
}

func TestRunResolvesSecretsLazilyAndOnce(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	agent := &gaugeAgent{content: map[string]string{}}
	req := jobapi.Request{
		Items:    map[string]jobapi.Locator{},
		StoreDir: filepath.Join(t.TempDir(), "store"),
	}
	for i := 0; i < 4; i++ {
		body := fmt.Sprintf("entitled %d", i)
		url := fmt.Sprintf("https://cdn/e%d", i)
		agent.content[url] = body
		req.Items[sumOf(body)] = jobapi.Locator{
			URL:     url,
			Secrets: &jobapi.SecretsRef{Name: "test.provider"},
		}
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(provider), NewFetcher: fastFetchers}
	if resp := c.Run(context.Background(), req); resp.Error != "" {
		t.Fatalf("unexpected batch error: %s", resp.Error)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider resolved %d times, want 1", got)
	}
}

func TestRunNoSecretsNeededNoResolution(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{}
	body := "plain object"
	agent := &gaugeAgent{content: map[string]string{"https://mirror/plain": body}}
	req := jobapi.Request{
		Items:    map[string]jobapi.Locator{sumOf(body): {URL: "https://mirror/plain"}},
		StoreDir: filepath.Join(t.TempDir(), "store"),
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(provider), NewFetcher: fastFetchers}
	if resp := c.Run(context.Background(), req); resp.Error != "" {
		t.Fatalf("unexpected batch error: %s", resp.Error)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Fatalf("provider resolved %d times without any item needing it", got)
	}
}

func TestRunExportsAfterSuccess(t *testing.T) {
	t.Parallel()

	body := "deliverable"
	agent := &gaugeAgent{content: map[string]string{"https://mirror/d": body}}
	outDir := filepath.Join(t.TempDir(), "out")
	req := jobapi.Request{
		Items:     map[string]jobapi.Locator{sumOf(body): {URL: "https://mirror/d"}},
		StoreDir:  filepath.Join(t.TempDir(), "store"),
		OutputDir: outDir,
	}

	c := &Coordinator{Agent: agent, Resolver: secrets.NewResolver(), NewFetcher: fastFetchers}
	if resp := c.Run(context.Background(), req); resp.Error != "" {
		t.Fatalf("unexpected batch error: %s", resp.Error)
	}

	hex := strings.TrimPrefix(sumOf(body), "sha256:")
	got, err := os.ReadFile(filepath.Join(outDir, hex))
	if err != nil || string(got) != body {
		t.Fatalf("exported entry mismatch: got=%q err=%v", got, err)
	}
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) ID() string { return "test.provider" }

func (p *countingProvider) Resolve(ctx context.Context) (*secrets.Bundle, error) {
	p.calls.Add(1)
	return &secrets.Bundle{}, nil
}
