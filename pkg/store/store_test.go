package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/arvimal/osbuild/pkg/digest"
)

func testDigest(t *testing.T, content string) digest.Digest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write content: %v", err)
	}
	d, err := digest.FromFile("sha256", path)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return d
}

func stage(t *testing.T, s *Store, content string) string {
	t.Helper()
	dir, cleanup, err := s.Scratch()
	if err != nil {
		t.Fatalf("scratch: %v", err)
	}
	t.Cleanup(cleanup)
	path := filepath.Join(dir, "object")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("stage: %v", err)
	}
	return path
}

func TestCommitAndContains(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := testDigest(t, "payload")

	if s.Contains(d) {
		t.Fatal("empty store should not contain digest")
	}
	if err := s.Commit(stage(t, s, "payload"), d); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !s.Contains(d) {
		t.Fatal("store should contain committed digest")
	}

	got, err := os.ReadFile(s.Path(d))
	if err != nil || string(got) != "payload" {
		t.Fatalf("committed content mismatch: got=%q err=%v", got, err)
	}

	ok, err := d.MatchesFile(s.Path(d))
	if err != nil || !ok {
		t.Fatalf("committed entry does not re-hash to its digest: ok=%v err=%v", ok, err)
	}
}

func TestCommitCollisionIsSuccess(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := testDigest(t, "same bytes")

	if err := s.Commit(stage(t, s, "same bytes"), d); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := s.Commit(stage(t, s, "same bytes"), d); err != nil {
		t.Fatalf("second commit should be a no-op success: %v", err)
	}
}

func TestConcurrentCommitSingleEntry(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := testDigest(t, "racing bytes")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, cleanup, err := s.Scratch()
			if err != nil {
				t.Errorf("scratch: %v", err)
				return
			}
			defer cleanup()
			path := filepath.Join(dir, "object")
			if err := os.WriteFile(path, []byte("racing bytes"), 0644); err != nil {
				t.Errorf("stage: %v", err)
				return
			}
			if err := s.Commit(path, d); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0] != d.Hex {
		t.Fatalf("expected exactly one entry %q, got %v", d.Hex, entries)
	}
	got, err := os.ReadFile(s.Path(d))
	if err != nil || string(got) != "racing bytes" {
		t.Fatalf("entry content mismatch: got=%q err=%v", got, err)
	}
}

func TestScratchCleanupRemovesResiduals(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	dir, cleanup, err := s.Scratch()
	if err != nil {
		t.Fatalf("scratch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial"), []byte("junk"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after cleanup: %v", err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch residue visible as entries: %v", entries)
	}
}

func TestExportCopiesEntries(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := testDigest(t, "deliver me")
	if err := s.Commit(stage(t, s, "deliver me"), d); err != nil {
		t.Fatalf("commit: %v", err)
	}

	out := t.TempDir()
	if err := s.Export(context.Background(), []digest.Digest{d}, out); err != nil {
		t.Fatalf("export: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(out, d.Hex))
	if err != nil || string(got) != "deliver me" {
		t.Fatalf("exported content mismatch: got=%q err=%v", got, err)
	}
}

func TestExportMissingEntryFails(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := testDigest(t, "never fetched")

	if err := s.Export(context.Background(), []digest.Digest{d}, t.TempDir()); err == nil {
		t.Fatal("expected export of missing entry to fail")
	}
}
