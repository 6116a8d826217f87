// Package store implements the flat content-addressed object cache: one
// file per digest, named by the digest's hex value, committed by atomic
// rename from a scratch area on the same filesystem.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arvimal/osbuild/pkg/digest"
)

type Store struct {
	root string
}

// Open ensures the store root exists and returns a handle to it.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// Path returns where the object for d lives (or would live) in the store.
func (s *Store) Path(d digest.Digest) string {
	return filepath.Join(s.root, d.Hex)
}

// Contains reports whether an object is already committed under d. Committed
// implies verified: nothing lands under a final name before passing its
// digest check.
func (s *Store) Contains(d digest.Digest) bool {
	st, err := os.Stat(s.Path(d))
	return err == nil && st.Mode().IsRegular()
}

// Scratch creates a private staging directory inside the store root, so the
// eventual commit is a same-filesystem rename. The returned cleanup removes
// the directory and anything left in it.
func (s *Store) Scratch() (string, func(), error) {
	dir, err := os.MkdirTemp(s.root, ".scratch-")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove scratch dir", "dir", dir, "err", err)
		}
	}
	return dir, cleanup, nil
}

// Commit moves a verified file into its final digest-named place. A
// concurrent fetch of the same digest may have won the race already; both
// writers hold verified, byte-identical content, so losing the race is
// success.
func (s *Store) Commit(src string, d digest.Digest) error {
	dest := s.Path(d)
	if err := os.Rename(src, dest); err != nil {
		if s.Contains(d) {
			slog.Debug("commit race lost, entry already present", "digest", d)
			return nil
		}
		return fmt.Errorf("commit %s: %w", d, err)
	}
	return nil
}

// List returns the digests-as-hex of every committed entry. Scratch
// directories and other non-entry names are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}
