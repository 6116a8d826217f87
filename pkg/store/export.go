package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arvimal/osbuild/pkg/digest"
)

// Export copies the given committed entries into destDir, one file per
// digest hex. On filesystems that support it the copy is a reflink; the
// fallback is a plain byte copy. The first failure aborts the export.
func (s *Store) Export(ctx context.Context, digests []digest.Digest, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, d := range digests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.exportOne(d, filepath.Join(destDir, d.Hex)); err != nil {
			return fmt.Errorf("export %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) exportOne(d digest.Digest, dest string) error {
	src, err := os.Open(s.Path(d))
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	cloneErr := cloneFile(out, src)
	if cloneErr == nil {
		return out.Close()
	}
	slog.Debug("reflink not available, copying", "digest", d, "err", cloneErr)

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
