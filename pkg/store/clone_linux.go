//go:build linux

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// cloneFile asks the kernel for a copy-on-write clone of src into dst.
// Filesystems without reflink support (or cross-device pairs) refuse with
// an errno, which the caller treats as "fall back to a byte copy".
func cloneFile(dst, src *os.File) error {
	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}
