//go:build !linux

package store

import (
	"errors"
	"os"
)

var errCloneUnsupported = errors.New("file cloning not supported on this platform")

func cloneFile(dst, src *os.File) error {
	return errCloneUnsupported
}
