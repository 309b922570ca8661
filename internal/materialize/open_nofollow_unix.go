//go:build !windows

package materialize

import (
	"os"
	"syscall"
)

// createNoFollow opens dest for writing, creating or truncating
// it, without following a symlink at the final path component.
// An existing symlink makes the open fail with ELOOP, so a
// restored file never lands outside the output tree.
func createNoFollow(dest string) (*os.File, error) {
	return os.OpenFile(
		dest,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_NOFOLLOW,
		0o644,
	)
}
