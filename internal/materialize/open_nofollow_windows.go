//go:build windows

package materialize

import "os"

// createNoFollow opens dest for writing. On Windows,
// O_NOFOLLOW is not available so we fall back to a regular
// create. Destination containment checks provide the primary
// defense on this platform.
func createNoFollow(dest string) (*os.File, error) {
	return os.OpenFile(
		dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644,
	)
}
