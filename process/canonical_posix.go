//go:build !windows
// +build !windows

package process

import "github.com/yookoala/realpath"

// canonical resolves symlinks so that a launcher path and the image path
// reported by the kernel compare equal.
func canonical(path string) string {
	real, err := realpath.Realpath(path)
	if err != nil {
		return path
	}

	return real
}
