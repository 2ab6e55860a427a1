//go:build windows
// +build windows

package process

import "path/filepath"

func canonical(path string) string {
	return filepath.Clean(path)
}
