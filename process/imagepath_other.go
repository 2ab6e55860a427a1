//go:build !linux && !windows
// +build !linux,!windows

package process

import "errors"

func imagePath(pid int) (string, error) {
	return "", errors.ErrUnsupported
}
