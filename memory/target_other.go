//go:build !linux && !windows
// +build !linux,!windows

package memory

import "errors"

func openProcess(pid uint32, access Access) (Target, error) {
	return nil, errors.ErrUnsupported
}
