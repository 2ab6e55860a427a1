//go:build linux && !amd64
// +build linux,!amd64

package memory

import "errors"

func (t *procTarget) Alloc(size int) (uint64, error) {
	return 0, errors.ErrUnsupported
}

func (t *procTarget) Free(addr uint64, size int) error {
	return errors.ErrUnsupported
}

func (t *procTarget) CreateThread(entry uint64) (uint32, error) {
	return 0, errors.ErrUnsupported
}
