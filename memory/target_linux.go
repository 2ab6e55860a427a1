//go:build linux
// +build linux

/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package memory

import (
	"fmt"
	"math"
	"os"
	"sync"
)

type procTarget struct {
	pid int

	mu  sync.Mutex
	mem *os.File
}

func openProcess(pid uint32, access Access) (Target, error) {
	flag := os.O_RDONLY
	if access&(AccessWrite|AccessOperation|AccessCreateThread) != 0 {
		flag = os.O_RDWR
	}

	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open memory of %d: %w", pid, err)
	}

	return &procTarget{pid: int(pid), mem: mem}, nil
}

func (t *procTarget) Pid() uint32 {
	return uint32(t.pid)
}

func (t *procTarget) file() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mem == nil {
		return nil, os.ErrClosed
	}
	return t.mem, nil
}

func (t *procTarget) ReadAt(p []byte, addr uint64) (int, error) {
	if addr > math.MaxInt64 {
		return 0, fmt.Errorf("address %#x out of range", addr)
	}

	mem, err := t.file()
	if err != nil {
		return 0, err
	}

	return mem.ReadAt(p, int64(addr))
}

func (t *procTarget) WriteAt(p []byte, addr uint64) (int, error) {
	if addr > math.MaxInt64 {
		return 0, fmt.Errorf("address %#x out of range", addr)
	}

	mem, err := t.file()
	if err != nil {
		return 0, err
	}

	return mem.WriteAt(p, int64(addr))
}

// Unprotect is a no-op: writes through /proc/<pid>/mem bypass page
// protection the same way a debugger's breakpoints do.
func (t *procTarget) Unprotect(addr uint64, size int) (func() error, error) {
	return func() error { return nil }, nil
}

func (t *procTarget) Modules() ([]Module, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", t.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseMaps(f)
}

func (t *procTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mem == nil {
		return nil
	}

	err := t.mem.Close()
	t.mem = nil
	return err
}

// vim: ai:ts=8:sw=8:noet:syntax=go
