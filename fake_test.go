package main

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"gamemod/memory"
)

var errUnmapped = errors.New("unmapped")

// flatTarget is a single contiguous region of fake process memory.
type flatTarget struct {
	pid  uint32
	base uint64

	mu      sync.Mutex
	mem     []byte
	modules []memory.Module
	threads []uint64
}

func (t *flatTarget) Pid() uint32 { return t.pid }

func (t *flatTarget) span(addr uint64, n int) (int, int, error) {
	if addr < t.base || addr-t.base+uint64(n) > uint64(len(t.mem)) {
		return 0, 0, errUnmapped
	}
	off := int(addr - t.base)
	return off, off + n, nil
}

func (t *flatTarget) ReadAt(p []byte, addr uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, to, err := t.span(addr, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, t.mem[from:to]), nil
}

func (t *flatTarget) WriteAt(p []byte, addr uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, to, err := t.span(addr, len(p))
	if err != nil {
		return 0, err
	}
	return copy(t.mem[from:to], p), nil
}

func (t *flatTarget) Unprotect(addr uint64, size int) (func() error, error) {
	return func() error { return nil }, nil
}

func (t *flatTarget) Modules() ([]memory.Module, error) {
	return t.modules, nil
}

// Alloc hands out the top of the region.
func (t *flatTarget) Alloc(size int) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size > len(t.mem)/2 {
		return 0, errUnmapped
	}
	return t.base + uint64(len(t.mem)-size), nil
}

func (t *flatTarget) Free(addr uint64, size int) error { return nil }

func (t *flatTarget) CreateThread(entry uint64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.threads = append(t.threads, entry)
	return uint32(4000 + len(t.threads)), nil
}

func (t *flatTarget) Close() error { return nil }

func (t *flatTarget) peek(addr uint64, n int) []byte {
	buf := make([]byte, n)
	if _, err := t.ReadAt(buf, addr); err != nil {
		panic(err)
	}
	return buf
}

const (
	testPid  = 1234
	testBase = 0x10000
)

// newTestSession returns a session whose only process is testPid, named
// game.exe, with 4 KiB of memory mapped at testBase.
func newTestSession(t *testing.T, opts ...memory.Option) (*memory.Session, *flatTarget) {
	t.Helper()

	ft := &flatTarget{
		pid:  testPid,
		base: testBase,
		mem:  make([]byte, 0x1000),
		modules: []memory.Module{
			{Name: "game.exe", Base: testBase, Size: 0x1000},
		},
	}

	opts = append([]memory.Option{
		memory.WithOpener(func(pid uint32, access memory.Access) (memory.Target, error) {
			if pid != testPid {
				return nil, errUnmapped
			}
			return ft, nil
		}),
		memory.WithFinder(func(name string) uint32 {
			if name == "game.exe" {
				return testPid
			}
			return 0
		}),
		memory.WithLogger(quietLogger()),
	}, opts...)

	s := memory.New(opts...)
	t.Cleanup(func() { s.Close() })

	return s, ft
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}
