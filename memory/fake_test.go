package memory

import (
	"errors"
	"sync"
	"time"
)

var errFault = errors.New("bad address")

type fakeWrite struct {
	addr uint64
	data []byte
	at   time.Time
}

type fakeRegion struct {
	start, end uint64
}

// fakeTarget is a sparse in-memory address space. Only bytes inside mapped
// regions can be transferred.
type fakeTarget struct {
	pid uint32

	mu      sync.Mutex
	mem     map[uint64]byte
	regions []fakeRegion
	writes  []fakeWrite
	modules []Module
	modErr  error

	unprotectErr error
	unprotected  int
	restored     int

	nextAlloc  uint64
	allocErr   error
	writeErr   error
	threadErr  error
	threads    []uint64
	freed      []uint64
	closed     bool
	closeCalls int
}

func newFakeTarget(pid uint32) *fakeTarget {
	return &fakeTarget{
		pid:       pid,
		mem:       make(map[uint64]byte),
		nextAlloc: 0x7f0000000000,
	}
}

func (t *fakeTarget) mapRegion(start, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.regions = append(t.regions, fakeRegion{start, start + size})
}

func (t *fakeTarget) mapped(addr uint64) bool {
	for _, r := range t.regions {
		if addr >= r.start && addr < r.end {
			return true
		}
	}
	return false
}

// poke stores data without going through the write log.
func (t *fakeTarget) poke(addr uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, b := range data {
		t.mem[addr+uint64(i)] = b
	}
}

func (t *fakeTarget) peek(addr uint64, size int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = t.mem[addr+uint64(i)]
	}
	return buf
}

func (t *fakeTarget) writesAt(addr uint64) []fakeWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []fakeWrite
	for _, w := range t.writes {
		if w.addr == addr {
			out = append(out, w)
		}
	}
	return out
}

func (t *fakeTarget) Pid() uint32 {
	return t.pid
}

func (t *fakeTarget) ReadAt(p []byte, addr uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range p {
		a := addr + uint64(i)
		if !t.mapped(a) {
			return i, errFault
		}
		p[i] = t.mem[a]
	}
	return len(p), nil
}

func (t *fakeTarget) WriteAt(p []byte, addr uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeErr != nil {
		return 0, t.writeErr
	}

	for i, b := range p {
		a := addr + uint64(i)
		if !t.mapped(a) {
			return i, errFault
		}
		t.mem[a] = b
	}
	t.writes = append(t.writes, fakeWrite{addr: addr, data: append([]byte(nil), p...), at: time.Now()})
	return len(p), nil
}

func (t *fakeTarget) Unprotect(addr uint64, size int) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.unprotectErr != nil {
		return nil, t.unprotectErr
	}

	t.unprotected++
	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()

		t.restored++
		return nil
	}, nil
}

func (t *fakeTarget) Modules() ([]Module, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.modErr != nil {
		return nil, t.modErr
	}
	return append([]Module(nil), t.modules...), nil
}

func (t *fakeTarget) Alloc(size int) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allocErr != nil {
		return 0, t.allocErr
	}

	addr := t.nextAlloc
	t.nextAlloc += 0x10000
	t.regions = append(t.regions, fakeRegion{addr, addr + uint64(size)})
	return addr, nil
}

func (t *fakeTarget) Free(addr uint64, size int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.freed = append(t.freed, addr)
	return nil
}

func (t *fakeTarget) CreateThread(entry uint64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.threadErr != nil {
		return 0, t.threadErr
	}

	t.threads = append(t.threads, entry)
	return 1000 + uint32(len(t.threads)), nil
}

func (t *fakeTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.closeCalls++
	return nil
}

func (t *fakeTarget) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// fakeOS hands out fake targets for a fixed set of pids.
type fakeOS struct {
	mu      sync.Mutex
	targets map[uint32]*fakeTarget
	opened  []uint32
}

func newFakeOS(targets ...*fakeTarget) *fakeOS {
	o := &fakeOS{targets: make(map[uint32]*fakeTarget)}
	for _, t := range targets {
		o.targets[t.pid] = t
	}
	return o
}

func (o *fakeOS) open(pid uint32, access Access) (Target, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.targets[pid]
	if !ok {
		return nil, errNoProcess
	}
	o.opened = append(o.opened, pid)
	return t, nil
}

var errNoProcess = errors.New("no such process")

func newTestSession(o *fakeOS, opts ...Option) *Session {
	opts = append([]Option{
		WithOpener(o.open),
		WithFinder(func(string) uint32 { return 0 }),
	}, opts...)
	return New(opts...)
}
