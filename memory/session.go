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

// Package memory attaches to a running process and manipulates its address
// space: module lookup, pointer chains, raw and typed reads and writes,
// background "lock" writers and remote code injection.
//
// A Session owns at most one open process at a time. Sessions are
// independent of each other and safe for concurrent use.
package memory

import (
	"math"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"gamemod/process"
)

const DefaultLockPeriod = 200 * time.Millisecond

// DefaultMaxReadSize bounds a single Read unless WithMaxReadSize says
// otherwise. No limit above math.MaxUint32 is accepted.
const DefaultMaxReadSize = 64 << 20

type Session struct {
	mu     sync.RWMutex
	target Target
	pid    uint32

	locksMu sync.Mutex
	locks   map[LockID]*lockEntry
	lastID  LockID

	open     Opener
	find     func(name string) uint32
	logger   *log.Logger
	observer func(Event)
	ptrSize  int
	period   time.Duration
	maxRead  int
}

type Option func(*Session)

// WithOpener replaces the OS backend used to open processes.
func WithOpener(open Opener) Option {
	return func(s *Session) {
		s.open = open
	}
}

// WithFinder replaces the executable name lookup used by AttachByName.
func WithFinder(find func(name string) uint32) Option {
	return func(s *Session) {
		s.find = find
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithObserver registers fn to be called after every attach, detach, lock
// start/stop and injection. fn must not call back into the Session.
func WithObserver(fn func(Event)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithPointerSize sets the width of the pointers followed by ResolveChain.
// Only 4 and 8 are accepted.
func WithPointerSize(size int) Option {
	return func(s *Session) {
		if size == 4 || size == 8 {
			s.ptrSize = size
		}
	}
}

// WithDefaultPeriod sets the period used by StartLock for non-positive
// periods.
func WithDefaultPeriod(period time.Duration) Option {
	return func(s *Session) {
		if period > 0 {
			s.period = period
		}
	}
}

// WithMaxReadSize sets the largest size Read accepts. Values outside
// (0, math.MaxUint32] are ignored.
func WithMaxReadSize(size int) Option {
	return func(s *Session) {
		if size > 0 && uint64(size) <= math.MaxUint32 {
			s.maxRead = size
		}
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		locks:   make(map[LockID]*lockEntry),
		open:    OpenProcess,
		find:    process.FindPidByName,
		logger:  log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel, Prefix: "memory"}),
		ptrSize: 8,
		period:  DefaultLockPeriod,
		maxRead: DefaultMaxReadSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AttachByID opens pid, closing whatever the session had open before.
func (s *Session) AttachByID(pid uint32, access Access) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	return s.attachLocked(pid, access)
}

// AttachByName finds the first process whose executable name is exactly exe
// and attaches to it. The previous session is closed even if no process
// matches.
func (s *Session) AttachByName(exe string, access Access) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	pid := s.find(exe)
	if pid == 0 {
		return 0, wrap(ErrProcessNotFound, nil, "no process named %q", exe)
	}

	return s.attachLocked(pid, access)
}

func (s *Session) attachLocked(pid uint32, access Access) (uint32, error) {
	if pid == 0 {
		return 0, wrap(ErrAttach, nil, "cannot attach to pid 0")
	}

	t, err := s.open(pid, access)
	if err != nil {
		s.logger.Warnf("cannot attach to %d: %s", pid, err)
		return 0, wrap(ErrAttach, err, "cannot attach to %d", pid)
	}

	s.target = t
	s.pid = pid
	s.logger.Infof("attached to process %d", pid)
	s.emit(Event{Kind: EventAttached, Pid: pid})

	return pid, nil
}

// Close stops every lock writer, waits for them to exit and releases the
// process handle. Closing a session that is not attached is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.stopAllLocks()

	if s.target == nil {
		return nil
	}

	pid := s.pid
	err := s.target.Close()
	if err != nil {
		s.logger.Warnf("cannot close handle of %d: %s", pid, err)
	}

	s.target = nil
	s.pid = 0
	s.logger.Infof("detached from process %d", pid)
	s.emit(Event{Kind: EventDetached, Pid: pid})

	return err
}

func (s *Session) Pid() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pid
}

func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.target != nil
}

func (s *Session) PointerSize() int {
	return s.ptrSize
}

func (s *Session) emit(ev Event) {
	if s.observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.observer(ev)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
