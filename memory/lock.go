package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
)

// LockID identifies a background writer. IDs are never reused within a
// Session, not even across attaches.
type LockID int64

type LockInfo struct {
	ID      LockID        `json:"id"`
	Address uint64        `json:"address"`
	Payload []byte        `json:"payload"`
	Period  time.Duration `json:"period"`
}

type lockEntry struct {
	LockInfo
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// StartLock spawns a writer that stores payload at addr immediately and then
// every period until stopped. Write failures inside the writer are logged
// and do not stop it. A non-positive period selects the session default.
func (s *Session) StartLock(addr uint64, payload []byte, period time.Duration) (LockID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return 0, ErrNoSession
	}
	if period <= 0 {
		period = s.period
	}

	data := append([]byte(nil), payload...)
	ctx, cancel := context.WithCancel(context.Background())

	s.locksMu.Lock()
	s.lastID++
	e := &lockEntry{
		LockInfo: LockInfo{ID: s.lastID, Address: addr, Payload: data, Period: period},
		cancel:   cancel,
	}
	s.locks[e.ID] = e
	s.locksMu.Unlock()

	t := s.target
	e.wg.Go(func() {
		s.reassert(ctx, t, e.LockInfo)
	})

	s.logger.Debugf("lock %d started at %#x (%d bytes every %s)", e.ID, addr, len(data), period)
	s.emit(Event{Kind: EventLockStarted, Pid: s.pid, LockID: e.ID, Address: addr})

	return e.ID, nil
}

// StopLock cancels the writer id and returns once it has exited. No write
// of that lock happens after StopLock returns.
func (s *Session) StopLock(id LockID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.locksMu.Lock()
	e, ok := s.locks[id]
	delete(s.locks, id)
	s.locksMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}

	s.join(e)
	s.logger.Debugf("lock %d stopped", id)
	s.emit(Event{Kind: EventLockStopped, Pid: s.pid, LockID: id, Address: e.Address})

	return nil
}

// Locks lists the running writers ordered by id.
func (s *Session) Locks() []LockInfo {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	infos := make([]LockInfo, 0, len(s.locks))
	for _, e := range s.locks {
		infos = append(infos, e.LockInfo)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// stopAllLocks cancels every writer first and joins them afterwards, so the
// total wait is bounded by the slowest single writer.
func (s *Session) stopAllLocks() {
	s.locksMu.Lock()
	entries := make([]*lockEntry, 0, len(s.locks))
	for id, e := range s.locks {
		entries = append(entries, e)
		delete(s.locks, id)
	}
	s.locksMu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		s.join(e)
		s.emit(Event{Kind: EventLockStopped, Pid: s.pid, LockID: e.ID, Address: e.Address})
	}
}

func (s *Session) join(e *lockEntry) {
	e.cancel()
	if r := e.wg.WaitAndRecover(); r != nil {
		s.logger.Errorf("lock %d writer panicked: %v", e.ID, r.Value)
	}
}

func (s *Session) reassert(ctx context.Context, t Target, info LockInfo) {
	timer := time.NewTimer(info.Period)
	defer timer.Stop()

	for ctx.Err() == nil {
		if err := writeTo(t, info.Address, info.Payload); err != nil {
			s.logger.Debugf("lock %d: %s", info.ID, err)
		}

		timer.Reset(info.Period)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
