package memory

// Injection reports where a payload was placed and which thread runs it.
type Injection struct {
	Address  uint64 `json:"address"`
	ThreadID uint32 `json:"thread_id"`
}

// Inject copies code into a fresh executable region of the target and
// starts a thread at its first byte. The thread is not waited for. On any
// failure after allocation the region is released again.
func (s *Session) Inject(code []byte) (Injection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return Injection{}, ErrNoSession
	}

	inj, err := inject(s.target, code)
	if err != nil {
		s.logger.Warnf("injection into %d failed: %s", s.pid, err)
		return Injection{}, err
	}

	s.logger.Infof("injected %d bytes at %#x, thread %d", len(code), inj.Address, inj.ThreadID)
	s.emit(Event{Kind: EventInjected, Pid: s.pid, Address: inj.Address, ThreadID: inj.ThreadID})

	return inj, nil
}

func inject(t Target, code []byte) (Injection, error) {
	if len(code) == 0 {
		return Injection{}, wrap(ErrAllocation, nil, "empty payload")
	}

	addr, err := t.Alloc(len(code))
	if err != nil {
		return Injection{}, wrap(ErrAllocation, err, "cannot allocate %d bytes", len(code))
	}

	n, err := t.WriteAt(code, addr)
	if n != len(code) {
		_ = t.Free(addr, len(code))
		return Injection{}, wrap(ErrInjection, err, "wrote %d of %d bytes at %#x", n, len(code), addr)
	}

	tid, err := t.CreateThread(addr)
	if err != nil {
		_ = t.Free(addr, len(code))
		return Injection{}, wrap(ErrInjection, err, "cannot start thread at %#x", addr)
	}

	return Injection{Address: addr, ThreadID: tid}, nil
}
