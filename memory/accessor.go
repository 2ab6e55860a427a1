package memory

// Read copies size bytes at addr out of the target. Anything short of the
// full size is an error; no partial buffer is returned. Sizes that are
// negative or above the session limit fail with ErrInvalidSize before any
// memory is allocated.
func (s *Session) Read(addr uint64, size int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return nil, ErrNoSession
	}

	return readFrom(s.target, addr, size, s.maxRead)
}

// Write stores data at addr. The pages are made writable for the duration of
// the write and their protection is put back afterwards.
func (s *Session) Write(addr uint64, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return ErrNoSession
	}

	return writeTo(s.target, addr, data)
}

func readFrom(t Target, addr uint64, size, limit int) ([]byte, error) {
	if size < 0 || size > limit {
		return nil, wrap(ErrReadFault, ErrInvalidSize, "cannot read %d bytes, limit is %d", size, limit)
	}

	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	n, err := t.ReadAt(buf, addr)
	if n != size {
		return nil, wrap(ErrReadFault, err, "read %d of %d bytes at %#x", n, size, addr)
	}

	return buf, nil
}

func writeTo(t Target, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	// If the protection cannot be changed the write is still attempted: the
	// page may already be writable.
	restore, perr := t.Unprotect(addr, len(data))
	n, err := t.WriteAt(data, addr)
	if perr == nil && restore != nil {
		_ = restore()
	}

	if n != len(data) {
		return wrap(ErrWriteFault, err, "wrote %d of %d bytes at %#x", n, len(data), addr)
	}

	return nil
}
