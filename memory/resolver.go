package memory

import (
	"encoding/binary"
)

// Modules lists the modules loaded into the attached process.
func (s *Session) Modules() ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return nil, ErrNoSession
	}

	return s.target.Modules()
}

// ModuleBase returns the load address of the first module whose name matches
// name exactly.
func (s *Session) ModuleBase(name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return 0, ErrNoSession
	}

	return moduleBase(s.target, name)
}

// ResolveChain computes the final address of chain. The base is resolved,
// then for every offset the pointer stored at the current address is read
// and the offset added to it. The final address itself is not dereferenced.
func (s *Session) ResolveChain(chain Chain) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.target == nil {
		return 0, ErrNoSession
	}

	return resolveChain(s.target, chain, s.ptrSize)
}

// Resolve is ResolveChain over loosely typed elements, see ParseChain.
func (s *Session) Resolve(elems ...interface{}) (uint64, error) {
	chain, err := ParseChain(elems...)
	if err != nil {
		return 0, err
	}

	return s.ResolveChain(chain)
}

func moduleBase(t Target, name string) (uint64, error) {
	mods, err := t.Modules()
	if err != nil {
		return 0, wrap(ErrModuleNotFound, err, "cannot list modules")
	}

	for _, m := range mods {
		if m.Name == name {
			return m.Base, nil
		}
	}

	return 0, wrap(ErrModuleNotFound, nil, "%q", name)
}

func resolveBase(t Target, b Base) (uint64, error) {
	switch b.Kind {
	case BaseModule:
		return moduleBase(t, b.Module)
	case BaseModuleOffset:
		base, err := moduleBase(t, b.Module)
		if err != nil {
			return 0, err
		}
		return base + b.Offset, nil
	default:
		return b.Addr, nil
	}
}

func resolveChain(t Target, chain Chain, ptrSize int) (uint64, error) {
	addr, err := resolveBase(t, chain.Base)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, ptrSize)
	for i, off := range chain.Offsets {
		n, err := t.ReadAt(buf, addr)
		if n != ptrSize {
			return 0, wrap(ErrChainRead, err, "step %d: cannot read pointer at %#x", i, addr)
		}

		var ptr uint64
		if ptrSize == 4 {
			ptr = uint64(binary.NativeEndian.Uint32(buf))
		} else {
			ptr = binary.NativeEndian.Uint64(buf)
		}

		addr = ptr + off
	}

	return addr, nil
}
