package memory

import (
	"encoding/binary"
	"errors"
	"testing"
)

func ptr64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, v)
	return buf
}

func ptr32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, v)
	return buf
}

func newResolverTarget() *fakeTarget {
	t := newFakeTarget(1)
	t.modules = []Module{
		{Name: "game.exe", Base: 0x400000, Size: 0x10000},
		{Name: "engine.dll", Base: 0x10000000, Size: 0x1000},
		{Name: "engine.dll", Base: 0x20000000, Size: 0x1000},
	}
	t.mapRegion(0x400000, 0x10000)
	t.mapRegion(0x10000000, 0x1000)
	t.mapRegion(0x500000, 0x1000)
	return t
}

func TestModuleBase(t *testing.T) {
	target := newResolverTarget()
	s := newTestSession(newFakeOS(target))
	if _, err := s.AttachByID(1, AccessAll); err != nil {
		t.Fatal(err)
	}

	base, err := s.ModuleBase("engine.dll")
	if err != nil || base != 0x10000000 {
		t.Fatalf("ModuleBase = %#x, %v; want the first match", base, err)
	}

	if _, err := s.ModuleBase("ENGINE.DLL"); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected a case-sensitive lookup, got %v", err)
	}

	mods, err := s.Modules()
	if err != nil || len(mods) != 3 {
		t.Fatalf("Modules = %v, %v", mods, err)
	}

	target.modErr = errors.New("snapshot failed")
	if _, err := s.ModuleBase("game.exe"); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound on enumeration failure, got %v", err)
	}
}

func TestResolveChain(t *testing.T) {
	target := newResolverTarget()
	// game.exe+0x100 holds a pointer to 0x500000; 0x500010 holds 0x500800.
	target.poke(0x400100, ptr64(0x500000))
	target.poke(0x500010, ptr64(0x500800))

	s := newTestSession(newFakeOS(target))
	if _, err := s.AttachByID(1, AccessAll); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		elems []interface{}
		want  uint64
	}{
		{"literal base only", []interface{}{uint64(0x1234)}, 0x1234},
		{"module base only", []interface{}{"game.exe"}, 0x400000},
		{"module with offset", []interface{}{"game.exe+0x100"}, 0x400100},
		{"one hop", []interface{}{"game.exe+0x100", 0x10}, 0x500010},
		{"two hops without final dereference", []interface{}{"game.exe+0x100", 0x10, 0x4}, 0x500804},
		{"bad offset counts as zero", []interface{}{"game.exe+0x100", "junk"}, 0x500000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Resolve(tt.elems...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestResolveChainFailures(t *testing.T) {
	target := newResolverTarget()
	target.poke(0x400100, ptr64(0xdead0000))

	s := newTestSession(newFakeOS(target))
	if _, err := s.AttachByID(1, AccessAll); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Resolve("missing.dll", 0); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	if _, err := s.Resolve(); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("expected ErrEmptyChain, got %v", err)
	}

	_, err := s.Resolve("game.exe+0x100", 0, 0)
	if !errors.Is(err, ErrChainRead) {
		t.Errorf("expected ErrChainRead, got %v", err)
	}
	if !errors.Is(err, errFault) {
		t.Errorf("expected the read error to be wrapped, got %v", err)
	}
}

func TestResolveChain32(t *testing.T) {
	target := newResolverTarget()
	target.poke(0x400100, ptr32(0x500000))
	target.poke(0x400104, []byte{0xff, 0xff, 0xff, 0xff})

	s := newTestSession(newFakeOS(target), WithPointerSize(4))
	if _, err := s.AttachByID(1, AccessAll); err != nil {
		t.Fatal(err)
	}

	got, err := s.ResolveChain(Chain{Base: ModuleOffset("game.exe", 0x100), Offsets: []uint64{8}})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x500008 {
		t.Fatalf("got %#x, want 0x500008", got)
	}
}
