package memory

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestDataTypeCodec(t *testing.T) {
	tests := []struct {
		typ  DataType
		in   interface{}
		want interface{}
	}{
		{Int8, -5, int64(-5)},
		{Int16, "-0x10", int64(-16)},
		{Int32, json.Number("123456"), int64(123456)},
		{Int64, int64(math.MinInt64), int64(math.MinInt64)},
		{Uint8, 255, uint64(255)},
		{Uint16, "0xbeef", uint64(0xbeef)},
		{Uint32, float64(4000000000), uint64(4000000000)},
		{Uint64, uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{Uint64, json.Number("18446744073709551615"), uint64(math.MaxUint64)},
		{Float, 1.5, float64(1.5)},
		{Double, "2.25", float64(2.25)},
		{Double, 3, float64(3)},
	}

	for _, tt := range tests {
		buf, err := tt.typ.Encode(tt.in)
		if err != nil {
			t.Errorf("%s.Encode(%v): %s", tt.typ, tt.in, err)
			continue
		}
		if len(buf) != tt.typ.Size() {
			t.Errorf("%s.Encode(%v) produced %d bytes", tt.typ, tt.in, len(buf))
			continue
		}

		got, err := tt.typ.Decode(buf)
		if err != nil {
			t.Errorf("%s.Decode: %s", tt.typ, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s round trip of %v = %v (%T), want %v (%T)", tt.typ, tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestDataTypeEncodeRange(t *testing.T) {
	tests := []struct {
		typ DataType
		in  interface{}
	}{
		{Int8, 128},
		{Int8, -129},
		{Uint8, 256},
		{Uint8, -1},
		{Uint16, "65536"},
		{Int64, uint64(math.MaxUint64)},
		{Uint32, 1.5},
		{Int32, "abc"},
		{Float, []byte{1}},
	}

	for _, tt := range tests {
		if _, err := tt.typ.Encode(tt.in); err == nil {
			t.Errorf("%s.Encode(%v): expected an error", tt.typ, tt.in)
		}
	}
}

func TestParseDataType(t *testing.T) {
	for _, name := range []string{"int8", "INT32", " uint64 ", "float", "Double", "float32", "float64"} {
		if _, err := ParseDataType(name); err != nil {
			t.Errorf("ParseDataType(%q): %s", name, err)
		}
	}
	if typ, _ := ParseDataType("float64"); typ != Double {
		t.Errorf("float64 parsed as %s", typ)
	}
	if _, err := ParseDataType("int128"); err == nil {
		t.Error("expected an error for int128")
	}
}

func TestTypedValues(t *testing.T) {
	s, target := attachedFake(t)

	if err := WriteValue(s, 0x1000, float32(100.5)); err != nil {
		t.Fatal(err)
	}
	f, err := ReadValue[float32](s, 0x1000)
	if err != nil || f != 100.5 {
		t.Fatalf("ReadValue[float32] = %v, %v", f, err)
	}

	if err := WriteValue(s, 0x1008, int16(-2)); err != nil {
		t.Fatal(err)
	}
	if got := binary.NativeEndian.Uint16(target.peek(0x1008, 2)); got != 0xfffe {
		t.Fatalf("memory holds %#x", got)
	}

	if _, err := ReadValue[uint64](s, 0x10fc); err == nil {
		t.Fatal("expected a short read error")
	}
}

func TestTypedChainHelpers(t *testing.T) {
	s, target := attachedFake(t)
	target.modules = []Module{{Name: "game", Base: 0x1000, Size: 0x100}}
	target.poke(0x1000, ptr64(0x1040))

	chain := Chain{Base: InModule("game"), Offsets: []uint64{0x8}}
	if err := s.WriteTyped(chain, Int32, 999); err != nil {
		t.Fatal(err)
	}

	v, err := s.ReadTyped(chain, Int32)
	if err != nil || v != int64(999) {
		t.Fatalf("ReadTyped = %v, %v", v, err)
	}

	id, err := s.LockTyped(chain, Uint8, 7, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	locks := s.Locks()
	if len(locks) != 1 || locks[0].ID != id || locks[0].Address != 0x1048 {
		t.Fatalf("unexpected locks %+v", locks)
	}
}
