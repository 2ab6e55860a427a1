package memory

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestParseBase(t *testing.T) {
	tests := []struct {
		in      string
		want    Base
		wantErr bool
	}{
		{in: "game.exe", want: InModule("game.exe")},
		{in: "game.exe+0x1A2B", want: ModuleOffset("game.exe", 0x1a2b)},
		{in: "game.exe+0X10", want: ModuleOffset("game.exe", 0x10)},
		{in: "game.exe+256", want: ModuleOffset("game.exe", 256)},
		{in: "0x7ff6a0000000", want: Literal(0x7ff6a0000000)},
		{in: "4096", want: Literal(4096)},
		{in: "  libc.so.6  ", want: InModule("libc.so.6")},
		{in: "game.exe+zz", wantErr: true},
		{in: "+0x10", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseBase(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ParseBase(%q): expected ErrInvalidAddress, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBase(%q): %s", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBase(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0x10", 16, true},
		{"0XfF", 255, true},
		{"10", 10, true},
		{"18446744073709551615", math.MaxUint64, true},
		{"0xffffffffffffffff", math.MaxUint64, true},
		{"-0x10", ^uint64(0) - 15, true},
		{"-1", math.MaxUint64, true},
		{"0x", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseUint(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseUint(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUint(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestParseChain(t *testing.T) {
	huge, _ := new(big.Int).SetString("18446744073709551615", 10)

	chain, err := ParseChain(
		"game.exe+0x100",
		uint64(0x10),
		json.Number("0xfffffffffffffff0"),
		"not a number",
		huge,
		float64(8),
		"-8",
		int(4),
	)
	if err != nil {
		t.Fatal(err)
	}

	if chain.Base != ModuleOffset("game.exe", 0x100) {
		t.Fatalf("unexpected base %+v", chain.Base)
	}

	want := []uint64{0x10, 0xfffffffffffffff0, 0, math.MaxUint64, 8, ^uint64(7), 4}
	if len(chain.Offsets) != len(want) {
		t.Fatalf("got %d offsets, want %d", len(chain.Offsets), len(want))
	}
	for i := range want {
		if chain.Offsets[i] != want[i] {
			t.Errorf("offset %d = %#x, want %#x", i, chain.Offsets[i], want[i])
		}
	}
}

func TestParseChainOffsetPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0x10g", 0x10},
		{"12abc", 12},
		{" 0X1fz ", 0x1f},
		{"-0x10;", ^uint64(0) - 15},
		{"0xg", 0},
		{"x12", 0},
		{"-", 0},
		{"99999999999999999999", 0},
	}

	for _, tt := range tests {
		chain, err := ParseChain("game.exe", tt.in)
		if err != nil {
			t.Errorf("ParseChain(%q): %s", tt.in, err)
			continue
		}
		if got := chain.Offsets[0]; got != tt.want {
			t.Errorf("offset %q = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestParseChainBase(t *testing.T) {
	tests := []struct {
		in   interface{}
		want Base
	}{
		{uint64(0x1000), Literal(0x1000)},
		{json.Number("18446744073709551615"), Literal(math.MaxUint64)},
		{"0x1000", Literal(0x1000)},
		{"server.dll", InModule("server.dll")},
		{InModule("a.dll"), InModule("a.dll")},
	}

	for _, tt := range tests {
		chain, err := ParseChain(tt.in)
		if err != nil {
			t.Errorf("ParseChain(%v): %s", tt.in, err)
			continue
		}
		if chain.Base != tt.want || len(chain.Offsets) != 0 {
			t.Errorf("ParseChain(%v) = %+v, want base %+v", tt.in, chain, tt.want)
		}
	}
}

func TestParseChainErrors(t *testing.T) {
	if _, err := ParseChain(); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("expected ErrEmptyChain, got %v", err)
	}
	if _, err := ParseChain(true); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for a bool base, got %v", err)
	}
	if _, err := ParseChain("game.exe+oops", 1); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for a bad base offset, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	if addr, err := ParseAddress("0x7ff000"); err != nil || addr != 0x7ff000 {
		t.Errorf("ParseAddress(hex) = %#x, %v", addr, err)
	}
	if addr, err := ParseAddress(json.Number("12345")); err != nil || addr != 12345 {
		t.Errorf("ParseAddress(json.Number) = %d, %v", addr, err)
	}
	if _, err := ParseAddress("oops"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := ParseAddress([]int{1}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestChainString(t *testing.T) {
	c := Chain{Base: ModuleOffset("game.exe", 0x10), Offsets: []uint64{0x20, 0}}
	if got, want := c.String(), "game.exe+0x10 -> 0x20 -> 0x0"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
