package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// BaseKind tells how the first element of a pointer chain is resolved.
type BaseKind int

const (
	BaseLiteral BaseKind = iota
	BaseModule
	BaseModuleOffset
)

// Base is the first element of a pointer chain: either a literal address or
// a module base optionally followed by a fixed offset.
type Base struct {
	Kind   BaseKind
	Addr   uint64
	Module string
	Offset uint64
}

func Literal(addr uint64) Base {
	return Base{Kind: BaseLiteral, Addr: addr}
}

func InModule(name string) Base {
	return Base{Kind: BaseModule, Module: name}
}

func ModuleOffset(name string, offset uint64) Base {
	return Base{Kind: BaseModuleOffset, Module: name, Offset: offset}
}

func (b Base) String() string {
	switch b.Kind {
	case BaseModule:
		return b.Module
	case BaseModuleOffset:
		return fmt.Sprintf("%s+%#x", b.Module, b.Offset)
	default:
		return fmt.Sprintf("%#x", b.Addr)
	}
}

// Chain is a base specifier followed by the offsets applied after each
// dereference.
type Chain struct {
	Base    Base
	Offsets []uint64
}

func (c Chain) String() string {
	var sb strings.Builder
	sb.WriteString(c.Base.String())
	for _, off := range c.Offsets {
		fmt.Fprintf(&sb, " -> %#x", off)
	}
	return sb.String()
}

// ParseBase parses the textual base forms "module+offset", "module" and a
// bare numeric literal ("0x7ff6a0000000" or decimal). The offset after '+'
// must be a valid number.
func ParseBase(s string) (Base, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Base{}, fmt.Errorf("%w: empty base", ErrInvalidAddress)
	}

	if idx := strings.IndexByte(s, '+'); idx != -1 {
		name, offset := s[:idx], s[idx+1:]
		if name == "" {
			return Base{}, fmt.Errorf("%w: missing module name in %q", ErrInvalidAddress, s)
		}
		off, err := ParseUint(offset)
		if err != nil {
			return Base{}, fmt.Errorf("%w: bad offset in %q: %s", ErrInvalidAddress, s, err)
		}
		return ModuleOffset(name, off), nil
	}

	if addr, err := ParseUint(s); err == nil {
		return Literal(addr), nil
	}

	return InModule(s), nil
}

// ParseUint parses a 64-bit value written in hex with a 0x/0X prefix or in
// decimal otherwise. A leading '-' yields the two's complement, so "-0x10"
// steps back 16 bytes when added to an address.
func ParseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var v uint64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}

	if neg {
		v = -v
	}
	return v, nil
}

// parseUintPrefix reads the longest leading number of s with the same base
// and sign rules as ParseUint and ignores what follows, so "0x10g" is 0x10.
// No digits or an overflow give zero.
func parseUintPrefix(s string) uint64 {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}

	end := 0
	for end < len(s) && isDigit(s[end], base) {
		end++
	}
	if end == 0 {
		return 0
	}

	v, err := strconv.ParseUint(s[:end], base, 64)
	if err != nil {
		return 0
	}
	if neg {
		v = -v
	}
	return v
}

func isDigit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case base == 16 && c >= 'a' && c <= 'f', base == 16 && c >= 'A' && c <= 'F':
		return true
	}
	return false
}

// ParseChain builds a Chain from loosely typed elements as they arrive from
// JSON, scripts or the command line. The first element is the base; every
// following element is an offset. String offsets use their longest leading
// number and count as zero when there is none, while a malformed base fails
// the whole chain.
func ParseChain(elems ...interface{}) (Chain, error) {
	if len(elems) == 0 {
		return Chain{}, ErrEmptyChain
	}

	base, err := parseBaseValue(elems[0])
	if err != nil {
		return Chain{}, err
	}

	chain := Chain{Base: base}
	for _, elem := range elems[1:] {
		chain.Offsets = append(chain.Offsets, parseOffsetValue(elem))
	}

	return chain, nil
}

// ParseAddress converts a single address value. Unlike offsets, strings
// must parse.
func ParseAddress(v interface{}) (uint64, error) {
	if s, ok := v.(string); ok {
		addr, err := ParseUint(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		return addr, nil
	}

	if addr, ok := numericValue(v); ok {
		return addr, nil
	}

	return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAddress, v)
}

func parseBaseValue(v interface{}) (Base, error) {
	switch v := v.(type) {
	case Base:
		return v, nil
	case string:
		return ParseBase(v)
	}

	if addr, ok := numericValue(v); ok {
		return Literal(addr), nil
	}

	return Base{}, fmt.Errorf("%w: unsupported base type %T", ErrInvalidAddress, v)
}

func parseOffsetValue(v interface{}) uint64 {
	if s, ok := v.(string); ok {
		return parseUintPrefix(s)
	}

	off, _ := numericValue(v)
	return off
}

var mask64 = new(big.Int).SetUint64(math.MaxUint64)

func numericValue(v interface{}) (uint64, bool) {
	switch v := v.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uintptr:
		return uint64(v), true
	case int:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case float64:
		if v < 0 {
			return uint64(int64(v)), true
		}
		return uint64(v), true
	case *big.Int:
		if v == nil {
			return 0, false
		}
		return new(big.Int).And(v, mask64).Uint64(), true
	case json.Number:
		if u, err := ParseUint(string(v)); err == nil {
			return u, true
		}
		if b, ok := new(big.Int).SetString(string(v), 0); ok {
			return new(big.Int).And(b, mask64).Uint64(), true
		}
		if f, err := v.Float64(); err == nil {
			return numericValue(f)
		}
	}

	return 0, false
}
