package memory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Number is the set of fixed-size values ReadValue and WriteValue handle.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// ReadValue reads a T stored at addr in host byte order.
func ReadValue[T Number](s *Session, addr uint64) (T, error) {
	var v T
	buf, err := s.Read(addr, binary.Size(v))
	if err != nil {
		return v, err
	}

	_, err = binary.Decode(buf, binary.NativeEndian, &v)
	return v, err
}

// WriteValue stores v at addr in host byte order.
func WriteValue[T Number](s *Session, addr uint64, v T) error {
	buf := make([]byte, binary.Size(v))
	if _, err := binary.Encode(buf, binary.NativeEndian, v); err != nil {
		return err
	}

	return s.Write(addr, buf)
}

// DataType names a value type at run time, for callers that only know the
// type as a string (scripts, HTTP requests, the command line).
type DataType int

const (
	Int8 DataType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float
	Double
)

var dataTypeNames = [...]string{
	Int8:   "int8",
	Int16:  "int16",
	Int32:  "int32",
	Int64:  "int64",
	Uint8:  "uint8",
	Uint16: "uint16",
	Uint32: "uint32",
	Uint64: "uint64",
	Float:  "float",
	Double: "double",
}

var dataTypeSizes = [...]int{
	Int8: 1, Int16: 2, Int32: 4, Int64: 8,
	Uint8: 1, Uint16: 2, Uint32: 4, Uint64: 8,
	Float: 4, Double: 8,
}

func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "float32":
		return Float, nil
	case "float64":
		return Double, nil
	}

	for i, name := range dataTypeNames {
		if name == s {
			return DataType(i), nil
		}
	}

	return 0, fmt.Errorf("unknown data type %q", s)
}

func (t DataType) String() string {
	if t < 0 || int(t) >= len(dataTypeNames) {
		return "DataType(" + strconv.Itoa(int(t)) + ")"
	}
	return dataTypeNames[t]
}

func (t DataType) Size() int {
	if t < 0 || int(t) >= len(dataTypeSizes) {
		return 0
	}
	return dataTypeSizes[t]
}

func (t DataType) signed() bool {
	return t >= Int8 && t <= Int64
}

func (t DataType) float() bool {
	return t == Float || t == Double
}

// Encode converts v to the in-memory representation of t. v may be any Go
// integer or float, a json.Number or a numeric string. Integers that do not
// fit t are rejected.
func (t DataType) Encode(v interface{}) ([]byte, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("cannot encode as %s", t)
	}

	buf := make([]byte, size)
	if t.float() {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if t == Float {
			binary.NativeEndian.PutUint32(buf, math.Float32bits(float32(f)))
		} else {
			binary.NativeEndian.PutUint64(buf, math.Float64bits(f))
		}
		return buf, nil
	}

	bits, err := toInteger(v, t)
	if err != nil {
		return nil, err
	}

	switch size {
	case 1:
		buf[0] = byte(bits)
	case 2:
		binary.NativeEndian.PutUint16(buf, uint16(bits))
	case 4:
		binary.NativeEndian.PutUint32(buf, uint32(bits))
	default:
		binary.NativeEndian.PutUint64(buf, bits)
	}

	return buf, nil
}

// Decode interprets buf as a value of t. Signed types yield int64, unsigned
// types uint64 and floating point types float64.
func (t DataType) Decode(buf []byte) (interface{}, error) {
	size := t.Size()
	if size == 0 || len(buf) < size {
		return nil, fmt.Errorf("cannot decode %d bytes as %s", len(buf), t)
	}

	switch t {
	case Int8:
		return int64(int8(buf[0])), nil
	case Int16:
		return int64(int16(binary.NativeEndian.Uint16(buf))), nil
	case Int32:
		return int64(int32(binary.NativeEndian.Uint32(buf))), nil
	case Int64:
		return int64(binary.NativeEndian.Uint64(buf)), nil
	case Uint8:
		return uint64(buf[0]), nil
	case Uint16:
		return uint64(binary.NativeEndian.Uint16(buf)), nil
	case Uint32:
		return uint64(binary.NativeEndian.Uint32(buf)), nil
	case Uint64:
		return binary.NativeEndian.Uint64(buf), nil
	case Float:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(buf))), nil
	default:
		return math.Float64frombits(binary.NativeEndian.Uint64(buf)), nil
	}
}

func toFloat(v interface{}) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}

	if i, ok := integerValue(v); ok {
		return float64(i.val), nil
	}

	return 0, fmt.Errorf("cannot use %T as a float", v)
}

type integer struct {
	val int64
	u   uint64
	neg bool
	big bool // does not fit int64, only u is valid
}

func integerValue(v interface{}) (integer, bool) {
	switch v := v.(type) {
	case int:
		return integer{val: int64(v), u: uint64(v), neg: v < 0}, true
	case int8:
		return integer{val: int64(v), u: uint64(v), neg: v < 0}, true
	case int16:
		return integer{val: int64(v), u: uint64(v), neg: v < 0}, true
	case int32:
		return integer{val: int64(v), u: uint64(v), neg: v < 0}, true
	case int64:
		return integer{val: v, u: uint64(v), neg: v < 0}, true
	case uint:
		return unsignedValue(uint64(v)), true
	case uint8:
		return unsignedValue(uint64(v)), true
	case uint16:
		return unsignedValue(uint64(v)), true
	case uint32:
		return unsignedValue(uint64(v)), true
	case uint64:
		return unsignedValue(v), true
	}

	return integer{}, false
}

func unsignedValue(u uint64) integer {
	if u > math.MaxInt64 {
		return integer{u: u, big: true}
	}
	return integer{val: int64(u), u: u}
}

func parseInteger(s string) (integer, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return integer{val: i, u: uint64(i), neg: i < 0}, nil
	}

	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return integer{}, err
	}
	return unsignedValue(u), nil
}

func toInteger(v interface{}, t DataType) (uint64, error) {
	var i integer
	switch v := v.(type) {
	case string:
		var err error
		if i, err = parseInteger(v); err != nil {
			return 0, fmt.Errorf("cannot use %q as %s: %w", v, t, err)
		}
	case json.Number:
		var err error
		if i, err = parseInteger(string(v)); err != nil {
			f, ferr := v.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, fmt.Errorf("cannot use %s as %s", v, t)
			}
			i = integer{val: int64(f), u: uint64(int64(f)), neg: f < 0}
		}
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<63 {
			return 0, fmt.Errorf("cannot use %v as %s", v, t)
		}
		i = integer{val: int64(v), u: uint64(int64(v)), neg: v < 0}
	default:
		var ok bool
		if i, ok = integerValue(v); !ok {
			return 0, fmt.Errorf("cannot use %T as %s", v, t)
		}
	}

	bits := uint(t.Size() * 8)
	if t.signed() {
		if i.big {
			return 0, fmt.Errorf("%d overflows %s", i.u, t)
		}
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if bits == 64 {
			lo, hi = math.MinInt64, math.MaxInt64
		}
		if i.val < lo || i.val > hi {
			return 0, fmt.Errorf("%d overflows %s", i.val, t)
		}
		return uint64(i.val), nil
	}

	if i.neg {
		return 0, fmt.Errorf("%d overflows %s", i.val, t)
	}
	if bits < 64 && i.u >= 1<<bits {
		return 0, fmt.Errorf("%d overflows %s", i.u, t)
	}
	return i.u, nil
}

// ReadTyped resolves chain and decodes a value of type t at the result.
func (s *Session) ReadTyped(chain Chain, t DataType) (interface{}, error) {
	addr, err := s.ResolveChain(chain)
	if err != nil {
		return nil, err
	}

	buf, err := s.Read(addr, t.Size())
	if err != nil {
		return nil, err
	}

	return t.Decode(buf)
}

// WriteTyped resolves chain and stores v encoded as t at the result.
func (s *Session) WriteTyped(chain Chain, t DataType, v interface{}) error {
	data, err := t.Encode(v)
	if err != nil {
		return err
	}

	addr, err := s.ResolveChain(chain)
	if err != nil {
		return err
	}

	return s.Write(addr, data)
}

// LockTyped resolves chain once and locks v encoded as t at the result.
func (s *Session) LockTyped(chain Chain, t DataType, v interface{}, period time.Duration) (LockID, error) {
	data, err := t.Encode(v)
	if err != nil {
		return 0, err
	}

	addr, err := s.ResolveChain(chain)
	if err != nil {
		return 0, err
	}

	return s.StartLock(addr, data, period)
}
