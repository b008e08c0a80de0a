// Package tuple implements the order-preserving tuple codec (spec C1):
// encode(values) -> bytes and decode(bytes) -> values, with exactly one
// canonical encoding per value and byte-lexicographic order matching each
// logical type's order (invariant I3).
package tuple

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ixdb/ixdb/errs"
)

// Kind is one of the closed set of logical types a Value normalizes to
// (spec §4.1). Every other application-level type must be converted to one
// of these before encoding.
type Kind uint8

const (
	KindNull Kind = iota
	KindBytes
	KindString
	KindUUID
	KindBool
	KindInt
	KindFloat
	KindTimestamp
	KindTuple
)

// Value is a normalized, typed value ready for encoding.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Bytes []byte
	UUID  uuid.UUID
	Tuple []Value
}

func Null() Value                 { return Value{Kind: KindNull} }
func IntVal(v int64) Value        { return Value{Kind: KindInt, Int: v} }
func BoolVal(v bool) Value        { return Value{Kind: KindBool, Bool: v} }
func StringVal(v string) Value    { return Value{Kind: KindString, Str: v} }
func BytesVal(v []byte) Value     { return Value{Kind: KindBytes, Bytes: v} }
func FloatVal(v float64) Value    { return Value{Kind: KindFloat, Float: v} }
func UUIDVal(v uuid.UUID) Value   { return Value{Kind: KindUUID, UUID: v} }
func TupleVal(vs ...Value) Value  { return Value{Kind: KindTuple, Tuple: vs} }
func TimestampVal(t time.Time) Value {
	return Value{Kind: KindTimestamp, Float: float64(t.UnixNano()) / 1e9}
}

// UintVal normalizes an unsigned integer into the signed 64-bit
// representation; it fails if the value exceeds math.MaxInt64 (spec §4.1
// table: "unsigned <=64b -> 64-bit integer (fails if > 2^63-1)").
func UintVal(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, errs.Newf(errs.KindUnsupportedType, "unsigned value %d exceeds int64 range", v)
	}
	return IntVal(int64(v)), nil
}

// Convert coerces an arbitrary Go value into a normalized Value, per the
// conversion table in spec §4.1. Unconvertible types raise UnsupportedType.
func Convert(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return BoolVal(t), nil
	case string:
		return StringVal(t), nil
	case []byte:
		return BytesVal(t), nil
	case int:
		return IntVal(int64(t)), nil
	case int8:
		return IntVal(int64(t)), nil
	case int16:
		return IntVal(int64(t)), nil
	case int32:
		return IntVal(int64(t)), nil
	case int64:
		return IntVal(t), nil
	case uint:
		return UintVal(uint64(t))
	case uint8:
		return IntVal(int64(t)), nil
	case uint16:
		return IntVal(int64(t)), nil
	case uint32:
		return IntVal(int64(t)), nil
	case uint64:
		return UintVal(t)
	case float32:
		return FloatVal(float64(t)), nil
	case float64:
		return FloatVal(t), nil
	case time.Time:
		return TimestampVal(t), nil
	case uuid.UUID:
		return UUIDVal(t), nil
	case []any:
		vals := make([]Value, len(t))
		for i, e := range t {
			cv, err := Convert(e)
			if err != nil {
				return Value{}, err
			}
			vals[i] = cv
		}
		return TupleVal(vals...), nil
	default:
		return Value{}, errs.Newf(errs.KindUnsupportedType, "cannot convert %T to a tuple value", v)
	}
}

const (
	tagNull Kind = KindNull
)

// Encode appends the canonical, order-preserving encoding of values to dst
// and returns the extended slice.
func Encode(dst []byte, values ...Value) ([]byte, error) {
	var err error
	for _, v := range values {
		dst, err = encodeOne(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func encodeOne(dst []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return append(dst, byte(KindNull)), nil
	case KindBytes:
		dst = append(dst, byte(KindBytes))
		return escapeAppend(dst, v.Bytes), nil
	case KindString:
		dst = append(dst, byte(KindString))
		return escapeAppend(dst, []byte(v.Str)), nil
	case KindUUID:
		dst = append(dst, byte(KindUUID))
		return append(dst, v.UUID[:]...), nil
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return append(dst, byte(KindBool), b), nil
	case KindInt:
		dst = append(dst, byte(KindInt))
		return appendOrderedInt64(dst, v.Int), nil
	case KindFloat:
		dst = append(dst, byte(KindFloat))
		return appendOrderedFloat64(dst, v.Float), nil
	case KindTimestamp:
		dst = append(dst, byte(KindTimestamp))
		return appendOrderedFloat64(dst, v.Float), nil
	case KindTuple:
		inner, err := Encode(nil, v.Tuple...)
		if err != nil {
			return nil, err
		}
		dst = append(dst, byte(KindTuple))
		return escapeAppend(dst, inner), nil
	default:
		return nil, errs.Newf(errs.KindTupleEncoding, "unknown value kind %d", v.Kind)
	}
}

// DecodePrefix parses exactly n values off the front of buf and returns
// whatever bytes follow them, letting a caller split a composite key whose
// tuple-encoded portion is followed by an unrelated byte suffix (e.g. an
// index entry's key-path tuple followed by the record id).
func DecodePrefix(buf []byte, n int) ([]Value, []byte, error) {
	out := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, rest, err := decodeOne(buf)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, v)
		buf = rest
	}
	return out, buf, nil
}

// Decode parses a full encoded buffer back into its values.
func Decode(buf []byte) ([]Value, error) {
	var out []Value
	for len(buf) > 0 {
		v, rest, err := decodeOne(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		buf = rest
	}
	return out, nil
}

func decodeOne(buf []byte) (Value, []byte, error) {
	if len(buf) == 0 {
		return Value{}, nil, errs.New(errs.KindTupleEncoding, "unexpected end of buffer")
	}
	kind := Kind(buf[0])
	buf = buf[1:]
	switch kind {
	case KindNull:
		return Null(), buf, nil
	case KindBytes:
		content, rest, err := readEscaped(buf)
		if err != nil {
			return Value{}, nil, err
		}
		return BytesVal(content), rest, nil
	case KindString:
		content, rest, err := readEscaped(buf)
		if err != nil {
			return Value{}, nil, err
		}
		return StringVal(string(content)), rest, nil
	case KindUUID:
		if len(buf) < 16 {
			return Value{}, nil, errs.New(errs.KindTupleEncoding, "truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], buf[:16])
		return UUIDVal(u), buf[16:], nil
	case KindBool:
		if len(buf) < 1 {
			return Value{}, nil, errs.New(errs.KindTupleEncoding, "truncated bool")
		}
		return BoolVal(buf[0] != 0), buf[1:], nil
	case KindInt:
		if len(buf) < 8 {
			return Value{}, nil, errs.New(errs.KindTupleEncoding, "truncated int")
		}
		return IntVal(readOrderedInt64(buf[:8])), buf[8:], nil
	case KindFloat:
		if len(buf) < 8 {
			return Value{}, nil, errs.New(errs.KindTupleEncoding, "truncated float")
		}
		return FloatVal(readOrderedFloat64(buf[:8])), buf[8:], nil
	case KindTimestamp:
		if len(buf) < 8 {
			return Value{}, nil, errs.New(errs.KindTupleEncoding, "truncated timestamp")
		}
		return Value{Kind: KindTimestamp, Float: readOrderedFloat64(buf[:8])}, buf[8:], nil
	case KindTuple:
		content, rest, err := readEscaped(buf)
		if err != nil {
			return Value{}, nil, err
		}
		inner, err := Decode(content)
		if err != nil {
			return Value{}, nil, err
		}
		return TupleVal(inner...), rest, nil
	default:
		return Value{}, nil, errs.Newf(errs.KindTupleEncoding, "unknown tag byte %d", kind)
	}
}

// escapeAppend appends data with every literal 0x00 byte escaped to 0x00
//0xFF, followed by a plain 0x00 terminator. This keeps concatenated,
// variable-length encodings both self-delimiting and byte-lexicographically
// ordered: a terminator (0x00 alone) always sorts before a continuation
// (0x00 0xFF ...).
func escapeAppend(dst []byte, data []byte) []byte {
	for _, b := range data {
		if b == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, 0x00)
}

func readEscaped(buf []byte) (content []byte, rest []byte, err error) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0x00 {
			continue
		}
		if i+1 < len(buf) && buf[i+1] == 0xFF {
			content = append(content, buf[:i]...)
			content = append(content, 0x00)
			buf = buf[i+2:]
			i = -1
			continue
		}
		content = append(content, buf[:i]...)
		return content, buf[i+1:], nil
	}
	return nil, nil, errs.New(errs.KindTupleEncoding, "missing terminator in escaped segment")
}

func appendOrderedInt64(dst []byte, v int64) []byte {
	u := uint64(v) ^ (uint64(1) << 63)
	return appendUint64BE(dst, u)
}

func readOrderedInt64(b []byte) int64 {
	u := readUint64BE(b)
	return int64(u ^ (uint64(1) << 63))
}

// appendOrderedFloat64 flips bits so that IEEE-754 byte-lexicographic
// comparison matches numeric order: for non-negatives, flip the sign bit;
// for negatives, flip all bits (this also makes NaN payloads behave
// consistently for encoding purposes, though NaN ordering is undefined).
func appendOrderedFloat64(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return appendUint64BE(dst, bits)
}

func readOrderedFloat64(b []byte) float64 {
	bits := readUint64BE(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func appendUint64BE(dst []byte, u uint64) []byte {
	return append(dst,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func readUint64BE(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

// Less reports whether a sorts strictly before b in the logical order of
// their shared kind; used by tests asserting P1 without round-tripping
// through bytes.
func Less(a, b Value) (bool, error) {
	if a.Kind != b.Kind {
		return false, fmt.Errorf("cannot compare values of different kinds %d and %d", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindNull:
		return false, nil
	case KindBool:
		return !a.Bool && b.Bool, nil
	case KindInt:
		return a.Int < b.Int, nil
	case KindFloat, KindTimestamp:
		return a.Float < b.Float, nil
	case KindString:
		return a.Str < b.Str, nil
	case KindBytes:
		return string(a.Bytes) < string(b.Bytes), nil
	case KindUUID:
		return string(a.UUID[:]) < string(b.UUID[:]), nil
	default:
		return false, fmt.Errorf("unsupported kind for comparison: %d", a.Kind)
	}
}
