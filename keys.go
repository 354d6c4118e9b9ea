package ndb

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Keys are strings or integers. Integers of every Go kind normalize to
// int64, and so do integral float64 values, which is what JSON decoding
// produces for numbers.
//
// Encoded key bytes sort integers before strings, integers numerically and
// strings bytewise, so a bucket cursor visits records in key order.
const (
	keyTagInt    byte = 0x01
	keyTagString byte = 0x02
)

func normalizeKey(key any) (any, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case int64:
		return k, nil
	case int:
		return int64(k), nil
	case int8:
		return int64(k), nil
	case int16:
		return int64(k), nil
	case int32:
		return int64(k), nil
	case uint8:
		return int64(k), nil
	case uint16:
		return int64(k), nil
	case uint32:
		return int64(k), nil
	case uint:
		if uint64(k) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidKey, k)
		}
		return int64(k), nil
	case uint64:
		if k > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidKey, k)
		}
		return int64(k), nil
	case float64:
		if k != math.Trunc(k) || k < math.MinInt64 || k > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidKey, k)
		}
		return int64(k), nil
	case float32:
		return normalizeKey(float64(k))
	case nil:
		return nil, ErrMissingKey
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidKey, key)
	}
}

func keysEqual(a, b any) bool {
	na, errA := normalizeKey(a)
	nb, errB := normalizeKey(b)
	if errA == nil && errB == nil {
		return na == nb
	}
	la, okA := a.(LocalRef)
	lb, okB := b.(LocalRef)
	return okA && okB && la == lb
}

func appendKey(buf []byte, key any) ([]byte, error) {
	nk, err := normalizeKey(key)
	if err != nil {
		return buf, err
	}
	switch k := nk.(type) {
	case int64:
		bb := bytesBuilder{buf}
		bb.AppendByte(keyTagInt)
		bb.AppendFixedUint64(uint64(k) ^ (1 << 63))
		return bb.Buf, nil
	case string:
		bb := bytesBuilder{buf}
		bb.AppendByte(keyTagString)
		_, _ = bb.Write(unsafeBytesFromString(k))
		return bb.Buf, nil
	default:
		panic("unreachable")
	}
}

func encodeKey(key any) ([]byte, error) {
	return appendKey(nil, key)
}

func decodeKey(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, dataErrf(raw, 0, nil, "empty key")
	}
	switch raw[0] {
	case keyTagInt:
		if len(raw) != 9 {
			return nil, dataErrf(raw, 1, nil, "invalid int key length")
		}
		return int64(binary.BigEndian.Uint64(raw[1:]) ^ (1 << 63)), nil
	case keyTagString:
		return string(raw[1:]), nil
	default:
		return nil, dataErrf(raw, 0, nil, "invalid key tag 0x%02x", raw[0])
	}
}

func keyString(key any) string {
	switch k := key.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(k)
	default:
		return fmt.Sprint(k)
	}
}
