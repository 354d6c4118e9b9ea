package ndb

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input any
		want  any
		err   error
	}{
		{"abc", "abc", nil},
		{"", "", nil},
		{42, int64(42), nil},
		{int32(-7), int64(-7), nil},
		{uint8(3), int64(3), nil},
		{uint64(math.MaxInt64), int64(math.MaxInt64), nil},
		{uint64(math.MaxUint64), nil, ErrInvalidKey},
		{float64(12), int64(12), nil},
		{float64(1.5), nil, ErrInvalidKey},
		{true, nil, ErrInvalidKey},
		{nil, nil, ErrMissingKey},
	}
	for _, tt := range tests {
		got, err := normalizeKey(tt.input)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("normalizeKey(%#v) err = %v, wanted %v", tt.input, err, tt.err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("normalizeKey(%#v) = %#v, %v; wanted %#v", tt.input, got, err, tt.want)
		}
	}
}

func TestKeysEqual(t *testing.T) {
	if !keysEqual(1, int64(1)) {
		t.Errorf("keysEqual(1, int64(1)) = false")
	}
	if !keysEqual(float64(3), uint16(3)) {
		t.Errorf("keysEqual(3.0, uint16(3)) = false")
	}
	if keysEqual("1", 1) {
		t.Errorf(`keysEqual("1", 1) = true`)
	}
	if !keysEqual(LocalRef{"role", 0}, LocalRef{"role", 0}) {
		t.Errorf("keysEqual on equal LocalRefs = false")
	}
	if keysEqual(LocalRef{"role", 0}, LocalRef{"role", 1}) {
		t.Errorf("keysEqual on different LocalRefs = true")
	}
	if keysEqual(nil, nil) {
		t.Errorf("keysEqual(nil, nil) = true")
	}
}

func TestKeyEncoding_RoundTrip(t *testing.T) {
	for _, key := range []any{int64(0), int64(-1), int64(math.MinInt64), int64(math.MaxInt64), "", "hello", "ключ"} {
		raw, err := encodeKey(key)
		if err != nil {
			t.Fatalf("encodeKey(%#v): %v", key, err)
		}
		got, err := decodeKey(raw)
		if err != nil {
			t.Fatalf("decodeKey(%x): %v", raw, err)
		}
		if got != key {
			t.Errorf("decodeKey(encodeKey(%#v)) = %#v", key, got)
		}
	}
}

func TestKeyEncoding_Order(t *testing.T) {
	keys := []any{int64(math.MinInt64), int64(-100), int64(-1), int64(0), int64(1), int64(2), int64(256), int64(math.MaxInt64), "", "A", "a", "aa", "b"}
	var encoded [][]byte
	for _, k := range keys {
		encoded = append(encoded, must(encodeKey(k)))
	}
	sorted := slices.Clone(encoded)
	slices.SortFunc(sorted, bytes.Compare)
	for i := range encoded {
		if !bytes.Equal(encoded[i], sorted[i]) {
			got, _ := decodeKey(sorted[i])
			t.Fatalf("position %d: sorted key = %#v, wanted %#v", i, got, keys[i])
		}
	}
}

func TestDecodeKey_Errors(t *testing.T) {
	for _, raw := range [][]byte{nil, {keyTagInt, 1, 2}, {0x7f, 'x'}} {
		if _, err := decodeKey(raw); err == nil {
			t.Errorf("decodeKey(%x) succeeded, wanted error", raw)
		}
	}
}

func TestKeyString(t *testing.T) {
	if s := keyString("u1"); s != `"u1"` {
		t.Errorf("keyString(u1) = %s", s)
	}
	if s := keyString(int64(5)); s != "5" {
		t.Errorf("keyString(5) = %s", s)
	}
	if s := keyString(nil); s != "<nil>" {
		t.Errorf("keyString(nil) = %s", s)
	}
}
