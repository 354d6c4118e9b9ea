package ndb

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeValue appends the msgpack encoding of v to buf. Map keys are sorted,
// so equal values always produce equal bytes.
func encodeValue(buf []byte, v any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

func decodeValue(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	dec.UseLooseInterfaceDecoding(true)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

func encodeRecord(buf []byte, rec Record) []byte {
	return encodeValue(buf, map[string]any(rec))
}

func decodeRecord(raw []byte) (Record, error) {
	var m map[string]any
	if err := decodeValue(raw, &m); err != nil {
		return nil, err
	}
	rec := Record(m)
	for k, v := range rec {
		rec[k] = normalizeDecoded(v)
	}
	if v, ok := rec[RefsField]; ok {
		rec.setRefs(parseRefs(v))
	}
	return rec, nil
}

// normalizeDecoded folds msgpack's unsigned integers into int64, which is how
// keys and numbers are represented everywhere else.
func normalizeDecoded(v any) any {
	switch v := v.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeDecoded(e)
		}
		return v
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeDecoded(e)
		}
		return v
	default:
		return v
	}
}
