package primitives

import "encoding/binary"

// Key encodings used by indexes. Every encoding in this file is
// order-preserving: comparing two encoded keys with bytes.Compare yields the
// same ordering as comparing the source values directly. Integers are
// encoded big-endian with the sign bit flipped so negative values sort
// before positive ones.

// Int64Key encodes a signed integer as an order-preserving key.
func Int64Key(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// DecodeInt64Key reverses Int64Key.
func DecodeInt64Key(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key) ^ (1 << 63))
}

// Uint64Key encodes an unsigned integer as an order-preserving key.
func Uint64Key(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64Key reverses Uint64Key.
func DecodeUint64Key(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// StringKey encodes a string as an order-preserving key. Raw UTF-8 bytes
// already compare in code-point order, so the encoding is the identity.
func StringKey(s string) []byte {
	return []byte(s)
}
