// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"encoding/binary"
	"math"
)

// ByteOrder selects how BinaryReader interprets multi-byte fields. The
// engine's own runtime structures are always BigEndian (PowerPC); several
// carved file formats (PC-originated DDS headers, RIFF containers) are
// LittleEndian. No caller may assume host order.
type ByteOrder int

// Supported byte orders.
const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) impl() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// BinaryReader provides bounds-checked primitive reads over a byte slice.
// A read that would exceed the slice fails with ErrOutOfBounds; there are
// no partial reads.
type BinaryReader struct {
	data []byte
}

// NewBinaryReader wraps data for bounds-checked reads. data is not copied;
// callers must not mutate it while the reader is in use.
func NewBinaryReader(data []byte) *BinaryReader {
	return &BinaryReader{data: data}
}

// Len returns the length of the underlying slice.
func (r *BinaryReader) Len() int { return len(r.data) }

func (r *BinaryReader) window(offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, ErrOutOfBounds
	}
	end := offset + size
	if end < offset || end > len(r.data) {
		return nil, ErrOutOfBounds
	}
	return r.data[offset:end], nil
}

// U8 reads a single byte at offset.
func (r *BinaryReader) U8(offset int) (uint8, error) {
	b, err := r.window(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a 16-bit unsigned integer at offset in the given byte order.
func (r *BinaryReader) U16(offset int, order ByteOrder) (uint16, error) {
	b, err := r.window(offset, 2)
	if err != nil {
		return 0, err
	}
	return order.impl().Uint16(b), nil
}

// U32 reads a 32-bit unsigned integer at offset in the given byte order.
func (r *BinaryReader) U32(offset int, order ByteOrder) (uint32, error) {
	b, err := r.window(offset, 4)
	if err != nil {
		return 0, err
	}
	return order.impl().Uint32(b), nil
}

// U64 reads a 64-bit unsigned integer at offset in the given byte order.
func (r *BinaryReader) U64(offset int, order ByteOrder) (uint64, error) {
	b, err := r.window(offset, 8)
	if err != nil {
		return 0, err
	}
	return order.impl().Uint64(b), nil
}

// I16 reads a signed 16-bit integer at offset.
func (r *BinaryReader) I16(offset int, order ByteOrder) (int16, error) {
	v, err := r.U16(offset, order)
	return int16(v), err
}

// I32 reads a signed 32-bit integer at offset.
func (r *BinaryReader) I32(offset int, order ByteOrder) (int32, error) {
	v, err := r.U32(offset, order)
	return int32(v), err
}

// F32 reads an IEEE-754 single-precision float at offset.
func (r *BinaryReader) F32(offset int, order ByteOrder) (float32, error) {
	v, err := r.U32(offset, order)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// F64 reads an IEEE-754 double-precision float at offset.
func (r *BinaryReader) F64(offset int, order ByteOrder) (float64, error) {
	v, err := r.U64(offset, order)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Bytes returns a sub-slice of n bytes starting at offset. The returned
// slice aliases the reader's backing array; callers must not retain it
// past the lifetime of the source dump.
func (r *BinaryReader) Bytes(offset, n int) ([]byte, error) {
	return r.window(offset, n)
}

// CStringAt reads a NUL-terminated byte string starting at offset, never
// scanning past maxLen bytes. Used for engine strings and in-file
// filename hints, which are always plain ASCII/Latin-1 in this format
// family; genuinely UTF-16 fields (minidump module names) are decoded
// separately via golang.org/x/text.
func (r *BinaryReader) CStringAt(offset, maxLen int) (string, error) {
	b, err := r.window(offset, maxLen)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// half_to_f32 helper: decodes an IEEE-754 binary16 value (used by some
// texture and mesh formats) into a float32.
func halfToF32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal half: normalize.
		e := -1
		for mant&0x400 == 0 {
			mant <<= 1
			e++
		}
		mant &= 0x3ff
		exp32 := uint32(127-15-e) << 23
		return math.Float32frombits(sign | exp32 | (mant << 13))
	case 0x1f:
		// Inf/NaN.
		return math.Float32frombits(sign | 0x7f800000 | (mant << 13))
	default:
		exp32 := (uint32(exp) - 15 + 127) << 23
		return math.Float32frombits(sign | exp32 | (mant << 13))
	}
}

// HalfToF32 exposes halfToF32 decoding of a 16-bit float to callers outside
// the package boundary of BinaryReader's own reads, for formats (DDS/NIF
// vertex streams) that store half-precision components inline.
func HalfToF32(h uint16) float32 { return halfToF32(h) }
