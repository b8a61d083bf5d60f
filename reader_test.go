// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"math"
	"testing"
)

func TestBinaryReaderPrimitives(t *testing.T) {
	data := []byte{
		0x01, 0x02, 0x03, 0x04,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x00, 0x00, 0x80, 0x3F, // 1.0 as float32 LE
	}
	r := NewBinaryReader(data)

	if v, err := r.U8(0); err != nil || v != 0x01 {
		t.Fatalf("U8(0) = %v, %v", v, err)
	}
	if v, err := r.U16(0, BigEndian); err != nil || v != 0x0102 {
		t.Fatalf("U16 BE = %v, %v", v, err)
	}
	if v, err := r.U16(0, LittleEndian); err != nil || v != 0x0201 {
		t.Fatalf("U16 LE = %v, %v", v, err)
	}
	if v, err := r.U32(4, BigEndian); err != nil || v != 0xDEADBEEF {
		t.Fatalf("U32 BE = %#x, %v", v, err)
	}
	if v, err := r.F32(8, LittleEndian); err != nil || v != 1.0 {
		t.Fatalf("F32 LE = %v, %v", v, err)
	}
}

func TestBinaryReaderOutOfBounds(t *testing.T) {
	r := NewBinaryReader([]byte{0x01, 0x02})
	if _, err := r.U32(0, BigEndian); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := r.U8(5); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := r.Bytes(-1, 2); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds for negative offset, got %v", err)
	}
}

func TestBinaryReaderCStringAt(t *testing.T) {
	data := []byte("hello\x00garbage")
	r := NewBinaryReader(data)
	s, err := r.CStringAt(0, 9)
	if err != nil {
		t.Fatalf("CStringAt: %v", err)
	}
	if s != "hello" {
		t.Fatalf("CStringAt = %q, want %q", s, "hello")
	}

	// No NUL within maxLen: the whole window is returned.
	data2 := []byte("nonulhere")
	r2 := NewBinaryReader(data2)
	s2, err := r2.CStringAt(0, len(data2))
	if err != nil || s2 != "nonulhere" {
		t.Fatalf("CStringAt no-NUL = %q, %v", s2, err)
	}
}

func TestHalfToF32(t *testing.T) {
	cases := []struct {
		name string
		bits uint16
		want float32
	}{
		{"positive one", 0x3C00, 1.0},
		{"zero", 0x0000, 0.0},
		{"negative two", 0xC000, -2.0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := HalfToF32(c.bits)
			if math.Abs(float64(got-c.want)) > 1e-6 {
				t.Fatalf("HalfToF32(%#x) = %v, want %v", c.bits, got, c.want)
			}
		})
	}
}
