// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func nifSignature(t *testing.T) Signature {
	t.Helper()
	reg := mustRegistry(t)
	sig, ok := reg.ByID("nif")
	if !ok {
		t.Fatal("nif signature not registered")
	}
	return sig
}

// buildNIFWindow assembles a minimal NIF header matching parseNIF's field
// walk exactly: version line, version/endianness/user-version/num-blocks,
// a block-type-string table, a block-type index table and finally a
// block-size table. blockSizes gives one declared size per block; the
// window is zero-padded out to the resulting extent so the parser's
// clamp against the available window always succeeds.
func buildNIFWindow(versionLine string, blockTypes []string, blockSizes []uint32) ([]byte, uint32) {
	var buf bytes.Buffer
	buf.WriteString(versionLine)
	buf.WriteByte('\n')

	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }

	write32(20_2_0_7) // version, opaque to the parser
	buf.WriteByte(1)  // endianness
	write32(11)       // user version, opaque
	write32(uint32(len(blockSizes)))
	write16(uint16(len(blockTypes)))

	for _, bt := range blockTypes {
		write32(uint32(len(bt)))
		buf.WriteString(bt)
	}
	for range blockSizes {
		write16(0) // block-type index table: one u16 per block
	}
	var totalBlockData uint64
	for _, size := range blockSizes {
		write32(size)
		totalBlockData += uint64(size)
	}

	extent := uint32(uint64(buf.Len()) + totalBlockData)
	window := make([]byte, extent)
	copy(window, buf.Bytes())
	return window, extent
}

func TestParseNIFAcceptsGamebryoHeader(t *testing.T) {
	sig := nifSignature(t)
	window, wantExtent := buildNIFWindow("Gamebryo File Format, Version 20.2.0.7", []string{"NiNode"}, []uint32{4025})

	result, ok := parseNIF(window, sig, ParserContext{})
	if !ok {
		t.Fatal("expected a well-formed Gamebryo header to be accepted")
	}
	if result.ExtentBytes != wantExtent {
		t.Fatalf("ExtentBytes = %d, want %d", result.ExtentBytes, wantExtent)
	}
}

func TestParseNIFAcceptsNetImmersePrefix(t *testing.T) {
	sig := nifSignature(t)
	window, wantExtent := buildNIFWindow("NetImmerse File Format, Version 4.0.0.2", []string{"NiTriShape"}, []uint32{200, 300})

	result, ok := parseNIF(window, sig, ParserContext{})
	if !ok {
		t.Fatal("expected a well-formed NetImmerse header to be accepted")
	}
	if result.ExtentBytes != wantExtent {
		t.Fatalf("ExtentBytes = %d, want %d", result.ExtentBytes, wantExtent)
	}
}

func TestParseNIFRejectsUnrecognisedVersionLine(t *testing.T) {
	sig := nifSignature(t)
	window, _ := buildNIFWindow("Some Unrelated Text That Mentions Game", []string{"NiNode"}, []uint32{64})

	_, ok := parseNIF(window, sig, ParserContext{})
	if ok {
		t.Fatal("expected rejection when the first line is not a known NIF version string")
	}
}

func TestParseNIFRejectsNoNewline(t *testing.T) {
	sig := nifSignature(t)
	window := bytes.Repeat([]byte("x"), 200)
	_, ok := parseNIF(window, sig, ParserContext{})
	if ok {
		t.Fatal("expected rejection when no newline terminates the header line")
	}
}
