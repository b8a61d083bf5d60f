// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "context"

// FuzzScan adapts SignatureScanner.Scan to the go-fuzz Fuzz(data
// []byte) int convention, the direct domain analog of saferwall/pe's
// fuzz.go Fuzz function: feed raw bytes through the same pass a real
// dump would take and report whether it completed without panicking.
func FuzzScan(data []byte) int {
	reg, err := LoadSignatureRegistry()
	if err != nil {
		return 0
	}
	scanner := NewSignatureScanner(reg, nil)
	src := NewDumpSourceFromBytes(data, nil)

	ch := scanner.Scan(context.Background(), src, nil, nil)
	for range ch {
	}
	return 1
}

// fuzzParser runs one registered parser kind over data as its own
// candidate window, exercising the FormatParser contract (bounded
// reads only, no panics on truncated or adversarial input) the same
// way FuzzScan exercises the scanner.
func fuzzParser(id string, data []byte) int {
	reg, err := LoadSignatureRegistry()
	if err != nil {
		return 0
	}
	sig, ok := reg.ByID(id)
	if !ok {
		return 0
	}
	parsers := defaultParserTable()
	parser, ok := parsers[sig.ParserKind]
	if !ok {
		return 0
	}
	if _, ok := parser(data, sig, ParserContext{}); ok {
		return 1
	}
	return 0
}

// FuzzParseDDS fuzzes the DDS header/mip-chain parser.
func FuzzParseDDS(data []byte) int { return fuzzParser("dds", data) }

// FuzzParsePNG fuzzes the PNG chunk-walk parser.
func FuzzParsePNG(data []byte) int { return fuzzParser("png", data) }

// FuzzParseNIF fuzzes the NIF version-string and block-size-table
// parser.
func FuzzParseNIF(data []byte) int { return fuzzParser("nif", data) }

// FuzzParseDDX fuzzes the DDX GPU-fetch-constant and LZX chunk-length
// walk.
func FuzzParseDDX(data []byte) int { return fuzzParser("ddx", data) }
