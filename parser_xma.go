// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// parseXMA validates a RIFF container and computes its extent from the
// chunk size field at offset 4: size = read_u32_le(at+4) + 8 (spec §4.6).
func parseXMA(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	if len(window) < 12 {
		return ParseResult{}, false
	}
	r := NewBinaryReader(window)

	form, err := r.Bytes(8, 4)
	if err != nil || string(form) != "WAVE" && string(form) != "XWMA" {
		return ParseResult{}, false
	}

	riffSize, err := r.U32(4, LittleEndian)
	if err != nil {
		return ParseResult{}, false
	}

	extent := riffSize + 8
	clamped, ok := clampExtent(extent, sig, len(window))
	if !ok {
		return ParseResult{}, false
	}
	return ParseResult{ExtentBytes: clamped}, true
}
