// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

const pngMagicSize = 8

// parsePNG walks PNG chunks (length u32 BE, 4-byte type, data, 4-byte
// crc) until IEND is seen. Extent is the offset of the IEND chunk plus 12
// (its fixed 0-length-data chunk size), per spec §4.6.
func parsePNG(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	if len(window) < pngMagicSize+8 {
		return ParseResult{}, false
	}
	r := NewBinaryReader(window)

	offset := pngMagicSize
	const maxChunks = 1 << 20 // bound iteration against corrupt/adversarial input
	for i := 0; i < maxChunks; i++ {
		if offset+8 > len(window) {
			return ParseResult{}, false
		}
		length, err := r.U32(offset, BigEndian)
		if err != nil {
			return ParseResult{}, false
		}
		typ, err := r.Bytes(offset+4, 4)
		if err != nil {
			return ParseResult{}, false
		}

		if string(typ) == "IEND" {
			extent := uint32(offset) + 12
			clamped, ok := clampExtent(extent, sig, len(window))
			if !ok {
				return ParseResult{}, false
			}
			return ParseResult{ExtentBytes: clamped}, true
		}

		chunkTotal := 12 + int(length) // length+type+data+crc
		if chunkTotal <= 0 {
			return ParseResult{}, false
		}
		offset += chunkTotal
	}
	return ParseResult{}, false
}
