// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "bytes"

// NIF (Gamebryo/NetImmerse) headers begin with a human-readable version
// string line; the same "Game"/"NetI" four bytes that trigger the scanner
// also appear incidentally inside unrelated text, so full-line validation is
// the parser's defense against false positives (spec §4.6).
var nifVersionPrefixes = [][]byte{
	[]byte("Gamebryo File Format"),
	[]byte("NetImmerse File Format"),
}

const nifMaxHeaderLineLen = 128

func parseNIF(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	lineEnd := bytes.IndexByte(window, '\n')
	if lineEnd < 0 || lineEnd > nifMaxHeaderLineLen {
		return ParseResult{}, false
	}
	line := window[:lineEnd]

	matched := false
	for _, prefix := range nifVersionPrefixes {
		if bytes.HasPrefix(line, prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return ParseResult{}, false
	}

	r := NewBinaryReader(window)
	offset := lineEnd + 1

	// version (u32), endianness (u8), user version (u32), num blocks (u32).
	if _, err := r.U32(offset, LittleEndian); err != nil {
		return ParseResult{}, false
	}
	offset += 4
	if _, err := r.U8(offset); err != nil {
		return ParseResult{}, false
	}
	offset += 1
	if _, err := r.U32(offset, LittleEndian); err != nil {
		return ParseResult{}, false
	}
	offset += 4
	numBlocks, err := r.U32(offset, LittleEndian)
	if err != nil || numBlocks > 1<<20 {
		return ParseResult{}, false
	}
	offset += 4

	blockTypeCount, err := r.U16(offset, LittleEndian)
	if err != nil {
		return ParseResult{}, false
	}
	offset += 2

	for i := uint16(0); i < blockTypeCount; i++ {
		strLen, err := r.U32(offset, LittleEndian)
		if err != nil || strLen > 4096 {
			return ParseResult{}, false
		}
		offset += 4 + int(strLen)
	}

	// Block-type index table: one u16 per block.
	offset += int(numBlocks) * 2

	var totalBlockData uint64
	for i := uint32(0); i < numBlocks; i++ {
		size, err := r.U32(offset, LittleEndian)
		if err != nil {
			return ParseResult{}, false
		}
		totalBlockData += uint64(size)
		offset += 4
	}

	extent64 := uint64(offset) + totalBlockData
	if extent64 > uint64(sig.MaxSize) {
		extent64 = uint64(sig.MaxSize)
	}
	clamped, ok := clampExtent(uint32(extent64), sig, len(window))
	if !ok {
		return ParseResult{}, false
	}

	return ParseResult{
		ExtentBytes: clamped,
		Metadata: map[string]any{
			"num_blocks": numBlocks,
			"version_line": string(line),
		},
	}, true
}
