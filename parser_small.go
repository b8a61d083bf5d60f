// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// parseSizedHeader builds a FormatParser for the family of small, fully
// self-describing formats (LIP, SCDA, XDBF, XUI) whose header carries an
// explicit total-size field: read it and clamp (spec §4.6). wantMagic is
// validated defensively even though the scanner already matched it, since
// the signature's registered magic may be a prefix shorter than the full
// in-file tag. sizeFieldOffset/width describe a big-endian size field,
// engine-native for these Xbox container formats.
func parseSizedHeader(wantMagic string, sizeFieldOffset, width int) FormatParser {
	magic := []byte(wantMagic)
	return func(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
		if len(window) < sizeFieldOffset+width || len(window) < len(magic) {
			return ParseResult{}, false
		}
		if string(window[:len(magic)]) != wantMagic {
			return ParseResult{}, false
		}

		r := NewBinaryReader(window)
		var size uint32
		var err error
		switch width {
		case 2:
			var v uint16
			v, err = r.U16(sizeFieldOffset, BigEndian)
			size = uint32(v)
		default:
			size, err = r.U32(sizeFieldOffset, BigEndian)
		}
		if err != nil {
			return ParseResult{}, false
		}

		clamped, ok := clampExtent(size, sig, len(window))
		if !ok {
			return ParseResult{}, false
		}
		return ParseResult{ExtentBytes: clamped}, true
	}
}

// ESP/ESM fragment header (spec §4.6). Bethesda plugin records are always
// little-endian regardless of host platform: "TES4" + u32 record data
// size + u32 flags + u32 form id + u32 version control, 20 bytes total,
// followed by record data of the declared size.
const espHeaderSize = 20

func parseESP(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	if len(window) < espHeaderSize {
		return ParseResult{}, false
	}
	r := NewBinaryReader(window)

	recordSize, err := r.U32(4, LittleEndian)
	if err != nil {
		return ParseResult{}, false
	}
	formID, err := r.U32(12, LittleEndian)
	if err != nil {
		return ParseResult{}, false
	}

	extent := uint32(espHeaderSize) + recordSize
	clamped, ok := clampExtent(extent, sig, len(window))
	if !ok {
		return ParseResult{}, false
	}

	// Some ESP distributions append a trailing PKCS7 signature blob after
	// the master-file record; best-effort containment check only, never
	// trust validation (spec §1: no semantic correctness validation).
	note := ""
	if tail, err := r.Bytes(int(clamped)-minPKCS7Probe, minPKCS7Probe); err == nil && looksLikePKCS7(tail) {
		note = "trailing signature blob"
	}

	meta := map[string]any{"form_id": formID}
	if note != "" {
		meta["content_note"] = note
	}
	return ParseResult{ExtentBytes: clamped, Metadata: meta}, true
}
