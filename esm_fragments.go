// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// esmFragmentTags are the top-level Bethesda record tags spec §4.10
// names as ESM-fragment kinds (raw records still resident in captured
// heap, distinct from RuntimeStructReader's reconstructed kinds).
var esmFragmentTags = map[string]bool{
	"CELL": true,
	"LAND": true,
	"INFO": true,
	"REFR": true,
	"DIAL": true,
}

// subrecordHeaderSize is the { tag: 4 bytes, size: u16 LE } prefix every
// ESP/ESM subrecord carries, little-endian like the record header
// itself (spec §4.6 ESP rule).
const subrecordHeaderSize = 6

// ExtractESMFragments walks an already-carved ESP/ESM byte blob for
// top-level records whose tag is one of esmFragmentTags, reading each
// record's EDID (editor ID) and FULL (display name) subrecords. This
// is the ESM-fragment producer side of SemanticMerger (spec §4.10):
// the record-header walk reuses parseESP's 20-byte header layout, and
// the subrecord walk follows the same size-prefixed chunk-walking idiom
// as parser_nif.go's block-size-table walk and parser_png.go's
// chunk-to-IEND walk.
func ExtractESMFragments(data []byte, baseOffset uint64) []FormRecord {
	var out []FormRecord
	r := NewBinaryReader(data)

	pos := 0
	for pos+espHeaderSize <= len(data) {
		tag := string(data[pos : pos+4])
		recordSize, err := r.U32(pos+4, LittleEndian)
		if err != nil {
			break
		}
		formID, err := r.U32(pos+12, LittleEndian)
		if err != nil {
			break
		}
		recordEnd := pos + espHeaderSize + int(recordSize)
		if recordEnd > len(data) || recordEnd <= pos {
			break
		}

		if esmFragmentTags[tag] {
			rec := FormRecord{
				Kind:         FormKind(tag),
				FormID:       formID,
				SourceOffset: baseOffset + uint64(pos),
				Origin:       Origin{FromESM: true},
				Fields:       map[string]any{},
			}
			rec.EditorID, rec.DisplayName = walkESMSubrecords(r, pos+espHeaderSize, recordEnd)
			out = append(out, rec)
		}

		pos = recordEnd
	}
	return out
}

// walkESMSubrecords scans [start, end) for EDID and FULL subrecords,
// stopping early once both are found. Unrecognised subrecords are
// skipped by their declared size without interpretation.
func walkESMSubrecords(r *BinaryReader, start, end int) (editorID, displayName string) {
	pos := start
	for pos+subrecordHeaderSize <= end {
		tag := ""
		if tagBytes, err := r.Bytes(pos, 4); err == nil {
			tag = string(tagBytes)
		} else {
			return
		}
		size, err := r.U16(pos+4, LittleEndian)
		if err != nil {
			return
		}
		dataStart := pos + subrecordHeaderSize
		dataEnd := dataStart + int(size)
		if dataEnd > end {
			return
		}

		switch tag {
		case "EDID":
			if s, err := r.CStringAt(dataStart, int(size)); err == nil {
				editorID = s
			}
		case "FULL":
			if s, err := r.CStringAt(dataStart, int(size)); err == nil {
				displayName = s
			}
		}

		if editorID != "" && displayName != "" {
			return
		}
		pos = dataEnd
	}
	return
}
