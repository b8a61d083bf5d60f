// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// appendESPRecord writes one ESP/ESM top-level record (20-byte header +
// subrecords) to buf and returns the new slice.
func appendESPRecord(buf []byte, tag string, formID uint32, subrecords map[string]string) []byte {
	var body bytes.Buffer
	for tag, data := range subrecords {
		body.WriteString(tag)
		var size [2]byte
		binary.LittleEndian.PutUint16(size[:], uint16(len(data)))
		body.Write(size[:])
		body.WriteString(data)
	}

	var header [20]byte
	copy(header[0:4], tag)
	binary.LittleEndian.PutUint32(header[4:8], uint32(body.Len()))
	binary.LittleEndian.PutUint32(header[12:16], formID)

	buf = append(buf, header[:]...)
	buf = append(buf, body.Bytes()...)
	return buf
}

func TestExtractESMFragmentsReadsEditorIDAndFullName(t *testing.T) {
	var data []byte
	data = appendESPRecord(data, "CELL", 0x1234, map[string]string{
		"EDID": "TestCell\x00",
		"FULL": "Test Cell\x00",
	})

	records := ExtractESMFragments(data, 1000)
	if len(records) != 1 {
		t.Fatalf("expected 1 ESM-fragment record, got %d", len(records))
	}
	rec := records[0]
	if rec.Kind != FormKind("CELL") || rec.FormID != 0x1234 {
		t.Fatalf("unexpected kind/formID: %s/%x", rec.Kind, rec.FormID)
	}
	if rec.EditorID != "TestCell" {
		t.Fatalf("EditorID = %q, want %q", rec.EditorID, "TestCell")
	}
	if rec.DisplayName != "Test Cell" {
		t.Fatalf("DisplayName = %q, want %q", rec.DisplayName, "Test Cell")
	}
	if rec.SourceOffset != 1000 {
		t.Fatalf("SourceOffset = %d, want 1000", rec.SourceOffset)
	}
	if !rec.Origin.FromESM || rec.Origin.FromRuntime {
		t.Fatalf("expected Origin{FromESM: true}, got %+v", rec.Origin)
	}
}

func TestExtractESMFragmentsSkipsUnrecognisedTags(t *testing.T) {
	var data []byte
	data = appendESPRecord(data, "STAT", 0x99, map[string]string{"EDID": "SomeStatic\x00"})

	records := ExtractESMFragments(data, 0)
	if len(records) != 0 {
		t.Fatalf("expected STAT to be skipped (not an ESM-fragment tag), got %d records", len(records))
	}
}

func TestExtractESMFragmentsMultipleRecords(t *testing.T) {
	var data []byte
	data = appendESPRecord(data, "CELL", 1, map[string]string{"EDID": "CellOne\x00"})
	data = appendESPRecord(data, "LAND", 2, map[string]string{"EDID": "LandOne\x00"})
	data = appendESPRecord(data, "REFR", 3, map[string]string{})

	records := ExtractESMFragments(data, 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	kinds := map[FormKind]bool{}
	for _, r := range records {
		kinds[r.Kind] = true
	}
	for _, want := range []FormKind{"CELL", "LAND", "REFR"} {
		if !kinds[want] {
			t.Errorf("missing expected record kind %s", want)
		}
	}
}

func TestExtractESMFragmentsStopsOnTruncatedRecord(t *testing.T) {
	data := []byte("CELLxxxx") // far too short for even a header
	records := ExtractESMFragments(data, 0)
	if len(records) != 0 {
		t.Fatalf("expected no records from a truncated buffer, got %d", len(records))
	}
}
