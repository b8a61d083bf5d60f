// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestManifestSortedOrder(t *testing.T) {
	m := &Manifest{}
	m.Add(CarveEntry{FileType: "png", Offset: 5})
	m.Add(CarveEntry{FileType: "dds", Offset: 100})
	m.Add(CarveEntry{FileType: "dds", Offset: 10})

	sorted := m.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sorted))
	}
	want := []struct {
		fileType string
		offset   uint64
	}{
		{"dds", 10},
		{"dds", 100},
		{"png", 5},
	}
	for i, w := range want {
		if sorted[i].FileType != w.fileType || sorted[i].Offset != w.offset {
			t.Fatalf("entry %d = %+v, want %+v", i, sorted[i], w)
		}
	}
}

func TestManifestLenIsConcurrencySafe(t *testing.T) {
	m := &Manifest{}
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			m.Add(CarveEntry{FileType: "dds", Offset: uint64(n)})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if m.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", m.Len())
	}
}

func TestManifestWriteJSONFields(t *testing.T) {
	m := &Manifest{}
	m.Add(CarveEntry{
		FileType:   "nif",
		Offset:     64,
		SizeInDump: 4096,
		SizeOutput: 4096,
		Filename:   "meshes/00000040.nif",
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := m.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	for _, key := range []string{"file_type", "offset", "size_in_dump", "size_output", "filename", "is_compressed", "content_type", "is_partial", "notes"} {
		if _, ok := entries[0][key]; !ok {
			t.Errorf("missing expected manifest field %q", key)
		}
	}
	if entries[0]["content_type"] != nil {
		t.Errorf("expected content_type to be null when unset, got %v", entries[0]["content_type"])
	}
}

func TestManifestWriteJSONEmpty(t *testing.T) {
	m := &Manifest{}
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := m.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entries []CarveEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty array, got %d entries", len(entries))
	}
}
