// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"context"
	"encoding/binary"
	"testing"
)

func newTestCarveRun(t *testing.T, data []byte, opts RunOptions) *CarveRun {
	t.Helper()
	reg := mustRegistry(t)
	src := NewDumpSourceFromBytes(data, nil)
	idx, err := ParseMinidumpIndex(src, nil)
	if err != nil {
		t.Fatalf("ParseMinidumpIndex: %v", err)
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = t.TempDir()
	}
	if opts.DumpStem == "" {
		opts.DumpStem = "dump"
	}
	return NewCarveRun(src, idx, reg, opts)
}

// TestCarveRunRejectsTruncatedCandidate covers spec §8 scenario S1: a DDS
// header whose computed extent exceeds the bytes actually available in
// the dump must leave the manifest empty.
func TestCarveRunRejectsTruncatedCandidate(t *testing.T) {
	// 128x64 DXT1 declares a 4224-byte extent, but the dump is cut short.
	data := buildDDSHeader(binary.LittleEndian, 128, 64, 1, "DXT1", 150)

	run := newTestCarveRun(t, data, RunOptions{})
	manifest, diag, err := run.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(manifest.Sorted()) != 0 {
		t.Fatalf("expected 0 manifest entries for a truncated DDS candidate, got %d", len(manifest.Sorted()))
	}
	if diag.Snapshot().PerFormatRejected["dds"] == 0 {
		t.Fatal("expected the truncated DDS candidate to be tallied as a rejection")
	}
}

// TestCarveRunAcceptsDisjointCandidates covers spec §8 scenario S2: a DDS
// texture and a PNG image sitting at disjoint offsets in the same dump
// both survive into a two-entry manifest.
func TestCarveRunAcceptsDisjointCandidates(t *testing.T) {
	const ddsOffset = 0
	dds := buildDDSHeader(binary.LittleEndian, 128, 64, 1, "DXT1", 4224)

	const pngOffset = 5000
	var png []byte
	png = append(png, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}...)
	png = appendChunk(png, "IHDR", 13)
	png = appendChunk(png, "IDAT", 20)
	png = appendChunk(png, "IEND", 0)

	data := make([]byte, pngOffset+len(png))
	copy(data[ddsOffset:], dds)
	copy(data[pngOffset:], png)

	run := newTestCarveRun(t, data, RunOptions{})
	manifest, _, err := run.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entries := manifest.Sorted()
	if len(entries) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d: %+v", len(entries), entries)
	}

	byType := map[string]CarveEntry{}
	for _, e := range entries {
		byType[e.FileType] = e
	}
	ddsEntry, ok := byType["dds"]
	if !ok || ddsEntry.Offset != ddsOffset {
		t.Fatalf("expected a dds entry at offset %d, got %+v", ddsOffset, byType)
	}
	pngEntry, ok := byType["png"]
	if !ok || pngEntry.Offset != pngOffset {
		t.Fatalf("expected a png entry at offset %d, got %+v", pngOffset, byType)
	}
}

// TestCarveRunOverlapFavoursHigherPriority covers spec §8 scenario S3: a
// NIF mesh (priority 100) and a LIP blob (priority 40) whose claimed
// ranges overlap; the higher-priority NIF wins and the LIP candidate is
// evicted from the manifest entirely.
func TestCarveRunOverlapFavoursHigherPriority(t *testing.T) {
	nifWindow, nifExtent := buildNIFWindow(
		"Gamebryo File Format, Version 20.2.0.7",
		[]string{"NiNode"},
		[]uint32{8192},
	)
	if nifExtent < 3072 {
		t.Fatalf("test construction error: NIF extent %d too small to overlap the LIP candidate", nifExtent)
	}

	const lipOffset = 2048
	const lipSize = 800
	lip := make([]byte, 1024)
	copy(lip[0:4], "LIP ")
	binary.BigEndian.PutUint32(lip[8:12], lipSize)

	data := make([]byte, nifExtent)
	copy(data, nifWindow)
	copy(data[lipOffset:], lip)

	run := newTestCarveRun(t, data, RunOptions{})
	manifest, diag, err := run.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entries := manifest.Sorted()
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 surviving entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].FileType != "nif" {
		t.Fatalf("expected the surviving entry to be the NIF, got %s", entries[0].FileType)
	}
	if diag.Snapshot().OverlapEvicted["lip"] == 0 {
		t.Fatal("expected the LIP candidate to be tallied as overlap-evicted")
	}
}
