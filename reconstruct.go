// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"github.com/relicforge/dumpcarver/log"
)

// ReconstructRun drives the runtime-reconstruction half of a dump
// analysis: walk the engine's global editor-ID hash table to recover
// every reachable FormRecord, pair that with the ESM-fragment records
// already sitting in carved esp/esm manifest entries, and merge the two
// by FormID (spec's System Overview data-flow: "In parallel,
// RuntimeStructReader uses MinidumpIndex to follow heap pointers and
// produce reconstructed record objects. SemanticMerger joins ESM-derived
// and runtime-derived records by FormID"). This is the production
// counterpart to CarveRun.Execute: where CarveRun drives the carving
// half end-to-end, ReconstructRun drives the reconstruction half.
type ReconstructRun struct {
	src    *DumpSource
	index  *MinidumpIndex
	logger *log.Helper
}

// NewReconstructRun builds a reconstruction driver over an already-opened
// dump and parsed index.
func NewReconstructRun(src *DumpSource, index *MinidumpIndex, logger *log.Helper) *ReconstructRun {
	if logger == nil {
		logger = log.NewNopHelper()
	}
	return &ReconstructRun{src: src, index: index, logger: logger}
}

// Execute reconstructs every runtime form reachable from the editor-ID
// hash table, extracts ESM-fragment records from manifest's carved
// esp/esm entries, and returns the SemanticMerger's merged output. manifest
// is expected to be the output of a CarveRun.Execute over the same dump;
// a nil or empty manifest still yields runtime-only records. Execute
// refuses a non-minidump dump with ErrNotMinidump, since every pointer
// follow it performs requires VA resolution that a flat dump has no
// index for.
func (rr *ReconstructRun) Execute(manifest *Manifest) (RecordCollection, RuntimeDiagnostics, error) {
	if !rr.index.IsMinidump() {
		return RecordCollection{}, RuntimeDiagnostics{}, ErrNotMinidump
	}

	reader := NewRuntimeStructReader(rr.src, rr.index, rr.logger)
	runtimeRecords := rr.walkRuntimeRecords(reader)
	esmRecords := rr.extractESMRecords(manifest)

	merged := NewSemanticMerger().Merge(esmRecords, runtimeRecords)
	return merged, reader.Diagnostics(), nil
}

// walkRuntimeRecords locates the editor-ID hash table, calibrates the
// build-variant INFO form_type against the entries it finds, then
// reconstructs every entry into a FormRecord. An entry that fails to
// reconstruct (unrecognised form_type, bounded-read failure) is simply
// omitted; RuntimeStructReader has already tallied the reason in its own
// diagnostics.
func (rr *ReconstructRun) walkRuntimeRecords(reader *RuntimeStructReader) []FormRecord {
	bucketOff, count, found := reader.LocateEditorIDHashTable()
	if !found {
		rr.logger.Debugf("no editor-ID hash table located; runtime reconstruction yields no records")
		return nil
	}
	entries := reader.WalkEditorIDHashTable(bucketOff, count)
	reader.CalibrateInfoFormType(entries)

	out := make([]FormRecord, 0, len(entries))
	for _, e := range entries {
		rec, ok := reader.ReconstructForm(RuntimeObjectLocation{FileOffset: e.FormFileOffset}, e.EditorID)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// extractESMRecords reads the raw bytes of every carved "esp" manifest
// entry (the registry's single signature covering both ESP and ESM
// plugin fragments, spec §4.6 ESP rule) straight out of the dump and
// walks each through ExtractESMFragments.
func (rr *ReconstructRun) extractESMRecords(manifest *Manifest) []FormRecord {
	if manifest == nil {
		return nil
	}
	data := rr.src.Bytes()
	var out []FormRecord
	for _, entry := range manifest.Sorted() {
		if entry.FileType != "esp" {
			continue
		}
		start := entry.Offset
		end := start + uint64(entry.SizeInDump)
		if end > uint64(len(data)) || start > end {
			continue
		}
		out = append(out, ExtractESMFragments(data[start:end], start)...)
	}
	return out
}
