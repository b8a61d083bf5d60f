// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// esmKindsWithRawRecords are the kinds spec §4.10 names as still having
// raw ESM-fragment records residing in captured heap alongside runtime
// reconstruction (CELL, LAND, INFO, REFR, DIAL) — kinds outside this
// set are runtime-only and pass through SemanticMerger unchanged.
var esmKindsWithRawRecords = map[FormKind]bool{
	FormKind("CELL"): true,
	FormKind("LAND"): true,
	KindTopicInfo:    true,
	FormKind("REFR"): true,
	KindDialogTopic:  true,
}

// HasESMFragments reports whether kind is one spec §4.10 names as
// still carrying raw ESM-fragment records in captured heap.
func HasESMFragments(kind FormKind) bool { return esmKindsWithRawRecords[kind] }

// formKey identifies a FormRecord within its kind's namespace. The same
// FormID may legitimately appear under two different kinds (spec §3:
// "DIAL vs INFO share space").
type formKey struct {
	Kind   FormKind
	FormID uint32
}

// RecordCollection is the SemanticMerger's output: every merged record,
// grouped by kind (spec §4.10).
type RecordCollection struct {
	ByKind map[FormKind][]FormRecord
}

// Records returns every record across all kinds, in no particular
// order.
func (c RecordCollection) Records() []FormRecord {
	var out []FormRecord
	for _, recs := range c.ByKind {
		out = append(out, recs...)
	}
	return out
}

// SemanticMerger joins ESM-fragment records with runtime-reconstructed
// records by FormID within a kind namespace (spec §4.10).
type SemanticMerger struct{}

// NewSemanticMerger returns a ready-to-use merger. It holds no state:
// merging is a pure function of its inputs.
func NewSemanticMerger() *SemanticMerger { return &SemanticMerger{} }

// Merge combines esmRecords (extracted as raw signature matches, for
// kinds where a raw record still resides in captured heap) with
// runtimeRecords (produced by RuntimeStructReader). Per-field merge
// policy: prefer the ESM subrecord value when present, fall back to the
// runtime value; a FormID collision across different kinds keeps both
// records, since they occupy different namespaces (spec §4.10, §3).
func (m *SemanticMerger) Merge(esmRecords, runtimeRecords []FormRecord) RecordCollection {
	byKey := map[formKey]*FormRecord{}
	order := map[FormKind][]uint32{}

	addOrMerge := func(rec FormRecord) {
		key := formKey{Kind: rec.Kind, FormID: rec.FormID}
		existing, ok := byKey[key]
		if !ok {
			cp := rec
			byKey[key] = &cp
			order[rec.Kind] = append(order[rec.Kind], rec.FormID)
			return
		}
		mergeInto(existing, rec)
	}

	// ESM fragments are applied first so their field values win ties;
	// runtime records then fill in anything ESM left absent. A runtime
	// record surfacing for a kind the spec doesn't list as ESM-resident
	// (esmKindsWithRawRecords) is still merged the same way: there is
	// simply never a first-pass ESM entry to contend with it.
	for _, rec := range esmRecords {
		addOrMerge(rec)
	}
	for _, rec := range runtimeRecords {
		addOrMerge(rec)
	}

	out := RecordCollection{ByKind: map[FormKind][]FormRecord{}}
	for kind, ids := range order {
		for _, id := range ids {
			rec := byKey[formKey{Kind: kind, FormID: id}]
			out.ByKind[kind] = append(out.ByKind[kind], *rec)
		}
	}
	return out
}

// mergeInto folds incoming into existing in place. existing reflects
// whichever record was applied first by Merge's call order (ESM before
// runtime); per spec §4.10's policy ("prefer ESM subrecord value if
// present, fall back to runtime value"), existing's already-set fields
// are kept and only gaps are filled from incoming.
func mergeInto(existing *FormRecord, incoming FormRecord) {
	existing.Origin.FromESM = existing.Origin.FromESM || incoming.Origin.FromESM
	existing.Origin.FromRuntime = existing.Origin.FromRuntime || incoming.Origin.FromRuntime

	if existing.EditorID == "" {
		existing.EditorID = incoming.EditorID
	}
	if existing.DisplayName == "" {
		existing.DisplayName = incoming.DisplayName
	}
	if existing.SourceOffset == 0 {
		existing.SourceOffset = incoming.SourceOffset
	}
	if existing.Fields == nil {
		existing.Fields = map[string]any{}
	}
	for k, v := range incoming.Fields {
		if _, present := existing.Fields[k]; !present {
			existing.Fields[k] = v
		}
	}
}
