// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"github.com/relicforge/dumpcarver/log"
)

// FormKind is the closed set of record-kind tags a reconstructed
// FormRecord may carry (spec §3 FormRecord, §9 "Polymorphism over record
// kinds").
type FormKind string

// Mandatory form kinds.
const (
	KindNPC         FormKind = "NPC_"
	KindWeapon      FormKind = "WEAP"
	KindArmor       FormKind = "ARMO"
	KindContainer   FormKind = "CONT"
	KindDialogTopic FormKind = "DIAL"
	KindTopicInfo   FormKind = "INFO"
	KindScript      FormKind = "SCPT"
)

// formTypeByte is the runtime, build-specific single-byte discriminator
// read at form+8. Only the low, stable range is fixed across builds; the
// INFO value in the upper range is calibrated at startup (spec §4.7, §9).
type formTypeByte = uint8

// Stable, PDB-verified form_type bytes (spec's lower, build-invariant
// range).
const (
	formTypeNPC       formTypeByte = 0x2d
	formTypeWeapon    formTypeByte = 0x28
	formTypeArmor     formTypeByte = 0x1c
	formTypeContainer formTypeByte = 0x25
	formTypeDialog    formTypeByte = 0x3c
	formTypeScript    formTypeByte = 0x1b
)

// calibratedInfoThreshold is the build-variance boundary (spec §4.7:
// "roughly >= 0x45") above which form_type dispatch requires calibration.
const calibratedInfoThreshold = 0x45

// Origin records whether a FormRecord's fields came from an ESM fragment,
// runtime reconstruction, or both (merged by SemanticMerger).
type Origin struct {
	FromESM     bool
	FromRuntime bool
}

// FormRecord is the polymorphic reconstructed engine object (spec §3).
// Kind-specific fields live in Fields, keyed by field name; the set of
// valid keys for a given Kind is documented by that kind's descriptor
// table in runtime_kinds.go.
type FormRecord struct {
	Kind         FormKind
	FormID       uint32
	EditorID     string
	DisplayName  string
	SourceOffset uint64
	Origin       Origin
	Fields       map[string]any
}

// RuntimeObjectLocation names a candidate form to reconstruct: a file
// offset believed to hold a form header, tagged with the kind the caller
// expects (typically from a hash-table walk or a linked-list traversal).
type RuntimeObjectLocation struct {
	FileOffset uint64
	KindTag    FormKind
}

// RuntimeDiagnostics accumulates counters a caller can inspect after a
// reconstruction pass without failing the run (spec §8 S6
// "unresolved_target tally").
type RuntimeDiagnostics struct {
	UnresolvedTargets int
	RejectedRecords   int
	BoundedTruncations int
}

// RuntimeStructReader walks the engine heap captured in a minidump to
// reconstruct FormRecord objects (spec §4.7). Every pointer-follow is
// bounded; nothing here recurses (spec §9: "the reader never recurses").
type RuntimeStructReader struct {
	src    *DumpSource
	index  *MinidumpIndex
	logger *log.Helper

	calibratedInfoFormType formTypeByte
	calibrated             bool
	calibratedSamples      int

	diag RuntimeDiagnostics
}

// NewRuntimeStructReader builds a reader over src using idx for VA
// resolution. idx may report IsMinidump()==false, in which case every
// pointer-follow fails closed (no VA mapping exists).
func NewRuntimeStructReader(src *DumpSource, idx *MinidumpIndex, logger *log.Helper) *RuntimeStructReader {
	if logger == nil {
		logger = log.NewNopHelper()
	}
	return &RuntimeStructReader{src: src, index: idx, logger: logger, calibratedInfoFormType: calibratedInfoThreshold}
}

// Diagnostics returns a snapshot of the accumulated run diagnostics.
func (r *RuntimeStructReader) Diagnostics() RuntimeDiagnostics { return r.diag }

// CalibrationInfo reports the INFO form_type calibration outcome (spec
// §4.7, §9, §13): the byte value picked and whether calibration ever
// ran. Surfaced by the `analyze` CLI command.
func (r *RuntimeStructReader) CalibrationInfo() (formType formTypeByte, samples int, calibrated bool) {
	return r.calibratedInfoFormType, r.calibratedSamples, r.calibrated
}

func (r *RuntimeStructReader) reader() *BinaryReader {
	return NewBinaryReader(r.src.Bytes())
}

// resolveVA resolves va to a file offset, counting the unresolved-target
// diagnostic tally on failure (spec §8 S6).
func (r *RuntimeStructReader) resolveVA(va uint32) (uint64, bool) {
	off, ok := r.index.VAToFileOffset(uint64(va))
	if !ok {
		r.diag.UnresolvedTargets++
	}
	return off, ok
}

// readFormHeader reads the two PDB-stable fields every engine form
// begins with: a 1-byte form_type at +8, a big-endian 4-byte form_id at
// +12 (spec §4.7 "Form header read").
func (r *RuntimeStructReader) readFormHeader(fileOffset uint64) (formType formTypeByte, formID uint32, ok bool) {
	br := r.reader()
	ft, err := br.U8(int(fileOffset) + 8)
	if err != nil {
		return 0, 0, false
	}
	fid, err := br.U32(int(fileOffset)+12, BigEndian)
	if err != nil {
		return 0, 0, false
	}
	return ft, fid, true
}

// kindForFormType dispatches a raw form_type byte to a FormKind, routing
// bytes at or above the calibration threshold through the calibrated
// INFO value (spec §4.7, §9).
func (r *RuntimeStructReader) kindForFormType(ft formTypeByte) (FormKind, bool) {
	switch ft {
	case formTypeNPC:
		return KindNPC, true
	case formTypeWeapon:
		return KindWeapon, true
	case formTypeArmor:
		return KindArmor, true
	case formTypeContainer:
		return KindContainer, true
	case formTypeDialog:
		return KindDialogTopic, true
	case formTypeScript:
		return KindScript, true
	}
	if r.calibrated && ft == r.calibratedInfoFormType {
		return KindTopicInfo, true
	}
	return "", false
}

// ReadString decodes an engine variable-length string: { data_ptr: u32 BE,
// length: u16 BE, capacity: u16 BE }, read from the 8-byte struct at
// structOffset. Reads up to length bytes from the resolved data_ptr,
// stopping at the first NUL (spec §4.7 "Variable-length string").
func (r *RuntimeStructReader) ReadString(structOffset uint64) (string, bool) {
	br := r.reader()
	dataPtr, err := br.U32(int(structOffset), BigEndian)
	if err != nil {
		return "", false
	}
	length, err := br.U16(int(structOffset)+4, BigEndian)
	if err != nil {
		return "", false
	}
	if dataPtr == 0 || length == 0 {
		return "", true
	}
	fileOff, ok := r.resolveVA(dataPtr)
	if !ok {
		return "", false
	}
	s, err := br.CStringAt(int(fileOff), int(length))
	if err != nil {
		return "", false
	}
	return s, true
}

// maxLinkedListNodes bounds singly linked list traversal (spec §4.7,
// §9: "<=50 linked-list nodes").
const maxLinkedListNodes = 50

// WalkLinkedList follows a singly linked list rooted at headVA, where
// each node holds its big-endian next pointer at nextFieldOffset within
// the node. visit receives each node's file offset and decides whether
// to keep walking.
func (r *RuntimeStructReader) WalkLinkedList(headVA uint32, nextFieldOffset int, visit func(nodeFileOffset uint64) bool) {
	cur := headVA
	br := r.reader()
	for i := 0; i < maxLinkedListNodes && cur != 0; i++ {
		off, ok := r.resolveVA(cur)
		if !ok {
			return
		}
		if visit != nil && !visit(off) {
			return
		}
		next, err := br.U32(int(off)+nextFieldOffset, BigEndian)
		if err != nil {
			return
		}
		cur = next
	}
}

// maxDynamicArrayEntries bounds dynamic array iteration (spec §4.7,
// §9: "<=4096 array entries").
const maxDynamicArrayEntries = 4096

// WalkDynamicArray iterates a { buffer_ptr, count } dynamic array rooted
// at structOffset, where bufferPtrOffset/countOffset locate the two
// big-endian u32 fields within the struct and elementSize is the size of each
// element in the resolved buffer. visit receives each element's file
// offset.
func (r *RuntimeStructReader) WalkDynamicArray(structOffset uint64, bufferPtrOffset, countOffset, elementSize int, visit func(elementFileOffset uint64, index int) bool) {
	br := r.reader()
	bufferPtr, err := br.U32(int(structOffset)+bufferPtrOffset, BigEndian)
	if err != nil || bufferPtr == 0 {
		return
	}
	count, err := br.U32(int(structOffset)+countOffset, BigEndian)
	if err != nil {
		return
	}
	if count > maxDynamicArrayEntries {
		r.diag.BoundedTruncations++
		count = maxDynamicArrayEntries
	}
	bufOff, ok := r.resolveVA(bufferPtr)
	if !ok {
		return
	}
	for i := uint32(0); i < count; i++ {
		elemOff := bufOff + uint64(i)*uint64(elementSize)
		if visit != nil && !visit(elemOff, int(i)) {
			return
		}
	}
}

// FormIDReferenceAt reads the FormID of the engine form that a pointer
// field (at fieldOffset within a struct positioned at structOffset)
// refers to. This is the "FormID reference via pointer" sub-contract
// (spec §4.7): the target's FormID lives at target+12, stable across all
// form kinds. A null pointer is a legitimate "no reference" value (e.g. a
// weapon with no ammo form) and returns (0, true); only a non-null
// pointer that fails to resolve is a genuine failure.
func (r *RuntimeStructReader) FormIDReferenceAt(structOffset uint64, fieldOffset int) (uint32, bool) {
	br := r.reader()
	ptr, err := br.U32(int(structOffset)+fieldOffset, BigEndian)
	if err != nil {
		return 0, false
	}
	if ptr == 0 {
		return 0, true
	}
	targetOff, ok := r.resolveVA(ptr)
	if !ok {
		return 0, false
	}
	formID, err := br.U32(int(targetOff)+12, BigEndian)
	if err != nil {
		return 0, false
	}
	return formID, true
}
