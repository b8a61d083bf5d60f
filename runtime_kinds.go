// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// fieldKind names how a descriptor's bytes are interpreted.
type fieldKind int

const (
	fieldU8 fieldKind = iota
	fieldU16
	fieldU32
	fieldF32
	fieldString  // engine variable-length string struct (spec §4.7)
	fieldFormRef // pointer to another form; stores the referenced FormID
)

// fieldDescriptor drives one field's extraction. Offset is the
// PDB-declared offset from the form base; shiftFor supplies the
// consistent displacement the engine inserts between the PDB-declared
// base and the runtime image for most TESBoundObject-derived kinds ("+16
// shift"), or the smaller "+4 shift" for TESTopicInfo (spec §4.7). This is
// a configuration table, not a code path: the runtime offset read is
// Offset plus shiftFor of the record's kind.
type fieldDescriptor struct {
	Name     string
	Offset   int
	Kind     fieldKind
	Optional bool // failure to read does not reject the whole record
}

// boundObjectShift/topicInfoShift are the two empirically established
// runtime displacements (spec §4.7, §9).
const (
	boundObjectShift = 16
	topicInfoShift   = 4
)

func shiftFor(kind FormKind) int {
	if kind == KindTopicInfo {
		return topicInfoShift
	}
	return boundObjectShift
}

// kindDescriptors is the per-kind field table (spec §4.7 "Kind-specific
// field extraction"). Offsets are PDB-declared; shiftFor's displacement is
// added before each read.
var kindDescriptors = map[FormKind][]fieldDescriptor{
	KindNPC: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "health", Offset: 0x1a8, Kind: fieldU32},
		{Name: "level", Offset: 0x1ac, Kind: fieldU16},
		{Name: "race_form_ref", Offset: 0x1b4, Kind: fieldFormRef},
		{Name: "template_form_ref", Offset: 0x1c0, Kind: fieldFormRef},
		// Height/Weight were reported empirically absent across builds
		// (spec §9 Open Questions); kept optional, never block the record.
		{Name: "height", Offset: 484, Kind: fieldF32, Optional: true},
		{Name: "weight", Offset: 488, Kind: fieldF32, Optional: true},
	},
	KindWeapon: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "damage", Offset: 0x98, Kind: fieldU16},
		{Name: "weapon_type", Offset: 0x9c, Kind: fieldU8},
		{Name: "ammo_form_ref", Offset: 0xa4, Kind: fieldFormRef},
	},
	KindArmor: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "armor_rating", Offset: 0x88, Kind: fieldU16},
		{Name: "biped_slot_mask", Offset: 0x8c, Kind: fieldU32},
	},
	KindContainer: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "flags", Offset: 0x7c, Kind: fieldU8},
	},
	KindDialogTopic: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "topic_type", Offset: 0x70, Kind: fieldU8},
	},
	KindTopicInfo: {
		{Name: "prompt", Offset: 0x1c, Kind: fieldString},
		{Name: "speaker_form_ref", Offset: 0x38, Kind: fieldFormRef, Optional: true},
	},
	KindScript: {
		{Name: "full_name", Offset: 0x18, Kind: fieldString},
		{Name: "script_type", Offset: 0x20, Kind: fieldU8},
	},
}

// ReconstructForm implements the state machine in spec §4.7:
// read-header -> per-kind field walk -> emit, demoting to reject on any
// bounded-read failure of a non-optional field. Partial records are
// never emitted.
func (r *RuntimeStructReader) ReconstructForm(loc RuntimeObjectLocation, editorID string) (FormRecord, bool) {
	formType, formID, ok := r.readFormHeader(loc.FileOffset)
	if !ok {
		r.diag.RejectedRecords++
		return FormRecord{}, false
	}

	kind, ok := r.kindForFormType(formType)
	if !ok {
		r.diag.RejectedRecords++
		return FormRecord{}, false
	}
	if loc.KindTag != "" && loc.KindTag != kind {
		// Caller's hint disagreed with the freshly read header; trust the
		// header (it is what the runtime actually laid down) but note the
		// mismatch for callers auditing hash-table mis-tagging.
		r.logger.Debugf("form at offset %d: kind hint %s disagreed with header kind %s", loc.FileOffset, loc.KindTag, kind)
	}

	descriptors, known := kindDescriptors[kind]
	if !known {
		r.diag.RejectedRecords++
		return FormRecord{}, false
	}

	shift := shiftFor(kind)
	br := r.reader()
	fields := make(map[string]any, len(descriptors))
	var displayName string

	for _, d := range descriptors {
		fieldOffset := int(loc.FileOffset) + d.Offset + shift
		v, ok := r.readField(br, fieldOffset, d)
		if !ok {
			if d.Optional {
				continue
			}
			r.diag.RejectedRecords++
			return FormRecord{}, false
		}
		fields[d.Name] = v
		if d.Name == "full_name" || d.Name == "prompt" {
			if s, isStr := v.(string); isStr {
				displayName = s
			}
		}
	}

	return FormRecord{
		Kind:         kind,
		FormID:       formID,
		EditorID:     editorID,
		DisplayName:  displayName,
		SourceOffset: loc.FileOffset,
		Origin:       Origin{FromRuntime: true},
		Fields:       fields,
	}, true
}

func (r *RuntimeStructReader) readField(br *BinaryReader, offset int, d fieldDescriptor) (any, bool) {
	switch d.Kind {
	case fieldU8:
		v, err := br.U8(offset)
		return v, err == nil
	case fieldU16:
		v, err := br.U16(offset, BigEndian)
		return v, err == nil
	case fieldU32:
		v, err := br.U32(offset, BigEndian)
		return v, err == nil
	case fieldF32:
		v, err := br.F32(offset, BigEndian)
		return v, err == nil
	case fieldString:
		s, ok := r.ReadString(uint64(offset))
		return s, ok
	case fieldFormRef:
		formID, ok := r.FormIDReferenceAt(uint64(offset), 0)
		return formID, ok
	default:
		return nil, false
	}
}
