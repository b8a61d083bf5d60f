// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry/signatures.yaml
var signatureCatalogYAML []byte

// ParserKind names one variant of the FormatParser sum (spec §4.6).
type ParserKind string

// Mandatory parser kinds.
const (
	ParserDDS  ParserKind = "dds"
	ParserDDX  ParserKind = "ddx"
	ParserXMA  ParserKind = "xma"
	ParserPNG  ParserKind = "png"
	ParserNIF  ParserKind = "nif"
	ParserXEX  ParserKind = "xex"
	ParserLIP  ParserKind = "lip"
	ParserSCDA ParserKind = "scda"
	ParserXDBF ParserKind = "xdbf"
	ParserXUI  ParserKind = "xui"
	ParserESP  ParserKind = "esp"
)

// Signature binds a unique magic-byte prefix to a parser kind and carving
// policy. Invariants: non-empty Magic; MinSize <= MaxSize; unique ID.
// Built once at startup from the static registry; read-only thereafter.
type Signature struct {
	ID            string     `yaml:"id"`
	MagicHex      string     `yaml:"magic"`
	MinSize       uint32     `yaml:"min_size"`
	MaxSize       uint32     `yaml:"max_size"`
	ParserKind    ParserKind `yaml:"parser_kind"`
	OutputFolder  string     `yaml:"output_folder"`
	Extension     string     `yaml:"extension"`
	Category      string     `yaml:"category"`
	Priority      int        `yaml:"priority"`
	magic         []byte
}

// Magic returns the decoded magic-byte prefix.
func (s Signature) Magic() []byte { return s.magic }

// SignatureRegistry is the immutable, shared catalog of recognised
// formats, keyed for quick lookup by signature ID.
type SignatureRegistry struct {
	ordered []Signature
	byID    map[string]Signature
}

// LoadSignatureRegistry parses the embedded declarative catalog into an
// immutable registry. Fails with ErrInvalidInvariant if any entry violates
// its invariants (empty magic, MinSize > MaxSize, duplicate ID).
func LoadSignatureRegistry() (*SignatureRegistry, error) {
	var raw []Signature
	if err := yaml.Unmarshal(signatureCatalogYAML, &raw); err != nil {
		return nil, fmt.Errorf("carver: parsing signature catalog: %w", err)
	}

	reg := &SignatureRegistry{byID: make(map[string]Signature, len(raw))}
	for _, sig := range raw {
		magic, err := decodeMagicHex(sig.MagicHex)
		if err != nil {
			return nil, fmt.Errorf("carver: signature %q: %w", sig.ID, err)
		}
		if len(magic) == 0 {
			return nil, fmt.Errorf("carver: signature %q: %w", sig.ID, ErrInvalidInvariant)
		}
		if sig.MinSize > sig.MaxSize {
			return nil, fmt.Errorf("carver: signature %q: min_size > max_size: %w", sig.ID, ErrInvalidInvariant)
		}
		if _, dup := reg.byID[sig.ID]; dup {
			return nil, fmt.Errorf("carver: duplicate signature id %q: %w", sig.ID, ErrInvalidInvariant)
		}
		sig.magic = magic
		reg.ordered = append(reg.ordered, sig)
		reg.byID[sig.ID] = sig
	}

	sort.SliceStable(reg.ordered, func(i, j int) bool {
		return reg.ordered[i].ID < reg.ordered[j].ID
	})
	return reg, nil
}

func decodeMagicHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	return hex.DecodeString(s)
}

// All returns every registered signature, ordered deterministically by ID.
func (r *SignatureRegistry) All() []Signature {
	return r.ordered
}

// ByID looks up a signature by its unique ID.
func (r *SignatureRegistry) ByID(id string) (Signature, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Priority returns the tie-break priority for a signature ID, used by
// overlap resolution (spec §4.8 step 5, §8 property 4). Unknown IDs sort
// last (priority 0).
func (r *SignatureRegistry) Priority(id string) int {
	return r.byID[id].Priority
}
