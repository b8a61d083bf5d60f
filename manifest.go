// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
)

// CarveEntry is one manifest row (spec §3, §6). Append-only during a run;
// JSON field names match the stable manifest schema exactly.
type CarveEntry struct {
	FileType     string  `json:"file_type"`
	Offset       uint64  `json:"offset"`
	SizeInDump   uint32  `json:"size_in_dump"`
	SizeOutput   uint32  `json:"size_output"`
	Filename     string  `json:"filename"`
	IsCompressed bool    `json:"is_compressed"`
	ContentType  *string `json:"content_type"`
	IsPartial    bool    `json:"is_partial"`
	Notes        *string `json:"notes"`
}

// Manifest is the append-only, concurrency-safe collection of CarveEntry
// rows produced during a run. Order is not preserved at insertion time
// (workers race); Sorted restores the stable (file_type, offset) order
// before serialization (spec §5).
type Manifest struct {
	mu      sync.Mutex
	entries []CarveEntry
}

// Add appends e to the manifest. Safe for concurrent use by orchestrator
// workers.
func (m *Manifest) Add(e CarveEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Len returns the number of entries currently recorded.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sorted returns a copy of the manifest entries ordered by (file_type,
// offset), the stable order required at serialization (spec §4.8 step
//10, §6).
func (m *Manifest) Sorted() []CarveEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CarveEntry, len(m.entries))
	copy(out, m.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].FileType != out[j].FileType {
			return out[i].FileType < out[j].FileType
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

// WriteJSON serialises the manifest as a stable JSON array to path.
func (m *Manifest) WriteJSON(path string) error {
	entries := m.Sorted()
	if entries == nil {
		entries = []CarveEntry{}
	}
	buf, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
