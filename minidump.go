// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"sort"

	"golang.org/x/text/encoding/unicode"

	"github.com/relicforge/dumpcarver/log"
)

// Minidump magic and stream-type constants (Microsoft MDMP container).
const (
	minidumpSignature = 0x504d444d // "MDMP" little-endian

	streamSystemInfo   = 7
	streamModuleList   = 4
	streamMemory64List = 9

	maxStreamCount = 100
	maxModuleCount = 1000
	maxRegionCount = 10000

	// ProcessorArchitecturePowerPC is the Windows SYSTEM_INFO value
	// reported by Xbox 360 (big-endian PowerPC) process dumps.
	ProcessorArchitecturePowerPC = 0x0003
)

// MemoryRegion maps a contiguous virtual-address range to file bytes.
// Invariants: FileOffset+Size <= dump length; regions do not overlap in
// VirtualAddress ranges. Created once at minidump parse time, immutable
// thereafter.
type MemoryRegion struct {
	VirtualAddress uint64
	Size           uint64
	FileOffset     uint64
}

func (r MemoryRegion) contains(va uint64) bool {
	return va >= r.VirtualAddress && va < r.VirtualAddress+r.Size
}

// Module describes a loaded executable or library image, used only for
// diagnostics and architecture acceptance.
type Module struct {
	Name      string
	BaseVA    uint64
	Size      uint32
	Checksum  uint32
	Timestamp uint32
}

// MinidumpIndex parses the MDMP container's stream directory and exposes
// VA<->file-offset resolution plus module lookups. A dump that is not a
// minidump (a flat image) produces an empty index with no VA mapping;
// callers use IsMinidump to tell the two apart.
type MinidumpIndex struct {
	isMinidump            bool
	processorArchitecture uint16
	regions               []MemoryRegion // sorted by VirtualAddress
	modules                []Module
	logger                 *log.Helper
}

// IsMinidump reports whether the source dump carries an MDMP container.
func (m *MinidumpIndex) IsMinidump() bool { return m.isMinidump }

// IsXbox360 reports whether the processor architecture recorded in the
// System Info stream equals the PowerPC constant.
func (m *MinidumpIndex) IsXbox360() bool {
	return m.processorArchitecture == ProcessorArchitecturePowerPC
}

// Modules returns the parsed Module List, empty for non-minidump dumps.
func (m *MinidumpIndex) Modules() []Module { return m.modules }

// Regions returns the parsed Memory64 List, empty for non-minidump dumps.
func (m *MinidumpIndex) Regions() []MemoryRegion { return m.regions }

// ParseMinidumpIndex inspects the dump for the MDMP magic at offset 0. If
// absent, returns an empty index (ErrNotMinidump-free: non-minidump is a
// valid, not erroneous, outcome) and no VA mapping. If present, a
// malformed stream directory or an out-of-range stream/module/region
// count is fatal (ErrMalformedContainer), per spec §4.3.
func ParseMinidumpIndex(d *DumpSource, logger *log.Helper) (*MinidumpIndex, error) {
	if logger == nil {
		logger = log.NewNopHelper()
	}
	idx := &MinidumpIndex{logger: logger}

	r := NewBinaryReader(d.Bytes())
	if r.Len() < 32 {
		return idx, nil
	}
	magic, err := r.U32(0, LittleEndian)
	if err != nil || magic != minidumpSignature {
		return idx, nil
	}
	idx.isMinidump = true

	streamCount, err := r.U32(12, LittleEndian)
	if err != nil {
		return nil, ErrMalformedContainer
	}
	if streamCount < 1 || streamCount > maxStreamCount {
		return nil, ErrMalformedContainer
	}
	streamDirRva, err := r.U32(16, LittleEndian)
	if err != nil {
		return nil, ErrMalformedContainer
	}

	type directoryEntry struct {
		streamType uint32
		dataSize   uint32
		rva        uint32
	}
	entries := make([]directoryEntry, 0, streamCount)
	for i := uint32(0); i < streamCount; i++ {
		base := int(streamDirRva) + int(i)*12
		streamType, err := r.U32(base, LittleEndian)
		if err != nil {
			return nil, ErrMalformedContainer
		}
		dataSize, err := r.U32(base+4, LittleEndian)
		if err != nil {
			return nil, ErrMalformedContainer
		}
		rva, err := r.U32(base+8, LittleEndian)
		if err != nil {
			return nil, ErrMalformedContainer
		}
		entries = append(entries, directoryEntry{streamType, dataSize, rva})
	}

	for _, e := range entries {
		switch e.streamType {
		case streamSystemInfo:
			arch, err := r.U16(int(e.rva), LittleEndian)
			if err != nil {
				return nil, ErrMalformedContainer
			}
			idx.processorArchitecture = arch

		case streamModuleList:
			if err := idx.parseModuleList(r, e.rva); err != nil {
				return nil, err
			}

		case streamMemory64List:
			if err := idx.parseMemory64List(r, e.rva); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(idx.regions, func(i, j int) bool {
		return idx.regions[i].VirtualAddress < idx.regions[j].VirtualAddress
	})

	return idx, nil
}

const moduleEntrySize = 108

func (idx *MinidumpIndex) parseModuleList(r *BinaryReader, rva uint32) error {
	count, err := r.U32(int(rva), LittleEndian)
	if err != nil {
		return ErrMalformedContainer
	}
	if count > maxModuleCount {
		return ErrMalformedContainer
	}

	utf16dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

	for i := uint32(0); i < count; i++ {
		base := int(rva) + 4 + int(i)*moduleEntrySize
		baseOfImage, err := r.U64(base, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		sizeOfImage, err := r.U32(base+8, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		checksum, err := r.U32(base+12, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		timestamp, err := r.U32(base+16, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		nameRva, err := r.U32(base+20, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}

		name, err := idx.readMinidumpString(r, nameRva, utf16dec)
		if err != nil {
			idx.logger.Warnf("module %d: failed to decode name at rva 0x%x: %v", i, nameRva, err)
			name = ""
		}

		idx.modules = append(idx.modules, Module{
			Name:      name,
			BaseVA:    baseOfImage,
			Size:      sizeOfImage,
			Checksum:  checksum,
			Timestamp: timestamp,
		})
	}
	return nil
}

// readMinidumpString decodes a MINIDUMP_STRING: a u32 byte length followed
// by UTF-16LE data (not NUL-terminated-length-inclusive).
func (idx *MinidumpIndex) readMinidumpString(r *BinaryReader, rva uint32, dec interface{ Bytes([]byte) ([]byte, error) }) (string, error) {
	length, err := r.U32(int(rva), LittleEndian)
	if err != nil {
		return "", err
	}
	if length > 4096 {
		length = 4096
	}
	raw, err := r.Bytes(int(rva)+4, int(length))
	if err != nil {
		return "", err
	}
	decoded, err := dec.Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func (idx *MinidumpIndex) parseMemory64List(r *BinaryReader, rva uint32) error {
	count, err := r.U64(int(rva), LittleEndian)
	if err != nil {
		return ErrMalformedContainer
	}
	if count > maxRegionCount {
		return ErrMalformedContainer
	}
	baseRva, err := r.U64(int(rva)+8, LittleEndian)
	if err != nil {
		return ErrMalformedContainer
	}

	runningOffset := baseRva
	descBase := int(rva) + 16
	for i := uint64(0); i < count; i++ {
		entryOffset := descBase + int(i)*16
		startVA, err := r.U64(entryOffset, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		dataSize, err := r.U64(entryOffset+8, LittleEndian)
		if err != nil {
			return ErrMalformedContainer
		}
		idx.regions = append(idx.regions, MemoryRegion{
			VirtualAddress: startVA,
			Size:           dataSize,
			FileOffset:     runningOffset,
		})
		runningOffset += dataSize
	}
	return nil
}

// VAToFileOffset resolves a virtual address to a file offset via the
// region table, or returns ok=false if unresolved (spec: "unresolved").
func (idx *MinidumpIndex) VAToFileOffset(va uint64) (uint64, bool) {
	i := sort.Search(len(idx.regions), func(i int) bool {
		return idx.regions[i].VirtualAddress+idx.regions[i].Size > va
	})
	if i < len(idx.regions) && idx.regions[i].contains(va) {
		r := idx.regions[i]
		return r.FileOffset + (va - r.VirtualAddress), true
	}
	return 0, false
}

// FileOffsetToVA is the inverse of VAToFileOffset: a linear scan over
// regions (file offsets are not necessarily monotonic with VA ordering,
// so no binary search invariant can be assumed here).
func (idx *MinidumpIndex) FileOffsetToVA(offset uint64) (uint64, bool) {
	for _, r := range idx.regions {
		if offset >= r.FileOffset && offset < r.FileOffset+r.Size {
			return r.VirtualAddress + (offset - r.FileOffset), true
		}
	}
	return 0, false
}

// ModuleForVA returns the module whose image range contains va, if any.
func (idx *MinidumpIndex) ModuleForVA(va uint64) (Module, bool) {
	for _, m := range idx.modules {
		if va >= m.BaseVA && va < m.BaseVA+uint64(m.Size) {
			return m, true
		}
	}
	return Module{}, false
}

// ModuleForOffset returns the module whose image range contains the VA
// that resolves to the given file offset, if any.
func (idx *MinidumpIndex) ModuleForOffset(offset uint64) (Module, bool) {
	va, ok := idx.FileOffsetToVA(offset)
	if !ok {
		return Module{}, false
	}
	return idx.ModuleForVA(va)
}
