// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "strings"

// Bounds on the editor-ID hash table walk (spec §4.7, §9): at most 200k
// entries visited and 1M total chain steps, protecting against circular
// or corrupted bucket chains.
const (
	maxHashTableEntries    = 200000
	maxHashTableChainSteps = 1000000

	minBucketCount = 1024
	maxBucketCount = 200000

	hashEntrySize = 12 // { next_ptr, key_ptr, value_ptr }, all u32 BE
	pointerSize   = 4  // PowerPC 32-bit
)

// HashTableEntry is one editor-ID -> engine-form binding recovered from
// the global case-insensitive map the engine maintains.
type HashTableEntry struct {
	EditorID       string
	FormFileOffset uint64
	FormVA         uint32
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// LocateEditorIDHashTable searches the dump for the triple-pointer
// pattern { vptr, bucket_array_ptr, entry_count } that identifies the
// engine's global editor-ID map (spec §4.7). Returns the file offset of
// the bucket array and the entry count, or found=false.
func (r *RuntimeStructReader) LocateEditorIDHashTable() (bucketArrayFileOffset uint64, bucketCount uint32, found bool) {
	data := r.src.Bytes()
	br := NewBinaryReader(data)

	for i := 0; i+12 <= len(data); i += 4 {
		count, err := br.U32(i+8, BigEndian)
		if err != nil {
			break
		}
		if count < minBucketCount || count > maxBucketCount || isPowerOfTwo(count) {
			continue
		}
		bucketArrayPtr, err := br.U32(i+4, BigEndian)
		if err != nil {
			continue
		}
		off, ok := r.index.VAToFileOffset(uint64(bucketArrayPtr))
		if !ok {
			continue
		}
		needed := uint64(count) * pointerSize
		if off+needed > uint64(len(data)) {
			continue
		}
		return off, count, true
	}
	return 0, 0, false
}

// WalkEditorIDHashTable follows every bucket's chain of 12-byte
// { next_ptr, key_ptr, value_ptr } entries, resolving key_ptr to an
// editor-ID C-string and value_ptr to the referenced form's file offset.
// Traversal is bounded to maxHashTableEntries entries and
// maxHashTableChainSteps total chain steps, matching spec §4.7/§9.
func (r *RuntimeStructReader) WalkEditorIDHashTable(bucketArrayFileOffset uint64, bucketCount uint32) []HashTableEntry {
	br := r.reader()
	entries := make([]HashTableEntry, 0, 256)

	steps := 0
	for bucket := uint32(0); bucket < bucketCount; bucket++ {
		if len(entries) >= maxHashTableEntries || steps >= maxHashTableChainSteps {
			break
		}
		headVA, err := br.U32(int(bucketArrayFileOffset)+int(bucket)*pointerSize, BigEndian)
		if err != nil || headVA == 0 {
			continue
		}

		cur := headVA
		for cur != 0 {
			steps++
			if len(entries) >= maxHashTableEntries || steps >= maxHashTableChainSteps {
				break
			}
			nodeOff, ok := r.resolveVA(cur)
			if !ok {
				break
			}
			nextPtr, err := br.U32(int(nodeOff), BigEndian)
			if err != nil {
				break
			}
			keyPtr, err := br.U32(int(nodeOff)+4, BigEndian)
			if err != nil {
				break
			}
			valuePtr, err := br.U32(int(nodeOff)+8, BigEndian)
			if err != nil {
				break
			}

			if keyPtr != 0 && valuePtr != 0 {
				keyOff, keyOK := r.resolveVA(keyPtr)
				valueOff, valueOK := r.resolveVA(valuePtr)
				if keyOK && valueOK {
					editorID, err := br.CStringAt(int(keyOff), 256)
					if err == nil {
						entries = append(entries, HashTableEntry{
							EditorID:       editorID,
							FormFileOffset: valueOff,
							FormVA:         valuePtr,
						})
					} else {
						r.diag.RejectedRecords++
					}
				} else {
					r.diag.RejectedRecords++
				}
			}

			cur = nextPtr
		}
	}

	return entries
}

// CalibrateInfoFormType picks the modal form_type byte among forms whose
// editor-ID contains "Topic", restricted to the build-variant range at or
// above calibratedInfoThreshold (spec §4.7, §9). Subsequent kindForFormType
// dispatch in that range uses the calibrated value.
func (r *RuntimeStructReader) CalibrateInfoFormType(entries []HashTableEntry) {
	counts := map[formTypeByte]int{}
	for _, e := range entries {
		if !strings.Contains(e.EditorID, "Topic") {
			continue
		}
		ft, _, ok := r.readFormHeader(e.FormFileOffset)
		if !ok || ft < calibratedInfoThreshold {
			continue
		}
		counts[ft]++
	}

	var best formTypeByte
	bestCount := 0
	for ft, c := range counts {
		if c > bestCount {
			best, bestCount = ft, c
		}
	}
	if bestCount > 0 {
		r.calibratedInfoFormType = best
		r.calibrated = true
		r.calibratedSamples = bestCount
		r.logger.Debugf("calibrated INFO form_type to 0x%02x from %d Topic samples", best, bestCount)
	}
}
