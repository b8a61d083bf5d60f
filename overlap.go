// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "sort"

// claimedRange is one accepted record's byte range, tagged with the
// signature priority and identity needed to break overlap ties (spec
// §4.8 step 5, §8 property 4).
type claimedRange struct {
	start, end int64 // [start, end)
	sigID      string
	priority   int
}

// overlapIndex is the sorted interval list of already-claimed ranges
// used by the orchestrator's overlap-resolution step. Overlap probing and
// the insertion position are found by binary search on start offset
// (O(log n)); insertion then shifts the slice tail, so it is O(n).
type overlapIndex struct {
	items []claimedRange
}

// newOverlapIndex returns an empty claimed-range index.
func newOverlapIndex() *overlapIndex {
	return &overlapIndex{}
}

// overlapping returns the indices, in ascending order, of every
// currently claimed range that intersects [start, end); the result is
// empty when nothing intersects.
func (o *overlapIndex) overlapping(start, end int64) []int {
	// Entries are kept sorted by start; any entry whose start is before
	// end and whose end is after start can intersect. Binary search
	// finds the first candidate whose start could still overlap.
	lo := sort.Search(len(o.items), func(i int) bool {
		return o.items[i].end > start
	})
	var hit []int
	for i := lo; i < len(o.items) && o.items[i].start < end; i++ {
		hit = append(hit, i)
	}
	return hit
}

// winner decides which of two overlapping claims survives: higher
// signature priority wins; ties broken by longer extent, then by
// earlier offset (spec §4.8 step 5, §8 property 4).
func winner(a, b claimedRange) claimedRange {
	if a.priority != b.priority {
		if a.priority > b.priority {
			return a
		}
		return b
	}
	aLen, bLen := a.end-a.start, b.end-b.start
	if aLen != bLen {
		if aLen > bLen {
			return a
		}
		return b
	}
	if a.start <= b.start {
		return a
	}
	return b
}

// TryClaim attempts to register [start, end) for sigID/priority. If no
// existing claim overlaps, it is inserted unconditionally and accepted
// is true. If one or more existing claims overlap, each is compared
// against the candidate via winner; the candidate is accepted only if
// it beats every overlapping incumbent, in which case the losing
// incumbents are evicted and replaced by the candidate. Evicted returns
// the sigIDs of any entries removed as a result.
func (o *overlapIndex) TryClaim(start, end int64, sigID string, priority int) (accepted bool, evicted []string) {
	candidate := claimedRange{start: start, end: end, sigID: sigID, priority: priority}

	idxs := o.overlapping(start, end)
	if len(idxs) == 0 {
		o.insert(candidate)
		return true, nil
	}

	for _, i := range idxs {
		if winner(candidate, o.items[i]) != candidate {
			return false, nil
		}
	}

	for _, i := range idxs {
		evicted = append(evicted, o.items[i].sigID)
	}
	o.removeIndices(idxs)
	o.insert(candidate)
	return true, evicted
}

func (o *overlapIndex) insert(c claimedRange) {
	i := sort.Search(len(o.items), func(i int) bool {
		return o.items[i].start >= c.start
	})
	o.items = append(o.items, claimedRange{})
	copy(o.items[i+1:], o.items[i:])
	o.items[i] = c
}

func (o *overlapIndex) removeIndices(idxs []int) {
	remove := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		remove[i] = true
	}
	kept := o.items[:0]
	for i, it := range o.items {
		if !remove[i] {
			kept = append(kept, it)
		}
	}
	o.items = kept
}
