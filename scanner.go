// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"context"

	"github.com/relicforge/dumpcarver/log"
)

// CandidateMatch is produced by the scanner and consumed by the
// orchestrator. Transient: it names only a signature and an offset, never
// owns bytes.
type CandidateMatch struct {
	SignatureID string
	Offset      int64
}

type trieNode struct {
	children map[byte]int // byte -> node index
	fail     int
	outputs  []string // signature ids whose pattern ends at this node
}

// SignatureScanner performs a single-pass multi-pattern search over the
// dump using Aho-Corasick (spec §4.5). The trie is built once from the
// registry and is immutable and shared read-only across scans.
type SignatureScanner struct {
	nodes         []trieNode
	patternLens   map[string]int
	maxPatternLen int
	logger        *log.Helper
}

// NewSignatureScanner builds the Aho-Corasick trie and failure links from
// every signature in reg.
func NewSignatureScanner(reg *SignatureRegistry, logger *log.Helper) *SignatureScanner {
	if logger == nil {
		logger = log.NewNopHelper()
	}
	s := &SignatureScanner{logger: logger, patternLens: map[string]int{}}
	s.nodes = append(s.nodes, trieNode{children: map[byte]int{}})

	for _, sig := range reg.All() {
		s.insert(sig.Magic(), sig.ID)
		s.patternLens[sig.ID] = len(sig.Magic())
		if len(sig.Magic()) > s.maxPatternLen {
			s.maxPatternLen = len(sig.Magic())
		}
	}
	s.buildFailureLinks()
	return s
}

// MaxPatternLength returns the longest registered magic, used by
// DumpSource.Chunks to size the window overlap so no match spanning a
// chunk boundary is missed.
func (s *SignatureScanner) MaxPatternLength() int { return s.maxPatternLen }

func (s *SignatureScanner) insert(pattern []byte, id string) {
	cur := 0
	for _, b := range pattern {
		next, ok := s.nodes[cur].children[b]
		if !ok {
			s.nodes = append(s.nodes, trieNode{children: map[byte]int{}})
			next = len(s.nodes) - 1
			s.nodes[cur].children[b] = next
		}
		cur = next
	}
	s.nodes[cur].outputs = append(s.nodes[cur].outputs, id)
}

// buildFailureLinks computes failure links by breadth-first traversal;
// each node's output set is extended with its failure ancestor's outputs
// so overlapping/suffix patterns are never missed.
func (s *SignatureScanner) buildFailureLinks() {
	queue := make([]int, 0, len(s.nodes))
	for b, child := range s.nodes[0].children {
		s.nodes[child].fail = 0
		queue = append(queue, child)
		_ = b
	}

	for qi := 0; qi < len(queue); qi++ {
		cur := queue[qi]
		for b, child := range s.nodes[cur].children {
			queue = append(queue, child)

			fail := s.nodes[cur].fail
			for {
				if next, ok := s.nodes[fail].children[b]; ok && next != child {
					s.nodes[child].fail = next
					break
				}
				if fail == 0 {
					s.nodes[child].fail = 0
					break
				}
				fail = s.nodes[fail].fail
			}
			s.nodes[child].outputs = append(s.nodes[child].outputs, s.nodes[s.nodes[child].fail].outputs...)
		}
	}
}

// CancelFunc reports whether a run has been asked to cancel. Checked
// between scanner windows (spec §5 "Suspension / blocking points").
type CancelFunc func() bool

// Scan walks every overlapping window from src in ascending order,
// emitting CandidateMatch values on a channel in ascending offset within
// each window. A match spanning a window boundary is covered by the
// overlap and may be emitted once per window it appears in; the
// orchestrator collapses duplicate (signature, offset) pairs (spec §4.5,
// §4.8 step 3). onProgress receives a monotonic [0, 1] value across the
// whole scan, mapped to the [0, 0.5] scan half of the run (spec §4.8).
func (s *SignatureScanner) Scan(ctx context.Context, src *DumpSource, cancel CancelFunc, onProgress func(float64)) <-chan CandidateMatch {
	out := make(chan CandidateMatch, 256)

	go func() {
		defer close(out)

		total := src.Len()
		if total == 0 {
			return
		}

		overlap := s.maxPatternLen
		if overlap < 1 {
			overlap = 1
		}
		chunkSize := 1 << 20 // 1 MiB
		if chunkSize <= overlap {
			chunkSize = overlap * 4
		}

		stream := src.Chunks(chunkSize, overlap-1)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if cancel != nil && cancel() {
				s.logger.Debugf("scan cancelled at progress checkpoint")
				return
			}

			chunk, ok := stream.Next()
			if !ok {
				break
			}

			state := 0
			for i, b := range chunk.Data {
				for {
					if next, has := s.nodes[state].children[b]; has {
						state = next
						break
					}
					if state == 0 {
						break
					}
					state = s.nodes[state].fail
				}

				if len(s.nodes[state].outputs) == 0 {
					continue
				}
				for _, id := range s.nodes[state].outputs {
					patLen := s.patternLenFor(id)
					globalOffset := chunk.Base + int64(i) - int64(patLen) + 1
					if globalOffset < 0 {
						continue
					}
					// A match re-seen inside this window's repeated overlap
					// prefix is a legitimate re-emission (it occurred in the
					// previous window too); the orchestrator is the
					// authoritative dedup point (spec §4.5, §4.8 step 3).
					select {
					case out <- CandidateMatch{SignatureID: id, Offset: globalOffset}:
					case <-ctx.Done():
						return
					}
				}
			}

			if onProgress != nil {
				progressed := float64(chunk.Base+int64(len(chunk.Data))) / float64(total)
				onProgress(progressed * 0.5)
			}
		}
	}()

	return out
}

// patternLenFor is a small helper kept here rather than threaded through
// the trie since outputs only carry ids; callers already hold the
// registry, but the scanner is built independently of it post-NewSignatureScanner,
// so pattern lengths are cached at insert time.
func (s *SignatureScanner) patternLenFor(id string) int {
	if l, ok := s.patternLens[id]; ok {
		return l
	}
	return 0
}
