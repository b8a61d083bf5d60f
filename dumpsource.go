// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/relicforge/dumpcarver/log"
)

// DumpSource abstracts the dump as a read-only, randomly addressable byte
// source of known length. Grounded on saferwall/pe's file.go New/NewBytes
// pair: a memory-mapped path for on-disk dumps, a plain byte-slice path
// for in-memory buffers (used by the scanner's own tests and the S1-S6
// literal scenarios in spec §8).
type DumpSource struct {
	data    []byte
	mapping mmap.MMap
	f       *os.File
	logger  *log.Helper
}

// OpenDumpFile memory-maps the dump at path for zero-copy reads.
func OpenDumpFile(path string, logger *log.Helper) (*DumpSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopHelper()
	}
	if info.Size() == 0 {
		// mmap-go rejects zero-length mappings; treat as an empty source.
		f.Close()
		return &DumpSource{data: nil, logger: logger}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &DumpSource{data: m, mapping: m, f: f, logger: logger}, nil
}

// NewDumpSourceFromBytes wraps an in-memory buffer as a DumpSource without
// mapping a file. data is not copied.
func NewDumpSourceFromBytes(data []byte, logger *log.Helper) *DumpSource {
	if logger == nil {
		logger = log.NewNopHelper()
	}
	return &DumpSource{data: data, logger: logger}
}

// Close releases the memory mapping and underlying file handle, if any.
func (d *DumpSource) Close() error {
	if d.mapping != nil {
		if err := d.mapping.Unmap(); err != nil {
			return err
		}
	}
	if d.f != nil {
		return d.f.Close()
	}
	return nil
}

// Len returns the total byte length of the dump.
func (d *DumpSource) Len() int64 { return int64(len(d.data)) }

// Bytes returns the full zero-copy view of the dump. The returned slice
// aliases the mapping and must not be retained beyond the source's
// lifetime.
func (d *DumpSource) Bytes() []byte { return d.data }

// ReadAt returns a bounded window of n bytes starting at offset.
func (d *DumpSource) ReadAt(offset int64, n int) ([]byte, error) {
	if offset < 0 || n < 0 {
		return nil, ErrOutOfBounds
	}
	end := offset + int64(n)
	if end < offset || end > int64(len(d.data)) {
		return nil, ErrOutOfBounds
	}
	return d.data[offset:end], nil
}

// ChunkStream yields overlapping windows of chunkSize bytes, where each
// successive window repeats the last overlap bytes of the prior window.
// Invariant (spec §4.2): for any byte offset o < length, the scanner sees o
// in at least one window, and overlap >= maxPatternLength-1 guarantees no
// match spanning a window boundary is missed.
type ChunkStream struct {
	data      []byte
	chunkSize int
	overlap   int
	pos       int64
	done      bool
}

// Chunk describes one window from a ChunkStream.
type Chunk struct {
	// Base is the absolute dump offset of Data[0].
	Base int64
	Data []byte
}

// Chunks returns a streaming iterator over the dump in chunkSize windows,
// each overlapping the previous by overlap bytes (overlap must be at
// least maxPatternLength-1 for the signature registry in use).
func (d *DumpSource) Chunks(chunkSize, overlap int) *ChunkStream {
	if chunkSize <= overlap {
		chunkSize = overlap + 1
	}
	return &ChunkStream{data: d.data, chunkSize: chunkSize, overlap: overlap}
}

// Next returns the next chunk, or ok=false once the stream is exhausted.
func (s *ChunkStream) Next() (Chunk, bool) {
	if s.done {
		return Chunk{}, false
	}
	if s.pos >= int64(len(s.data)) {
		s.done = true
		return Chunk{}, false
	}

	start := s.pos
	end := start + int64(s.chunkSize)
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	chunk := Chunk{Base: start, Data: s.data[start:end]}

	if end >= int64(len(s.data)) {
		s.done = true
	} else {
		advance := int64(s.chunkSize - s.overlap)
		if advance <= 0 {
			advance = 1
		}
		s.pos = start + advance
	}
	return chunk, true
}
