// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/relicforge/dumpcarver/log"
)

// defaultPerTypeCap bounds the per-signature candidate queue (spec §4.8
// step 2: "drop when the per-type cap is reached; default 10 000").
const defaultPerTypeCap = 10000

// headerWindowCap bounds how much of a candidate's declared max_size is
// actually read before dispatch (spec §4.8 step 4a: "min(max_size, 64
// KiB)").
const headerWindowCap = 64 * 1024

// RunOptions configures a CarveRun. Mirrors saferwall/pe's file.go
// Options struct: a plain struct with zero-value-friendly fields, with
// defaults filled in by NewCarveRun rather than demanded of the caller.
type RunOptions struct {
	OutputRoot  string
	DumpStem    string
	WorkerCount int
	PerTypeCap  int

	Converter    ConverterGateway
	ConvertKinds map[string]bool // signature IDs routed through Converter

	Cancel CancelFunc
	Logger *log.Helper
}

func (o *RunOptions) fillDefaults() {
	if o.WorkerCount <= 0 {
		o.WorkerCount = runtime.NumCPU()
	}
	if o.PerTypeCap <= 0 {
		o.PerTypeCap = defaultPerTypeCap
	}
	if o.Converter == nil {
		o.Converter = NoopConverter{}
	}
	if o.Logger == nil {
		o.Logger = log.NewNopHelper()
	}
	if o.DumpStem == "" {
		o.DumpStem = "dump"
	}
}

// CarveRun owns all per-invocation state for one carve: the manifest,
// the overlap interval list, and the worker pool (spec §9: "Per-run
// state ... is owned by a CarveRun handle created per invocation").
type CarveRun struct {
	src     *DumpSource
	index   *MinidumpIndex
	reg     *SignatureRegistry
	scanner *SignatureScanner
	parsers map[ParserKind]FormatParser
	opts    RunOptions

	manifest *Manifest
	diag     *Diagnostics

	overlapMu sync.Mutex
	overlap   *overlapIndex

	dirMu      sync.Mutex
	madeDirs   map[string]bool
	nameMu     sync.Mutex
	nameCounts map[string]int
}

// NewCarveRun builds a CarveRun over an already-opened dump and parsed
// index, using reg's registry-derived scanner and parser table.
func NewCarveRun(src *DumpSource, index *MinidumpIndex, reg *SignatureRegistry, opts RunOptions) *CarveRun {
	opts.fillDefaults()
	return &CarveRun{
		src:        src,
		index:      index,
		reg:        reg,
		scanner:    NewSignatureScanner(reg, opts.Logger),
		parsers:    defaultParserTable(),
		opts:       opts,
		manifest:   &Manifest{},
		diag:       NewDiagnostics(),
		overlap:    newOverlapIndex(),
		madeDirs:   map[string]bool{},
		nameCounts: map[string]int{},
	}
}

type acceptedCandidate struct {
	match  CandidateMatch
	sig    Signature
	result ParseResult
}

// Execute drives the full scan -> dedup -> parse -> overlap -> write
// pipeline (spec §4.8). onProgress receives a monotonic [0, 1] value
// across the whole run; nil is a valid no-op sink.
func (run *CarveRun) Execute(ctx context.Context, onProgress func(float64)) (*Manifest, *Diagnostics, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	// Step 2-3: scan and dedup. The scanner already reports ascending
	// offsets within its own pass; we fold in dedup and per-type capping
	// as matches arrive rather than buffering twice.
	candidates, err := run.collectCandidates(ctx, onProgress)
	if err != nil {
		return run.manifest, run.diag, err
	}

	if run.cancelled() {
		return run.manifest, run.diag, ErrCancelled
	}

	// Step 4: parse dispatch, embarrassingly parallel per candidate.
	outcomes := make([]*acceptedCandidate, len(candidates))
	var completed int64
	total := int64(len(candidates))

	run.parallelFor(run.opts.WorkerCount, len(candidates), func(i int) {
		if run.cancelled() {
			return
		}
		m := candidates[i]
		sig, ok := run.reg.ByID(m.SignatureID)
		if !ok {
			return
		}
		window := run.windowAt(m.Offset, sig.MaxSize)
		result, ok := run.dispatch(window, sig)
		if !ok {
			run.diag.recordReject(sig.ID)
			return
		}
		if !validExtent(result.ExtentBytes, sig, m.Offset, run.src.Len()) {
			run.diag.recordReject(sig.ID)
			return
		}
		outcomes[i] = &acceptedCandidate{match: m, sig: sig, result: result}

		done := atomic.AddInt64(&completed, 1)
		onProgress(0.5 + 0.25*float64(done)/float64(maxInt64(total, 1)))
	})

	// Step 5: overlap resolution, strictly in ascending-offset order
	// (already the candidates' order) since TryClaim's outcome depends on
	// arrival order only through priority/extent/offset, never wall time.
	var survivors []*acceptedCandidate
	for _, oc := range outcomes {
		if oc == nil {
			continue
		}
		start := oc.match.Offset
		end := start + int64(oc.result.ExtentBytes)
		priority := run.reg.Priority(oc.sig.ID)
		accepted, evicted := run.overlap.TryClaim(start, end, oc.sig.ID, priority)
		if !accepted {
			run.diag.recordOverlapEvicted(oc.sig.ID)
			continue
		}
		for _, evID := range evicted {
			run.diag.recordOverlapEvicted(evID)
		}
		survivors = run.pruneEvicted(survivors, start, end)
		survivors = append(survivors, oc)
	}

	// Steps 6-9: directory creation, naming, write, optional conversion.
	// Parallel across survivors; each worker only touches its own
	// candidate plus the mutex-guarded directory/name caches and the
	// append-only manifest.
	var writeCompleted int64
	writeTotal := int64(len(survivors))
	run.parallelFor(run.opts.WorkerCount, len(survivors), func(i int) {
		if run.cancelled() {
			return
		}
		run.writeSurvivor(ctx, survivors[i])
		done := atomic.AddInt64(&writeCompleted, 1)
		onProgress(0.75 + 0.25*float64(done)/float64(maxInt64(writeTotal, 1)))
	})

	onProgress(1.0)

	if run.cancelled() {
		return run.manifest, run.diag, ErrCancelled
	}
	return run.manifest, run.diag, nil
}

// pruneEvicted removes any already-kept survivor whose byte range
// overlaps the new claim [claimStart, claimEnd) that just won TryClaim —
// needed because a later, higher-priority candidate can retroactively
// beat an earlier one already appended to survivors.
func (run *CarveRun) pruneEvicted(survivors []*acceptedCandidate, claimStart, claimEnd int64) []*acceptedCandidate {
	kept := survivors[:0]
	for _, s := range survivors {
		sStart := s.match.Offset
		sEnd := sStart + int64(s.result.ExtentBytes)
		if sStart < claimEnd && sEnd > claimStart {
			continue // superseded by the new claim
		}
		kept = append(kept, s)
	}
	return kept
}

type candidateKey struct {
	id  string
	off int64
}

// collectCandidates runs the scan pass and folds in the orchestrator's
// own dedup and per-type capping responsibility (spec §4.5, §4.8 steps
// 2-3).
func (run *CarveRun) collectCandidates(ctx context.Context, onProgress func(float64)) ([]CandidateMatch, error) {
	seen := map[candidateKey]bool{}
	perType := map[string]int{}
	var out []CandidateMatch

	ch := run.scanner.Scan(ctx, run.src, CancelFunc(run.opts.Cancel), func(p float64) { onProgress(p) })
	for m := range ch {
		run.diag.ScanMatchesEmitted++
		key := candidateKey{id: m.SignatureID, off: m.Offset}
		if seen[key] {
			run.diag.CandidatesDeduped++
			continue
		}
		seen[key] = true

		if perType[m.SignatureID] >= run.opts.PerTypeCap {
			run.diag.recordCapDrop(m.SignatureID)
			continue
		}
		perType[m.SignatureID]++
		out = append(out, m)
	}
	return out, nil
}

func (run *CarveRun) cancelled() bool {
	return run.opts.Cancel != nil && run.opts.Cancel()
}

// windowAt returns a read-only, bounds-clamped view starting at offset
// sized to min(maxSize, headerWindowCap) bytes, or as many as the dump
// actually has remaining.
func (run *CarveRun) windowAt(offset int64, maxSize uint32) []byte {
	if offset < 0 || offset >= run.src.Len() {
		return nil
	}
	want := int64(maxSize)
	if want > headerWindowCap {
		want = headerWindowCap
	}
	avail := run.src.Len() - offset
	if want > avail {
		want = avail
	}
	data := run.src.Bytes()
	return data[offset : offset+want]
}

func (run *CarveRun) dispatch(window []byte, sig Signature) (ParseResult, bool) {
	parser, ok := run.parsers[sig.ParserKind]
	if !ok {
		return ParseResult{}, false
	}
	return parser(window, sig, ParserContext{Index: run.index})
}

// validExtent re-checks the invariant every FormatParser is already
// required to uphold (spec §8 property 2), defending against a
// misbehaving or future parser rather than duplicating clampExtent's
// logic.
func validExtent(extent uint32, sig Signature, offset int64, dumpLen int64) bool {
	if extent < sig.MinSize || extent > sig.MaxSize {
		return false
	}
	return offset+int64(extent) <= dumpLen
}

// writeSurvivor performs steps 6-9 for a single surviving candidate:
// directory creation, filename computation, write, optional converter
// pass.
func (run *CarveRun) writeSurvivor(ctx context.Context, oc *acceptedCandidate) {
	folder := filepath.Join(run.opts.OutputRoot, run.opts.DumpStem, oc.sig.OutputFolder)
	if err := run.ensureDir(folder); err != nil {
		run.opts.Logger.Warnf("mkdir %s: %v", folder, err)
		run.diag.recordWriteFailure()
		return
	}

	name := sanitizeFilename(suggestedNameOf(oc.result))
	if name == "" {
		name = fmt.Sprintf("%08X", oc.match.Offset)
	}
	name += oc.sig.Extension
	finalName := run.reserveName(folder, name)

	data := run.windowAt(oc.match.Offset, oc.result.ExtentBytes)
	if len(data) < int(oc.result.ExtentBytes) {
		run.opts.Logger.Warnf("candidate at %d: extent %d exceeds available window", oc.match.Offset, oc.result.ExtentBytes)
		run.diag.recordWriteFailure()
		return
	}

	if run.cancelled() {
		return
	}
	path := filepath.Join(folder, finalName)
	if err := os.WriteFile(path, data[:oc.result.ExtentBytes], 0o644); err != nil {
		run.opts.Logger.Warnf("write %s: %v", path, err)
		run.diag.recordWriteFailure()
		return
	}

	entry := CarveEntry{
		FileType:   oc.sig.ID,
		Offset:     uint64(oc.match.Offset),
		SizeInDump: oc.result.ExtentBytes,
		SizeOutput: oc.result.ExtentBytes,
		Filename:   filepath.Join(oc.sig.OutputFolder, finalName),
	}

	if run.opts.ConvertKinds[oc.sig.ID] {
		run.runConverter(ctx, oc, data[:oc.result.ExtentBytes], &entry)
	}

	run.manifest.Add(entry)
}

func (run *CarveRun) runConverter(ctx context.Context, oc *acceptedCandidate, raw []byte, entry *CarveEntry) {
	result, err := run.opts.Converter.Convert(ctx, oc.sig.ID, raw)
	if err != nil {
		run.diag.recordConversionFailure()
		run.opts.Logger.Warnf("conversion failed for %s at %d: %v", oc.sig.ID, oc.match.Offset, err)
		return
	}

	convFolder := filepath.Join(run.opts.OutputRoot, run.opts.DumpStem, oc.sig.OutputFolder+"_converted")
	if err := run.ensureDir(convFolder); err != nil {
		run.diag.recordConversionFailure()
		return
	}
	convName := strings.TrimSuffix(filepath.Base(entry.Filename), oc.sig.Extension) + ".converted"
	convPath := filepath.Join(convFolder, convName)
	if err := os.WriteFile(convPath, result.OutputBytes, 0o644); err != nil {
		run.diag.recordConversionFailure()
		run.opts.Logger.Warnf("write converted output %s: %v", convPath, err)
		return
	}

	entry.IsPartial = result.IsPartial
	entry.ContentType = strPtr("converted")
	entry.Notes = strPtr(result.Notes)
}

func (run *CarveRun) ensureDir(dir string) error {
	run.dirMu.Lock()
	defer run.dirMu.Unlock()
	if run.madeDirs[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	run.madeDirs[dir] = true
	return nil
}

// reserveName returns a filename unique within folder, appending
// "_{counter}" on collision (spec §4.8 step 7).
func (run *CarveRun) reserveName(folder, name string) string {
	run.nameMu.Lock()
	defer run.nameMu.Unlock()
	key := filepath.Join(folder, name)
	n := run.nameCounts[key]
	run.nameCounts[key] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

func suggestedNameOf(r ParseResult) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata["safe_name"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// sanitizeFilename strips path separators and non-printable bytes from
// a parser-suggested name so it cannot escape the output folder.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			continue
		case r < 0x20:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// parallelFor runs fn(i) for i in [0, items) across n workers, blocking
// until every call returns. Grounded on the bounded-worker-pool shape
// used throughout the pack for CPU-bound fan-out (spec §5: "a worker
// pool sized to the host's hardware parallelism").
func (run *CarveRun) parallelFor(n, items int, fn func(i int)) {
	if items == 0 {
		return
	}
	if n <= 0 {
		n = 1
	}
	if n > items {
		n = items
	}
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				fn(i)
			}
		}()
	}
	for i := 0; i < items; i++ {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
