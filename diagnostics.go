// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "sync"

// Diagnostics aggregates the non-fatal conditions observed during a run:
// per-format reject/cap-drop counts, write/conversion failures, and the
// runtime reconstruction tallies (spec §7 "a per-run diagnostic
// report", §8 S6 "unresolved_target tally", §13 supplemented feature).
// A run never fails because of what accumulates here. CarveRun.Execute
// returns it, and the `carve` command reads WriteFailures and
// ConversionFailures from its Snapshot to choose the exit status; no
// diagnostics.json is written.
type Diagnostics struct {
	mu sync.Mutex

	ScanMatchesEmitted  int
	CandidatesDeduped   int
	PerFormatRejected   map[string]int
	PerFormatCapDropped map[string]int
	OverlapEvicted      map[string]int
	WriteFailures       int
	ConversionFailures  int

	Runtime RuntimeDiagnostics

	// Runtime and the three calibration fields below are not filled by
	// CarveRun. The runtime tallies come from RuntimeStructReader.Diagnostics
	// (reported by `reconstruct`), and the build-variance calibration outcome
	// (spec §4.7, §9) from RuntimeStructReader.CalibrationInfo (reported by
	// `analyze`).
	CalibratedInfoFormType  uint8
	CalibratedInfoSamples   int
	CalibrationAttempted    bool
}

// NewDiagnostics returns an empty, ready-to-use Diagnostics.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		PerFormatRejected:   map[string]int{},
		PerFormatCapDropped: map[string]int{},
		OverlapEvicted:      map[string]int{},
	}
}

func (d *Diagnostics) recordReject(sigID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PerFormatRejected[sigID]++
}

func (d *Diagnostics) recordCapDrop(sigID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PerFormatCapDropped[sigID]++
}

func (d *Diagnostics) recordOverlapEvicted(sigID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OverlapEvicted[sigID]++
}

func (d *Diagnostics) recordWriteFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WriteFailures++
}

func (d *Diagnostics) recordConversionFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConversionFailures++
}

// Snapshot returns a copy safe to read without holding the run's lock.
func (d *Diagnostics) Snapshot() Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := Diagnostics{
		ScanMatchesEmitted:     d.ScanMatchesEmitted,
		CandidatesDeduped:      d.CandidatesDeduped,
		PerFormatRejected:      make(map[string]int, len(d.PerFormatRejected)),
		PerFormatCapDropped:    make(map[string]int, len(d.PerFormatCapDropped)),
		OverlapEvicted:         make(map[string]int, len(d.OverlapEvicted)),
		WriteFailures:          d.WriteFailures,
		ConversionFailures:     d.ConversionFailures,
		Runtime:                d.Runtime,
		CalibratedInfoFormType: d.CalibratedInfoFormType,
		CalibratedInfoSamples:  d.CalibratedInfoSamples,
		CalibrationAttempted:   d.CalibrationAttempted,
	}
	for k, v := range d.PerFormatRejected {
		cp.PerFormatRejected[k] = v
	}
	for k, v := range d.PerFormatCapDropped {
		cp.PerFormatCapDropped[k] = v
	}
	for k, v := range d.OverlapEvicted {
		cp.OverlapEvicted[k] = v
	}
	return cp
}
