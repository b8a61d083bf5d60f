// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import "errors"

// Sentinel errors returned by the extraction engine. Read-bounded failures
// are absorbed at the parser/reader boundary and never escape as these
// values; only the fatal kinds below propagate to the orchestrator.
var (
	// ErrOutOfBounds is returned when a read exceeds the dump length or the
	// caller-supplied window. Recovered locally: callers turn it into a
	// rejected candidate or record, never a fatal run abort.
	ErrOutOfBounds = errors.New("carver: read outside dump boundary")

	// ErrMalformedContainer is returned when a minidump header or stream
	// directory is internally inconsistent. Fatal: aborts the run.
	ErrMalformedContainer = errors.New("carver: malformed minidump container")

	// ErrInvalidInvariant signals a programming error, e.g. a scanner state
	// machine reaching an unreachable transition. Fatal.
	ErrInvalidInvariant = errors.New("carver: internal invariant violated")

	// ErrCancelled is returned when a run observes its cancellation token
	// tripped. Not fatal in the sense of corrupting output: the manifest
	// retains whatever entries completed before cancellation.
	ErrCancelled = errors.New("carver: run cancelled")

	// ErrNotMinidump is returned by operations that require VA resolution
	// -- ReconstructRun.Execute chief among them -- when handed a flat
	// image rather than an MDMP container. ParseMinidumpIndex itself does
	// not return it: a flat dump is a valid, non-erroneous outcome there.
	ErrNotMinidump = errors.New("carver: not a minidump container")

	// ErrExtractionWriteFailed names a filesystem error encountered while
	// writing a carved file. CarveRun does not return it: it logs the
	// error, counts it in Diagnostics.WriteFailures and continues with the
	// next candidate.
	ErrExtractionWriteFailed = errors.New("carver: failed to write extracted file")

	// ErrConversionFailed wraps a non-zero exit or error from the
	// ConverterGateway. Non-fatal: the raw bytes are retained.
	ErrConversionFailed = errors.New("carver: external conversion failed")
)
