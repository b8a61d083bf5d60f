// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/relicforge/dumpcarver/log"
)

// ConversionResult is what a ConverterGateway call returns on success
// (spec §4.9).
type ConversionResult struct {
	OutputBytes    []byte
	AuxiliaryBytes []byte
	Notes          string
	IsPartial      bool
}

// ConverterGateway is the opaque external-format-conversion boundary
// (spec §1 "invoked as opaque subprocesses or libraries via a
// well-defined conversion interface", §4.9). The core never implements
// LZX decompression or deswizzling itself; it only calls through this
// interface and falls back to the raw bytes on failure.
type ConverterGateway interface {
	Convert(ctx context.Context, kindTag string, input []byte) (ConversionResult, error)
}

// NoopConverter always fails, for runs with conversion disabled. Every
// call falls back to writing the raw input, matching §4.9's "falls back
// to writing the raw input" behaviour.
type NoopConverter struct{}

// Convert implements ConverterGateway by always declining.
func (NoopConverter) Convert(context.Context, string, []byte) (ConversionResult, error) {
	return ConversionResult{}, ErrConversionFailed
}

// SubprocessConverter invokes an external converter binary once per
// call, piping input on stdin and reading output from stdout, bounded
// by a total timeout (spec §4.9: "a single side-effecting call with a
// total timeout"). Grounded on the subprocess-with-timeout shape used
// by xyproto-vibe67's run.go test helpers, adapted from a test-only
// exec.Command call into a bounded production gateway.
type SubprocessConverter struct {
	// BinaryPath is the converter executable. It receives the kind tag
	// as argv[1] and the raw bytes on stdin; it must write the converted
	// bytes to stdout and exit 0 on success.
	BinaryPath string
	Timeout    time.Duration
	Logger     *log.Helper
}

// NewSubprocessConverter builds a gateway with a sane default timeout
// when one is not supplied.
func NewSubprocessConverter(binaryPath string, timeout time.Duration, logger *log.Helper) *SubprocessConverter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNopHelper()
	}
	return &SubprocessConverter{BinaryPath: binaryPath, Timeout: timeout, Logger: logger}
}

// Convert runs the configured subprocess, feeding input on stdin and
// capturing stdout as the converted output. A non-zero exit or timeout
// is reported as ErrConversionFailed; the caller falls back to the raw
// bytes (spec §4.9).
func (c *SubprocessConverter) Convert(ctx context.Context, kindTag string, input []byte) (ConversionResult, error) {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.BinaryPath, kindTag)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.Logger.Warnf("converter %s failed for kind %s: %v (%s)", c.BinaryPath, kindTag, err, stderr.String())
		return ConversionResult{}, ErrConversionFailed
	}

	return ConversionResult{OutputBytes: stdout.Bytes(), Notes: "converted"}, nil
}
