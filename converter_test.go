// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestNoopConverterAlwaysFails(t *testing.T) {
	var c NoopConverter
	_, err := c.Convert(context.Background(), "ddx", []byte("anything"))
	if err != ErrConversionFailed {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
}

func TestSubprocessConverterMissingBinaryFails(t *testing.T) {
	c := NewSubprocessConverter("/no/such/converter-binary", time.Second, nil)
	_, err := c.Convert(context.Background(), "ddx", []byte("payload"))
	if err != ErrConversionFailed {
		t.Fatalf("expected ErrConversionFailed for a missing binary, got %v", err)
	}
}

func TestSubprocessConverterPipesStdinToStdout(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available in this environment")
	}
	c := NewSubprocessConverter(catPath, 5*time.Second, nil)
	input := []byte("round trip me")
	// The kind tag is passed as argv[1]; "-" makes cat echo its stdin.
	result, err := c.Convert(context.Background(), "-", input)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if string(result.OutputBytes) != string(input) {
		t.Fatalf("OutputBytes = %q, want %q", result.OutputBytes, input)
	}
}

func TestNewSubprocessConverterFillsDefaultTimeout(t *testing.T) {
	c := NewSubprocessConverter("/bin/true", 0, nil)
	if c.Timeout != 30*time.Second {
		t.Fatalf("Timeout = %v, want default of 30s", c.Timeout)
	}
}
