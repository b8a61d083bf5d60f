// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

import (
	"encoding/binary"
	"testing"
)

func TestParseXEXComputesExtentFromSecurityInfo(t *testing.T) {
	sig := sigByID(t, "xex")

	const sizeOfHeaders = 4096
	const securityInfoOffset = 24
	const imageSize = 8192

	window := make([]byte, sizeOfHeaders+imageSize)
	copy(window[0:4], "XEX2")
	binary.BigEndian.PutUint32(window[8:12], sizeOfHeaders)
	binary.BigEndian.PutUint32(window[16:20], securityInfoOffset)
	binary.BigEndian.PutUint32(window[securityInfoOffset+xexSecurityInfoSkip:securityInfoOffset+xexSecurityInfoSkip+4], imageSize)

	result, ok := parseXEX(window, sig, ParserContext{})
	if !ok {
		t.Fatal("expected a well-formed XEX2 header to be accepted")
	}
	want := uint32(sizeOfHeaders + imageSize)
	if result.ExtentBytes != want {
		t.Fatalf("ExtentBytes = %d, want %d", result.ExtentBytes, want)
	}
}

func TestParseXEXRejectsZeroSecurityInfoOffset(t *testing.T) {
	sig := sigByID(t, "xex")
	window := make([]byte, xexHeaderMinSize)
	copy(window[0:4], "XEX2")
	// SecurityInfoOffset left as zero.
	_, ok := parseXEX(window, sig, ParserContext{})
	if ok {
		t.Fatal("expected rejection when SecurityInfoOffset is zero")
	}
}

func TestParseXEXRejectsTruncatedHeader(t *testing.T) {
	sig := sigByID(t, "xex")
	window := make([]byte, xexHeaderMinSize-1)
	_, ok := parseXEX(window, sig, ParserContext{})
	if ok {
		t.Fatal("expected rejection for a window shorter than the minimum XEX2 header")
	}
}
