// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// ParseResult is produced by a FormatParser when a candidate is accepted.
// Invariants (spec §3, §8 property 2): MinSize <= ExtentBytes <= MaxSize
// for the owning signature, and Offset+ExtentBytes <= dump length.
type ParseResult struct {
	ExtentBytes   uint32
	SuggestedName string // optional; CarveRun does not read it: names come from Metadata["safe_name"], else "{offset:08X}"
	Metadata      map[string]any
}

// ParserContext is the injected context a FormatParser may consult for
// cross-references (spec §4.6: "They may consult the MinidumpIndex via an
// injected context"). Parsers never mutate it.
type ParserContext struct {
	Index *MinidumpIndex
}

// FormatParser is the contract every format-specific parser implements:
// given a window positioned at a candidate offset, determine validity and
// byte extent, or reject. Parsers are side-effect free and must bound all
// reads within maxSize lookahead (spec §4.6). Rejection must be cheap: a
// parser returns ok=false the moment its header fails to validate, without
// attempting further work.
type FormatParser func(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool)

// defaultParserTable dispatches a Signature's ParserKind to its
// FormatParser. Each call builds a new map; the orchestrator never
// mutates it after construction, so its workers share it read-only.
func defaultParserTable() map[ParserKind]FormatParser {
	return map[ParserKind]FormatParser{
		ParserDDS:  parseDDS,
		ParserDDX:  parseDDX,
		ParserXMA:  parseXMA,
		ParserPNG:  parsePNG,
		ParserNIF:  parseNIF,
		ParserXEX:  parseXEX,
		ParserLIP:  parseSizedHeader("LIP ", 8, 4),
		ParserSCDA: parseSizedHeader("SCDA", 8, 4),
		ParserXDBF: parseSizedHeader("XDBF", 4, 4),
		ParserXUI:  parseSizedHeader("XUIB", 8, 4),
		ParserESP:  parseESP,
	}
}

// clampExtent bounds a computed extent to the signature's declared
// [MinSize, MaxSize] window and to the bytes actually available in
// window, rejecting when even the clamped extent cannot fit (spec §8 S1:
// "if extent exceeds dump length the candidate is rejected").
func clampExtent(extent uint32, sig Signature, available int) (uint32, bool) {
	if extent < sig.MinSize {
		return 0, false
	}
	if extent > sig.MaxSize {
		extent = sig.MaxSize
	}
	if extent > uint32(available) {
		return 0, false
	}
	return extent, true
}
