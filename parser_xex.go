// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// Simplified XEX2 header layout (spec §4.6: "extent from header"). All
// fields are big-endian, as in every other Xbox 360 native container.
//
//	+0  Magic "XEX2"
//	+4  ModuleFlags
//	+8  SizeOfHeaders     -- offset where the image body begins
//	+16 SecurityInfoOffset
//	+20 HeaderDirectoryEntryCount
//
// The security info block (at SecurityInfoOffset) begins with its own
// HeaderSize, followed by ImageSize; extent = SizeOfHeaders + ImageSize.
const (
	xexHeaderMinSize    = 24
	xexSecurityInfoSkip = 4 // skip the security block's own HeaderSize field
)

func parseXEX(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	if len(window) < xexHeaderMinSize {
		return ParseResult{}, false
	}
	r := NewBinaryReader(window)

	sizeOfHeaders, err := r.U32(8, BigEndian)
	if err != nil {
		return ParseResult{}, false
	}
	securityInfoOffset, err := r.U32(16, BigEndian)
	if err != nil {
		return ParseResult{}, false
	}
	if securityInfoOffset == 0 || int(securityInfoOffset)+xexSecurityInfoSkip+4 > len(window) {
		return ParseResult{}, false
	}

	imageSize, err := r.U32(int(securityInfoOffset)+xexSecurityInfoSkip, BigEndian)
	if err != nil {
		return ParseResult{}, false
	}

	extent64 := uint64(sizeOfHeaders) + uint64(imageSize)
	if extent64 > uint64(sig.MaxSize) {
		extent64 = uint64(sig.MaxSize)
	}
	clamped, ok := clampExtent(uint32(extent64), sig, len(window))
	if !ok {
		return ParseResult{}, false
	}
	return ParseResult{
		ExtentBytes: clamped,
		Metadata: map[string]any{
			"size_of_headers": sizeOfHeaders,
			"image_size":      imageSize,
		},
	}, true
}
