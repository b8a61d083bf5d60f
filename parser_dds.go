// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package carver

// DDS header layout (spec §4.6). Magic "DDS " (4 bytes) followed by a
// 124-byte DDS_HEADER. Both little-endian (PC-origin) and big-endian
// (Xbox-origin) headers occur embedded in the same dump; the orientation
// whose declared dimensions and header size make sense wins.
const (
	ddsHeaderSize      = 128 // magic + DDS_HEADER
	ddsDeclaredHdrSize = 124
	ddsMaxDimension    = 16384
)

// fourCCBytesPerPixel maps a DDS pixel-format FourCC to its bytes-per-texel
// ratio, per the spec's small codec table.
var fourCCBytesPerPixel = map[string]float64{
	"DXT1": 0.5,
	"DXT3": 1.0,
	"DXT5": 1.0,
	"BC4U": 1.0,
	"BC4S": 1.0,
	"BC5U": 1.0,
	"BC5S": 1.0,
}

func parseDDS(window []byte, sig Signature, ctx ParserContext) (ParseResult, bool) {
	if len(window) < ddsHeaderSize {
		return ParseResult{}, false
	}
	r := NewBinaryReader(window)

	hdrSizeLE, errLE := r.U32(4, LittleEndian)
	hdrSizeBE, errBE := r.U32(4, BigEndian)

	tryOrder := func(order ByteOrder) (width, height, mipCount uint32, fourCC string, rgbBitCount uint32, ok bool) {
		w, err1 := r.U32(16, order)
		h, err2 := r.U32(12, order)
		mips, err3 := r.U32(28, order)
		cc, err4 := r.Bytes(84, 4)
		bits, err5 := r.U32(88, order)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return 0, 0, 0, "", 0, false
		}
		if w == 0 || h == 0 || w > ddsMaxDimension || h > ddsMaxDimension {
			return 0, 0, 0, "", 0, false
		}
		return w, h, mips, string(cc), bits, true
	}

	var order ByteOrder
	switch {
	case errLE == nil && hdrSizeLE == ddsDeclaredHdrSize:
		order = LittleEndian
	case errBE == nil && hdrSizeBE == ddsDeclaredHdrSize:
		order = BigEndian
	default:
		return ParseResult{}, false
	}

	width, height, mipCount, fourCC, rgbBitCount, ok := tryOrder(order)
	if !ok {
		// Declared header size matched one orientation but dimensions did
		// not make sense in it; try the other before rejecting.
		order = otherOrder(order)
		width, height, mipCount, fourCC, rgbBitCount, ok = tryOrder(order)
		if !ok {
			return ParseResult{}, false
		}
	}

	bpp, known := fourCCBytesPerPixel[fourCC]
	if !known {
		bpp = float64(rgbBitCount) / 8.0
		if bpp <= 0 {
			bpp = 4.0 // RGBA default per spec's codec table
		}
	}

	if mipCount == 0 {
		mipCount = 1
	}
	var texelTotal float64
	w, h := float64(width), float64(height)
	for i := uint32(0); i < mipCount && (w >= 1 || h >= 1); i++ {
		mw, mh := w, h
		if mw < 1 {
			mw = 1
		}
		if mh < 1 {
			mh = 1
		}
		texelTotal += mw * mh
		w /= 2
		h /= 2
	}

	extent := uint32(float64(ddsHeaderSize) + texelTotal*bpp)
	clamped, ok := clampExtent(extent, sig, len(window))
	if !ok {
		return ParseResult{}, false
	}

	return ParseResult{
		ExtentBytes: clamped,
		Metadata: map[string]any{
			"width":      width,
			"height":     height,
			"mip_count":  mipCount,
			"fourcc":     fourCC,
			"byte_order": order,
		},
	}, true
}

func otherOrder(o ByteOrder) ByteOrder {
	if o == LittleEndian {
		return BigEndian
	}
	return LittleEndian
}
