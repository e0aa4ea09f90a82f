package woff2

import (
	"fmt"
	"math"

	"github.com/tdewolff/parse/v2"
)

// TrueType simple glyph outline flags.
const (
	outlineOnCurve       = 0x01
	outlineXShortVector  = 0x02
	outlineYShortVector  = 0x04
	outlineRepeat        = 0x08
	outlineXIsSame       = 0x10 // sign of x when outlineXShortVector is set
	outlineYIsSame       = 0x20 // sign of y when outlineYShortVector is set
	outlineOverlapSimple = 0x40
)

// TrueType composite glyph component flags.
const (
	componentArgsAreWords       = 0x0001
	componentWeHaveAScale       = 0x0008
	componentMoreComponents     = 0x0020
	componentWeHaveXYScale      = 0x0040
	componentWeHave2x2          = 0x0080
	componentWeHaveInstructions = 0x0100
)

// triplet is one row of the triplet encoding table. size is the total byte
// count including the flag byte; dx and dy are the additive bases for the
// extracted magnitudes. See https://www.w3.org/TR/WOFF2/#triplet_decoding
type triplet struct {
	size, xBits, yBits uint8
	dx, dy             uint16
	xNeg, yNeg         bool
}

var tripletTable = makeTripletTable()

// makeTripletTable builds the fixed 128-row triplet encoding table, keyed by
// the lower seven bits of a point's flag byte.
func makeTripletTable() [128]triplet {
	var table [128]triplet
	for i := range table {
		t := &table[i]
		switch {
		case i < 10:
			t.size, t.yBits = 2, 8
			t.dy = uint16(i>>1) << 8
			t.yNeg = i&1 == 0
		case i < 20:
			t.size, t.xBits = 2, 8
			t.dx = uint16((i-10)>>1) << 8
			t.xNeg = i&1 == 0
		case i < 84:
			k := i - 20
			t.size, t.xBits, t.yBits = 2, 4, 4
			t.dx = 1 + uint16(k&0x30)
			t.dy = 1 + uint16(k&0x0C)<<2
			t.xNeg = k&1 == 0
			t.yNeg = k&2 == 0
		case i < 120:
			k := i - 84
			t.size, t.xBits, t.yBits = 3, 8, 8
			t.dx = 1 + uint16(k/12)<<8
			t.dy = 1 + uint16(k%12>>2)<<8
			t.xNeg = k&1 == 0
			t.yNeg = k&2 == 0
		case i < 124:
			k := i - 120
			t.size, t.xBits, t.yBits = 4, 12, 12
			t.xNeg = k&1 == 0
			t.yNeg = k&2 == 0
		default:
			k := i - 124
			t.size, t.xBits, t.yBits = 5, 16, 16
			t.xNeg = k&1 == 0
			t.yNeg = k&2 == 0
		}
	}
	return table
}

// tripletDelta applies the additive base and sign to an extracted magnitude,
// rejecting values outside int16.
func tripletDelta(base uint16, raw uint32, neg bool) (int16, bool) {
	v := int64(base) + int64(raw)
	if neg {
		v = -v
	}
	if v < math.MinInt16 || math.MaxInt16 < v {
		return 0, false
	}
	return int16(v), true
}

// bitmapReader reads single bits from a byte slice, MSB-first within each byte.
type bitmapReader struct {
	b   []byte
	pos uint32
}

func (r *bitmapReader) read() bool {
	bit := r.b[r.pos>>3]&(0x80>>(r.pos&7)) != 0
	r.pos++
	return bit
}

type glyphPoint struct {
	dx, dy  int16
	onCurve bool
}

// reconstructGlyfLoca reverses the WOFF2 glyf transformation and returns the
// canonical glyf and loca tables. origLocaLength is the loca length declared
// in the table directory.
func reconstructGlyfLoca(b []byte, origLocaLength uint32) ([]byte, []byte, error) {
	r := parse.NewBinaryReader(b)
	_ = r.ReadUint16() // version
	optionFlags := r.ReadUint16()
	numGlyphs := r.ReadUint16()
	indexFormat := r.ReadUint16()
	nContourStreamSize := r.ReadUint32()
	nPointsStreamSize := r.ReadUint32()
	flagStreamSize := r.ReadUint32()
	glyphStreamSize := r.ReadUint32()
	compositeStreamSize := r.ReadUint32()
	bboxStreamSize := r.ReadUint32()
	instructionStreamSize := r.ReadUint32()
	if r.EOF() {
		return nil, nil, fmt.Errorf("glyf: %w", ErrTruncated)
	} else if nContourStreamSize != 2*uint32(numGlyphs) {
		return nil, nil, fmt.Errorf("glyf: nContourStream must hold one entry per glyph: %w", ErrMalformed)
	}

	// the bbox bitmap is the head of the bbox stream, one bit per glyph,
	// rounded up to a multiple of four bytes
	bitmapSize := ((uint32(numGlyphs) + 31) >> 5) << 2
	if bboxStreamSize < bitmapSize {
		return nil, nil, fmt.Errorf("glyf: %w", ErrSubStreamSizeMismatch)
	}
	nContourStream := parse.NewBinaryReader(r.ReadBytes(nContourStreamSize))
	nPointsStream := parse.NewBinaryReader(r.ReadBytes(nPointsStreamSize))
	flagStream := parse.NewBinaryReader(r.ReadBytes(flagStreamSize))
	glyphStream := parse.NewBinaryReader(r.ReadBytes(glyphStreamSize))
	compositeStream := parse.NewBinaryReader(r.ReadBytes(compositeStreamSize))
	bboxBitmap := &bitmapReader{b: r.ReadBytes(bitmapSize)}
	bboxStream := parse.NewBinaryReader(r.ReadBytes(bboxStreamSize - bitmapSize))
	instructionStream := parse.NewBinaryReader(r.ReadBytes(instructionStreamSize))
	var overlapBitmap *bitmapReader
	if optionFlags&0x0001 != 0 {
		overlapBitmap = &bitmapReader{b: r.ReadBytes(bitmapSize)}
	}
	if r.EOF() || r.Len() != 0 {
		return nil, nil, fmt.Errorf("glyf: %w", ErrSubStreamSizeMismatch)
	}

	locaLength := (uint32(numGlyphs) + 1) * 2
	if indexFormat != 0 {
		locaLength *= 2
	}
	if locaLength != origLocaLength {
		return nil, nil, fmt.Errorf("loca: origLength must match numGlyphs+1 entries: %w", ErrMalformed)
	}

	w := parse.NewBinaryWriter(make([]byte, 0))
	loca := parse.NewBinaryWriter(make([]byte, 0, locaLength))
	writeLocaOffset := func(offset uint32) error {
		if indexFormat == 0 {
			if math.MaxUint16 < offset>>1 {
				return fmt.Errorf("loca: glyph offset exceeds short format: %w", ErrMalformed)
			}
			loca.WriteUint16(uint16(offset >> 1))
		} else {
			loca.WriteUint32(offset)
		}
		return nil
	}

	for iGlyph := uint16(0); iGlyph < numGlyphs; iGlyph++ {
		if err := writeLocaOffset(w.Len()); err != nil {
			return nil, nil, err
		}

		explicitBbox := bboxBitmap.read()
		overlapSimple := overlapBitmap != nil && overlapBitmap.read()
		nContours := nContourStream.ReadInt16() // EOF cannot occur
		if nContours == 0 {
			// empty glyph
			if explicitBbox {
				return nil, nil, fmt.Errorf("glyf: empty glyph cannot have bbox definition: %w", ErrMalformed)
			}
			continue
		}

		var xMin, yMin, xMax, yMax int16
		if explicitBbox {
			xMin = bboxStream.ReadInt16()
			yMin = bboxStream.ReadInt16()
			xMax = bboxStream.ReadInt16()
			yMax = bboxStream.ReadInt16()
			if bboxStream.EOF() {
				return nil, nil, fmt.Errorf("glyf: bbox: %w", ErrTruncated)
			}
		}

		if nContours < 0 {
			// composite glyph
			w.WriteInt16(nContours)
			w.WriteInt16(xMin)
			w.WriteInt16(yMin)
			w.WriteInt16(xMax)
			w.WriteInt16(yMax)

			hasInstructions := false
			for {
				componentFlags := compositeStream.ReadUint16()
				if compositeStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: composite: %w", ErrTruncated)
				}

				numBytes := 2 // glyphIndex
				if componentFlags&componentArgsAreWords != 0 {
					numBytes += 4
				} else {
					numBytes += 2
				}
				if componentFlags&componentWeHaveAScale != 0 {
					numBytes += 2
				} else if componentFlags&componentWeHaveXYScale != 0 {
					numBytes += 4
				} else if componentFlags&componentWeHave2x2 != 0 {
					numBytes += 8
				}
				args := compositeStream.ReadBytes(uint32(numBytes))
				if compositeStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: composite: %w", ErrTruncated)
				}

				w.WriteUint16(componentFlags)
				w.WriteBytes(args)

				if componentFlags&componentWeHaveInstructions != 0 {
					hasInstructions = true
				}
				if componentFlags&componentMoreComponents == 0 {
					break
				}
			}

			if hasInstructions {
				instructionLength := read255Uint16(glyphStream)
				if glyphStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: %w", ErrTruncated)
				}
				instructions := instructionStream.ReadBytes(uint32(instructionLength))
				if instructionStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: instructions: %w", ErrTruncated)
				}
				w.WriteUint16(instructionLength)
				w.WriteBytes(instructions)
			}
		} else {
			// simple glyph
			var nPoints uint16
			endPtsOfContours := make([]uint16, nContours)
			for iContour := int16(0); iContour < nContours; iContour++ {
				nPoint := read255Uint16(nPointsStream)
				if math.MaxUint16-nPoints < nPoint {
					return nil, nil, fmt.Errorf("glyf: point count overflow: %w", ErrMalformed)
				}
				nPoints += nPoint
				endPtsOfContours[iContour] = nPoints - 1
			}
			if nPointsStream.EOF() {
				return nil, nil, fmt.Errorf("glyf: nPointsStream: %w", ErrTruncated)
			} else if nPoints == 0 {
				return nil, nil, fmt.Errorf("glyf: simple glyph must have points: %w", ErrMalformed)
			}

			var x, y int16
			points := make([]glyphPoint, nPoints)
			for iPoint := uint16(0); iPoint < nPoints; iPoint++ {
				flag := flagStream.ReadUint8()
				if flagStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: flagStream: %w", ErrTruncated)
				}
				t := tripletTable[flag&0x7F]
				data := glyphStream.ReadBytes(uint32(t.size) - 1)
				if glyphStream.EOF() {
					return nil, nil, fmt.Errorf("glyf: glyphStream: %w", ErrTruncated)
				}

				// the coordinate bytes pack the x field before the y field,
				// MSB-first
				var raw uint64
				for _, c := range data {
					raw = raw<<8 | uint64(c)
				}
				xRaw := uint32(raw >> t.yBits)
				yRaw := uint32(raw & (uint64(1)<<t.yBits - 1))
				dx, ok := tripletDelta(t.dx, xRaw, t.xNeg)
				if !ok {
					return nil, nil, fmt.Errorf("glyf: delta overflow: %w", ErrMalformed)
				}
				dy, ok := tripletDelta(t.dy, yRaw, t.yNeg)
				if !ok {
					return nil, nil, fmt.Errorf("glyf: delta overflow: %w", ErrMalformed)
				}
				points[iPoint] = glyphPoint{dx: dx, dy: dy, onCurve: flag&0x80 == 0}

				if 0 < x && math.MaxInt16-x < dx || x < 0 && dx < math.MinInt16-x ||
					0 < y && math.MaxInt16-y < dy || y < 0 && dy < math.MinInt16-y {
					return nil, nil, fmt.Errorf("glyf: coordinate overflow: %w", ErrMalformed)
				}
				x += dx
				y += dy
				if !explicitBbox {
					if iPoint == 0 {
						xMin, xMax = x, x
						yMin, yMax = y, y
					} else {
						if x < xMin {
							xMin = x
						} else if xMax < x {
							xMax = x
						}
						if y < yMin {
							yMin = y
						} else if yMax < y {
							yMax = y
						}
					}
				}
			}

			instructionLength := read255Uint16(glyphStream)
			if glyphStream.EOF() {
				return nil, nil, fmt.Errorf("glyf: %w", ErrTruncated)
			}
			instructions := instructionStream.ReadBytes(uint32(instructionLength))
			if instructionStream.EOF() {
				return nil, nil, fmt.Errorf("glyf: instructions: %w", ErrTruncated)
			}

			writeSimpleGlyph(w, nContours, [4]int16{xMin, yMin, xMax, yMax}, endPtsOfContours, instructions, points, overlapSimple)
		}

		// offsets for the loca table are 4-byte aligned
		for w.Len()%4 != 0 {
			w.WriteByte(0x00)
		}
	}

	if err := writeLocaOffset(w.Len()); err != nil {
		return nil, nil, err
	}
	return w.Bytes(), loca.Bytes(), nil
}

// writeSimpleGlyph emits a canonical TrueType simple glyph record with
// repeat-coded flags and short coordinate vectors.
func writeSimpleGlyph(w *parse.BinaryWriter, nContours int16, bbox [4]int16, endPtsOfContours []uint16, instructions []byte, points []glyphPoint, overlapSimple bool) {
	w.WriteInt16(nContours)
	for _, v := range bbox {
		w.WriteInt16(v)
	}
	for _, endPtOfContour := range endPtsOfContours {
		w.WriteUint16(endPtOfContour)
	}
	w.WriteUint16(uint16(len(instructions)))
	w.WriteBytes(instructions)

	flags := make([]byte, len(points))
	for i, p := range points {
		var flag byte
		if p.onCurve {
			flag |= outlineOnCurve
		}
		if p.dx == 0 {
			flag |= outlineXIsSame
		} else if -256 < p.dx && p.dx < 256 {
			flag |= outlineXShortVector
			if 0 < p.dx {
				flag |= outlineXIsSame
			}
		}
		if p.dy == 0 {
			flag |= outlineYIsSame
		} else if -256 < p.dy && p.dy < 256 {
			flag |= outlineYShortVector
			if 0 < p.dy {
				flag |= outlineYIsSame
			}
		}
		flags[i] = flag
	}
	if overlapSimple {
		flags[0] |= outlineOverlapSimple
	}

	for i := 0; i < len(flags); {
		j := i + 1
		for j < len(flags) && flags[j] == flags[i] && j-i < 256 {
			j++
		}
		if i+1 < j {
			w.WriteByte(flags[i] | outlineRepeat)
			w.WriteByte(byte(j - i - 1))
		} else {
			w.WriteByte(flags[i])
		}
		i = j
	}

	for i, p := range points {
		if flags[i]&outlineXShortVector != 0 {
			dx := p.dx
			if dx < 0 {
				dx = -dx
			}
			w.WriteUint8(uint8(dx))
		} else if flags[i]&outlineXIsSame == 0 {
			w.WriteInt16(p.dx)
		}
	}
	for i, p := range points {
		if flags[i]&outlineYShortVector != 0 {
			dy := p.dy
			if dy < 0 {
				dy = -dy
			}
			w.WriteUint8(uint8(dy))
		} else if flags[i]&outlineYIsSame == 0 {
			w.WriteInt16(p.dy)
		}
	}
}
