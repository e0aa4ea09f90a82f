package woff2

import (
	"bytes"
	"errors"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/test"
)

func appendUintBase128(b []byte, v uint32) []byte {
	if v == 0 {
		return append(b, 0)
	}
	var tmp [5]byte
	n := 0
	for 0 < v {
		tmp[n] = byte(v & 0x7F)
		v >>= 7
		n++
	}
	for i := n - 1; 0 <= i; i-- {
		c := tmp[i]
		if i != 0 {
			c |= 0x80
		}
		b = append(b, c)
	}
	return b
}

type testTable struct {
	tag              string
	transformVersion int
	origLength       uint32 // overrides len(data) when nonzero
	data             []byte // bytes contributed to the decompressed font data
}

// buildWOFF2 assembles a WOFF2 file from the given tables, compressing their
// combined data with Brotli.
func buildWOFF2(t *testing.T, flavor uint32, tables []testTable) []byte {
	t.Helper()

	dir := []byte{}
	blob := []byte{}
	for _, tab := range tables {
		tagIndex := 0x3F
		for i, tag := range knownTableTags {
			if tag == tab.tag {
				tagIndex = i
				break
			}
		}
		dir = append(dir, byte(tab.transformVersion)<<6|byte(tagIndex))
		if tagIndex == 0x3F {
			dir = append(dir, tab.tag...)
		}
		origLength := tab.origLength
		if origLength == 0 {
			origLength = uint32(len(tab.data))
		}
		dir = appendUintBase128(dir, origLength)
		if hasTransformLength(tab.tag, tab.transformVersion) {
			dir = appendUintBase128(dir, uint32(len(tab.data)))
		}
		blob = append(blob, tab.data...)
	}

	var compBuf bytes.Buffer
	wBrotli := brotli.NewWriter(&compBuf)
	_, err := wBrotli.Write(blob)
	test.Error(t, err)
	test.Error(t, wBrotli.Close())
	comp := compBuf.Bytes()

	w := parse.NewBinaryWriter(make([]byte, 0, 48+len(dir)+len(comp)))
	w.WriteString("wOF2")
	w.WriteUint32(flavor)
	w.WriteUint32(uint32(48 + len(dir) + len(comp))) // length
	w.WriteUint16(uint16(len(tables)))               // numTables
	w.WriteUint16(0)                                 // reserved
	w.WriteUint32(0)                                 // totalSfntSize
	w.WriteUint32(uint32(len(comp)))                 // totalCompressedSize
	w.WriteUint16(1)                                 // majorVersion
	w.WriteUint16(0)                                 // minorVersion
	w.WriteUint32(0)                                 // metaOffset
	w.WriteUint32(0)                                 // metaLength
	w.WriteUint32(0)                                 // metaOrigLength
	w.WriteUint32(0)                                 // privOffset
	w.WriteUint32(0)                                 // privLength
	w.WriteBytes(dir)
	w.WriteBytes(comp)
	return w.Bytes()
}

type sfntTable struct {
	tag                      string
	checksum, offset, length uint32
}

func parseSFNTOutput(t *testing.T, b []byte) (uint32, []sfntTable) {
	t.Helper()
	r := parse.NewBinaryReader(b)
	flavor := r.ReadUint32()
	numTables := r.ReadUint16()
	_ = r.ReadBytes(6) // searchRange, entrySelector, rangeShift
	tables := make([]sfntTable, numTables)
	for i := range tables {
		tables[i] = sfntTable{r.ReadString(4), r.ReadUint32(), r.ReadUint32(), r.ReadUint32()}
	}
	test.That(t, !r.EOF(), "output must hold the full table directory")
	return flavor, tables
}

func TestParseEmptyFont(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "cmap", data: []byte{0x00, 0x00, 0x00, 0x04}},
	})
	out, err := Parse(b)
	test.Error(t, err)
	test.T(t, uint32(len(out)), uint32(32))

	flavor, tables := parseSFNTOutput(t, out)
	test.T(t, flavor, uint32(0x00010000))
	test.T(t, len(tables), 1)
	test.T(t, tables[0].tag, "cmap")
	test.T(t, tables[0].checksum, uint32(0))
	test.T(t, tables[0].offset, uint32(28))
	test.T(t, tables[0].length, uint32(4))
	test.Bytes(t, out[28:32], []byte{0x00, 0x00, 0x00, 0x04})

	// offset table search values for numTables == 1
	r := parse.NewBinaryReader(out[4:12])
	test.T(t, r.ReadUint16(), uint16(1))  // numTables
	test.T(t, r.ReadUint16(), uint16(16)) // searchRange
	test.T(t, r.ReadUint16(), uint16(0))  // entrySelector
	test.T(t, r.ReadUint16(), uint16(0))  // rangeShift
}

func TestParseNullTransformGlyfLoca(t *testing.T) {
	glyfData := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	locaData := []byte{0x00, 0x00, 0x00, 0x05}
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "glyf", transformVersion: 3, data: glyfData},
		{tag: "loca", transformVersion: 3, data: locaData},
	})
	out, err := Parse(b)
	test.Error(t, err)

	_, tables := parseSFNTOutput(t, out)
	test.T(t, len(tables), 2)
	test.T(t, tables[0].tag, "glyf") // input order is preserved
	test.T(t, tables[1].tag, "loca")
	test.T(t, tables[0].offset, uint32(44))
	test.T(t, tables[0].length, uint32(5))
	test.T(t, tables[1].offset, uint32(52)) // glyf padded to 8 bytes
	test.T(t, tables[1].length, uint32(4))
	test.Bytes(t, out[44:49], glyfData)
	test.Bytes(t, out[49:52], []byte{0x00, 0x00, 0x00}) // padding
	test.Bytes(t, out[52:56], locaData)
}

func TestParseTransformedGlyfLoca(t *testing.T) {
	// one empty glyph and one simple glyph with a single contour of two
	// points (10,0) on-curve and (20,5) off-curve
	blob := transformedGlyf(t, 2, 0,
		[]byte{0x00, 0x00, 0x00, 0x01},
		[]byte{0x02},
		[]byte{11, 0x80 | 23},
		[]byte{10, 0x94, 0x00},
		nil,
		[]byte{0x00, 0x00, 0x00, 0x00},
		nil,
	)
	for _, locaFirst := range []bool{false, true} {
		tables := []testTable{
			{tag: "glyf", transformVersion: 0, origLength: 20, data: blob},
			{tag: "loca", transformVersion: 0, origLength: 6},
		}
		if locaFirst {
			tables[0], tables[1] = tables[1], tables[0]
		}
		out, err := Parse(buildWOFF2(t, 0x00010000, tables))
		test.Error(t, err)

		_, sfntTables := parseSFNTOutput(t, out)
		test.T(t, len(sfntTables), 2)
		iGlyf, iLoca := 0, 1
		if locaFirst {
			iGlyf, iLoca = 1, 0
		}
		test.T(t, sfntTables[iGlyf].tag, "glyf")
		test.T(t, sfntTables[iLoca].tag, "loca")
		test.T(t, sfntTables[iGlyf].length, uint32(20))
		test.T(t, sfntTables[iLoca].length, uint32(6))

		glyfOffset := sfntTables[iGlyf].offset
		locaOffset := sfntTables[iLoca].offset
		test.Bytes(t, out[glyfOffset:glyfOffset+20], []byte{
			0x00, 0x01, // numberOfContours
			0x00, 0x0A, 0x00, 0x00, 0x00, 0x14, 0x00, 0x05, // xMin, yMin, xMax, yMax
			0x00, 0x01, // endPtsOfContours
			0x00, 0x00, // instructionLength
			0x33, 0x36, // flags
			0x0A, 0x0A, // x deltas
			0x05,       // y deltas
			0x00,       // padding
		})
		test.Bytes(t, out[locaOffset:locaOffset+6], []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x0A})
	}
}

func TestParseExplicitTag(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "ABCD", data: []byte{0x01, 0x02}},
	})
	out, err := Parse(b)
	test.Error(t, err)

	_, tables := parseSFNTOutput(t, out)
	test.T(t, tables[0].tag, "ABCD")
	test.T(t, tables[0].length, uint32(2))
	test.Bytes(t, out[28:32], []byte{0x01, 0x02, 0x00, 0x00})
}

func TestParseHeaderErrors(t *testing.T) {
	valid := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "cmap", data: []byte{0x00, 0x00, 0x00, 0x04}},
	})

	bad := make([]byte, len(valid))

	copy(bad, valid)
	bad[0] = 'x'
	_, err := Parse(bad)
	test.That(t, errors.Is(err, ErrBadSignature), "bad signature:", err)

	_, err = Parse(valid[:47])
	test.That(t, errors.Is(err, ErrTruncated), "short header:", err)

	copy(bad, valid)
	bad[8], bad[9], bad[10], bad[11] = 0xFF, 0xFF, 0xFF, 0xFF // length
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrInvalidLength), "length exceeds file size:", err)

	copy(bad, valid)
	bad[12], bad[13] = 0x00, 0x00 // numTables
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrMalformed), "zero numTables:", err)

	copy(bad, valid)
	bad[14] = 0x01 // reserved
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrMalformed), "nonzero reserved:", err)

	copy(bad, valid)
	bad[31] = 0x30 // metaOffset without metaLength
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrInconsistentBlockOffset), "metadata block:", err)

	copy(bad, valid)
	bad[43] = 0x08 // privOffset without privLength
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrInconsistentBlockOffset), "private block:", err)

	copy(bad, valid)
	bad[31], bad[35] = 0xFF, 0x10 // metadata block outside the file
	_, err = Parse(bad)
	test.That(t, errors.Is(err, ErrInvalidLength), "metadata block bounds:", err)
}

func TestParseUnsupportedCollection(t *testing.T) {
	b := buildWOFF2(t, 0x74746366, []testTable{
		{tag: "cmap", data: []byte{0x00}},
	})
	_, err := Parse(b)
	test.That(t, errors.Is(err, ErrUnsupportedCollection), "collection flavor:", err)
}

func TestParseTruncatedCompressedData(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "cmap", data: []byte{0x00, 0x00, 0x00, 0x04}},
	})
	b[20], b[21], b[22], b[23] = 0x00, 0x10, 0x00, 0x00 // totalCompressedSize beyond input
	_, err := Parse(b)
	test.That(t, errors.Is(err, ErrTruncated), "truncated compressed data:", err)
}

func TestParseDecompressedSizeMismatch(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "cmap", origLength: 5, data: []byte{0x00, 0x00, 0x00, 0x04}},
	})
	_, err := Parse(b)
	test.That(t, errors.Is(err, ErrDecompressedSizeMismatch), "table length mismatch:", err)
}

func TestParseCouplingViolations(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "glyf", transformVersion: 3, data: []byte{0x01}},
	})
	_, err := Parse(b)
	test.That(t, errors.Is(err, ErrCouplingViolation), "glyf without loca:", err)

	b = buildWOFF2(t, 0x00010000, []testTable{
		{tag: "loca", transformVersion: 3, data: []byte{0x00, 0x00}},
	})
	_, err = Parse(b)
	test.That(t, errors.Is(err, ErrCouplingViolation), "loca without glyf:", err)

	b = buildWOFF2(t, 0x00010000, []testTable{
		{tag: "glyf", transformVersion: 0, origLength: 20, data: []byte{0x01}},
		{tag: "loca", transformVersion: 3, data: []byte{0x00, 0x00}},
	})
	_, err = Parse(b)
	test.That(t, errors.Is(err, ErrCouplingViolation), "transform version mismatch:", err)
}

func TestParseUnsupportedTransformations(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "hmtx", transformVersion: 1, data: []byte{0x03, 0x00, 0x64}},
	})
	_, err := Parse(b)
	test.That(t, errors.Is(err, ErrUnsupportedTransformation), "transformed hmtx:", err)

	b = buildWOFF2(t, 0x00010000, []testTable{
		{tag: "glyf", transformVersion: 1, data: []byte{0x01}},
		{tag: "loca", transformVersion: 1},
	})
	_, err = Parse(b)
	test.That(t, errors.Is(err, ErrUnsupportedTransformation), "unknown glyf transformation:", err)
}

func TestParseReader(t *testing.T) {
	b := buildWOFF2(t, 0x00010000, []testTable{
		{tag: "cmap", data: []byte{0x00, 0x00, 0x00, 0x04}},
	})
	out, err := Parse(b)
	test.Error(t, err)
	out2, err := ParseReader(bytes.NewReader(b))
	test.Error(t, err)
	test.Bytes(t, out2, out)
}
