// Package woff2 decodes the Web Open Font Format 2 and returns the
// uncompressed SFNT font container (TTF or OTF) it wraps.
package woff2

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/andybalholm/brotli"
	"github.com/tdewolff/parse/v2"
)

// Specification:
// https://www.w3.org/TR/WOFF2/

// Validation tests:
// https://github.com/w3c/woff2-tests

// Other implementations:
// http://git.savannah.gnu.org/cgit/freetype/freetype2.git/tree/src/sfnt/sfwoff2.c
// https://github.com/google/woff2/tree/master/src
// https://github.com/fonttools/fonttools/blob/master/Lib/fontTools/ttLib/woff2.py

// Parse parses the WOFF2 font format and returns its contained SFNT font
// format (TTF or OTF). See https://www.w3.org/TR/WOFF2/
func Parse(b []byte) ([]byte, error) {
	if len(b) < 48 || uint(math.MaxUint32) < uint(len(b)) {
		return nil, fmt.Errorf("header: %w", ErrTruncated)
	}

	r := parse.NewBinaryReader(b)
	if signature := r.ReadString(4); signature != "wOF2" {
		return nil, ErrBadSignature
	}
	flavor := r.ReadUint32()
	if uint32ToString(flavor) == "ttcf" {
		return nil, ErrUnsupportedCollection
	}
	length := r.ReadUint32()
	numTables := r.ReadUint16()
	reserved := r.ReadUint16()
	totalSfntSize := r.ReadUint32()
	totalCompressedSize := r.ReadUint32()
	_ = r.ReadUint16() // majorVersion
	_ = r.ReadUint16() // minorVersion
	metaOffset := r.ReadUint32()
	metaLength := r.ReadUint32()
	_ = r.ReadUint32() // metaOrigLength
	privOffset := r.ReadUint32()
	privLength := r.ReadUint32()
	if uint32(len(b)) < length {
		return nil, fmt.Errorf("length in header exceeds file size: %w", ErrInvalidLength)
	} else if numTables == 0 {
		return nil, fmt.Errorf("numTables in header must not be zero: %w", ErrMalformed)
	} else if reserved != 0 {
		return nil, fmt.Errorf("reserved in header must be zero: %w", ErrMalformed)
	}
	if metaOffset == 0 != (metaLength == 0) {
		return nil, fmt.Errorf("metadata block: %w", ErrInconsistentBlockOffset)
	} else if privOffset == 0 != (privLength == 0) {
		return nil, fmt.Errorf("private block: %w", ErrInconsistentBlockOffset)
	}
	if metaOffset != 0 && (uint32(len(b)) < metaOffset || uint32(len(b))-metaOffset < metaLength) {
		return nil, fmt.Errorf("metadata block: %w", ErrInvalidLength)
	}
	if privOffset != 0 && (uint32(len(b)) < privOffset || uint32(len(b))-privOffset < privLength) {
		return nil, fmt.Errorf("private block: %w", ErrInvalidLength)
	}

	tables, tagTableIndex, totalLength, err := parseDirectory(r, numTables)
	if err != nil {
		return nil, err
	}

	// decompress font data using Brotli
	compData := r.ReadBytes(totalCompressedSize)
	if r.EOF() {
		return nil, fmt.Errorf("compressed font data: %w", ErrTruncated)
	} else if MaxMemory < totalLength {
		return nil, ErrExceedsMemory
	}
	rBrotli := brotli.NewReader(bytes.NewReader(compData))
	dataBuf := bytes.NewBuffer(make([]byte, 0, totalLength))
	if _, err := io.Copy(dataBuf, rBrotli); err != nil {
		return nil, fmt.Errorf("brotli: %w: %w", ErrMalformed, err)
	}
	data := dataBuf.Bytes()
	if uint32(len(data)) != totalLength {
		return nil, ErrDecompressedSizeMismatch
	}

	// carve the decompressed data into the tables in directory order; a
	// transformed loca occupies no bytes and is reconstructed from glyf
	var offset uint32
	for i := range tables {
		if tables[i].tag == "loca" && tables[i].transformVersion == 0 {
			continue
		}
		n := tables[i].origLength
		if hasTransformLength(tables[i].tag, tables[i].transformVersion) {
			n = tables[i].transformLength
		}
		if uint32(len(data))-offset < n {
			return nil, fmt.Errorf("%s: %w", tables[i].tag, ErrTruncated)
		}
		tables[i].data = data[offset : offset+n : offset+n]
		offset += n
	}

	if iGlyf, hasGlyf := tagTableIndex["glyf"]; hasGlyf && tables[iGlyf].transformVersion == 0 {
		iLoca := tagTableIndex["loca"] // presence and version guaranteed by the directory checks
		glyfData, locaData, err := reconstructGlyfLoca(tables[iGlyf].data, tables[iLoca].origLength)
		if err != nil {
			return nil, err
		}
		tables[iGlyf].data = glyfData
		tables[iLoca].data = locaData
	}

	return assembleSFNT(flavor, totalSfntSize, tables)
}

// ParseReader parses the WOFF2 font format from r. The reader is consumed in
// full before decoding.
func ParseReader(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
