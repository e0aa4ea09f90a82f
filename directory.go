package woff2

import (
	"fmt"
	"math"

	"github.com/tdewolff/parse/v2"
)

// knownTableTags is the known table tag dictionary, indexed by the lower six
// bits of a table directory entry's flag byte. Index 63 means the tag follows
// explicitly. See https://www.w3.org/TR/WOFF2/#table_dir_format
var knownTableTags = []string{
	"cmap", "head", "hhea", "hmtx",
	"maxp", "name", "OS/2", "post",
	"cvt ", "fpgm", "glyf", "loca",
	"prep", "CFF ", "VORG", "EBDT",
	"EBLC", "gasp", "hdmx", "kern",
	"LTSH", "PCLT", "VDMX", "vhea",
	"vmtx", "BASE", "GDEF", "GPOS",
	"GSUB", "EBSC", "JSTF", "MATH",
	"CBDT", "CBLC", "COLR", "CPAL",
	"SVG ", "sbix", "acnt", "avar",
	"bdat", "bloc", "bsln", "cvar",
	"fdsc", "feat", "fmtx", "fvar",
	"gvar", "hsty", "just", "lcar",
	"mort", "morx", "opbd", "prop",
	"trak", "Zapf", "Silf", "Glat",
	"Gloc", "Feat", "Sill",
}

type table struct {
	tag              string
	origLength       uint32
	transformVersion int
	transformLength  uint32
	data             []byte
}

// hasTransformLength follows the presence rule of the WOFF2 table directory:
// glyf and loca carry a transform length for version 0, all other tags for any
// non-null version.
func hasTransformLength(tag string, transformVersion int) bool {
	if tag == "glyf" || tag == "loca" {
		return transformVersion == 0
	}
	return transformVersion != 0
}

// parseDirectory reads numTables directory entries and returns them in input
// order together with a tag index and the number of bytes all tables
// contribute to the Brotli-decompressed data.
func parseDirectory(r *parse.BinaryReader, numTables uint16) ([]table, map[string]int, uint32, error) {
	tables := make([]table, 0, numTables)
	tagTableIndex := make(map[string]int, numTables)
	var totalLength uint32
	for i := 0; i < int(numTables); i++ {
		flags := r.ReadUint8()
		tagIndex := int(flags & 0x3F)
		transformVersion := int(flags >> 6)

		var tag string
		if tagIndex == 63 {
			tag = uint32ToString(r.ReadUint32())
		} else if tagIndex < len(knownTableTags) {
			tag = knownTableTags[tagIndex]
		} else {
			return nil, nil, 0, fmt.Errorf("entry %d: %w", i, ErrUnknownTag)
		}
		if r.EOF() {
			return nil, nil, 0, fmt.Errorf("entry %d: %w", i, ErrTruncated)
		}

		origLength, err := readUintBase128(r)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%s: %w", tag, err)
		}

		var transformLength uint32
		if hasTransformLength(tag, transformVersion) {
			if transformLength, err = readUintBase128(r); err != nil {
				return nil, nil, 0, fmt.Errorf("%s: %w", tag, err)
			}
		}
		if tag == "glyf" || tag == "loca" {
			if transformVersion != 0 && transformVersion != 3 {
				return nil, nil, 0, fmt.Errorf("%s: transformation %d: %w", tag, transformVersion, ErrUnsupportedTransformation)
			}
		} else if transformVersion != 0 {
			return nil, nil, 0, fmt.Errorf("%s: transformation %d: %w", tag, transformVersion, ErrUnsupportedTransformation)
		}

		n := origLength
		if hasTransformLength(tag, transformVersion) {
			n = transformLength
		}
		if math.MaxUint32-totalLength < n {
			return nil, nil, 0, fmt.Errorf("%s: table length overflow: %w", tag, ErrMalformed)
		}
		totalLength += n

		if _, ok := tagTableIndex[tag]; ok {
			return nil, nil, 0, fmt.Errorf("%s: table defined more than once: %w", tag, ErrMalformed)
		}
		tagTableIndex[tag] = len(tables)
		tables = append(tables, table{
			tag:              tag,
			origLength:       origLength,
			transformVersion: transformVersion,
			transformLength:  transformLength,
		})
	}

	iGlyf, hasGlyf := tagTableIndex["glyf"]
	iLoca, hasLoca := tagTableIndex["loca"]
	if hasGlyf != hasLoca || hasGlyf && tables[iGlyf].transformVersion != tables[iLoca].transformVersion {
		return nil, nil, 0, ErrCouplingViolation
	}
	if hasLoca && tables[iLoca].transformLength != 0 {
		return nil, nil, 0, fmt.Errorf("loca: transformLength must be zero: %w", ErrMalformed)
	}
	return tables, tagTableIndex, totalLength, nil
}

// readUintBase128 reads a variable-length unsigned integer of up to 5 bytes,
// 7 bits per byte. See https://www.w3.org/TR/WOFF2/#DataTypes
func readUintBase128(r *parse.BinaryReader) (uint32, error) {
	var accum uint32
	for i := 0; i < 5; i++ {
		dataByte := r.ReadUint8()
		if r.EOF() {
			return 0, ErrTruncated
		}
		if i == 0 && dataByte == 0x80 {
			return 0, fmt.Errorf("leading zeros: %w", ErrMalformedVarInt)
		}
		if accum&0xFE000000 != 0 {
			return 0, fmt.Errorf("overflow: %w", ErrMalformedVarInt)
		}
		accum = accum<<7 | uint32(dataByte&0x7F)
		if dataByte&0x80 == 0 {
			return accum, nil
		}
	}
	return 0, fmt.Errorf("exceeds 5 bytes: %w", ErrMalformedVarInt)
}

// read255Uint16 reads a variable-length unsigned 16-bit integer with three
// escape codes. See https://www.w3.org/TR/WOFF2/#DataTypes
func read255Uint16(r *parse.BinaryReader) uint16 {
	code := r.ReadUint8()
	if code == 253 {
		return r.ReadUint16()
	} else if code == 254 {
		return uint16(r.ReadUint8()) + 253*2
	} else if code == 255 {
		return uint16(r.ReadUint8()) + 253
	}
	return uint16(code)
}
