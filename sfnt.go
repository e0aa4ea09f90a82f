package woff2

import (
	"fmt"
	"math"

	"github.com/tdewolff/parse/v2"
)

// assembleSFNT writes the SFNT offset table, the table directory in input
// order, and the 4-byte aligned table payloads. Checksums are written as
// zero; a downstream font loader either recomputes or tolerates them.
func assembleSFNT(flavor uint32, totalSfntSize uint32, tables []table) ([]byte, error) {
	numTables := uint16(len(tables))
	var searchRange uint16 = 1
	var entrySelector uint16
	for searchRange*2 <= numTables {
		searchRange *= 2
		entrySelector++
	}
	searchRange *= 16
	rangeShift := numTables*16 - searchRange

	if MaxMemory < totalSfntSize {
		return nil, ErrExceedsMemory
	}
	w := parse.NewBinaryWriter(make([]byte, 0, totalSfntSize)) // hint, may grow
	w.WriteUint32(flavor)
	w.WriteUint16(numTables)
	w.WriteUint16(searchRange)
	w.WriteUint16(entrySelector)
	w.WriteUint16(rangeShift)

	sfntOffset := 12 + 16*uint32(numTables) // can never exceed uint32 as numTables is uint16
	for i := range tables {
		length := uint32(len(tables[i].data))
		padding := (4 - length&3) & 3
		if math.MaxUint32-length < padding || math.MaxUint32-length-padding < sfntOffset {
			return nil, fmt.Errorf("%s: table offset overflow: %w", tables[i].tag, ErrMalformed)
		}
		w.WriteString(tables[i].tag)
		w.WriteUint32(0) // checksum
		w.WriteUint32(sfntOffset)
		w.WriteUint32(length)
		sfntOffset += length + padding
	}

	for i := range tables {
		w.WriteBytes(tables[i].data)
		for w.Len()%4 != 0 {
			w.WriteByte(0x00)
		}
	}
	return w.Bytes(), nil
}
