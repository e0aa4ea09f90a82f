package woff2

import "errors"

// MaxMemory limits the size of the decompressed font data and the header's
// totalSfntSize, which sizes the initial output buffer. The output buffer may
// grow beyond that initial size; its final size is not checked against
// MaxMemory.
var MaxMemory uint32 = 30 * 1024 * 1024

// ErrExceedsMemory is returned when the decompressed font data or the header's
// totalSfntSize exceeds MaxMemory bytes.
var ErrExceedsMemory = errors.New("memory limit exceeded")

// Decode errors. Apart from ErrExceedsMemory, every error returned by Parse
// wraps exactly one of these kinds; match with errors.Is.
var (
	// ErrTruncated is returned when a read runs off the end of the input or
	// of a sub-stream.
	ErrTruncated = errors.New("unexpected end of data")

	// ErrBadSignature is returned when the header signature is not 'wOF2'.
	ErrBadSignature = errors.New("bad signature")

	// ErrUnsupportedCollection is returned for font collections (flavor 'ttcf').
	ErrUnsupportedCollection = errors.New("collections are unsupported")

	// ErrInvalidLength is returned when a length or offset in the header
	// points outside the input.
	ErrInvalidLength = errors.New("invalid length")

	// ErrInconsistentBlockOffset is returned when the metadata or private
	// block has an offset without a length or vice versa.
	ErrInconsistentBlockOffset = errors.New("inconsistent block offset")

	// ErrMalformedVarInt is returned when a UIntBase128 has leading zeros,
	// overflows uint32, or is not terminated within 5 bytes.
	ErrMalformedVarInt = errors.New("malformed variable-length integer")

	// ErrUnknownTag is returned when a table directory entry uses a known-tag
	// index that is not in the dictionary.
	ErrUnknownTag = errors.New("unknown table tag index")

	// ErrCouplingViolation is returned when only one of glyf and loca is
	// present, or their transformation versions differ.
	ErrCouplingViolation = errors.New("glyf and loca tables must be both present and either be both transformed or untransformed")

	// ErrDecompressedSizeMismatch is returned when the Brotli output length
	// does not equal the sum of the table lengths in the directory.
	ErrDecompressedSizeMismatch = errors.New("sum of table lengths must match decompressed font data size")

	// ErrSubStreamSizeMismatch is returned when the declared sub-stream sizes
	// do not partition the transformed glyf table exactly.
	ErrSubStreamSizeMismatch = errors.New("sub-stream sizes must partition transformed glyf table")

	// ErrMalformed is returned for any other invariant breach, such as
	// arithmetic overflow or a bounding box on an empty glyph.
	ErrMalformed = errors.New("malformed font data")

	// ErrUnsupportedTransformation is returned for a transformed hmtx table
	// or any other unknown table transformation.
	ErrUnsupportedTransformation = errors.New("unsupported table transformation")
)
