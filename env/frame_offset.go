package env

import (
	"go.uber.org/zap/zapcore"
)

// FrameOffsetEntry is the post-processed, indexable view of one Frame from
// spec.md's data model: a seek-table entry plus the cumulative offsets that
// let a reader binary-search by decompressed position.
type FrameOffsetEntry struct {
	// Index is the frame's sequence number in the stream.
	Index int64

	// CompressedOffset is the frame's first byte's offset within the
	// compressed stream.
	CompressedOffset uint64
	// DecompressedOffset is the frame's first byte's offset within the
	// logical decompressed stream.
	DecompressedOffset uint64
	// CompressedSize is the number of bytes the frame occupies in the
	// compressed stream.
	CompressedSize uint32
	// DecompressedSize is the number of bytes the frame produces on decode.
	DecompressedSize uint32

	// Checksum is the low 32 bits of the XXH64 digest of the frame's
	// decompressed content; only meaningful when checksums were enabled
	// at encode time.
	Checksum uint32
}

func (e *FrameOffsetEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("index", e.Index)
	enc.AddUint64("compressed_offset", e.CompressedOffset)
	enc.AddUint64("decompressed_offset", e.DecompressedOffset)
	enc.AddUint32("compressed_size", e.CompressedSize)
	enc.AddUint32("decompressed_size", e.DecompressedSize)
	enc.AddUint32("checksum", e.Checksum)
	return nil
}

// Less orders FrameOffsetEntry values by decompressed offset, making a
// btree.BTreeG[*FrameOffsetEntry] searchable by logical stream position.
func Less(a, b *FrameOffsetEntry) bool {
	return a.DecompressedOffset < b.DecompressedOffset
}
