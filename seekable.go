// Package zseek implements random access and parallel decompression over a
// seekable container of zstd-compressed frames.
//
// A Writer lays out an arbitrary byte stream as a sequence of independently
// decompressible zstd frames, auto-flushing every frame_size bytes of
// uncompressed input, and terminates the stream with a seek table stored as
// a zstd skippable frame. A Reader (and its byte-oriented sibling, Decoder)
// parse that seek table and translate a decompressed byte range into the
// minimal set of frame reads needed to satisfy it.
//
// # Format
//
// The compressed stream is a number of ordinary zstd frames followed by one
// skippable frame holding the seek table:
//
//	[ zstd frame 0 ] [ zstd frame 1 ] ... [ zstd frame N-1 ] [ skippable seek-table frame ]
//
// The skippable frame's payload is laid out as:
//
//	|Skippable_Magic_Number|Frame_Size|[Seek_Table_Entries]|Seek_Table_Footer|
//	|           4 bytes     | 4 bytes |   8-12 bytes each  |     9 bytes     |
//
// This mirrors facebook/zstd's seekable format community spec:
// https://github.com/facebook/zstd/blob/dev/contrib/seekable_format/zstd_seekable_compression_format.md
package zseek

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap/zapcore"
)

const (
	// skippableFrameMagic is the base magic for zstd skippable frames;
	// the low nibble is the frame's tag (0x0-0xf) and is legal to reuse
	// across other skippable frames, so it alone does not identify a
	// seek table.
	skippableFrameMagic uint32 = 0x184D2A50

	// seekableMagicNumber terminates the seek-table footer and is the
	// strongest signal that a file carries a seek table.
	seekableMagicNumber uint32 = 0x8F92EAB1

	seekTableFooterSize = 9

	frameSizeFieldSize            = 4
	skippableMagicNumberFieldSize = 4

	// seekableTag is the skippable-frame tag this package writes and
	// recognizes; bits 0-3 of skippableFrameMagic.
	seekableTag uint32 = 0xE

	// maxDecoderFrameSize bounds how large a single frame (or the seek
	// table itself) is allowed to claim to be, to keep untrusted input
	// from causing unbounded allocation.
	maxDecoderFrameSize = 128 << 20

	// maxFrameSize bounds a single frame's compressed and decompressed
	// size, and a skippable frame's payload: all are serialized as u32,
	// so none can legally exceed this. WithFrameSize caps frame_size
	// lower, below 2GiB.
	maxFrameSize int64 = math.MaxUint32

	// minFrameSize is the smallest frame_size the encoder accepts.
	minFrameSize int64 = 1 << 10

	// defaultFrameSize matches spec.md's default of 256 KiB of
	// uncompressed input per frame.
	defaultFrameSize int64 = 256 << 10

	// defaultCompressionLevel is zstd's default compression level.
	defaultCompressionLevel = 3
)

// seekTableDescriptor is a bitfield describing the seek table's format.
//
//	| Bit number | Field name      |
//	| ---------- | --------------- |
//	| 7          | Checksum_Flag   |
//	| 6-0        | Reserved_Bits   |
//
// Reserved bits must be 0 on write, and a compliant decoder rejects any
// file where they are set, per spec.md's Open Questions.
type seekTableDescriptor struct {
	ChecksumFlag bool
}

func (d *seekTableDescriptor) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("checksum_flag", d.ChecksumFlag)
	return nil
}

// seekTableFooter is the footer of a seekable zstd stream:
//
//	|Number_Of_Frames|Seek_Table_Descriptor|Seekable_Magic_Number|
//	|    4 bytes     |       1 byte        |       4 bytes       |
type seekTableFooter struct {
	NumberOfFrames      uint32
	SeekTableDescriptor seekTableDescriptor
	SeekableMagicNumber uint32
}

func (f *seekTableFooter) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], f.NumberOfFrames)
	dst[4] = 0
	if f.SeekTableDescriptor.ChecksumFlag {
		dst[4] |= 1 << 7
	}
	binary.LittleEndian.PutUint32(dst[5:], seekableMagicNumber)
}

func (f *seekTableFooter) MarshalBinary() ([]byte, error) {
	dst := make([]byte, seekTableFooterSize)
	f.marshalBinaryInline(dst)
	return dst, nil
}

func (f *seekTableFooter) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("number_of_frames", f.NumberOfFrames)
	if err := enc.AddObject("seek_table_descriptor", &f.SeekTableDescriptor); err != nil {
		return err
	}
	enc.AddUint32("seekable_magic_number", f.SeekableMagicNumber)
	return nil
}

func (f *seekTableFooter) UnmarshalBinary(p []byte) error {
	if len(p) != seekTableFooterSize {
		return errInvalidSeekTable(nil, "footer length mismatch %d vs %d", len(p), seekTableFooterSize)
	}
	// Reserved bits (6-0 minus the checksum flag at bit 7) must be 0.
	reservedBits := p[4] &^ (1 << 7)
	if reservedBits != 0 {
		return errInvalidSeekTable(nil, "footer reserved bits %#x != 0", reservedBits)
	}
	f.NumberOfFrames = binary.LittleEndian.Uint32(p[0:])
	f.SeekTableDescriptor.ChecksumFlag = (p[4] & (1 << 7)) > 0
	f.SeekableMagicNumber = binary.LittleEndian.Uint32(p[5:])
	if f.SeekableMagicNumber != seekableMagicNumber {
		return errInvalidSeekTable(nil, "footer magic mismatch %#x vs %#x", f.SeekableMagicNumber, seekableMagicNumber)
	}
	return nil
}

// seekTableEntry describes one zstd frame in the seek table:
//
//	|Compressed_Size|Decompressed_Size|[Checksum]|
//	|    4 bytes    |      4 bytes     | 4 bytes |
//
// Checksum is present only when the descriptor's checksum flag is set, and
// holds the low 32 bits of the XXH64 digest of the frame's decompressed
// content.
type seekTableEntry struct {
	CompressedSize   uint32
	DecompressedSize uint32
	Checksum         uint32
}

func (e *seekTableEntry) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], e.CompressedSize)
	binary.LittleEndian.PutUint32(dst[4:], e.DecompressedSize)
	binary.LittleEndian.PutUint32(dst[8:], e.Checksum)
}

func (e *seekTableEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("compressed_size", e.CompressedSize)
	enc.AddUint32("decompressed_size", e.DecompressedSize)
	enc.AddUint32("checksum", e.Checksum)
	return nil
}

func (e *seekTableEntry) UnmarshalBinary(p []byte) error {
	if len(p) < 8 {
		return errInvalidSeekTable(nil, "entry length mismatch %d vs 8", len(p))
	}
	e.CompressedSize = binary.LittleEndian.Uint32(p[0:])
	e.DecompressedSize = binary.LittleEndian.Uint32(p[4:])
	if len(p) >= 12 {
		e.Checksum = binary.LittleEndian.Uint32(p[8:])
	}
	return nil
}

// createSkippableFrame wraps payload as a zstd skippable frame:
//
//	|Magic_Number|Frame_Size|User_Data|
//	|  4 bytes   |  4 bytes | n bytes |
//
// https://github.com/facebook/zstd/blob/dev/doc/zstd_compression_format.md#skippable-frames
func createSkippableFrame(tag uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if tag > 0xf {
		return nil, errInvalidConfig("skippable frame tag %#x > 0xf", tag)
	}
	if int64(len(payload)) > maxFrameSize {
		return nil, errFrameTooLarge("skippable frame payload %d > max uint32", len(payload))
	}

	dst := make([]byte, 8, len(payload)+8)
	binary.LittleEndian.PutUint32(dst[0:], skippableFrameMagic+tag)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(payload)))
	return append(dst, payload...), nil
}
