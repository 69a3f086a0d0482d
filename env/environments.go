// Package env defines the seams through which a Writer or Reader talks to
// its underlying sink/source. The default implementations wrap an
// io.Writer and an io.ReadSeeker respectively; WEnvironment/REnvironment
// let a caller substitute a different storage backend (e.g. one that
// chunks frames itself) without reimplementing the codec.
package env

// WEnvironment is the seam a Writer uses to persist data.
type WEnvironment interface {
	// WriteFrame is called once per completed zstd frame.
	WriteFrame(p []byte) (n int, err error)
	// WriteSeekTable is called once, on Close/Finish, with the
	// skippable seek-table frame.
	WriteSeekTable(p []byte) (n int, err error)
}

// REnvironment is the seam a Reader/Decoder uses to fetch data.
type REnvironment interface {
	// GetFrameByIndex returns the compressed bytes of one frame.
	GetFrameByIndex(index FrameOffsetEntry) ([]byte, error)
	// ReadFooter returns a buffer whose final 9 bytes are the
	// Seek_Table_Footer.
	ReadFooter() ([]byte, error)
	// ReadSkipFrame returns the full seek-table skippable frame,
	// including its magic and frame-size fields, given the frame's
	// total size (as measured backward from the end of the stream).
	ReadSkipFrame(skippableFrameSize int64) ([]byte, error)
}
