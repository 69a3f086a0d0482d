package zseek

import (
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Kind classifies a failure reported by this package so that callers --
// including the C ABI and parallel decoder -- can react programmatically
// instead of parsing error strings.
type Kind uint8

const (
	// KindIo means the underlying source or sink failed a read or write.
	KindIo Kind = iota
	// KindInvalidSeekTable means the trailing skippable frame was missing,
	// truncated, or internally inconsistent.
	KindInvalidSeekTable
	// KindInvalidConfig means the encoder was configured with an
	// out-of-range frame_size or compression level.
	KindInvalidConfig
	// KindOutOfBounds means a requested range exceeded Size() or start > end.
	KindOutOfBounds
	// KindFrameTooLarge means a frame exceeded a size limit: a u32 size
	// (maxFrameSize) when encoding, or maxDecoderFrameSize (128MiB) of
	// compressed data, or of seek table, when decoding.
	KindFrameTooLarge
	// KindDecode means a zstd frame failed to decode.
	KindDecode
	// KindChecksumMismatch means a frame decoded but its XXH64 checksum disagreed.
	KindChecksumMismatch
	// KindTruncated means the source is shorter than the seek table implies.
	KindTruncated
	// KindAlreadyFinished means the encoder was used after Close or
	// EndStream had finished it.
	KindAlreadyFinished
	// KindPoisoned means a prior I/O failure left the encoder unusable.
	KindPoisoned
	// KindOverflow means the running decompressed total would exceed uint64.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindInvalidSeekTable:
		return "invalid_seek_table"
	case KindInvalidConfig:
		return "invalid_config"
	case KindOutOfBounds:
		return "out_of_bounds"
	case KindFrameTooLarge:
		return "frame_too_large"
	case KindDecode:
		return "decode"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindTruncated:
		return "truncated"
	case KindAlreadyFinished:
		return "already_finished"
	case KindPoisoned:
		return "poisoned"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error is the classified error type of this package.  It carries a
// Kind for programmatic classification plus an optional wrapped cause.
// Some failures are plain errors without a Kind: io.EOF from Read and
// ReadAt, bad Seek arguments or negative offsets, reads after Close,
// and WriteMany option and pipeline errors.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zseek: %s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("zseek: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers write errors.Is(err, zseek.ErrOutOfBounds) etc; two
// *Error values match when their Kind matches, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", e.Kind.String())
	enc.AddString("msg", e.Msg)
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}

// Sentinel values usable with errors.Is to classify an error by Kind
// without constructing a full *Error.
var (
	ErrIo                = &Error{Kind: KindIo}
	ErrInvalidSeekTable  = &Error{Kind: KindInvalidSeekTable}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
	ErrOutOfBounds       = &Error{Kind: KindOutOfBounds}
	ErrFrameTooLarge     = &Error{Kind: KindFrameTooLarge}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrChecksumMismatch  = &Error{Kind: KindChecksumMismatch}
	ErrTruncated         = &Error{Kind: KindTruncated}
	ErrAlreadyFinished   = &Error{Kind: KindAlreadyFinished}
	ErrPoisoned          = &Error{Kind: KindPoisoned}
	ErrOverflow          = &Error{Kind: KindOverflow}
)

func newErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func errIo(cause error, format string, args ...interface{}) error {
	return newErr(KindIo, cause, format, args...)
}

func errInvalidSeekTable(cause error, format string, args ...interface{}) error {
	return newErr(KindInvalidSeekTable, cause, format, args...)
}

func errInvalidConfig(format string, args ...interface{}) error {
	return newErr(KindInvalidConfig, nil, format, args...)
}

func errOutOfBounds(format string, args ...interface{}) error {
	return newErr(KindOutOfBounds, nil, format, args...)
}

func errFrameTooLarge(format string, args ...interface{}) error {
	return newErr(KindFrameTooLarge, nil, format, args...)
}

func errDecode(cause error, format string, args ...interface{}) error {
	return newErr(KindDecode, cause, format, args...)
}

func errChecksumMismatch(format string, args ...interface{}) error {
	return newErr(KindChecksumMismatch, nil, format, args...)
}

func errTruncated(format string, args ...interface{}) error {
	return newErr(KindTruncated, nil, format, args...)
}

func errAlreadyFinished() error {
	return &Error{Kind: KindAlreadyFinished, Msg: "encoder already finished"}
}

func errPoisoned(cause error) error {
	return &Error{Kind: KindPoisoned, Msg: "encoder poisoned by a prior error", Err: cause}
}

func errOverflow(format string, args ...interface{}) error {
	return newErr(KindOverflow, nil, format, args...)
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
