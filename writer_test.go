package zseek

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSkippableFrame(t *testing.T) {
	t.Parallel()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	// Empty payload is a no-op regardless of tag.
	actualBytes, err := createSkippableFrame(0x00, []byte{})
	assert.NoError(t, err)
	assert.Nil(t, actualBytes)

	// A valid tag produces a standard zstd skippable frame.
	actualBytes, err = createSkippableFrame(0x01, []byte{'T'})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x51, 0x2a, 0x4d, 0x18, 0x01, 0x00, 0x00, 0x00, 'T'}, actualBytes)
	decoded, err := dec.DecodeAll(actualBytes, nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)

	// A tag outside the 4-bit range is rejected.
	_, err = createSkippableFrame(0xff, []byte{'T'})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "expected KindInvalidConfig, got %v", err)
}

func TestWriter(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, WithFrameSize(minFrameSize), WithCompressionLevel(1))
	require.NoError(t, err)

	// A single Write spanning several frame_size boundaries auto-flushes
	// more than one frame before Close is ever called.
	big := bytes.Repeat([]byte("x"), int(minFrameSize)*3+7)
	n, err := w.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)

	sw := w.(*writerImpl)
	assert.GreaterOrEqual(t, len(sw.frameEntries), 3)

	tail := []byte("tail")
	_, err = w.Write(tail)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	buf := b.Bytes()
	assert.Equal(t, []byte{0xb1, 0xea, 0x92, 0x8f}, buf[len(buf)-4:])

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	r, err := NewReader(bytes.NewReader(buf), dec)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, big...), tail...), got)
}

func TestWriterDoubleClose(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	err = w.Close()
	assert.True(t, errors.Is(err, ErrAlreadyFinished))

	_, err = w.Write([]byte("x"))
	assert.True(t, errors.Is(err, ErrAlreadyFinished))
}

func TestWriterRejectsTooSmallFrameSize(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(nil, WithFrameSize(1))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func BenchmarkWrite(b *testing.B) {
	sizes := []int{128, 4 * 1024, 16 * 1024, 64 * 1024, 1024 * 1024}
	for _, size := range sizes {
		writeBuf := make([]byte, size)

		b.Run(fmt.Sprintf("%d", size), func(b *testing.B) {
			// b.Run may call this function several times; each call
			// needs its own writer, since Close finishes it.
			var buf bytes.Buffer
			w, err := NewWriter(&buf)
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < b.N; i++ {
				if _, err := w.Write(writeBuf); err != nil {
					b.Fatal(err)
				}
			}
			if err := w.Close(); err != nil {
				b.Fatal(err)
			}
		})
	}
}
