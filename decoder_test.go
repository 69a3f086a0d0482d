package zseek

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder(t *testing.T) {
	t.Parallel()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	// Only the trailing skippable frame is needed to build the index;
	// frame payloads are fetched separately below, directly out of
	// checksum, to confirm the index's offsets/sizes are correct.
	d, err := NewDecoder(bytes.NewReader(checksum[17+18:]), dec)
	require.NoError(t, err)

	assert.Equal(t, int64(len(sourceString)), d.Size())
	assert.Equal(t, int64(2), d.NumFrames())

	// First frame.
	bytes1 := []byte("test")
	for _, off := range []int64{0, 1, 3} {
		byOffset := d.FrameAt(off)
		byID := d.Frame(0)
		assert.Equal(t, byOffset, byID)
		require.NotNil(t, byOffset)
		assert.Equal(t, int64(0), byOffset.Index)
		assert.Equal(t, uint32(len(bytes1)), byOffset.DecompressedSize)
		assert.NotEqual(t, uint32(0), byOffset.Checksum)

		decomp, err := dec.DecodeAll(
			checksum[byOffset.CompressedOffset:byOffset.CompressedOffset+uint64(byOffset.CompressedSize)], nil)
		require.NoError(t, err)
		assert.Equal(t, bytes1, decomp)
	}

	// Second frame.
	bytes2 := []byte("test2")
	for _, off := range []int64{4, 5, 8} {
		byOffset := d.FrameAt(off)
		byID := d.Frame(1)
		assert.Equal(t, byOffset, byID)
		require.NotNil(t, byOffset)
		assert.Equal(t, int64(1), byOffset.Index)
		assert.Equal(t, uint32(len(bytes2)), byOffset.DecompressedSize)
		assert.NotEqual(t, uint32(0), byOffset.Checksum)

		decomp, err := dec.DecodeAll(
			checksum[byOffset.CompressedOffset:byOffset.CompressedOffset+uint64(byOffset.CompressedSize)], nil)
		require.NoError(t, err)
		assert.Equal(t, bytes2, decomp)
	}

	// Out of bounds.
	for _, off := range []int64{9, 99} {
		assert.Nil(t, d.FrameAt(off))
	}
	for _, id := range []int64{-1, 2, 99} {
		assert.Nil(t, d.Frame(id))
	}
}

func TestReadRangeRejectsBadBounds(t *testing.T) {
	t.Parallel()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	d, err := NewDecoder(bytes.NewReader(checksum[17+18:]), dec)
	require.NoError(t, err)

	out := make([]byte, 16)
	_, err = d.ReadRange(5, 2, out)
	assert.True(t, As(err, new(*Error)))

	_, err = d.ReadRange(0, d.Size()+1, out)
	assert.True(t, As(err, new(*Error)))
}

func TestReadRangeEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	d, err := NewDecoder(bytes.NewReader(checksum[17+18:]), dec)
	require.NoError(t, err)

	n, err := d.ReadRange(d.Size(), d.Size(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadRangeCrossesFrames(t *testing.T) {
	t.Parallel()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	d, err := NewDecoder(nil, dec, WithREnvironment(&fakeReadEnvironment{}))
	require.NoError(t, err)

	out := make([]byte, 5)
	n, err := d.ReadRange(2, 7, out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte(sourceString[2:7]), out[:n])
}
