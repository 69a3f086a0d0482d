package parallel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katabyte/zseek"
)

func writeTestFile(t *testing.T, content []byte, frameSize int64) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.zst")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := zseek.NewWriter(f, zseek.WithFrameSize(frameSize))
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return path
}

func TestParallelDecoderMatchesSequential(t *testing.T) {
	t.Parallel()

	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := writeTestFile(t, content, 4096)

	pd, err := Open(path, WithConcurrency(4))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), pd.Size())
	assert.Greater(t, pd.NumFrames(), int64(1))

	ranges := []Range{
		{Start: 0, End: 10},
		{Start: 4096, End: 4096 + 200},
		{Start: 4090, End: 4110},
		{Start: int64(len(content)) - 5, End: int64(len(content))},
		{Start: 100, End: 100},
	}

	results, err := pd.ReadRanges(context.Background(), ranges)
	require.NoError(t, err)
	require.Len(t, results, len(ranges))

	for i, r := range ranges {
		assert.Equal(t, content[r.Start:r.End], results[i], "range %d", i)
	}
}

func TestParallelDecoderEmptyRanges(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, []byte("hello"), 1<<10)
	pd, err := Open(path)
	require.NoError(t, err)

	results, err := pd.ReadRanges(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestParallelDecoderRejectsBadRange(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, []byte("hello"), 1<<10)
	pd, err := Open(path)
	require.NoError(t, err)

	_, err = pd.ReadRanges(context.Background(), []Range{{Start: 3, End: 1}})
	assert.Error(t, err)
}
