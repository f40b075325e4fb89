package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_LayoutIsEntryThenDelimiter(t *testing.T) {
	p := NewPipeline(nil, '\n', Identity{})

	chunk, err := p.Run([]any{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, "a\nbb\nccc\n", string(chunk.Bytes))
	assert.Equal(t, 3, chunk.EntryCount)
}

func TestPipeline_EmptyBatchErrors(t *testing.T) {
	p := NewPipeline(nil, '\n', Identity{})
	_, err := p.Run(nil)
	assert.Error(t, err)
}

func TestPipeline_CompressorsRoundTrip(t *testing.T) {
	for _, name := range []string{"identity", "gzip", "snappy", "lzma2"} {
		name := name
		t.Run(name, func(t *testing.T) {
			compressor, err := ByName(name)
			require.NoError(t, err)

			p := NewPipeline(nil, '\n', compressor)
			chunk, err := p.Run([]any{"1", "2", "3", "hello world"})
			require.NoError(t, err)

			decompressed, err := Decompress(name, chunk.Bytes)
			require.NoError(t, err)
			assert.Equal(t, "1\n2\n3\nhello world\n", string(decompressed))
		})
	}
}

func TestPipeline_CustomCompressor(t *testing.T) {
	var called bool
	custom := CompressorFunc(func(in []byte) ([]byte, error) {
		called = true
		return in, nil
	})

	p := NewPipeline(nil, '\n', custom)
	_, err := p.Run([]any{"x"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDefaultEncode(t *testing.T) {
	b, err := DefaultEncode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = DefaultEncode("str")
	require.NoError(t, err)
	assert.Equal(t, "str", string(b))

	b, err = DefaultEncode(42)
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))
}
