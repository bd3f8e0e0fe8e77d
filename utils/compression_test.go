package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressTextRoundTrip(t *testing.T) {
	text := strings.Repeat("chunk text with plenty of repetition ", 50)

	compressed, algorithm, err := CompressText(text)
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, algorithm)
	assert.Less(t, len(compressed), len(text))

	decompressed, err := DecompressText(compressed, algorithm)
	require.NoError(t, err)
	assert.Equal(t, text, decompressed)
}

func TestCompressTextSkipsSmallPayloads(t *testing.T) {
	_, algorithm, err := CompressText("short chunk")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, algorithm)
}

func TestDecompressDataUnknownAlgorithm(t *testing.T) {
	_, err := DecompressData([]byte("data"), CompressionAlgorithm("zstd"))
	assert.Error(t, err)
}
