package compression

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.txt")
	compressed := filepath.Join(dir, "data.txt"+Extension)
	restored := filepath.Join(dir, "restored.txt")

	content := bytes.Repeat([]byte("resumable upload "), 4096)
	require.NoError(t, os.WriteFile(src, content, 0600))

	compressor := NewCompressor(log.NewLogger())
	require.NoError(t, compressor.CompressFile(src, compressed, 0))

	info, err := os.Stat(compressed)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(content)))

	require.NoError(t, compressor.DecompressFile(compressed, restored))
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCompressor_CompressFile_InvalidLevel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0600))

	compressor := NewCompressor(log.NewLogger())
	assert.Error(t, compressor.CompressFile(src, filepath.Join(dir, "out.zst"), 20))
	assert.Error(t, compressor.CompressFile(src, filepath.Join(dir, "out.zst"), -1))
	assert.Error(t, compressor.CompressFile(filepath.Join(dir, "missing"), filepath.Join(dir, "out.zst"), 3))
}
