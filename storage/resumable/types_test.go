package resumable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindows(t *testing.T) {
	tests := []struct {
		totalSize int64
		chunkSize int64
	}{
		{totalSize: 1, chunkSize: 1},
		{totalSize: 10, chunkSize: 3},
		{totalSize: 12, chunkSize: 3},
		{totalSize: 5, chunkSize: 100},
		{totalSize: 10 * mib, chunkSize: 6 * mib},
		{totalSize: 1<<32 + 7, chunkSize: 6 * mib},
	}
	for _, tt := range tests {
		windows := Windows(tt.totalSize, tt.chunkSize)
		require.NotEmpty(t, windows)

		var sum int64
		for i, w := range windows {
			assert.Equal(t, sum, w.Start, "windows must be contiguous")
			if i < len(windows)-1 {
				assert.Equal(t, tt.chunkSize, w.Length)
			} else {
				assert.LessOrEqual(t, w.Length, tt.chunkSize)
				assert.Greater(t, w.Length, int64(0))
			}
			sum += w.Length
		}
		assert.Equal(t, tt.totalSize, sum)
	}

	assert.Empty(t, Windows(0, 6*mib))
	assert.Equal(t, []Window{{Start: 0, Length: 6 * mib}, {Start: 6 * mib, Length: 4 * mib}}, Windows(10*mib, 6*mib))
}

func TestNextWindow(t *testing.T) {
	assert.Equal(t, Window{Start: 8, Length: 2}, NextWindow(8, 10, 4))
	assert.Equal(t, Window{Start: 0, Length: 4}, NextWindow(0, 10, 4))
	assert.Equal(t, Window{Start: 10, Length: 0}, NextWindow(10, 10, 4))
	assert.Equal(t, "[4, 8)", Window{Start: 4, Length: 4}.String())
}

func Test_resolveLocation(t *testing.T) {
	tusURL := "https://xyz.supabase.co/storage/v1/upload/resumable"

	tests := []struct {
		name     string
		location string
		want     string
		wantErr  bool
	}{
		{
			name:     "absolute",
			location: "https://cdn.example.com/upload/resumable/abc",
			want:     "https://cdn.example.com/upload/resumable/abc",
		},
		{
			name:     "absolute path",
			location: "/upload/resumable/abc",
			want:     tusURL + "/abc",
		},
		{
			name:     "bare id",
			location: "abc",
			want:     tusURL + "/abc",
		},
		{
			name:     "trailing slash",
			location: "/storage/v1/upload/resumable/abc/",
			want:     tusURL + "/abc",
		},
		{
			name:     "signed location",
			location: "/storage/v1/upload/resumable/abc?sig=123&exp=60",
			want:     tusURL + "/abc?sig=123&exp=60",
		},
		{
			name:     "no id",
			location: "/",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveLocation(tusURL, tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_parseOffset(t *testing.T) {
	assert.Equal(t, int64(42), parseOffset("42"))
	assert.Equal(t, int64(42), parseOffset(" 42 "))
	assert.Equal(t, int64(-1), parseOffset(""))
	assert.Equal(t, int64(-1), parseOffset("-5"))
	assert.Equal(t, int64(-1), parseOffset("4.2"))
}

func TestSession_advance(t *testing.T) {
	session := &Session{TotalSize: 10, Fingerprint: Fingerprint("b/o", 10)}
	assert.Equal(t, "tus-b/o-10", session.Fingerprint)

	require.NoError(t, session.advance(4))
	assert.Equal(t, int64(4), session.CommittedOffset())
	assert.False(t, session.Complete())

	assert.Error(t, session.advance(3))
	assert.Error(t, session.advance(11))
	assert.Equal(t, int64(4), session.CommittedOffset())

	require.NoError(t, session.advance(10))
	assert.True(t, session.Complete())
}

func TestConflictReport_Recoverable(t *testing.T) {
	assert.True(t, ConflictReport{LocalOffset: 4, ServerOffset: 8}.Recoverable(10))
	assert.True(t, ConflictReport{LocalOffset: 4, ServerOffset: 10}.Recoverable(10))
	assert.False(t, ConflictReport{LocalOffset: 4, ServerOffset: 4}.Recoverable(10))
	assert.False(t, ConflictReport{LocalOffset: 4, ServerOffset: 2}.Recoverable(10))
	assert.False(t, ConflictReport{LocalOffset: 4, ServerOffset: -1}.Recoverable(10))
	assert.False(t, ConflictReport{LocalOffset: 4, ServerOffset: 11}.Recoverable(10))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0600))

	source, err := OpenFileSource(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, source.Close()) }()

	assert.Equal(t, int64(10), source.Size())
	assert.Equal(t, path, source.Name())

	chunk, err := source.ReadRange(8, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), chunk)

	_, err = source.ReadRange(8, 4)
	assert.Error(t, err)

	_, err = OpenFileSource(t.TempDir())
	assert.Error(t, err)
}

func TestBytesSource(t *testing.T) {
	source := BytesSource("abcdef")

	chunk, err := source.ReadRange(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("cde"), chunk)

	_, err = source.ReadRange(4, 3)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	stats := NewStats()

	assert.Equal(t, 0, stats.FinishedCount())
	assert.Equal(t, time.Duration(0), stats.Average())

	stats.Update(ChunkStat{Window: Window{Start: 0, Length: 4}, Attempts: 1, Duration: 100 * time.Millisecond})
	stats.Update(ChunkStat{Window: Window{Start: 4, Length: 4}, Attempts: 3, Duration: 200 * time.Millisecond})
	stats.Update(ChunkStat{Window: Window{Start: 8, Length: 2}, Attempts: 1, Duration: 300 * time.Millisecond})

	assert.Equal(t, 3, stats.FinishedCount())
	assert.Equal(t, 5, stats.TotalAttempts())
	assert.Equal(t, 200*time.Millisecond, stats.Average())
	assert.Len(t, stats.Chunks(), 3)
}
