// Package resumable implements a tus 1.0.0 client that uploads a single file in
// sequential chunks and survives transient failures and offset conflicts
// without restarting the transfer from byte zero.
package resumable

import (
	"fmt"
	"io"
	"net/http"
)

// Doer sends a single HTTP request. *http.Client and *transport.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source provides random access to the bytes being uploaded.
// Implementations can read from files, memory buffers or remote objects.
type Source interface {
	// Size returns the total number of bytes of the source. It must not change
	// during an upload.
	Size() int64

	// ReadRange returns exactly length bytes starting at offset.
	ReadRange(offset, length int64) ([]byte, error)
}

// Window is a contiguous byte range [Start, Start+Length) of the source that is
// sent in one transfer request.
type Window struct {
	Start  int64
	Length int64
}

// End returns the offset right after the last byte of the window.
func (w Window) End() int64 {
	return w.Start + w.Length
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start, w.End())
}

// NextWindow computes the window that starts at offset. The last window of a
// source is shorter than chunkSize when chunkSize does not divide totalSize.
func NextWindow(offset, totalSize, chunkSize int64) Window {
	length := chunkSize
	if remaining := totalSize - offset; remaining < length {
		length = remaining
	}
	if length < 0 {
		length = 0
	}
	return Window{Start: offset, Length: length}
}

// Windows partitions a source of totalSize bytes into consecutive windows.
func Windows(totalSize, chunkSize int64) []Window {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}

	windows := make([]Window, 0, (totalSize+chunkSize-1)/chunkSize)
	for offset := int64(0); offset < totalSize; {
		w := NextWindow(offset, totalSize, chunkSize)
		windows = append(windows, w)
		offset = w.End()
	}
	return windows
}

// UploadParams describes one file upload.
type UploadParams struct {
	// Endpoint is the storage API base URL, e.g. https://xyz.supabase.co/storage/v1.
	Endpoint string
	// Headers are sent with every request (authorization, apikey, ...).
	Headers map[string]string

	Bucket      string
	Object      string
	ContentType string
	Upsert      bool

	Source Source

	// OnProgress, if set, is called every time the committed offset advances.
	OnProgress func(committed, total int64)
}

// TargetPath returns the logical "<bucket>/<object>" identifier of the upload.
func (p UploadParams) TargetPath() string {
	return fmt.Sprintf("%s/%s", p.Bucket, p.Object)
}

// UploadResult represents the result of a completed upload.
type UploadResult struct {
	// Path is "<bucket>/<object>".
	Path     string
	Location string
	Size     int64
	// Chunks holds one entry per transferred window, in order.
	Chunks []ChunkStat
	// Conflicts is the number of offset conflicts that were reconciled.
	Conflicts int
}

// BytesSource serves a Source from memory.
type BytesSource []byte

// Size ...
func (s BytesSource) Size() int64 {
	return int64(len(s))
}

// ReadRange ...
func (s BytesSource) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(s)) {
		return nil, fmt.Errorf("range [%d, %d) out of bounds [0, %d)", offset, offset+length, len(s))
	}
	return s[offset : offset+length], nil
}

// ReaderAtSource adapts an io.ReaderAt of a known size to a Source.
type ReaderAtSource struct {
	r    io.ReaderAt
	size int64
}

// NewReaderAtSource ...
func NewReaderAtSource(r io.ReaderAt, size int64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

// Size ...
func (s *ReaderAtSource) Size() int64 {
	return s.size
}

// ReadRange reads the range into a fresh buffer so it stays valid across retries.
func (s *ReaderAtSource) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > s.size {
		return nil, fmt.Errorf("range [%d, %d) out of bounds [0, %d)", offset, offset+length, s.size)
	}

	buf := make([]byte, length)
	n, err := s.r.ReadAt(buf, offset)
	if int64(n) == length {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read %d bytes at offset %d: %w", length, offset, err)
}
