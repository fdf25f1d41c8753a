package resumable

import (
	"fmt"
	"os"
)

// FileSource reads upload windows from a file on disk.
// Reads go through ReadAt, so a FileSource is safe for concurrent use.
type FileSource struct {
	*ReaderAtSource
	file *os.File
}

// OpenFileSource opens the file at path and captures its current size.
func OpenFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		ReaderAtSource: NewReaderAtSource(file, info.Size()),
		file:           file,
	}, nil
}

// Name returns the path the source was opened with.
func (s *FileSource) Name() string {
	return s.file.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
