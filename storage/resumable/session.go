package resumable

import "fmt"

// Session is the client side view of one server side upload resource.
// It lives for the duration of a single Upload call and is never persisted.
type Session struct {
	// Location is the absolute URL of the upload resource.
	Location    string
	TotalSize   int64
	Fingerprint string
	Metadata    Metadata

	committed int64
}

// Fingerprint derives the identifier of a logical transfer from its target and size.
func Fingerprint(targetPath string, size int64) string {
	return fmt.Sprintf("tus-%s-%d", targetPath, size)
}

// CommittedOffset returns the number of bytes the server has acknowledged.
func (s *Session) CommittedOffset() int64 {
	return s.committed
}

// Complete reports whether every byte has been acknowledged.
func (s *Session) Complete() bool {
	return s.committed == s.TotalSize
}

// advance moves the committed offset forward. It refuses to go backwards or
// past the total size.
func (s *Session) advance(offset int64) error {
	if offset < s.committed {
		return fmt.Errorf("committed offset can not go backwards: %d -> %d", s.committed, offset)
	}
	if offset > s.TotalSize {
		return fmt.Errorf("committed offset %d exceeds total size %d", offset, s.TotalSize)
	}
	s.committed = offset
	return nil
}
