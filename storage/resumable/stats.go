package resumable

import (
	"sync"
	"time"
)

// ChunkStat describes how one window was transferred.
type ChunkStat struct {
	Window   Window
	Attempts int
	Duration time.Duration
}

// Stats tracks per-chunk attempts and durations of an Uploader.
type Stats struct {
	chunks []ChunkStat
	sum    time.Duration
	mu     sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a chunk that was acknowledged by the server.
func (s *Stats) Update(stat ChunkStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, stat)
	s.sum += stat.Duration
}

// Average returns the average duration of the acknowledged chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chunks) == 0 {
		return 0
	}
	return s.sum / time.Duration(len(s.chunks))
}

// FinishedCount returns the number of acknowledged chunks.
func (s *Stats) FinishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// TotalAttempts returns the number of chunk requests that were sent for acknowledged chunks.
func (s *Stats) TotalAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, c := range s.chunks {
		total += c.Attempts
	}
	return total
}

// Chunks returns a copy of the recorded chunks.
func (s *Stats) Chunks() []ChunkStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChunkStat(nil), s.chunks...)
}
