package resumable

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// ProtocolVersion is sent in the Tus-Resumable header of every request.
	ProtocolVersion = "1.0.0"

	// DefaultChunkSize is the window size used when Config.ChunkSize is 0.
	DefaultChunkSize int64 = 6 * 1024 * 1024

	// DefaultMaxAttempts is the number of attempts per chunk when Config.MaxAttempts is 0.
	DefaultMaxAttempts = 3

	// DefaultRetryWait is the pause between two attempts of the same chunk.
	DefaultRetryWait = time.Second

	// DefaultChunkTimeout bounds a single chunk request.
	DefaultChunkTimeout = time.Minute

	// NoRetryWait retries a failed chunk right away.
	NoRetryWait time.Duration = -1
)

// Config holds configuration for the Uploader.
type Config struct {
	// ChunkSize is the maximum number of bytes sent in one transfer request.
	// Default: 6 MiB
	ChunkSize int64

	// MaxAttempts is the maximum number of attempts per chunk.
	// Default: 3
	MaxAttempts int

	// RetryWait is the fixed delay between failed attempts of a chunk.
	// Negative (see NoRetryWait) retries without waiting.
	// Default: 1 second
	RetryWait time.Duration

	// ChunkTimeout bounds a single chunk request. Negative disables it.
	// Default: 1 minute
	ChunkTimeout time.Duration

	// TrustServerOffset makes a successful chunk commit the Upload-Offset echoed
	// by the server instead of the end of the window, when the echoed value is
	// inside the window.
	TrustServerOffset bool

	// HTTPClient sends the requests. If nil, a plain *http.Client is used.
	HTTPClient Doer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		MaxAttempts:  DefaultMaxAttempts,
		RetryWait:    DefaultRetryWait,
		ChunkTimeout: DefaultChunkTimeout,
		HTTPClient:   nil, // Will be created by Uploader
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWait == 0 {
		c.RetryWait = DefaultRetryWait
	}
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	return nil
}
