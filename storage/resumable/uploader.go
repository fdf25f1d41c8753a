package resumable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

type state string

const (
	stateInitiating   state = "initiating"
	stateTransferring state = "transferring"
	stateReconciling  state = "reconciling"
	stateCompleted    state = "completed"
	stateFailed       state = "failed"
)

// Uploader uploads files with the tus protocol, one chunk at a time.
// An Uploader holds no per-upload state and can be shared between goroutines.
type Uploader struct {
	config     Config
	httpClient Doer
	logger     log.Logger
}

// New creates a new Uploader with the given configuration. Zero fields of
// config fall back to their defaults.
func New(config Config, logger log.Logger) *Uploader {
	config = config.withDefaults()
	return &Uploader{
		config:     config,
		httpClient: config.HTTPClient,
		logger:     logger,
	}
}

// upload is the state of a single Upload call.
type upload struct {
	params  UploadParams
	client  apiClient
	session *Session
	stats   *Stats
	state   state
	logger  log.Logger
}

func (up *upload) transition(to state) {
	up.logger.Debugf("Upload %s: %s -> %s", up.params.TargetPath(), up.state, to)
	up.state = to
}

// Upload creates an upload session for params.Source and transfers it chunk by
// chunk. Failed chunk attempts are retried, offset conflicts are reconciled
// with the server, and every other failure ends the upload.
func (u *Uploader) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if err := u.config.validate(); err != nil {
		return nil, err
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	up := &upload{
		params: params,
		client: newAPIClient(u.httpClient, params.Headers, u.logger),
		stats:  NewStats(),
		state:  stateInitiating,
		logger: u.logger,
	}

	result, err := u.run(ctx, up)
	if err != nil {
		up.transition(stateFailed)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("upload cancelled: %w (%s)", ctxErr, err)
		}
		return nil, err
	}
	up.transition(stateCompleted)
	return result, nil
}

func (u *Uploader) run(ctx context.Context, up *upload) (*UploadResult, error) {
	session, err := u.initiate(ctx, up.client, up.params)
	if err != nil {
		return nil, err
	}
	up.session = session
	up.transition(stateTransferring)

	result := &UploadResult{
		Path:     up.params.TargetPath(),
		Location: session.Location,
		Size:     session.TotalSize,
	}

	for !session.Complete() {
		window := NextWindow(session.CommittedOffset(), session.TotalSize, u.config.ChunkSize)

		data, err := up.params.Source.ReadRange(window.Start, window.Length)
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", window, err)
		}
		if int64(len(data)) != window.Length {
			return nil, fmt.Errorf("read chunk %s: got %d bytes", window, len(data))
		}

		start := time.Now()
		attempt, err := u.transferWithRetry(ctx, up.client, session.Location, window, data)
		if err != nil {
			return nil, fmt.Errorf("upload chunk %s after %d attempt(s): %w", window, attempt.attempts, err)
		}

		if attempt.conflict {
			up.transition(stateReconciling)
			report, err := u.resolveConflict(ctx, up.client, session)
			if err != nil {
				return nil, err
			}
			if !report.Recoverable(session.TotalSize) {
				return nil, report.error()
			}

			u.logger.Warnf("Server is ahead at offset %d, skipping %s of already accepted data",
				report.ServerOffset, units.HumanSize(float64(report.ServerOffset-report.LocalOffset)))
			if err := session.advance(report.ServerOffset); err != nil {
				return nil, err
			}
			result.Conflicts++
			up.reportProgress()
			up.transition(stateTransferring)
			continue
		}

		committed := u.committedOffset(session, window, attempt.response)
		if err := session.advance(committed); err != nil {
			return nil, err
		}

		up.stats.Update(ChunkStat{
			Window:   Window{Start: window.Start, Length: committed - window.Start},
			Attempts: attempt.attempts,
			Duration: time.Since(start),
		})
		u.logger.Infof("Chunk %s uploaded in %v (%d/%d bytes) [avg=%v]",
			window, time.Since(start).Round(time.Millisecond), committed, session.TotalSize,
			up.stats.Average().Round(time.Millisecond))
		up.reportProgress()
	}

	result.Chunks = up.stats.Chunks()
	u.logger.Donef("Uploaded %s (%s) in %d chunk(s)",
		result.Path, units.HumanSize(float64(result.Size)), len(result.Chunks))
	return result, nil
}

func (u *Uploader) initiate(ctx context.Context, client apiClient, params UploadParams) (*Session, error) {
	size := params.Source.Size()
	metadata := uploadMetadata(params)

	u.logger.Debugf("Creating upload session for %s (%s)", params.TargetPath(), units.HumanSize(float64(size)))
	location, err := client.createSession(ctx, params.Endpoint, size, metadata.Encode())
	if err != nil {
		return nil, err
	}
	u.logger.Debugf("Upload session: %s", location)

	return &Session{
		Location:    location,
		TotalSize:   size,
		Fingerprint: Fingerprint(params.TargetPath(), size),
		Metadata:    metadata,
	}, nil
}

// committedOffset returns the offset to commit after a successful chunk.
// By default the whole window counts as accepted.
func (u *Uploader) committedOffset(session *Session, window Window, resp chunkResponse) int64 {
	if !u.config.TrustServerOffset {
		return window.End()
	}
	if resp.Offset > session.CommittedOffset() && resp.Offset <= window.End() {
		if resp.Offset != window.End() {
			u.logger.Warnf("Server accepted %d of %d bytes of chunk %s", resp.Offset-window.Start, window.Length, window)
		}
		return resp.Offset
	}
	return window.End()
}

func (up *upload) reportProgress() {
	if up.params.OnProgress != nil {
		up.params.OnProgress(up.session.CommittedOffset(), up.session.TotalSize)
	}
}

func validateParams(params UploadParams) error {
	switch {
	case params.Endpoint == "":
		return fmt.Errorf("%w: endpoint must not be empty", ErrInvalidConfig)
	case params.Bucket == "":
		return fmt.Errorf("%w: bucket must not be empty", ErrInvalidConfig)
	case params.Object == "":
		return fmt.Errorf("%w: object name must not be empty", ErrInvalidConfig)
	case params.Source == nil:
		return fmt.Errorf("%w: source must not be nil", ErrInvalidConfig)
	case params.Source.Size() < 0:
		return fmt.Errorf("%w: source size must not be negative", ErrInvalidConfig)
	}
	return nil
}
