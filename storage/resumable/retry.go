package resumable

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type chunkAttempt struct {
	response chunkResponse
	attempts int
	conflict bool
}

// transferWithRetry sends one window up to MaxAttempts times, waiting RetryWait
// between attempts (no wait when it is negative). A 409 Conflict ends the loop
// without an error and is left to the caller; the last failure is returned
// once the attempts run out.
func (u *Uploader) transferWithRetry(ctx context.Context, client apiClient, location string, window Window, data []byte) (chunkAttempt, error) {
	var result chunkAttempt

	wait := u.config.RetryWait
	if wait < 0 {
		wait = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), uint64(u.config.MaxAttempts-1)),
		ctx,
	)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		result.attempts++
		u.logger.Debugf("Uploading chunk %s (attempt %d/%d)", window, result.attempts, u.config.MaxAttempts)

		resp, err := u.sendChunk(ctx, client, location, window, data)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			return err
		}

		switch resp.StatusCode {
		case http.StatusNoContent:
			result.response = resp
			return nil
		case http.StatusConflict:
			result.response = resp
			result.conflict = true
			return nil
		default:
			return &TransferError{Offset: window.Start, StatusCode: resp.StatusCode, Body: resp.Body}
		}
	}

	notify := func(err error, wait time.Duration) {
		u.logger.Warnf("Chunk %s attempt %d/%d failed: %s, retrying in %s",
			window, result.attempts, u.config.MaxAttempts, err, wait)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	return result, err
}

func (u *Uploader) sendChunk(ctx context.Context, client apiClient, location string, window Window, data []byte) (chunkResponse, error) {
	if u.config.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.config.ChunkTimeout)
		defer cancel()
	}
	return client.patchChunk(ctx, location, window.Start, data)
}
