package resumable

import "context"

// ConflictReport is the outcome of an offset query after a 409 Conflict.
type ConflictReport struct {
	LocalOffset int64
	// ServerOffset is -1 when the server did not report a usable offset.
	ServerOffset int64
	Err          error
}

// Recoverable reports whether the server is ahead of the local progress and
// the transfer can continue from ServerOffset.
func (r ConflictReport) Recoverable(totalSize int64) bool {
	return r.ServerOffset > r.LocalOffset && r.ServerOffset <= totalSize
}

func (r ConflictReport) error() error {
	return &ConflictUnrecoverableError{
		LocalOffset:  r.LocalOffset,
		ServerOffset: r.ServerOffset,
		Err:          r.Err,
	}
}

// resolveConflict queries the authoritative offset of the session. Only a
// cancelled context is returned as an error; a failed query is reported as
// ServerOffset -1.
func (u *Uploader) resolveConflict(ctx context.Context, client apiClient, session *Session) (ConflictReport, error) {
	report := ConflictReport{LocalOffset: session.CommittedOffset()}

	serverOffset, err := client.queryOffset(ctx, session.Location)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		u.logger.Warnf("Offset query failed: %s", err)
		serverOffset = -1
		report.Err = err
	}
	report.ServerOffset = serverOffset

	u.logger.Debugf("Offset conflict: local offset %d, server offset %d", report.LocalOffset, report.ServerOffset)
	return report, nil
}
