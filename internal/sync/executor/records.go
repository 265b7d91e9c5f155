package executor

import (
	"context"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
)

// putRecord writes record for the pair, removing the previous record first
// when it was tracked under a differently cased path.
func (r *run) putRecord(ctx context.Context, prev *index.Record, record index.Record) error {
	record.PairID = r.job.PairID
	ctx = context.WithoutCancel(ctx)

	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	if prev != nil && prev.RelativePath != record.RelativePath && strings.EqualFold(prev.RelativePath, record.RelativePath) {
		if err := r.e.db.DeleteRecord(ctx, r.job.PairID, prev.RelativePath); err != nil {
			return err
		}
	}
	return r.e.db.UpsertRecord(ctx, record)
}

func (r *run) dropRecord(ctx context.Context, a diff.Action) error {
	relPath := a.Path
	if a.Tracked != nil {
		relPath = a.Tracked.RelativePath
	}
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	return r.e.db.DeleteRecord(context.WithoutCancel(ctx), r.job.PairID, relPath)
}

// markPending records that a transfer for a.Path has started. The previous
// confirmed state is kept so an interrupted transfer is still compared
// against it on the next run.
func (r *run) markPending(ctx context.Context, a diff.Action, status index.RecordStatus) error {
	return r.putRecord(ctx, a.Tracked, r.inFlight(a, status))
}

// markFailed flips the in-flight record to its error status. A failure to
// write it is logged; the pending status already forces a retry.
func (r *run) markFailed(ctx context.Context, a diff.Action, status index.RecordStatus) {
	if err := r.putRecord(ctx, a.Tracked, r.inFlight(a, status)); err != nil {
		r.logger.Warn("Failed to record transfer failure",
			logging.F("path", a.Path),
			logging.F("error", err.Error()),
		)
	}
}

func (r *run) inFlight(a diff.Action, status index.RecordStatus) index.Record {
	if a.Tracked != nil {
		record := *a.Tracked
		record.RelativePath = a.Path
		record.Status = status
		return record
	}
	record := index.Record{
		RelativePath: a.Path,
		RemoteID:     a.RemoteID,
		Status:       status,
	}
	if a.Remote != nil {
		record.RemoteID = a.Remote.ID
	}
	return record
}
