// Package jobs runs background maintenance for the decision engine: audit
// archive exports and shared resolver-cache sweeps.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditArchive copies sealed audit sequence ranges to the archive.
	TaskAuditArchive = "audit:archive"
	// TaskCacheSweep evicts resolver cache entries for stale snapshots.
	TaskCacheSweep = "cache:sweep"
)

// AuditArchivePayload selects the range to archive. A zero ToSeq means
// "everything persisted so far".
type AuditArchivePayload struct {
	FromSeq int64 `json:"from_seq"`
	ToSeq   int64 `json:"to_seq"`
}

// NewAuditArchiveTask constructs an archive task.
func NewAuditArchiveTask(payload AuditArchivePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditArchive, body, asynq.Queue(QueueDefault)), nil
}

// CacheSweepPayload names the lowest snapshot version to keep.
type CacheSweepPayload struct {
	MinVersion uint64 `json:"min_version"`
}

// NewCacheSweepTask constructs a cache sweep task.
func NewCacheSweepTask(payload CacheSweepPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheSweep, body, asynq.Queue(QueueDefault)), nil
}

// AuditArchiver is the audit repository slice the archive task needs.
type AuditArchiver interface {
	MaxSeq(ctx context.Context) (int64, error)
	ArchiveRange(ctx context.Context, fromSeq, toSeq int64) (int64, error)
}

// HandleAuditArchiveTask copies the requested range into the archive
// table. The hot log is left untouched; retention lives elsewhere.
func HandleAuditArchiveTask(archiver AuditArchiver, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditArchivePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		toSeq := payload.ToSeq
		if toSeq == 0 {
			max, err := archiver.MaxSeq(ctx)
			if err != nil {
				return err
			}
			toSeq = max
		}
		if toSeq < payload.FromSeq {
			return nil
		}
		copied, err := archiver.ArchiveRange(ctx, payload.FromSeq, toSeq)
		if err != nil {
			return err
		}
		logger.Info("audit archive",
			slog.Int64("from_seq", payload.FromSeq),
			slog.Int64("to_seq", toSeq),
			slog.Int64("copied", copied),
		)
		return nil
	}
}

// CacheSweeper is the resolver cache slice the sweep task needs.
type CacheSweeper interface {
	SweepBelow(ctx context.Context, minVersion uint64) (int, error)
}

// SnapshotSource reports the currently published snapshot version.
type SnapshotSource interface {
	CurrentVersion(ctx context.Context) (uint64, error)
}

// HandleCacheSweepTask drops shared-cache entries computed against
// snapshots older than MinVersion. When MinVersion is zero the current
// version is used, so the cron form always sweeps everything stale.
func HandleCacheSweepTask(sweeper CacheSweeper, source SnapshotSource, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CacheSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		minVersion := payload.MinVersion
		if minVersion == 0 {
			version, err := source.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			minVersion = version
		}
		start := time.Now()
		dropped, err := sweeper.SweepBelow(ctx, minVersion)
		if err != nil {
			return err
		}
		logger.Info("resolver cache sweep",
			slog.Uint64("min_version", minVersion),
			slog.Int("dropped", dropped),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	}
}
