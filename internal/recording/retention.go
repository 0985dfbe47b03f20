package recording

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Retention runs the periodic garbage collector (C9) for one camera's
// store, deleting data older than each component's own retention window.
// Deletion proceeds in a fixed order — frames, then hls segments, then
// mp4 segments (unlinking the file before the row), then finished
// sessions, then expired hls playlist cache — so a crash mid-sweep never
// leaves a row pointing at bytes that no longer exist.
type Retention struct {
	cameraID string
	store    *Store
	resolved func() ResolvedPipelineView
	logger   *slog.Logger
}

// ResolvedPipelineView is the subset of config.ResolvedPipeline retention
// needs; declared locally so this package does not import config merely
// to read four durations.
type ResolvedPipelineView struct {
	FrameStorageRetention time.Duration
	MP4StorageRetention   time.Duration
	HLSStorageRetention   time.Duration
	CleanupIntervalHours  uint64
}

// NewRetention creates a retention sweeper for one camera. resolved is
// called fresh on every sweep so a config hot-reload takes effect on the
// next cycle without restarting the sweeper.
func NewRetention(cameraID string, store *Store, resolved func() ResolvedPipelineView) *Retention {
	return &Retention{
		cameraID: cameraID,
		store:    store,
		resolved: resolved,
		logger:   slog.Default().With("component", "retention", "camera", cameraID),
	}
}

// Run sweeps on a ticker sized to the camera's cleanup_interval_hours until
// ctx is cancelled, running one sweep immediately on start.
func (r *Retention) Run(ctx context.Context) {
	r.sweep(ctx)

	interval := time.Duration(r.resolved().CleanupIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retention) sweep(ctx context.Context) {
	cfg := r.resolved()
	now := time.Now()

	if cfg.FrameStorageRetention > 0 {
		n, err := r.store.DeleteFramesOlderThan(ctx, now.Add(-cfg.FrameStorageRetention))
		if err != nil {
			r.logger.Error("frame retention sweep failed", "error", err)
		} else if n > 0 {
			r.logger.Info("frames expired", "count", n)
		}
	}

	if cfg.HLSStorageRetention > 0 {
		n, err := r.store.DeleteHLSSegmentsOlderThan(ctx, now.Add(-cfg.HLSStorageRetention))
		if err != nil {
			r.logger.Error("hls retention sweep failed", "error", err)
		} else if n > 0 {
			r.logger.Info("hls segments expired", "count", n)
		}
	}

	if cfg.MP4StorageRetention > 0 {
		r.sweepMP4(ctx, now.Add(-cfg.MP4StorageRetention))
	}

	r.sweepFinishedSessions(ctx)

	if n, err := r.store.DeleteExpiredHLSCache(ctx, now); err != nil {
		r.logger.Error("hls cache sweep failed", "error", err)
	} else if n > 0 {
		r.logger.Info("hls cache entries expired", "count", n)
	}
}

func (r *Retention) sweepMP4(ctx context.Context, cutoff time.Time) {
	stale, err := r.store.OldestMP4SegmentsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("mp4 retention query failed", "error", err)
		return
	}

	for _, seg := range stale {
		if seg.FilePath != "" {
			if err := os.Remove(seg.FilePath); err != nil && !os.IsNotExist(err) {
				r.logger.Error("failed to unlink mp4 segment", "path", seg.FilePath, "error", err)
				continue // leave the row in place; it still points at a live file
			}
		}
		if err := r.store.DeleteMP4Segment(ctx, seg.SessionID, seg.StartTime); err != nil {
			r.logger.Error("failed to delete mp4 segment row", "error", err)
		}
	}
	if len(stale) > 0 {
		r.logger.Info("mp4 segments expired", "count", len(stale))
	}
}

// sweepFinishedSessions removes session rows whose frames and segments
// have all aged out and that are not flagged KeepSession, avoiding
// unbounded growth of the sessions table itself.
func (r *Retention) sweepFinishedSessions(ctx context.Context) {
	sessions, err := r.store.ListSessions(ctx, ListFilter{Limit: 1000})
	if err != nil {
		r.logger.Error("session sweep query failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if sess.Status == SessionActive || sess.KeepSession {
			continue
		}
		if sess.EndTime == nil {
			continue
		}
		hasFrame, err := r.sessionHasData(ctx, sess.ID)
		if err != nil || hasFrame {
			continue
		}
		if err := r.store.DeleteSession(ctx, sess.ID); err != nil {
			r.logger.Error("failed to delete exhausted session", "session_id", sess.ID, "error", err)
		}
	}
}

func (r *Retention) sessionHasData(ctx context.Context, sessionID int64) (bool, error) {
	hls, err := r.store.ListHLSSegments(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(hls) > 0 {
		return true, nil
	}
	frames, err := r.store.SessionFrameCount(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if frames > 0 {
		return true, nil
	}
	mp4s, err := r.store.SessionMP4Count(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return mp4s > 0, nil
}
