// Package snapshot decides which observations earn a time-series point and
// keeps per-reel history bounded.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/store"
)

// Store is the slice of the persistence layer the recorder needs.
type Store interface {
	RecentSnapshots(ctx context.Context, projectID, url string, limit int) ([]store.Snapshot, error)
	InsertSnapshot(ctx context.Context, snap store.Snapshot) error
	TrimSnapshots(ctx context.Context, projectID, url string, keep int) error
}

// Config holds the admission policy thresholds and the retention limit.
type Config struct {
	Retention    int
	MinViewDelta int64
	MaxInterval  time.Duration
}

// Recorder applies the snapshot admission policy and retention trim.
type Recorder struct {
	store Store
	cfg   Config
	clk   clock.Clock
	log   *zap.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(st Store, cfg Config, clk clock.Clock, log *zap.Logger) *Recorder {
	return &Recorder{store: st, cfg: cfg, clk: clk, log: log}
}

// ShouldRecord evaluates the admission policy, first match wins:
// no prior snapshot, meaningful engagement movement, or heartbeat interval.
func (r *Recorder) ShouldRecord(last *store.Snapshot, obs store.Snapshot, now time.Time) bool {
	if last == nil {
		return true
	}
	if obs.Views-last.Views >= r.cfg.MinViewDelta {
		return true
	}
	if obs.Likes > last.Likes || obs.Comments > last.Comments {
		return true
	}
	return now.Sub(last.CapturedAt) >= r.cfg.MaxInterval
}

// Observe runs the full per-item sequence: admission check, insert if
// admitted, then trim history down to the retention limit. The trim runs on
// every cycle so retention holds regardless of run frequency.
func (r *Recorder) Observe(ctx context.Context, obs store.Snapshot) (bool, error) {
	snaps, err := r.store.RecentSnapshots(ctx, obs.ProjectID, obs.URL, 1)
	if err != nil {
		return false, fmt.Errorf("load last snapshot: %w", err)
	}
	var last *store.Snapshot
	if len(snaps) > 0 {
		last = &snaps[0]
	}

	recorded := false
	if r.ShouldRecord(last, obs, r.clk.Now()) {
		if err := r.store.InsertSnapshot(ctx, obs); err != nil {
			return false, fmt.Errorf("record snapshot: %w", err)
		}
		recorded = true
	}
	metrics.ObserveSnapshot(recorded)

	if err := r.store.TrimSnapshots(ctx, obs.ProjectID, obs.URL, r.cfg.Retention); err != nil {
		return recorded, fmt.Errorf("trim snapshots: %w", err)
	}
	return recorded, nil
}
