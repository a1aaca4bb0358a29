// Package lifecycle removes tracked reels that are no longer worth tracking,
// via two independent mechanisms: reconciliation (consecutive-miss counting
// against what a collection pass actually returned) and pruning (performance
// and staleness rules).
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/store"
)

// Store is the slice of the persistence layer the manager needs.
type Store interface {
	ProjectReels(ctx context.Context, projectID string) ([]store.Reel, error)
	RecentSnapshots(ctx context.Context, projectID, url string, limit int) ([]store.Snapshot, error)
	SetMissingCount(ctx context.Context, projectID, url string, count int) error
	DeleteReel(ctx context.Context, projectID, url string) error
	DeleteSnapshots(ctx context.Context, projectID, url string) error
}

// Config holds reconciliation and pruning thresholds.
type Config struct {
	// MissingThreshold is the consecutive-miss count at which a reel is dropped.
	MissingThreshold int
	// HardStale kills a reel not observed for this long, regardless of growth.
	HardStale time.Duration
	// Inactive is the softer no-observation threshold.
	Inactive time.Duration
	// MinViewsPerHour is the growth floor below which a reel is pruned.
	MinViewsPerHour float64
	// MaxAge and MinTotalViews together prune old reels that never took off.
	MaxAge        time.Duration
	MinTotalViews int64
}

// Manager applies the lifecycle rules for one project at a time.
type Manager struct {
	store Store
	cfg   Config
	clk   clock.Clock
	log   *zap.Logger
}

// NewManager builds a Manager.
func NewManager(st Store, cfg Config, clk clock.Clock, log *zap.Logger) *Manager {
	return &Manager{store: st, cfg: cfg, clk: clk, log: log}
}

// Reconcile increments the miss counter of every known reel absent from the
// seen set and deletes reels whose counter reaches the threshold. Observed
// reels have their counter reset by the upsert, not here.
func (m *Manager) Reconcile(ctx context.Context, projectID string, seen map[string]bool) (int, error) {
	reels, err := m.store.ProjectReels(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", projectID, err)
	}

	removed := 0
	for i := range reels {
		reel := &reels[i]
		if seen[reel.URL] {
			continue
		}
		missing := reel.MissingCount + 1
		if missing >= m.cfg.MissingThreshold {
			if err := m.remove(ctx, projectID, reel.URL); err != nil {
				return removed, err
			}
			m.log.Info("reel dropped after consecutive misses",
				zap.String("project_id", projectID),
				zap.String("url", reel.URL),
				zap.Int("missing", missing))
			metrics.ObservePrune("missing")
			removed++
			continue
		}
		if err := m.store.SetMissingCount(ctx, projectID, reel.URL, missing); err != nil {
			return removed, fmt.Errorf("persist missing count: %w", err)
		}
	}
	return removed, nil
}

// Prune evaluates the performance rules for every tracked reel of a project
// and deletes reel and history for each match.
func (m *Manager) Prune(ctx context.Context, projectID string) (int, error) {
	reels, err := m.store.ProjectReels(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", projectID, err)
	}

	pruned := 0
	for i := range reels {
		reel := &reels[i]
		reason, err := m.pruneReason(ctx, reel)
		if err != nil {
			return pruned, err
		}
		if reason == "" {
			continue
		}
		if err := m.remove(ctx, projectID, reel.URL); err != nil {
			return pruned, err
		}
		m.log.Info("reel pruned",
			zap.String("project_id", projectID),
			zap.String("url", reel.URL),
			zap.String("reason", reason))
		metrics.ObservePrune(reason)
		pruned++
	}
	return pruned, nil
}

// pruneReason returns the first matching rule name, or "" to keep the reel.
func (m *Manager) pruneReason(ctx context.Context, reel *store.Reel) (string, error) {
	now := m.clk.Now()
	sinceSeen := now.Sub(reel.LastSeenAt)

	if sinceSeen > m.cfg.HardStale {
		return "hard_stale", nil
	}
	if sinceSeen > m.cfg.Inactive {
		return "inactive", nil
	}

	snaps, err := m.store.RecentSnapshots(ctx, reel.ProjectID, reel.URL, 2)
	if err != nil {
		return "", fmt.Errorf("load snapshots for prune: %w", err)
	}
	// Fewer than two snapshots: the growth rule cannot fire, fall through.
	if len(snaps) >= 2 {
		cur, prev := snaps[0], snaps[1]
		hours := cur.CapturedAt.Sub(prev.CapturedAt).Hours()
		if hours < 0.1 {
			hours = 0.1
		}
		vph := float64(cur.Views-prev.Views) / hours
		if vph < m.cfg.MinViewsPerHour {
			return "low_growth", nil
		}
	}

	// Age runs from the first observation, not the last: a reel can be seen
	// every pass and still be old.
	if now.Sub(reel.FirstSeenAt) >= m.cfg.MaxAge && reel.Views < m.cfg.MinTotalViews {
		return "old_and_weak", nil
	}
	return "", nil
}

// remove deletes a reel's history before its current-state row.
func (m *Manager) remove(ctx context.Context, projectID, url string) error {
	if err := m.store.DeleteSnapshots(ctx, projectID, url); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if err := m.store.DeleteReel(ctx, projectID, url); err != nil {
		return fmt.Errorf("delete reel: %w", err)
	}
	return nil
}
