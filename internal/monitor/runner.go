// Package monitor orchestrates one collection cycle: fetch every monitored
// handle of every active project, upsert the observed reels, record
// snapshots, then reconcile and prune. All failures are contained at the
// project boundary so one bad project never stops the others.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/lifecycle"
	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/ratelimit"
	"github.com/reelwatch/reelwatch/internal/snapshot"
	"github.com/reelwatch/reelwatch/internal/source"
	"github.com/reelwatch/reelwatch/internal/store"
)

// Fetcher returns the recent reels of one handle.
type Fetcher interface {
	Fetch(ctx context.Context, handle string) ([]source.Item, error)
}

// Store is the slice of the persistence layer the runner needs.
type Store interface {
	ActiveProjects(ctx context.Context) ([]store.Project, error)
	ProjectByID(ctx context.Context, id string) (store.Project, error)
	AccountHandles(ctx context.Context, projectID string) ([]string, error)
	UpsertReel(ctx context.Context, r store.Reel) error
}

// Budget is the run-scoped part of the request budget the runner controls.
type Budget interface {
	Reset()
}

// Summary aggregates the counters of one monitor run.
type Summary struct {
	Projects  int
	Reels     int
	Snapshots int
	Removed   int
	Pruned    int
	Blocked   bool
}

// Runner drives monitor runs.
type Runner struct {
	store     Store
	fetcher   Fetcher
	recorder  *snapshot.Recorder
	lifecycle *lifecycle.Manager
	budget    Budget
	clk       clock.Clock
	log       *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(st Store, fetcher Fetcher, rec *snapshot.Recorder, lc *lifecycle.Manager,
	budget Budget, clk clock.Clock, log *zap.Logger) *Runner {
	return &Runner{
		store:     st,
		fetcher:   fetcher,
		recorder:  rec,
		lifecycle: lc,
		budget:    budget,
		clk:       clk,
		log:       log,
	}
}

// Run executes one collection cycle over all active projects, or over the
// single project when projectID is non-empty. The block flag is reset at the
// start so a fresh run always gets a fresh chance.
func (r *Runner) Run(ctx context.Context, projectID string) (Summary, error) {
	runID := uuid.NewString()
	log := r.log.With(zap.String("run_id", runID))
	log.Info("monitor run started")

	r.budget.Reset()

	projects, err := r.selectProjects(ctx, projectID)
	if err != nil {
		metrics.ObserveMonitorRun("error")
		return Summary{}, err
	}

	var total Summary
	total.Projects = len(projects)
	for i := range projects {
		if ctx.Err() != nil {
			break
		}
		sum, err := r.runProject(ctx, log, projects[i])
		if err != nil {
			// Contained: log and move on to the next project.
			log.Error("project monitoring failed",
				zap.String("project_id", projects[i].ID), zap.Error(err))
		}
		total.Reels += sum.Reels
		total.Snapshots += sum.Snapshots
		total.Removed += sum.Removed
		total.Pruned += sum.Pruned
		total.Blocked = total.Blocked || sum.Blocked
	}

	metrics.SetTrackedReels(total.Reels)
	status := "ok"
	if total.Blocked {
		status = "blocked"
	}
	metrics.ObserveMonitorRun(status)

	log.Info("monitor run finished",
		zap.Int("projects", total.Projects),
		zap.Int("reels", total.Reels),
		zap.Int("snapshots", total.Snapshots),
		zap.Int("removed", total.Removed),
		zap.Int("pruned", total.Pruned),
		zap.Bool("blocked", total.Blocked))
	return total, nil
}

func (r *Runner) selectProjects(ctx context.Context, projectID string) ([]store.Project, error) {
	if projectID == "" {
		projects, err := r.store.ActiveProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("load active projects: %w", err)
		}
		return projects, nil
	}
	p, err := r.store.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return []store.Project{p}, nil
}

func (r *Runner) runProject(ctx context.Context, log *zap.Logger, project store.Project) (Summary, error) {
	handles, err := r.store.AccountHandles(ctx, project.ID)
	if err != nil {
		return Summary{}, err
	}
	if len(handles) == 0 {
		return Summary{}, nil
	}

	var sum Summary
	seen := make(map[string]bool)
	complete := true

	for _, handle := range handles {
		if ctx.Err() != nil {
			complete = false
			break
		}
		items, err := r.fetcher.Fetch(ctx, handle)
		if errors.Is(err, ratelimit.ErrBlocked) {
			// Sticky for the rest of the run; stop issuing fetches.
			log.Warn("fetching stopped, source blocked",
				zap.String("project_id", project.ID), zap.String("handle", handle))
			sum.Blocked = true
			complete = false
			break
		}
		if err != nil {
			return sum, fmt.Errorf("fetch @%s: %w", handle, err)
		}

		for _, item := range items {
			if ctx.Err() != nil {
				complete = false
				break
			}
			recorded, err := r.observeItem(ctx, project.ID, item)
			if err != nil {
				return sum, err
			}
			if recorded {
				sum.Snapshots++
			}
			seen[item.URL] = true
			sum.Reels++
			metrics.ObserveReel()
		}
	}

	// Reconciliation needs a full pass; an interrupted one must not count
	// unfetched reels as missing. Pruning is purely state-based and runs
	// either way.
	if complete {
		removed, err := r.lifecycle.Reconcile(ctx, project.ID, seen)
		if err != nil {
			return sum, err
		}
		sum.Removed = removed
	}

	pruned, err := r.lifecycle.Prune(ctx, project.ID)
	if err != nil {
		return sum, err
	}
	sum.Pruned = pruned
	return sum, nil
}

// observeItem performs the per-item upsert+snapshot+trim sequence. The
// sequence runs detached from cancellation so a snapshot decision always
// follows its upsert within the same cycle; shutdown lands between items.
// It reports whether a snapshot was recorded.
func (r *Runner) observeItem(ctx context.Context, projectID string, item source.Item) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.clk.Now()
	if err := r.store.UpsertReel(ctx, store.Reel{
		ProjectID:  projectID,
		URL:        item.URL,
		Views:      item.Views,
		Likes:      item.Likes,
		Comments:   item.Comments,
		LastSeenAt: now,
	}); err != nil {
		return false, err
	}

	return r.recorder.Observe(ctx, store.Snapshot{
		ProjectID:  projectID,
		URL:        item.URL,
		Views:      item.Views,
		Likes:      item.Likes,
		Comments:   item.Comments,
		Caption:    item.Caption,
		CapturedAt: now,
	})
}
