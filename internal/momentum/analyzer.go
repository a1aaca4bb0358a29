// Package momentum scores tracked reels from their two most recent
// snapshots, classifies the trend, and maintains the single per-project
// recommendation.
package momentum

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/store"
)

// Trend is a discrete classification of a reel's momentum relative to its
// own recent baseline.
type Trend string

// Trend values, ordered from hottest to coldest.
const (
	TrendPeak   Trend = "PEAK"
	TrendRising Trend = "RISING"
	TrendDying  Trend = "DYING"
	TrendStable Trend = "STABLE"
)

// Scoring weights and trend thresholds.
const (
	minHours         = 0.01
	likeWeight       = 1.5
	commentWeight    = 2.0
	viewRateWeight   = 1.2
	peakRateFloor    = 300.0
	peakScoreFactor  = 0.9
	risingRateFloor  = 80.0
	dyingRateCeiling = 20.0
)

// Ranked is one scored reel in a project's ranking.
type Ranked struct {
	URL       string
	Hours     float64
	ViewDelta int64
	LikeDelta int64
	CommDelta int64
	RatePerHr float64
	Score     float64
	Trend     Trend
}

// Store is the slice of the persistence layer the analyzer needs.
type Store interface {
	ProjectReels(ctx context.Context, projectID string) ([]store.Reel, error)
	RecentSnapshots(ctx context.Context, projectID, url string, limit int) ([]store.Snapshot, error)
	ClearRecommendations(ctx context.Context, projectID string) error
	MarkRecommended(ctx context.Context, projectID, url string, score float64, trend string, analyzedAt time.Time) error
}

// Analyzer ranks a project's reels by growth momentum.
type Analyzer struct {
	store Store
	clk   clock.Clock
	log   *zap.Logger
}

// NewAnalyzer builds an Analyzer.
func NewAnalyzer(st Store, clk clock.Clock, log *zap.Logger) *Analyzer {
	return &Analyzer{store: st, clk: clk, log: log}
}

// Rank scores every reel with at least two snapshots and returns them sorted
// by score, descending. Reels without two snapshots are excluded, not scored
// as zero; an empty result is a normal "no signal yet" state.
func (a *Analyzer) Rank(ctx context.Context, projectID string) ([]Ranked, error) {
	reels, err := a.store.ProjectReels(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("rank %s: %w", projectID, err)
	}

	var ranked []Ranked
	for i := range reels {
		snaps, err := a.store.RecentSnapshots(ctx, projectID, reels[i].URL, 2)
		if err != nil {
			return nil, fmt.Errorf("load snapshots for %s: %w", reels[i].URL, err)
		}
		if len(snaps) < 2 {
			continue
		}
		ranked = append(ranked, Score(snaps[0], snaps[1]))
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

// Score computes momentum from the two most recent snapshots. It is a pure
// function of the snapshot pair.
func Score(cur, prev store.Snapshot) Ranked {
	hours := cur.CapturedAt.Sub(prev.CapturedAt).Hours()
	if hours < minHours {
		hours = minHours
	}

	dv := cur.Views - prev.Views
	dl := cur.Likes - prev.Likes
	dc := cur.Comments - prev.Comments

	rate := float64(dv) / hours
	engagement := float64(dl)/hours*likeWeight + float64(dc)/hours*commentWeight
	score := rate*viewRateWeight + engagement

	prevScore := float64(prev.Views) / hours
	if prevScore < 1 {
		prevScore = 1
	}

	return Ranked{
		URL:       cur.URL,
		Hours:     hours,
		ViewDelta: dv,
		LikeDelta: dl,
		CommDelta: dc,
		RatePerHr: rate,
		Score:     score,
		Trend:     classify(rate, score, prevScore),
	}
}

// classify picks the trend bucket; first matching rule wins.
func classify(rate, score, prevScore float64) Trend {
	switch {
	case rate >= peakRateFloor && score >= prevScore*peakScoreFactor:
		return TrendPeak
	case rate >= risingRateFloor && score > prevScore:
		return TrendRising
	case rate <= dyingRateCeiling && score < prevScore:
		return TrendDying
	default:
		return TrendStable
	}
}

// Analyze ranks the project and persists the top reel as its sole
// recommendation: all flags are cleared first, then the winner is set, so a
// window with two recommended reels cannot outlive the pass. Returns nil when
// nothing qualifies.
func (a *Analyzer) Analyze(ctx context.Context, projectID string) (*Ranked, error) {
	ranked, err := a.Rank(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		a.log.Info("no analyzable reels", zap.String("project_id", projectID))
		return nil, nil
	}

	best := ranked[0]
	if err := a.store.ClearRecommendations(ctx, projectID); err != nil {
		return nil, err
	}
	if err := a.store.MarkRecommended(ctx, projectID, best.URL, best.Score, string(best.Trend), a.clk.Now()); err != nil {
		return nil, err
	}

	a.log.Info("recommendation updated",
		zap.String("project_id", projectID),
		zap.String("url", best.URL),
		zap.Float64("score", best.Score),
		zap.String("trend", string(best.Trend)))
	return &best, nil
}

// Report renders a ranked preview table. Used by analyze --preview, which
// must not write anything to the store.
func Report(w io.Writer, ranked []Ranked) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tREEL\tAGE\tΔV\tΔL\tΔC\tV/HR\tSCORE\tTREND")
	for i, r := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%dm\t%d\t%d\t%d\t%.2f\t%.2f\t%s\n",
			i+1, r.URL, int(r.Hours*60), r.ViewDelta, r.LikeDelta, r.CommDelta,
			r.RatePerHr, r.Score, r.Trend)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}
