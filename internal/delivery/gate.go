// Package delivery implements the idempotent, time-gated daily push of a
// project's recommended reel.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/notify"
	"github.com/reelwatch/reelwatch/internal/store"
)

// Store is the slice of the persistence layer the gate needs.
type Store interface {
	DeliverySettings(ctx context.Context, projectID string) (store.DeliverySettings, error)
	NotificationChat(ctx context.Context, ownerID string) (string, error)
	SentSince(ctx context.Context, projectID string, since time.Time) (bool, error)
	RecommendedReel(ctx context.Context, projectID string) (store.Reel, error)
	RecentSnapshots(ctx context.Context, projectID, url string, limit int) ([]store.Snapshot, error)
	InsertSentRecord(ctx context.Context, rec store.SentRecord) error
}

// Gate selects at most one reel per project per UTC day and pushes it.
type Gate struct {
	store    Store
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.Logger
}

// NewGate builds a Gate.
func NewGate(st Store, notifier notify.Notifier, clk clock.Clock, log *zap.Logger) *Gate {
	return &Gate{store: st, notifier: notifier, clk: clk, log: log}
}

// TryDeliver checks all preconditions and, when they hold, sends the
// project's recommended reel and appends a SentRecord. Missing settings,
// destination or recommendation are silent skips; a failed send is an error
// for this project only, and the missing SentRecord means the next eligible
// check inside the same day retries naturally.
func (g *Gate) TryDeliver(ctx context.Context, project store.Project) (bool, error) {
	settings, err := g.store.DeliverySettings(ctx, project.ID)
	if errors.Is(err, store.ErrNotFound) {
		g.log.Debug("no delivery settings", zap.String("project_id", project.ID))
		metrics.ObserveDelivery("skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	chatID, err := g.store.NotificationChat(ctx, project.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		g.log.Debug("no notification destination", zap.String("project_id", project.ID))
		metrics.ObserveDelivery("skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := g.clk.Now()
	due, err := pastSendTime(settings, now)
	if err != nil {
		return false, fmt.Errorf("delivery window for %s: %w", project.ID, err)
	}
	if !due {
		metrics.ObserveDelivery("skipped")
		return false, nil
	}

	// One delivery per UTC day; this gate is what makes re-checks idempotent.
	sent, err := g.store.SentSince(ctx, project.ID, startOfUTCDay(now))
	if err != nil {
		return false, err
	}
	if sent {
		g.log.Debug("already sent today", zap.String("project_id", project.ID))
		metrics.ObserveDelivery("skipped")
		return false, nil
	}

	reel, err := g.store.RecommendedReel(ctx, project.ID)
	if errors.Is(err, store.ErrNotFound) {
		g.log.Debug("no recommendation yet", zap.String("project_id", project.ID))
		metrics.ObserveDelivery("skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	caption, err := g.latestCaption(ctx, project.ID, reel.URL)
	if err != nil {
		return false, err
	}

	if err := g.notifier.Send(ctx, chatID, composeMessage(reel, caption)); err != nil {
		metrics.ObserveDelivery("failed")
		return false, fmt.Errorf("deliver %s: %w", project.ID, err)
	}

	if err := g.store.InsertSentRecord(ctx, store.SentRecord{
		ProjectID: project.ID,
		URL:       reel.URL,
		SentAt:    now,
	}); err != nil {
		return true, fmt.Errorf("record delivery for %s: %w", project.ID, err)
	}

	g.log.Info("delivered",
		zap.String("project_id", project.ID),
		zap.String("url", reel.URL),
		zap.String("trend", reel.Trend))
	metrics.ObserveDelivery("sent")
	return true, nil
}

// pastSendTime reports whether the project-local time has reached today's
// configured send time.
func pastSendTime(settings store.DeliverySettings, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", settings.Timezone, err)
	}
	local := now.In(loc)
	scheduled := time.Date(local.Year(), local.Month(), local.Day(),
		settings.SendHour, settings.SendMinute, 0, 0, loc)
	return !local.Before(scheduled), nil
}

func startOfUTCDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// composeMessage renders the HTML notification for the recommended reel.
func composeMessage(reel store.Reel, caption string) string {
	var b strings.Builder
	b.WriteString("<b>🔥 Trending Reel</b>\n\n")
	fmt.Fprintf(&b, "%s\n", reel.URL)
	fmt.Fprintf(&b, "👁 %d | ❤️ %d | 💬 %d\n", reel.Views, reel.Likes, reel.Comments)
	fmt.Fprintf(&b, "📈 %s", reel.Trend)
	if caption != "" {
		fmt.Fprintf(&b, "\n\n📝 <b>Caption</b>\n%s", caption)
	}
	return b.String()
}

// latestCaption returns the most recent snapshot's caption, or "".
func (g *Gate) latestCaption(ctx context.Context, projectID, url string) (string, error) {
	snaps, err := g.store.RecentSnapshots(ctx, projectID, url, 1)
	if err != nil {
		return "", fmt.Errorf("load caption: %w", err)
	}
	if len(snaps) == 0 {
		return "", nil
	}
	return strings.TrimSpace(snaps[0].Caption), nil
}
