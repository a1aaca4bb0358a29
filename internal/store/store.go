// Package store persists reelwatch state in Postgres: seven flat tables
// (projects, monitored_accounts, reels, reel_snapshots, sent_reels,
// delivery_settings, notification_accounts) queried by simple predicates,
// never joined. The DDL lives in schema.sql at the repository root.
//
// Legacy monitored_accounts rows may hold several comma-joined handles in one
// row; the adapter splits, dedupes and strips the leading '@' so the rest of
// the pipeline only ever sees clean handle lists.
package store

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Project is the root aggregate; everything else is scoped by its id.
type Project struct {
	ID      string
	OwnerID string
	Name    string
	Active  bool
}

// Reel is the mutable current-state row for one tracked item. FirstSeenAt is
// set when the row is created and never updated; it stands in for the reel's
// publish time, which the source does not expose reliably.
type Reel struct {
	ProjectID     string
	URL           string
	Views         int64
	Likes         int64
	Comments      int64
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	MissingCount  int
	IsRecommended bool
	Score         float64
	Trend         string
}

// Snapshot is an immutable timestamped observation of a reel's counters.
type Snapshot struct {
	ProjectID  string
	URL        string
	Views      int64
	Likes      int64
	Comments   int64
	Caption    string
	CapturedAt time.Time
}

// SentRecord is one row of the append-only delivery log.
type SentRecord struct {
	ProjectID string
	URL       string
	SentAt    time.Time
}

// DeliverySettings configures when a project's daily pick may be sent.
type DeliverySettings struct {
	ProjectID  string
	SendHour   int
	SendMinute int
	Timezone   string
}

// NormalizeHandles splits comma-joined handle rows, strips the leading '@'
// and surrounding whitespace, and dedupes while preserving first-seen order.
func NormalizeHandles(rows []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range rows {
		for _, part := range strings.Split(row, ",") {
			h := strings.TrimPrefix(strings.TrimSpace(part), "@")
			if h == "" {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
