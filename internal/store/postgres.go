package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres implements the persistence adapter on top of pgxpool.
type Postgres struct {
	pool Pool
}

// New connects a Postgres store using the provided config.
func New(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ActiveProjects returns all projects with active = true.
func (s *Postgres) ActiveProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, active FROM projects WHERE active = TRUE ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select active projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Active); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// ProjectByID looks up a single project regardless of its active flag.
func (s *Postgres) ProjectByID(ctx context.Context, id string) (Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, active FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("select project %s: %w", id, err)
	}
	return p, nil
}

// AccountHandles returns the normalized handle list for a project.
func (s *Postgres) AccountHandles(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT handle FROM monitored_accounts WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select monitored accounts: %w", err)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		raw = append(raw, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handles: %w", err)
	}
	return NormalizeHandles(raw), nil
}

// UpsertReel creates or refreshes the current-state row for an observation.
// A re-observed reel always has its missing counter reset; first_seen_at is
// written once on insert and never touched again.
func (s *Postgres) UpsertReel(ctx context.Context, r Reel) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO reels (project_id, reel_url, views, likes, comments, first_seen_at, last_seen_at, missing_count)
VALUES ($1, $2, $3, $4, $5, $6, $6, 0)
ON CONFLICT (project_id, reel_url) DO UPDATE SET
	views = EXCLUDED.views,
	likes = EXCLUDED.likes,
	comments = EXCLUDED.comments,
	last_seen_at = EXCLUDED.last_seen_at,
	missing_count = 0`,
		r.ProjectID, r.URL, r.Views, r.Likes, r.Comments, r.LastSeenAt)
	if err != nil {
		return fmt.Errorf("upsert reel: %w", err)
	}
	return nil
}

// ProjectReels returns every tracked reel for a project.
func (s *Postgres) ProjectReels(ctx context.Context, projectID string) ([]Reel, error) {
	rows, err := s.pool.Query(ctx, `
SELECT project_id, reel_url, views, likes, comments, first_seen_at, last_seen_at,
	missing_count, is_recommended, COALESCE(score, 0), COALESCE(trend, '')
FROM reels WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select reels: %w", err)
	}
	defer rows.Close()

	var reels []Reel
	for rows.Next() {
		var r Reel
		if err := rows.Scan(&r.ProjectID, &r.URL, &r.Views, &r.Likes, &r.Comments,
			&r.FirstSeenAt, &r.LastSeenAt, &r.MissingCount, &r.IsRecommended, &r.Score, &r.Trend); err != nil {
			return nil, fmt.Errorf("scan reel: %w", err)
		}
		reels = append(reels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reels: %w", err)
	}
	return reels, nil
}

// RecommendedReel returns the project's current recommendation, if any.
func (s *Postgres) RecommendedReel(ctx context.Context, projectID string) (Reel, error) {
	var r Reel
	err := s.pool.QueryRow(ctx, `
SELECT project_id, reel_url, views, likes, comments, first_seen_at, last_seen_at,
	missing_count, is_recommended, COALESCE(score, 0), COALESCE(trend, '')
FROM reels WHERE project_id = $1 AND is_recommended = TRUE LIMIT 1`, projectID).
		Scan(&r.ProjectID, &r.URL, &r.Views, &r.Likes, &r.Comments,
			&r.FirstSeenAt, &r.LastSeenAt, &r.MissingCount, &r.IsRecommended, &r.Score, &r.Trend)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reel{}, ErrNotFound
	}
	if err != nil {
		return Reel{}, fmt.Errorf("select recommended reel: %w", err)
	}
	return r, nil
}

// ClearRecommendations unsets every recommendation flag for a project.
func (s *Postgres) ClearRecommendations(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE reels SET is_recommended = FALSE WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear recommendations: %w", err)
	}
	return nil
}

// MarkRecommended flags a single reel as the project's recommendation and
// stores its score and trend.
func (s *Postgres) MarkRecommended(ctx context.Context, projectID, url string, score float64, trend string, analyzedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE reels SET is_recommended = TRUE, score = $3, trend = $4, analyzed_at = $5
WHERE project_id = $1 AND reel_url = $2`,
		projectID, url, score, trend, analyzedAt); err != nil {
		return fmt.Errorf("mark recommended: %w", err)
	}
	return nil
}

// SetMissingCount persists the consecutive-miss counter for a reel.
func (s *Postgres) SetMissingCount(ctx context.Context, projectID, url string, count int) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE reels SET missing_count = $3 WHERE project_id = $1 AND reel_url = $2`,
		projectID, url, count); err != nil {
		return fmt.Errorf("set missing count: %w", err)
	}
	return nil
}

// DeleteReel removes the current-state row for a reel.
func (s *Postgres) DeleteReel(ctx context.Context, projectID, url string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM reels WHERE project_id = $1 AND reel_url = $2`, projectID, url); err != nil {
		return fmt.Errorf("delete reel: %w", err)
	}
	return nil
}

// InsertSnapshot appends one immutable time-series point.
func (s *Postgres) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO reel_snapshots (project_id, reel_url, views, likes, comments, caption, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ProjectID, snap.URL, snap.Views, snap.Likes, snap.Comments, snap.Caption, snap.CapturedAt); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Postgres) RecentSnapshots(ctx context.Context, projectID, url string, limit int) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT project_id, reel_url, views, likes, comments, caption, captured_at
FROM reel_snapshots WHERE project_id = $1 AND reel_url = $2
ORDER BY captured_at DESC LIMIT $3`, projectID, url, limit)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.ProjectID, &sn.URL, &sn.Views, &sn.Likes, &sn.Comments,
			&sn.Caption, &sn.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// TrimSnapshots deletes everything but the keep most recent snapshots of a reel.
func (s *Postgres) TrimSnapshots(ctx context.Context, projectID, url string, keep int) error {
	if _, err := s.pool.Exec(ctx, `
DELETE FROM reel_snapshots
WHERE project_id = $1 AND reel_url = $2 AND id NOT IN (
	SELECT id FROM reel_snapshots
	WHERE project_id = $1 AND reel_url = $2
	ORDER BY captured_at DESC LIMIT $3
)`, projectID, url, keep); err != nil {
		return fmt.Errorf("trim snapshots: %w", err)
	}
	return nil
}

// DeleteSnapshots removes the full history of a reel.
func (s *Postgres) DeleteSnapshots(ctx context.Context, projectID, url string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM reel_snapshots WHERE project_id = $1 AND reel_url = $2`, projectID, url); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// DeliverySettings returns the project's delivery window configuration.
func (s *Postgres) DeliverySettings(ctx context.Context, projectID string) (DeliverySettings, error) {
	var d DeliverySettings
	err := s.pool.QueryRow(ctx, `
SELECT project_id, send_hour, send_minute, timezone
FROM delivery_settings WHERE project_id = $1`, projectID).
		Scan(&d.ProjectID, &d.SendHour, &d.SendMinute, &d.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliverySettings{}, ErrNotFound
	}
	if err != nil {
		return DeliverySettings{}, fmt.Errorf("select delivery settings: %w", err)
	}
	return d, nil
}

// NotificationChat returns the chat id configured for a project owner.
func (s *Postgres) NotificationChat(ctx context.Context, ownerID string) (string, error) {
	var chatID string
	err := s.pool.QueryRow(ctx,
		`SELECT chat_id FROM notification_accounts WHERE user_id = $1`, ownerID).
		Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select notification chat: %w", err)
	}
	return chatID, nil
}

// SentSince reports whether the project has a delivery at or after since.
func (s *Postgres) SentSince(ctx context.Context, projectID string, since time.Time) (bool, error) {
	var sent bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sent_reels WHERE project_id = $1 AND sent_at >= $2)`,
		projectID, since).
		Scan(&sent)
	if err != nil {
		return false, fmt.Errorf("select sent since: %w", err)
	}
	return sent, nil
}

// InsertSentRecord appends a delivery to the send log.
func (s *Postgres) InsertSentRecord(ctx context.Context, rec SentRecord) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO sent_reels (project_id, reel_url, sent_at) VALUES ($1, $2, $3)`,
		rec.ProjectID, rec.URL, rec.SentAt); err != nil {
		return fmt.Errorf("insert sent record: %w", err)
	}
	return nil
}
