package momentum

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/clock"
	"github.com/reelwatch/reelwatch/internal/store"
)

type fakeStore struct {
	reels       []store.Reel
	snaps       map[string][]store.Snapshot // newest first
	recommended map[string]bool
	cleared     int
	markedAt    []string // order of Clear/Mark calls
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snaps:       make(map[string][]store.Snapshot),
		recommended: make(map[string]bool),
	}
}

func (f *fakeStore) ProjectReels(_ context.Context, _ string) ([]store.Reel, error) {
	return f.reels, nil
}

func (f *fakeStore) RecentSnapshots(_ context.Context, _, url string, limit int) ([]store.Snapshot, error) {
	snaps := f.snaps[url]
	if limit > len(snaps) {
		limit = len(snaps)
	}
	return snaps[:limit], nil
}

func (f *fakeStore) ClearRecommendations(_ context.Context, _ string) error {
	f.recommended = make(map[string]bool)
	f.cleared++
	f.markedAt = append(f.markedAt, "clear")
	return nil
}

func (f *fakeStore) MarkRecommended(_ context.Context, _, url string, _ float64, _ string, _ time.Time) error {
	f.recommended[url] = true
	f.markedAt = append(f.markedAt, "mark:"+url)
	return nil
}

func (f *fakeStore) addReel(url string, snaps ...store.Snapshot) {
	f.reels = append(f.reels, store.Reel{ProjectID: "p1", URL: url})
	f.snaps[url] = snaps
}

func snap(url string, views, likes, comments int64, at time.Time) store.Snapshot {
	return store.Snapshot{
		ProjectID:  "p1",
		URL:        url,
		Views:      views,
		Likes:      likes,
		Comments:   comments,
		CapturedAt: at,
	}
}

func testAnalyzer(fs *fakeStore) *Analyzer {
	return NewAnalyzer(fs, clock.NewFake(time.Date(2024, 11, 14, 12, 0, 0, 0, time.UTC)), zap.NewNop())
}

// Reference case: prev views=1000 at T, cur views=1400 at T+1h, +10 likes,
// +5 comments. rate=400, engagement=25, score=505, prev baseline=1000. The
// peak rule misses on score (505 < 900), rising misses on score (505 < 1000),
// dying misses on rate, so the trend settles on STABLE.
func TestScoreReferenceCase(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 14, 11, 0, 0, 0, time.UTC)
	prev := snap("u1", 1000, 100, 10, at)
	cur := snap("u1", 1400, 110, 15, at.Add(time.Hour))

	r := Score(cur, prev)

	assert.InDelta(t, 1.0, r.Hours, 1e-9)
	assert.EqualValues(t, 400, r.ViewDelta)
	assert.InDelta(t, 400, r.RatePerHr, 1e-9)
	assert.InDelta(t, 505, r.Score, 1e-9) // 400*1.2 + 10*1.5 + 5*2.0
	assert.Equal(t, TrendStable, r.Trend)
}

func TestScoreIsDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 14, 11, 0, 0, 0, time.UTC)
	prev := snap("u1", 1000, 100, 10, at)
	cur := snap("u1", 1400, 110, 15, at.Add(time.Hour))

	first := Score(cur, prev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(cur, prev))
	}
}

func TestScoreHoursFloor(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 14, 11, 0, 0, 0, time.UTC)
	prev := snap("u1", 1000, 0, 0, at)
	cur := snap("u1", 1001, 0, 0, at) // simultaneous snapshots

	r := Score(cur, prev)
	assert.InDelta(t, minHours, r.Hours, 1e-12, "floor prevents division blow-up")
	assert.InDelta(t, 100, r.RatePerHr, 1e-9)
}

func TestClassifyBuckets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                   string
		rate, score, prevScore float64
		want                   Trend
	}{
		{"peak", 350, 950, 1000, TrendPeak},
		{"peak misses on score", 350, 500, 1000, TrendStable},
		{"rising", 100, 1100, 1000, TrendRising},
		{"rising needs score above baseline", 100, 900, 1000, TrendStable},
		{"dying", 10, 500, 1000, TrendDying},
		{"dying needs score below baseline", 10, 1500, 1000, TrendStable},
		{"stable middle ground", 50, 1000, 1000, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, classify(tc.rate, tc.score, tc.prevScore))
		})
	}
}

func TestRankSortsByScoreAndSkipsThinHistory(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 14, 11, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.addReel("slow",
		snap("slow", 1100, 0, 0, at.Add(time.Hour)),
		snap("slow", 1000, 0, 0, at))
	fs.addReel("fast",
		snap("fast", 9000, 0, 0, at.Add(time.Hour)),
		snap("fast", 1000, 0, 0, at))
	fs.addReel("new", snap("new", 50, 0, 0, at)) // one snapshot only

	ranked, err := testAnalyzer(fs).Rank(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, ranked, 2, "single-snapshot reels are excluded, not zero-scored")
	assert.Equal(t, "fast", ranked[0].URL)
	assert.Equal(t, "slow", ranked[1].URL)
}

func TestAnalyzeWritesSingleRecommendation(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 11, 14, 11, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.recommended["slow"] = true // stale flag from a previous pass
	fs.addReel("slow",
		snap("slow", 1100, 0, 0, at.Add(time.Hour)),
		snap("slow", 1000, 0, 0, at))
	fs.addReel("fast",
		snap("fast", 9000, 0, 0, at.Add(time.Hour)),
		snap("fast", 1000, 0, 0, at))

	best, err := testAnalyzer(fs).Analyze(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "fast", best.URL)

	assert.Equal(t, map[string]bool{"fast": true}, fs.recommended,
		"exactly one recommendation after the pass")
	assert.Equal(t, []string{"clear", "mark:fast"}, fs.markedAt,
		"flags cleared before the winner is set")
}

func TestAnalyzeNoSignalIsNormal(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.addReel("new", snap("new", 50, 0, 0, time.Now()))

	best, err := testAnalyzer(fs).Analyze(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Zero(t, fs.cleared, "no writes when nothing qualifies")
}

func TestReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ranked := []Ranked{{
		URL: "https://www.instagram.com/reel/abc/", Hours: 1,
		ViewDelta: 400, LikeDelta: 10, CommDelta: 5,
		RatePerHr: 400, Score: 505, Trend: TrendStable,
	}}
	require.NoError(t, Report(&buf, ranked))

	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "https://www.instagram.com/reel/abc/")
	assert.Contains(t, out, "STABLE")
	assert.Contains(t, out, "505.00")
}
