package source

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/metrics"
	"github.com/reelwatch/reelwatch/internal/ratelimit"
)

func init() {
	metrics.Init()
}

// fakeBudget tracks pacing calls and mimics the sticky block flag.
type fakeBudget struct {
	blocked   bool
	waits     int
	cooldowns int
}

func (f *fakeBudget) Wait(context.Context) error {
	f.waits++
	if f.blocked {
		return ratelimit.ErrBlocked
	}
	return nil
}

func (f *fakeBudget) Cooldown(context.Context) error {
	f.cooldowns++
	return nil
}

func (f *fakeBudget) MarkBlocked() { f.blocked = true }

func newTestClient(t *testing.T) (*Client, *fakeBudget) {
	t.Helper()
	budget := &fakeBudget{}
	c := NewClient(Config{UserAgent: "test-agent", AppID: "12345"}, budget, zap.NewNop())
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c, budget
}

func profileURL(handle string) string {
	return profileEndpoint + "?username=" + handle
}

func videoNode(shortcode string, playCount, videoViews, likes, comments int64, caption string) string {
	captionEdges := "[]"
	if caption != "" {
		captionEdges = fmt.Sprintf(`[{"node":{"text":%q}}]`, caption)
	}
	return fmt.Sprintf(`{"node":{
		"shortcode":%q,"is_video":true,
		"play_count":%d,"video_view_count":%d,
		"edge_liked_by":{"count":%d},"edge_media_to_comment":{"count":%d},
		"edge_media_to_caption":{"edges":%s}}}`,
		shortcode, playCount, videoViews, likes, comments, captionEdges)
}

func profileBody(nodes ...string) string {
	edges := ""
	for i, n := range nodes {
		if i > 0 {
			edges += ","
		}
		edges += n
	}
	return fmt.Sprintf(`{"data":{"user":{"edge_owner_to_timeline_media":{"edges":[%s]}}}}`, edges)
}

func TestFetchParsesReels(t *testing.T) {
	c, budget := newTestClient(t)

	body := profileBody(
		videoNode("abc", 5000, 0, 120, 8, "launch day"),
		`{"node":{"shortcode":"photo1","is_video":false,"edge_liked_by":{"count":9}}}`,
		videoNode("def", 0, 900, 40, 1, ""),
	)
	httpmock.RegisterResponder(http.MethodGet, profileURL("creator"),
		httpmock.NewStringResponder(http.StatusOK, body))

	items, err := c.Fetch(context.Background(), "creator")
	require.NoError(t, err)
	require.Len(t, items, 2, "non-video media must be skipped")

	assert.Equal(t, "https://www.instagram.com/reel/abc/", items[0].URL)
	assert.EqualValues(t, 5000, items[0].Views)
	assert.EqualValues(t, 120, items[0].Likes)
	assert.EqualValues(t, 8, items[0].Comments)
	assert.Equal(t, "launch day", items[0].Caption)

	// play_count absent: falls back to video_view_count.
	assert.EqualValues(t, 900, items[1].Views)
	assert.Empty(t, items[1].Caption)

	assert.Equal(t, 1, budget.waits)
	assert.Equal(t, 1, budget.cooldowns)
}

func TestFetchViewsFallBackToLikes(t *testing.T) {
	c, _ := newTestClient(t)

	body := profileBody(videoNode("ghi", 0, 0, 77, 3, ""))
	httpmock.RegisterResponder(http.MethodGet, profileURL("creator"),
		httpmock.NewStringResponder(http.StatusOK, body))

	items, err := c.Fetch(context.Background(), "creator")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 77, items[0].Views)
}

func TestFetchCapsAtFiveItems(t *testing.T) {
	c, _ := newTestClient(t)

	nodes := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		nodes = append(nodes, videoNode(fmt.Sprintf("sc%d", i), int64(100+i), 0, 1, 0, ""))
	}
	httpmock.RegisterResponder(http.MethodGet, profileURL("creator"),
		httpmock.NewStringResponder(http.StatusOK, profileBody(nodes...)))

	items, err := c.Fetch(context.Background(), "creator")
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

func TestFetchHardBlockMarksBudget(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			c, budget := newTestClient(t)

			httpmock.RegisterResponder(http.MethodGet, profileURL("creator"),
				httpmock.NewStringResponder(status, "blocked"))

			items, err := c.Fetch(context.Background(), "creator")
			require.ErrorIs(t, err, ratelimit.ErrBlocked)
			assert.Nil(t, items)
			assert.True(t, budget.blocked)

			// Subsequent fetches short-circuit on the sticky flag.
			_, err = c.Fetch(context.Background(), "other")
			require.ErrorIs(t, err, ratelimit.ErrBlocked)
		})
	}
}

func TestFetchTransientFailuresReturnEmpty(t *testing.T) {
	cases := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, "nope")},
		{"bad json", httpmock.NewStringResponder(http.StatusOK, "{not json")},
		{"network error", httpmock.NewErrorResponder(fmt.Errorf("connection reset"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, budget := newTestClient(t)
			httpmock.RegisterResponder(http.MethodGet, profileURL("creator"), tc.responder)

			items, err := c.Fetch(context.Background(), "creator")
			require.NoError(t, err, "transient failures must not propagate")
			assert.Empty(t, items)
			assert.False(t, budget.blocked)
		})
	}
}

func TestFetchEmptyFeed(t *testing.T) {
	c, _ := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, profileURL("quiet"),
		httpmock.NewStringResponder(http.StatusOK, profileBody()))

	items, err := c.Fetch(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Empty(t, items)
}
