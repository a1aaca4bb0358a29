package source

import (
	"encoding/json"
	"fmt"
)

type profilePayload struct {
	Data struct {
		User struct {
			Timeline struct {
				Edges []struct {
					Node mediaNode `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type mediaNode struct {
	Shortcode      string     `json:"shortcode"`
	IsVideo        bool       `json:"is_video"`
	PlayCount      int64      `json:"play_count"`
	VideoViewCount int64      `json:"video_view_count"`
	EdgeLikedBy    countField `json:"edge_liked_by"`
	EdgeComments   countField `json:"edge_media_to_comment"`
	EdgeCaption    struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
}

type countField struct {
	Count int64 `json:"count"`
}

// parseProfile extracts reel items from the web profile payload, newest
// first, skipping non-video media and capping the result at maxItems.
func parseProfile(body []byte) ([]Item, error) {
	var payload profilePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode profile payload: %w", err)
	}

	var items []Item
	for _, edge := range payload.Data.User.Timeline.Edges {
		node := edge.Node
		if !node.IsVideo {
			continue
		}

		item := Item{
			URL:      fmt.Sprintf("https://www.instagram.com/reel/%s/", node.Shortcode),
			Views:    viewCount(node),
			Likes:    node.EdgeLikedBy.Count,
			Comments: node.EdgeComments.Count,
		}
		if len(node.EdgeCaption.Edges) > 0 {
			item.Caption = node.EdgeCaption.Edges[0].Node.Text
		}
		items = append(items, item)

		if len(items) == maxItems {
			break
		}
	}
	return items, nil
}

// viewCount picks the best available view metric: play count, then the video
// view count, then the like count as a last resort so the item still ranks.
func viewCount(node mediaNode) int64 {
	if node.PlayCount > 0 {
		return node.PlayCount
	}
	if node.VideoViewCount > 0 {
		return node.VideoViewCount
	}
	return node.EdgeLikedBy.Count
}
