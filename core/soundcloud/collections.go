package soundcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/bandpassrecords/scgate/logger"
)

// collectionParams is the standard query for cursor-paginated endpoints.
func collectionParams() url.Values {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", pageLimit))
	params.Set("linked_partitioning", "true")
	return params
}

// scanPages fetches up to maxPages pages starting from path and calls visit
// with each raw page body. visit returns (done, nextHref): done stops the
// traversal, nextHref continues it. The page cap bounds worst-case latency
// against large feeds; hitting it yields a conservative negative result.
func (c *Client) scanPages(ctx context.Context, path, accessToken string, params url.Values, maxPages int, visit func(data []byte) (bool, string, error)) (bool, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	data, err := c.apiGet(ctx, path, accessToken, params)
	if err != nil {
		return false, err
	}

	for page := 1; ; page++ {
		done, nextHref, err := visit(data)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if nextHref == "" {
			return false, nil
		}
		if page >= maxPages {
			logger.Debug("pagination cap reached",
				logger.String("path", path),
				logger.Int("maxPages", maxPages))
			return false, nil
		}
		// next_href is a full URL; re-send with the same auth handling.
		data, err = c.apiSend(ctx, "GET", nextHref, accessToken, nil)
		if err != nil {
			return false, err
		}
	}
}

// UserLikedTrack reports whether the authenticated user has liked the given
// track, by scanning /me/likes/tracks. There is no direct membership
// endpoint, so this is a linear scan bounded by maxPages.
func (c *Client) UserLikedTrack(ctx context.Context, accessToken, trackURN string, maxPages int) (bool, error) {
	if trackURN == "" {
		return false, fmt.Errorf("missing track URN")
	}
	found, err := c.scanPages(ctx, "/me/likes/tracks", accessToken, collectionParams(), maxPages, func(data []byte) (bool, string, error) {
		var page likesPage
		if err := json.Unmarshal(data, &page); err != nil {
			return false, "", fmt.Errorf("failed to decode likes page: %w", err)
		}
		for i := range page.Collection {
			if page.Collection[i].trackURN() == trackURN {
				return true, "", nil
			}
		}
		return false, page.NextHref, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check likes: %w", err)
	}
	return found, nil
}

// UserCommentedOnTrack reports whether userURN appears among the track's
// commenters, by scanning /tracks/{id}/comments. Works without a token via
// the public client_id parameter.
func (c *Client) UserCommentedOnTrack(ctx context.Context, accessToken, trackIdentifier, userURN string, maxPages int) (bool, error) {
	if userURN == "" {
		return false, fmt.Errorf("missing user URN")
	}
	params := collectionParams()
	if accessToken == "" && c.clientID != "" {
		params.Set("client_id", c.clientID)
	}
	trackID := ExtractNumericID(trackIdentifier)
	path := fmt.Sprintf("/tracks/%s/comments", trackID)

	found, err := c.scanPages(ctx, path, accessToken, params, maxPages, func(data []byte) (bool, string, error) {
		var page commentsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return false, "", fmt.Errorf("failed to decode comments page: %w", err)
		}
		for i := range page.Collection {
			if page.Collection[i].User.UserURN() == userURN {
				return true, "", nil
			}
		}
		return false, page.NextHref, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check comments: %w", err)
	}
	return found, nil
}

// FollowingsURNs returns the set of user URNs the authenticated user
// follows, bounded by maxPages. One fetch serves every follow target of a
// gate; callers reuse the returned set.
func (c *Client) FollowingsURNs(ctx context.Context, accessToken string, maxPages int) (map[string]struct{}, error) {
	urns := make(map[string]struct{})
	_, err := c.scanPages(ctx, "/me/followings", accessToken, collectionParams(), maxPages, func(data []byte) (bool, string, error) {
		var page followingsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return false, "", fmt.Errorf("failed to decode followings page: %w", err)
		}
		for i := range page.Collection {
			if urn := page.Collection[i].UserURN(); urn != "" {
				urns[urn] = struct{}{}
			}
		}
		return false, page.NextHref, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list followings: %w", err)
	}
	return urns, nil
}

// UserFollowsUser reports whether the authenticated user follows userURN.
func (c *Client) UserFollowsUser(ctx context.Context, accessToken, userURN string, maxPages int) (bool, error) {
	urns, err := c.FollowingsURNs(ctx, accessToken, maxPages)
	if err != nil {
		return false, err
	}
	_, ok := urns[userURN]
	return ok, nil
}
