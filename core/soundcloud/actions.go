package soundcloud

import (
	"context"
	"fmt"
)

// LikeTrack likes a track on behalf of the authenticated user. Liking an
// already-liked track is a no-op upstream, so the call is idempotent.
func (c *Client) LikeTrack(ctx context.Context, accessToken, trackIdentifier string) error {
	trackID := ExtractNumericID(trackIdentifier)
	if _, err := c.apiPost(ctx, fmt.Sprintf("/likes/tracks/%s", trackID), accessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to like track: %w", err)
	}
	return nil
}

// commentPayload is the POST body for /tracks/{id}/comments.
type commentPayload struct {
	Comment commentBody `json:"comment"`
}

type commentBody struct {
	Body      string `json:"body"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// PostComment posts a comment on a track on behalf of the authenticated
// user. timestampMS optionally anchors the comment to a playback position.
func (c *Client) PostComment(ctx context.Context, accessToken, trackIdentifier, body string, timestampMS *int64) error {
	trackID := ExtractNumericID(trackIdentifier)
	payload := commentPayload{Comment: commentBody{Body: body, Timestamp: timestampMS}}
	if _, err := c.apiPost(ctx, fmt.Sprintf("/tracks/%s/comments", trackID), accessToken, nil, payload); err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}
	return nil
}

// FollowUser follows a user on behalf of the authenticated user. Following
// an already-followed user is a no-op upstream.
func (c *Client) FollowUser(ctx context.Context, accessToken, userIdentifier string) error {
	userID := ExtractNumericID(userIdentifier)
	if _, err := c.apiPut(ctx, fmt.Sprintf("/me/followings/%s", userID), accessToken); err != nil {
		return fmt.Errorf("failed to follow user: %w", err)
	}
	return nil
}
