package soundcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// resolveParams builds the /resolve query. Without a token the public
// resolve endpoint accepts a client_id parameter instead, which lets the
// gate page resolve track/artist identity before anyone authenticates.
func (c *Client) resolveParams(targetURL, accessToken string) url.Values {
	params := url.Values{}
	params.Set("url", targetURL)
	if accessToken == "" && c.clientID != "" {
		params.Set("client_id", c.clientID)
	}
	return params
}

// ResolveTrack maps a public track URL to its canonical track object.
// accessToken may be empty.
func (c *Client) ResolveTrack(ctx context.Context, trackURL, accessToken string) (*ResolvedTrack, error) {
	data, err := c.apiGet(ctx, "/resolve", accessToken, c.resolveParams(trackURL, accessToken))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track URL: %w", err)
	}
	var track ResolvedTrack
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, fmt.Errorf("failed to decode resolved track: %w", err)
	}
	return &track, nil
}

// ResolveUser maps a public profile URL to its canonical user object.
// accessToken may be empty.
func (c *Client) ResolveUser(ctx context.Context, profileURL, accessToken string) (*ResolvedUser, error) {
	data, err := c.apiGet(ctx, "/resolve", accessToken, c.resolveParams(profileURL, accessToken))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile URL: %w", err)
	}
	var user ResolvedUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode resolved user: %w", err)
	}
	return &user, nil
}

// ResolveTrackURN resolves a public track URL straight to a URN string,
// empty when the track could not be identified.
func (c *Client) ResolveTrackURN(ctx context.Context, trackURL, accessToken string) (string, error) {
	track, err := c.ResolveTrack(ctx, trackURL, accessToken)
	if err != nil {
		return "", err
	}
	return track.TrackURN(), nil
}
