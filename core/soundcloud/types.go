package soundcloud

import "fmt"

// TokenResponse is the token-endpoint reply for the authorization_code grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// ResolvedUser is the subset of a user object the gate consumes.
type ResolvedUser struct {
	ID       int64  `json:"id"`
	URN      string `json:"urn"`
	Username string `json:"username"`
}

// ResolvedTrack is the subset of a track object the gate consumes.
type ResolvedTrack struct {
	ID   int64        `json:"id"`
	URN  string       `json:"urn"`
	User ResolvedUser `json:"user"`
}

// TrackURN returns the track's URN, synthesizing one from the numeric id
// when the API only returned the older "id" field.
func (t *ResolvedTrack) TrackURN() string {
	if t.URN != "" {
		return t.URN
	}
	if t.ID != 0 {
		return fmt.Sprintf("soundcloud:tracks:%d", t.ID)
	}
	return ""
}

// UserURN returns the user's URN, synthesizing one from the numeric id.
func (u *ResolvedUser) UserURN() string {
	if u.URN != "" {
		return u.URN
	}
	if u.ID != 0 {
		return fmt.Sprintf("soundcloud:users:%d", u.ID)
	}
	return ""
}

// likeEntry is one element of /me/likes/tracks. Depending on the API shape
// items are either like objects wrapping a track or bare track objects.
type likeEntry struct {
	URN   string         `json:"urn"`
	ID    int64          `json:"id"`
	Track *ResolvedTrack `json:"track"`
}

// trackURN returns the URN of the liked track, whichever shape the entry has.
func (e *likeEntry) trackURN() string {
	if e.Track != nil {
		return e.Track.TrackURN()
	}
	inner := ResolvedTrack{ID: e.ID, URN: e.URN}
	return inner.TrackURN()
}

// likesPage is one page of /me/likes/tracks.
type likesPage struct {
	Collection []likeEntry `json:"collection"`
	NextHref   string      `json:"next_href"`
}

// followingsPage is one page of /me/followings.
type followingsPage struct {
	Collection []ResolvedUser `json:"collection"`
	NextHref   string         `json:"next_href"`
}

// commentEntry is one element of /tracks/{id}/comments.
type commentEntry struct {
	User ResolvedUser `json:"user"`
}

// commentsPage is one page of /tracks/{id}/comments.
type commentsPage struct {
	Collection []commentEntry `json:"collection"`
	NextHref   string         `json:"next_href"`
}
