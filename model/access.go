package model

import "time"

// GateAccess records that a given SoundCloud user has (partially) satisfied
// the gate for a track. One row per (track, soundcloud_user_urn).
//
// VerifiedLike and VerifiedComment are monotonic: once true they are never
// cleared by a recheck, because the like/comment listing APIs are eventually
// consistent and a just-performed action may not show up yet. VerifiedFollow
// tracks the live followings state and may be downgraded.
type GateAccess struct {
	ID      int64  `json:"id"`
	TrackID string `json:"trackId"`

	SoundCloudUserURN  string `json:"soundcloudUserUrn"`
	SoundCloudUsername string `json:"soundcloudUsername"`

	VerifiedLike    bool       `json:"verifiedLike"`
	VerifiedComment bool       `json:"verifiedComment"`
	VerifiedFollow  bool       `json:"verifiedFollow"`
	VerifiedAt      *time.Time `json:"verifiedAt"`

	DownloadCount  int64      `json:"downloadCount"`
	LastDownloadAt *time.Time `json:"lastDownloadAt"`

	LastIPAddress string `json:"-"`
	LastUserAgent string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
