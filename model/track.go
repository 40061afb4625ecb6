package model

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"
)

// GatedTrack is a SoundCloud track that gates access to a downloadable file.
// Owners are platform users; downloaders authenticate with SoundCloud OAuth
// (kept in the browser session, never tied to a platform account).
type GatedTrack struct {
	ID       string `json:"id"` // UUID
	OwnerID  int64  `json:"ownerId"`
	PublicID string `json:"publicId"`

	Title       string `json:"title"`
	Description string `json:"description"`

	SoundCloudTrackURL string `json:"soundcloudTrackUrl"`
	// Preferred identifier (URN string, e.g. soundcloud:tracks:12345678).
	// Resolved lazily and never overwritten once set.
	SoundCloudTrackURN       string `json:"soundcloudTrackUrn"`
	SoundCloudArtistURN      string `json:"soundcloudArtistUrn"`
	SoundCloudArtistUsername string `json:"soundcloudArtistUsername"`

	RequireLike    bool `json:"requireLike"`
	RequireComment bool `json:"requireComment"`
	RequireFollow  bool `json:"requireFollow"`

	// Object key of the gated file in blob storage; empty until the owner
	// uploads the file in a dedicated step.
	FileObject       string `json:"-"`
	DownloadFilename string `json:"downloadFilename"`

	IsActive bool `json:"isActive"`
	IsListed bool `json:"isListed"`

	DownloadCount int64 `json:"downloadCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResolvedDownloadFilename picks the filename served on download:
// explicit override, else the original upload basename, else "download".
func (t *GatedTrack) ResolvedDownloadFilename() string {
	if t.DownloadFilename != "" {
		return t.DownloadFilename
	}
	if t.FileObject != "" {
		parts := strings.Split(t.FileObject, "/")
		if name := parts[len(parts)-1]; name != "" {
			return name
		}
	}
	return "download"
}

// FileReady reports whether the gated file has been uploaded.
func (t *GatedTrack) FileReady() bool {
	return t.FileObject != ""
}

// FollowTarget is an additional SoundCloud profile that must also be
// followed to unlock the download (e.g. collaborators). Identified by
// profile URL and resolved to URN/username opportunistically.
type FollowTarget struct {
	ID      int64  `json:"id"`
	TrackID string `json:"trackId"`

	ProfileURL         string `json:"profileUrl"`
	SoundCloudUserURN  string `json:"soundcloudUserUrn"`
	SoundCloudUsername string `json:"soundcloudUsername"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPublicID returns a URL-safe random identifier (~32 chars).
func NewPublicID() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
