package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/model"
)

const (
	testArtistURN = "soundcloud:users:11"
	testViewerURN = "soundcloud:users:99"
)

func newTestSetup() (*Verifier, *fakeAPI, *memTrackRepo, *memTargetRepo, *memAccessRepo) {
	api := newFakeAPI()
	tracks := newMemTrackRepo()
	targets := newMemTargetRepo()
	accesses := newMemAccessRepo()
	return NewVerifier(api, tracks, targets, accesses), api, tracks, targets, accesses
}

func newGatedTrack(like, comment, follow bool) *model.GatedTrack {
	return &model.GatedTrack{
		ID:                  "track-1",
		PublicID:            "pub-1",
		Title:               "Test Drop",
		SoundCloudTrackURL:  "https://soundcloud.com/artist/test-drop",
		SoundCloudTrackURN:  "soundcloud:tracks:500",
		SoundCloudArtistURN: testArtistURN,
		RequireLike:         like,
		RequireComment:      comment,
		RequireFollow:       follow,
		IsActive:            true,
	}
}

func viewerIdentity() *session.Identity {
	return &session.Identity{
		UserURN:     testViewerURN,
		Username:    "fan",
		AccessToken: "tok",
	}
}

func TestRefreshMonotonicLikeComment(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(true, true, false)
	tracks.put(track)

	// First refresh: liked shows up, comment not yet (eventual consistency).
	api.likedFn = func() (bool, error) { return true, nil }
	api.commentedFn = func() (bool, error) { return false, nil }
	access, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if !access.VerifiedLike || access.VerifiedComment {
		t.Fatalf("after first refresh: like=%v comment=%v", access.VerifiedLike, access.VerifiedComment)
	}

	// Second refresh: the like listing now lags and misses it, the comment
	// shows up. The like flag must not be downgraded.
	api.likedFn = func() (bool, error) { return false, nil }
	api.commentedFn = func() (bool, error) { return true, nil }
	access, _, warning = v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if !access.VerifiedLike {
		t.Error("verified like was downgraded by a lagging listing")
	}
	if !access.VerifiedComment {
		t.Error("verified comment was not recorded")
	}

	d := Decide(track, access, testViewerURN)
	if !d.LikedOK || !d.CommentedOK {
		t.Errorf("decision should pass both: %+v", d)
	}
}

func TestThreeRefreshLikeSequence(t *testing.T) {
	v, api, tracks, _, accesses := newTestSetup()
	track := newGatedTrack(true, false, false)
	tracks.put(track)

	results := []bool{false, true, false}
	idx := 0
	api.likedFn = func() (bool, error) { r := results[idx]; idx++; return r, nil }

	for i := 0; i < 3; i++ {
		if _, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{}); warning != "" {
			t.Fatalf("refresh %d warned: %s", i+1, warning)
		}
	}

	access, err := accesses.GetAccess(track.ID, testViewerURN)
	if err != nil || access == nil {
		t.Fatalf("access record missing: %v", err)
	}
	if !access.VerifiedLike {
		t.Error("false, true, false refresh sequence must leave verified like true")
	}
}

func TestRefreshFollowDowngrade(t *testing.T) {
	v, api, tracks, _, accesses := newTestSetup()
	track := newGatedTrack(false, false, true)
	tracks.put(track)

	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{testArtistURN: {}}, nil
	}
	access, _, _ := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if !access.VerifiedFollow {
		t.Fatal("follow should verify while following")
	}

	// Unfollow: the live flag goes back down.
	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{}, nil
	}
	access, _, _ = v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if access.VerifiedFollow {
		t.Fatal("follow flag must downgrade after unfollow")
	}

	// And back up again.
	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{testArtistURN: {}}, nil
	}
	access, _, _ = v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if !access.VerifiedFollow {
		t.Fatal("follow flag must recover after re-follow")
	}

	stored, _ := accesses.GetAccess(track.ID, testViewerURN)
	if !stored.VerifiedFollow {
		t.Error("persisted follow flag out of sync")
	}
}

func TestRefreshKeepsProgressWhenArtistUnresolved(t *testing.T) {
	v, api, tracks, _, accesses := newTestSetup()
	track := newGatedTrack(true, false, true)
	track.SoundCloudArtistURN = ""
	tracks.put(track)

	api.likedFn = func() (bool, error) { return true, nil }

	access, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if access == nil {
		t.Fatal("like/comment progress must still be merged")
	}
	if !access.VerifiedLike {
		t.Error("fresh like was discarded because the artist is unresolved")
	}
	if access.VerifiedFollow {
		t.Error("follow cannot verify without an artist identity")
	}
	if warning == "" {
		t.Error("unresolved artist should surface a warning")
	}
	if api.followingsCalls != 0 {
		t.Errorf("no followings fetch expected, got %d", api.followingsCalls)
	}

	stored, _ := accesses.GetAccess(track.ID, testViewerURN)
	if stored == nil || !stored.VerifiedLike {
		t.Error("persisted like missing after refresh")
	}
}

func TestRefreshSharesFollowingsFetch(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(false, false, true)
	tracks.put(track)

	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{testArtistURN: {}}, nil
	}

	access, followings, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if access == nil || !access.VerifiedFollow {
		t.Fatal("follow should verify while following the artist")
	}
	if followings == nil {
		t.Fatal("refresh must hand back the followings it fetched")
	}
	if _, ok := followings[testArtistURN]; !ok {
		t.Error("followings set is missing the artist")
	}
	if api.followingsCalls != 1 {
		t.Errorf("one fetch must serve verification and rendering, got %d", api.followingsCalls)
	}
}

func TestSelfFollowExemption(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(false, false, true)
	track.SoundCloudArtistURN = testViewerURN // the viewer is the artist
	tracks.put(track)

	api.followingsFn = func() (map[string]struct{}, error) {
		return nil, errors.New("must not be called")
	}

	access, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if !access.VerifiedFollow {
		t.Error("artist viewing their own gate must satisfy the follow requirement")
	}
	if api.followingsCalls != 0 {
		t.Errorf("self-follow exemption must not fetch followings, got %d calls", api.followingsCalls)
	}
}

func TestFollowedNowChecksAllTargets(t *testing.T) {
	v, api, tracks, targets, _ := newTestSetup()
	track := newGatedTrack(false, false, true)
	tracks.put(track)

	extra := []*model.FollowTarget{
		{TrackID: track.ID, ProfileURL: "https://soundcloud.com/collab1", SoundCloudUserURN: "soundcloud:users:21"},
		{TrackID: track.ID, ProfileURL: "https://soundcloud.com/collab2", SoundCloudUserURN: "soundcloud:users:22"},
	}
	for _, tg := range extra {
		targets.CreateTarget(tg)
	}

	// Artist + one collaborator followed: not enough.
	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{
			testArtistURN:         {},
			"soundcloud:users:21": {},
		}, nil
	}
	followed, err := v.FollowedNow(context.Background(), track, extra, "tok", testViewerURN)
	if err != nil {
		t.Fatal(err)
	}
	if followed {
		t.Error("missing one target must fail the aggregate follow check")
	}

	// All followed.
	api.followingsFn = func() (map[string]struct{}, error) {
		return map[string]struct{}{
			testArtistURN:         {},
			"soundcloud:users:21": {},
			"soundcloud:users:22": {},
		}, nil
	}
	followed, err = v.FollowedNow(context.Background(), track, extra, "tok", testViewerURN)
	if err != nil {
		t.Fatal(err)
	}
	if !followed {
		t.Error("following artist and every target must pass")
	}
	if api.followingsCalls != 2 {
		t.Errorf("one followings fetch per check expected, got %d", api.followingsCalls)
	}
}

func TestFollowedNowArtistUnresolved(t *testing.T) {
	v, _, tracks, _, _ := newTestSetup()
	track := newGatedTrack(false, false, true)
	track.SoundCloudArtistURN = ""
	tracks.put(track)

	_, err := v.FollowedNow(context.Background(), track, nil, "tok", testViewerURN)
	if !errors.Is(err, ErrArtistUnresolved) {
		t.Errorf("expected ErrArtistUnresolved, got %v", err)
	}
}

func TestRefreshDegradesOnAPIError(t *testing.T) {
	v, api, tracks, _, accesses := newTestSetup()
	track := newGatedTrack(true, false, false)
	tracks.put(track)

	// Earn the like first.
	api.likedFn = func() (bool, error) { return true, nil }
	if _, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{}); warning != "" {
		t.Fatalf("setup refresh warned: %s", warning)
	}

	// Then the API starts failing: the refresh degrades to a warning and the
	// persisted state is untouched.
	api.likedFn = func() (bool, error) { return false, errors.New("upstream 503") }
	access, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if access != nil {
		t.Error("degraded refresh must not report a merged result")
	}
	if warning == "" {
		t.Error("degraded refresh must carry a warning")
	}

	stored, _ := accesses.GetAccess(track.ID, testViewerURN)
	if stored == nil || !stored.VerifiedLike {
		t.Error("persisted verification must survive an API outage")
	}
}

func TestRefreshSkipsWithoutToken(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(true, false, false)
	tracks.put(track)

	api.likedFn = func() (bool, error) { return true, nil }

	if access, _, _ := v.Refresh(context.Background(), track, nil, nil, RequestMeta{}); access != nil {
		t.Error("no identity, no refresh")
	}
	id := viewerIdentity()
	id.AccessToken = ""
	if access, _, _ := v.Refresh(context.Background(), track, nil, id, RequestMeta{}); access != nil {
		t.Error("expired token, no refresh")
	}
	if api.likedCalls != 0 {
		t.Errorf("no API calls expected, got %d", api.likedCalls)
	}
}

func TestRefreshUnresolvedTrackWarns(t *testing.T) {
	v, _, tracks, _, _ := newTestSetup()
	track := newGatedTrack(true, false, false)
	track.SoundCloudTrackURN = ""
	tracks.put(track)

	access, _, warning := v.Refresh(context.Background(), track, nil, viewerIdentity(), RequestMeta{})
	if access != nil {
		t.Error("unresolved track cannot produce a verification result")
	}
	if warning == "" {
		t.Error("unresolved track should surface a warning")
	}
}

func TestVerifyAtCallbackPropagatesError(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(true, false, false)
	tracks.put(track)

	api.likedFn = func() (bool, error) { return false, errors.New("upstream down") }
	if _, _, _, err := v.VerifyAtCallback(context.Background(), track, nil, "tok", testViewerURN); err == nil {
		t.Error("callback verification must propagate upstream failures")
	}
}

func TestEnsureTrackIdentifiersWriteOnce(t *testing.T) {
	v, api, tracks, _, _ := newTestSetup()
	track := newGatedTrack(true, false, false)
	track.SoundCloudTrackURN = ""
	track.SoundCloudArtistURN = ""
	track.SoundCloudArtistUsername = ""
	tracks.put(track)

	api.resolveTrackFn = func(trackURL string) (*soundcloud.ResolvedTrack, error) {
		return &soundcloud.ResolvedTrack{
			ID:   500,
			User: soundcloud.ResolvedUser{ID: 11, Username: "artist"},
		}, nil
	}

	if err := v.EnsureTrackIdentifiers(context.Background(), track, ""); err != nil {
		t.Fatalf("EnsureTrackIdentifiers failed: %v", err)
	}
	if track.SoundCloudTrackURN != "soundcloud:tracks:500" {
		t.Errorf("track URN not filled: %q", track.SoundCloudTrackURN)
	}
	if track.SoundCloudArtistURN != testArtistURN {
		t.Errorf("artist URN not filled: %q", track.SoundCloudArtistURN)
	}

	// A second resolve returning different ids must not overwrite.
	api.resolveTrackFn = func(trackURL string) (*soundcloud.ResolvedTrack, error) {
		return &soundcloud.ResolvedTrack{
			ID:   999,
			User: soundcloud.ResolvedUser{ID: 98, Username: "other"},
		}, nil
	}
	if err := v.EnsureTrackIdentifiers(context.Background(), track, ""); err != nil {
		t.Fatalf("second EnsureTrackIdentifiers failed: %v", err)
	}
	stored := tracks.get(track.ID)
	if stored.SoundCloudTrackURN != "soundcloud:tracks:500" || stored.SoundCloudArtistURN != testArtistURN {
		t.Errorf("identifiers were overwritten: %q %q", stored.SoundCloudTrackURN, stored.SoundCloudArtistURN)
	}
}

func TestDecide(t *testing.T) {
	track := newGatedTrack(true, true, true)
	track.FileObject = "gates/track-1/stems.zip"

	// Not connected, no record.
	d := Decide(track, nil, "")
	if d.LikedOK || d.CommentedOK || d.FollowedOK || d.CanDownload {
		t.Errorf("empty state must fail every requirement: %+v", d)
	}
	if !d.FileReady {
		t.Error("file is uploaded")
	}

	access := &model.GateAccess{VerifiedLike: true, VerifiedComment: true, VerifiedFollow: true}
	d = Decide(track, access, testViewerURN)
	if !d.CanDownload {
		t.Errorf("fully verified must unlock the download: %+v", d)
	}

	// Requirement toggled off is skipped even when never verified.
	track2 := newGatedTrack(true, false, false)
	track2.FileObject = "gates/track-1/stems.zip"
	d = Decide(track2, &model.GateAccess{VerifiedLike: true}, testViewerURN)
	if !d.CommentedOK || !d.FollowedOK || !d.CanDownload {
		t.Errorf("disabled requirements must be satisfied: %+v", d)
	}

	// No file, everything verified: still no download.
	track3 := newGatedTrack(true, false, false)
	d = Decide(track3, &model.GateAccess{VerifiedLike: true}, testViewerURN)
	if d.CanDownload {
		t.Error("download must stay locked until the file is uploaded")
	}

	// The artist viewing their own follow-gated track.
	track4 := newGatedTrack(false, false, true)
	track4.SoundCloudArtistURN = testViewerURN
	d = Decide(track4, nil, testViewerURN)
	if !d.FollowNotApplicable {
		t.Error("viewer == artist should flag follow as not applicable")
	}
}

func TestCheckDownload(t *testing.T) {
	track := newGatedTrack(true, true, false)

	if err := CheckDownload(track, nil); !errors.Is(err, ErrNotVerified) {
		t.Errorf("nil access: got %v", err)
	}

	access := &model.GateAccess{VerifiedLike: true}
	if err := CheckDownload(track, access); !errors.Is(err, ErrCommentRequired) {
		t.Errorf("missing comment: got %v", err)
	}

	access.VerifiedComment = true
	if err := CheckDownload(track, access); err != nil {
		t.Errorf("all requirements met: got %v", err)
	}

	followTrack := newGatedTrack(false, false, true)
	if err := CheckDownload(followTrack, &model.GateAccess{}); !errors.Is(err, ErrFollowRequired) {
		t.Errorf("missing follow: got %v", err)
	}
	if err := CheckDownload(newGatedTrack(true, false, false), &model.GateAccess{}); !errors.Is(err, ErrLikeRequired) {
		t.Errorf("missing like: got %v", err)
	}
}

func TestConcurrentDownloadCounting(t *testing.T) {
	_, _, tracks, _, accesses := newTestSetup()
	track := newGatedTrack(true, false, false)
	tracks.put(track)

	access, err := accesses.GetOrCreateAccess(track.ID, testViewerURN, "fan")
	if err != nil {
		t.Fatal(err)
	}

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if err := accesses.RecordDownload(access.ID, fmt.Sprintf("10.0.0.%d", i%250), "test-agent"); err != nil {
				t.Errorf("RecordDownload: %v", err)
			}
			if err := tracks.IncrementDownloadCount(track.ID); err != nil {
				t.Errorf("IncrementDownloadCount: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := accesses.GetAccess(track.ID, testViewerURN)
	if stored.DownloadCount != n {
		t.Errorf("access download count = %d, want %d", stored.DownloadCount, n)
	}
	if got := tracks.get(track.ID).DownloadCount; got != n {
		t.Errorf("track download count = %d, want %d", got, n)
	}
}
