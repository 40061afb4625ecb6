package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/model"
	"github.com/bandpassrecords/scgate/repository"
)

// fakeAPI implements SoundCloudAPI with pluggable behavior and call counters.
type fakeAPI struct {
	configured bool

	resolveTrackFn func(trackURL string) (*soundcloud.ResolvedTrack, error)
	resolveUserFn  func(profileURL string) (*soundcloud.ResolvedUser, error)
	likedFn        func() (bool, error)
	commentedFn    func() (bool, error)
	followingsFn   func() (map[string]struct{}, error)

	mu              sync.Mutex
	likedCalls      int
	commentedCalls  int
	followingsCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{configured: true}
}

func (f *fakeAPI) Configured() bool { return f.configured }

func (f *fakeAPI) ResolveTrack(ctx context.Context, trackURL, accessToken string) (*soundcloud.ResolvedTrack, error) {
	if f.resolveTrackFn == nil {
		return nil, fmt.Errorf("resolve not available")
	}
	return f.resolveTrackFn(trackURL)
}

func (f *fakeAPI) ResolveUser(ctx context.Context, profileURL, accessToken string) (*soundcloud.ResolvedUser, error) {
	if f.resolveUserFn == nil {
		return nil, fmt.Errorf("resolve not available")
	}
	return f.resolveUserFn(profileURL)
}

func (f *fakeAPI) UserLikedTrack(ctx context.Context, accessToken, trackURN string, maxPages int) (bool, error) {
	f.mu.Lock()
	f.likedCalls++
	f.mu.Unlock()
	if f.likedFn == nil {
		return false, nil
	}
	return f.likedFn()
}

func (f *fakeAPI) UserCommentedOnTrack(ctx context.Context, accessToken, trackIdentifier, userURN string, maxPages int) (bool, error) {
	f.mu.Lock()
	f.commentedCalls++
	f.mu.Unlock()
	if f.commentedFn == nil {
		return false, nil
	}
	return f.commentedFn()
}

func (f *fakeAPI) FollowingsURNs(ctx context.Context, accessToken string, maxPages int) (map[string]struct{}, error) {
	f.mu.Lock()
	f.followingsCalls++
	f.mu.Unlock()
	if f.followingsFn == nil {
		return map[string]struct{}{}, nil
	}
	return f.followingsFn()
}

// memTrackRepo is an in-memory TrackRepository.
type memTrackRepo struct {
	mu     sync.Mutex
	tracks map[string]*model.GatedTrack
}

func newMemTrackRepo() *memTrackRepo {
	return &memTrackRepo{tracks: make(map[string]*model.GatedTrack)}
}

func (r *memTrackRepo) put(t *model.GatedTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tracks[t.ID] = &cp
}

func (r *memTrackRepo) get(id string) *model.GatedTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tracks[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

func (r *memTrackRepo) CreateTrack(t *model.GatedTrack) error {
	if t.ID == "" {
		t.ID = fmt.Sprintf("track-%d", time.Now().UnixNano())
	}
	if t.PublicID == "" {
		t.PublicID = model.NewPublicID()
	}
	r.put(t)
	return nil
}

func (r *memTrackRepo) GetTrackByPublicID(publicID string) (*model.GatedTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks {
		if t.PublicID == publicID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTrackRepo) GetActiveTrackByPublicID(publicID string) (*model.GatedTrack, error) {
	t, _ := r.GetTrackByPublicID(publicID)
	if t == nil || !t.IsActive {
		return nil, nil
	}
	return t, nil
}

func (r *memTrackRepo) GetTracksByOwnerID(ownerID int64) ([]*model.GatedTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.GatedTrack, 0)
	for _, t := range r.tracks {
		if t.OwnerID == ownerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTrackRepo) GetListedTracks(limit int) ([]*model.GatedTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.GatedTrack, 0)
	for _, t := range r.tracks {
		if t.IsActive && t.IsListed && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTrackRepo) UpdateTrack(t *model.GatedTrack) error {
	r.put(t)
	return nil
}

func (r *memTrackRepo) SetTrackIdentifiers(trackID, trackURN, artistURN, artistUsername string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %s not found", trackID)
	}
	if t.SoundCloudTrackURN == "" && trackURN != "" {
		t.SoundCloudTrackURN = trackURN
	}
	if t.SoundCloudArtistURN == "" && artistURN != "" {
		t.SoundCloudArtistURN = artistURN
	}
	if t.SoundCloudArtistUsername == "" && artistUsername != "" {
		t.SoundCloudArtistUsername = artistUsername
	}
	return nil
}

func (r *memTrackRepo) SetFileObject(trackID, fileObject, downloadFilename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %s not found", trackID)
	}
	t.FileObject = fileObject
	if t.DownloadFilename == "" && downloadFilename != "" {
		t.DownloadFilename = downloadFilename
	}
	return nil
}

func (r *memTrackRepo) IncrementDownloadCount(trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %s not found", trackID)
	}
	t.DownloadCount++
	return nil
}

func (r *memTrackRepo) DeleteTrack(trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracks, trackID)
	return nil
}

// memTargetRepo is an in-memory FollowTargetRepository.
type memTargetRepo struct {
	mu      sync.Mutex
	nextID  int64
	targets map[int64]*model.FollowTarget
}

func newMemTargetRepo() *memTargetRepo {
	return &memTargetRepo{targets: make(map[int64]*model.FollowTarget)}
}

func (r *memTargetRepo) CreateTarget(t *model.FollowTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	cp := *t
	r.targets[t.ID] = &cp
	return nil
}

func (r *memTargetRepo) GetTargetsByTrackID(trackID string) ([]*model.FollowTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.FollowTarget, 0)
	for _, t := range r.targets {
		if t.TrackID == trackID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTargetRepo) GetTargetByID(trackID string, targetID int64) (*model.FollowTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[targetID]; ok && t.TrackID == trackID {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (r *memTargetRepo) SetResolvedIdentity(targetID int64, userURN, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return fmt.Errorf("target %d not found", targetID)
	}
	t.SoundCloudUserURN = userURN
	t.SoundCloudUsername = username
	return nil
}

func (r *memTargetRepo) DeleteTarget(trackID string, targetID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, targetID)
	return nil
}

// memAccessRepo is an in-memory AccessRepository implementing the same merge
// policy as the MySQL one: like/comment monotonic, follow overwritten.
type memAccessRepo struct {
	mu       sync.Mutex
	nextID   int64
	accesses map[string]*model.GateAccess // key: trackID + "|" + userURN
}

func newMemAccessRepo() *memAccessRepo {
	return &memAccessRepo{accesses: make(map[string]*model.GateAccess)}
}

func accessKey(trackID, userURN string) string {
	return trackID + "|" + userURN
}

func (r *memAccessRepo) GetAccess(trackID, userURN string) (*model.GateAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accesses[accessKey(trackID, userURN)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *memAccessRepo) getOrCreateLocked(trackID, userURN, username string) *model.GateAccess {
	key := accessKey(trackID, userURN)
	a, ok := r.accesses[key]
	if !ok {
		r.nextID++
		a = &model.GateAccess{
			ID:                r.nextID,
			TrackID:           trackID,
			SoundCloudUserURN: userURN,
			CreatedAt:         time.Now(),
		}
		r.accesses[key] = a
	}
	if username != "" {
		a.SoundCloudUsername = username
	}
	return a
}

func (r *memAccessRepo) GetOrCreateAccess(trackID, userURN, username string) (*model.GateAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.getOrCreateLocked(trackID, userURN, username)
	return &cp, nil
}

func (r *memAccessRepo) MergeVerification(trackID, userURN string, update repository.VerificationUpdate) (*model.GateAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.getOrCreateLocked(trackID, userURN, update.Username)
	a.VerifiedLike = a.VerifiedLike || update.LikedNow
	a.VerifiedComment = a.VerifiedComment || update.CommentedNow
	a.VerifiedFollow = update.FollowedNow
	now := time.Now()
	a.VerifiedAt = &now
	a.LastIPAddress = update.IPAddress
	a.LastUserAgent = update.UserAgent
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (r *memAccessRepo) MarkLike(trackID, userURN, username, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.getOrCreateLocked(trackID, userURN, username)
	a.VerifiedLike = true
	return nil
}

func (r *memAccessRepo) MarkComment(trackID, userURN, username, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.getOrCreateLocked(trackID, userURN, username)
	a.VerifiedComment = true
	return nil
}

func (r *memAccessRepo) SetFollow(trackID, userURN, username string, followed bool, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.getOrCreateLocked(trackID, userURN, username)
	a.VerifiedFollow = followed
	return nil
}

func (r *memAccessRepo) RecordDownload(accessID int64, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accesses {
		if a.ID == accessID {
			a.DownloadCount++
			now := time.Now()
			a.LastDownloadAt = &now
			a.LastIPAddress = ip
			a.LastUserAgent = userAgent
			return nil
		}
	}
	return fmt.Errorf("access %d not found", accessID)
}
