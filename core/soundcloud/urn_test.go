package soundcloud

import "testing"

func TestExtractNumericID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"soundcloud:tracks:12345678", "12345678"},
		{"soundcloud:users:42", "42"},
		{"12345", "12345"},
		{"https://api.soundcloud.com/tracks/987", "987"},
		{"  soundcloud:tracks:55  ", "55"},
		// No numeric suffix: verbatim fallback.
		{"soundcloud:tracks:abc", "soundcloud:tracks:abc"},
		{"some-opaque-id", "some-opaque-id"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ExtractNumericID(c.in); got != c.want {
			t.Errorf("ExtractNumericID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestURNSynthesis(t *testing.T) {
	track := ResolvedTrack{ID: 99}
	if got := track.TrackURN(); got != "soundcloud:tracks:99" {
		t.Errorf("TrackURN from id: got %q", got)
	}
	track.URN = "soundcloud:tracks:100"
	if got := track.TrackURN(); got != "soundcloud:tracks:100" {
		t.Errorf("TrackURN must prefer explicit urn, got %q", got)
	}

	user := ResolvedUser{ID: 7}
	if got := user.UserURN(); got != "soundcloud:users:7" {
		t.Errorf("UserURN from id: got %q", got)
	}
	if got := (&ResolvedUser{}).UserURN(); got != "" {
		t.Errorf("empty user must yield empty URN, got %q", got)
	}
}
