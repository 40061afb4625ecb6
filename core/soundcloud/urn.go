package soundcloud

import (
	"regexp"
	"strings"
)

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// ExtractNumericID extracts the trailing numeric id from a URN-shaped
// identifier like "soundcloud:tracks:123456". Endpoints under
// /tracks/{id}/... and /me/followings/{user_id} expect the bare number.
// Identifiers without a numeric suffix pass through verbatim; that is the
// documented fallback, not an error.
func ExtractNumericID(identifier string) string {
	ident := strings.TrimSpace(identifier)
	if m := trailingDigits.FindString(ident); m != "" {
		return m
	}
	return ident
}
