package auth

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("password must not be stored in the clear")
	}
	if !CheckPasswordHash("s3cret-pass", hash) {
		t.Error("correct password rejected")
	}
	if CheckPasswordHash("wrong-pass", hash) {
		t.Error("wrong password accepted")
	}

	// Salted: a second hash of the same password differs but still matches.
	hash2, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("second HashPassword: %v", err)
	}
	if hash2 == hash {
		t.Error("hashes should differ between calls")
	}
	if !CheckPasswordHash("s3cret-pass", hash2) {
		t.Error("second hash rejected the password")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	SetJWTSecret("unit-test-secret")

	token, err := GenerateToken(42, "label-owner")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "label-owner" {
		t.Errorf("claims mismatch: %+v", claims)
	}

	SetJWTSecret("a-different-secret")
	if _, err := ParseToken(token); err == nil {
		t.Error("token signed with another secret must not parse")
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	SetJWTSecret("")
	if _, err := GenerateToken(1, "nobody"); err == nil {
		t.Error("empty secret must refuse to sign")
	}
}
