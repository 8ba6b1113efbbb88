package api

import "testing"

func TestHashTeamKeyRoundTrip(t *testing.T) {
	hash, err := HashTeamKey("s3cret-team-key")
	if err != nil {
		t.Fatalf("HashTeamKey returned error: %v", err)
	}

	if !verifyTeamKey("s3cret-team-key", hash) {
		t.Error("expected verifyTeamKey to accept the key it was hashed from")
	}
	if verifyTeamKey("wrong-key", hash) {
		t.Error("expected verifyTeamKey to reject a different key")
	}
}

func TestVerifyTeamKeyMalformedHash(t *testing.T) {
	if verifyTeamKey("anything", "not-a-valid-hash") {
		t.Error("expected verifyTeamKey to fail closed on a malformed stored hash")
	}
	if verifyTeamKey("anything", "zz:zz") {
		t.Error("expected verifyTeamKey to fail closed on non-hex salt/hash")
	}
}

func TestSplitHash(t *testing.T) {
	salt, hash, ok := splitHash("abcd:1234")
	if !ok || salt != "abcd" || hash != "1234" {
		t.Errorf("splitHash mismatch: salt=%q hash=%q ok=%v", salt, hash, ok)
	}

	if _, _, ok := splitHash("no-colon-here"); ok {
		t.Error("expected splitHash to report failure without a colon")
	}
}
