package token

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func TestProviderGetValidAccessTokenNoToken(t *testing.T) {
	p := New(nil, nil, zapNop())
	if _, ok := p.GetValidAccessToken(nil); ok { //nolint:staticcheck // nil ctx fine, never dereferenced before the nil-token early return
		t.Error("expected no token to be available")
	}
}

func TestProviderGetValidAccessTokenFresh(t *testing.T) {
	p := New(nil, nil, zapNop())
	p.Set(Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)})

	got, ok := p.GetValidAccessToken(nil) //nolint:staticcheck
	if !ok || got != "abc" {
		t.Errorf("expected fresh token to be returned unmodified, got %q, ok=%v", got, ok)
	}
}
