// Package token implements the Token Provider (§4.5): a small in-memory
// holder of an OAuth2 access/refresh token pair that knows how to refresh
// itself just before expiry, plus a background timer that keeps the
// downstream token store warm. The authorization-code exchange and PKCE
// state that produce the first token pair are external to this package;
// the resulting pair is installed with Set.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// RefreshMargin is how far ahead of expiry a stored access token is
// considered stale and eligible for synchronous refresh.
const RefreshMargin = 10 * time.Minute

// WarmRefreshInterval is how often the background timer refreshes the
// stored token pair to keep the downstream token store warm even when no
// caller has requested an access token recently.
const WarmRefreshInterval = 30 * time.Minute

// Token is the stored access/refresh token tuple.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Provider holds an optional Token and knows how to refresh it using the
// configured OAuth2 endpoint. The zero value is not usable — create
// instances with New.
type Provider struct {
	mu     sync.Mutex
	token  *Token
	oauth  *oauth2.Config
	verify *gooidc.IDTokenVerifier // optional; nil disables id_token verification
	logger *zap.Logger
}

// New creates a Provider. oauthCfg supplies the client credentials and
// token endpoint used for refresh. verifier may be nil if id_token
// verification is not configured.
func New(oauthCfg *oauth2.Config, verifier *gooidc.IDTokenVerifier, logger *zap.Logger) *Provider {
	return &Provider{
		oauth:  oauthCfg,
		verify: verifier,
		logger: logger.Named("token"),
	}
}

// Set installs the token pair produced by an external authorization-code
// exchange. Called once after the flow in §6 completes.
func (p *Provider) Set(tok Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = &tok
}

// GetValidAccessToken returns the stored access token, refreshing it first
// if it is within RefreshMargin of expiry. Returns ("", false) if no token
// has ever been set or the refresh fails.
func (p *Provider) GetValidAccessToken(ctx context.Context) (string, bool) {
	p.mu.Lock()
	current := p.token
	p.mu.Unlock()

	if current == nil {
		return "", false
	}

	if time.Until(current.ExpiresAt) > RefreshMargin {
		return current.AccessToken, true
	}

	refreshed, err := p.refresh(ctx, current)
	if err != nil {
		p.logger.Warn("token refresh failed", zap.Error(err))
		return "", false
	}

	p.mu.Lock()
	p.token = refreshed
	p.mu.Unlock()

	return refreshed.AccessToken, true
}

// refresh exchanges the stored refresh token for a new access/refresh
// token pair via grant_type=refresh_token, rotating the refresh token.
func (p *Provider) refresh(ctx context.Context, current *Token) (*Token, error) {
	source := p.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
	})

	next, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("token: refresh: %w", err)
	}

	rotated := next.RefreshToken
	if rotated == "" {
		// Some providers omit refresh_token when it has not changed.
		rotated = current.RefreshToken
	}

	return &Token{
		AccessToken:  next.AccessToken,
		RefreshToken: rotated,
		ExpiresAt:    next.Expiry,
		Scopes:       current.Scopes,
	}, nil
}

// VerifyIDToken validates rawIDToken against the configured OIDC provider.
// Returns an error if no verifier was configured at construction.
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken string) (*gooidc.IDToken, error) {
	if p.verify == nil {
		return nil, fmt.Errorf("token: id_token verification not configured")
	}
	return p.verify.Verify(ctx, rawIDToken)
}

// RegisterWarmRefresh schedules a background job on scheduler that calls
// GetValidAccessToken every WarmRefreshInterval, discarding the result.
// This keeps the stored token pair from going stale between real callers,
// which matters when the downstream consumer only calls in on infrequent
// bursts of activity.
func (p *Provider) RegisterWarmRefresh(scheduler gocron.Scheduler) error {
	_, err := scheduler.NewJob(
		gocron.DurationJob(WarmRefreshInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, ok := p.GetValidAccessToken(ctx); !ok {
				p.logger.Debug("warm refresh found no token to refresh")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("token-warm-refresh"),
	)
	if err != nil {
		return fmt.Errorf("token: register warm refresh: %w", err)
	}
	return nil
}
