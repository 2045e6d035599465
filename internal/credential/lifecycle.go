package credential

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/pocketdesk/mailgate/internal/logging"
)

// Lifecycle exchanges refresh tokens for fresh access tokens and persists
// the result. One Lifecycle is shared across invocations; the credential it
// operates on is passed per call.
type Lifecycle struct {
	store  Store
	conf   *oauth2.Config
	logger *slog.Logger
}

// LifecycleConfig carries the OAuth client registration used for the
// refresh_token grant.
type LifecycleConfig struct {
	ClientID      string
	ClientSecret  string
	TokenEndpoint string
}

// NewLifecycle creates a Lifecycle backed by the given store.
func NewLifecycle(store Store, cfg LifecycleConfig, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenEndpoint,
			},
		},
		logger: logger,
	}
}

// Refresh exchanges the credential's refresh token for a new access token,
// persists it, and returns the updated credential.
//
// The new token is written to the store before it is handed back, so a
// retried provider call never runs ahead of persistence. A failed exchange
// persists nothing and returns ErrExpired: the user must re-authenticate.
func (l *Lifecycle) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if !cred.IsActive {
		return Credential{}, ErrNoActiveCredential
	}

	src := l.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		l.logger.Warn("token refresh exchange failed",
			logging.UserHash(cred.AccountEmail),
			logging.Err(err))
		return Credential{}, fmt.Errorf("%w: %v", ErrExpired, err)
	}

	// Providers may rotate the refresh token; keep the old one when the
	// response omits it.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	if err := l.store.SaveTokens(ctx, cred.UserID, cred.AccountEmail, tok.AccessToken, refreshToken); err != nil {
		return Credential{}, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	l.logger.Info("access token refreshed",
		logging.UserHash(cred.AccountEmail),
		slog.String("access_token", logging.SanitizeToken(tok.AccessToken)))

	cred.AccessToken = tok.AccessToken
	cred.RefreshToken = refreshToken
	return cred, nil
}
