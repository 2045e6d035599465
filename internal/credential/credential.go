package credential

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the credential lifecycle. Both are terminal: the user
// has to reconnect their mailbox, so no amount of retrying helps.
var (
	// ErrNoActiveCredential is returned when a user has no active
	// credential on file.
	ErrNoActiveCredential = errors.New("no active credential for user")

	// ErrExpired is returned when the stored access token is rejected and
	// the refresh exchange fails as well.
	ErrExpired = errors.New("credential expired and refresh failed")
)

// Credential is one user's connection to a provider mailbox. The gateway
// holds it only for the duration of a single logical operation; it is never
// cached across calls.
type Credential struct {
	UserID       string    `db:"user_id"`
	AccountEmail string    `db:"account_email"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	IsActive     bool      `db:"is_active"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Store persists credentials keyed by user and account.
//
// SaveTokens is an upsert; concurrent refreshes for the same user are
// tolerated with last-write-wins semantics, there is no cross-process lock.
type Store interface {
	// GetActive returns the active credential for the user, or
	// ErrNoActiveCredential if none exists or the record is deactivated.
	GetActive(ctx context.Context, userID string) (Credential, error)

	// SaveTokens persists new access/refresh tokens for the user+account
	// pair, creating the record if needed.
	SaveTokens(ctx context.Context, userID, accountEmail, accessToken, refreshToken string) error

	// Deactivate marks the credential inactive so it is never used for
	// provider calls again until the user re-authenticates.
	Deactivate(ctx context.Context, userID, accountEmail string) error
}
