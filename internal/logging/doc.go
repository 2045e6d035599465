// Package logging provides structured logging helpers built on log/slog.
//
// It defines the canonical attribute keys used across the gateway so that
// log lines stay queryable (operation, account, user_hash, status, error),
// plus PII-safe helpers: user emails are hashed before logging and tokens
// are reduced to a length indicator.
package logging
