// Package storage persists attachment blobs on the local filesystem and
// issues time-limited HMAC-signed URLs for them.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store writes blobs under a root directory. Writes are upserts: storing
// the same path twice overwrites the object in place via an atomic rename.
type Store struct {
	root       string
	signingKey []byte
	baseURL    string

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a Store rooted at root. baseURL prefixes signed URLs,
// e.g. "https://files.example.com".
func NewStore(root string, signingKey []byte, baseURL string) (*Store, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &Store{
		root:       root,
		signingKey: signingKey,
		baseURL:    baseURL,
		now:        time.Now,
	}, nil
}

// Put stores data at objectPath (slash-separated, relative to the root).
// The write goes to a temp file first and is renamed into place, so
// concurrent re-downloads of the same attachment settle on one object.
func (s *Store) Put(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing blob %s: %w", objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing blob %s: %w", objectPath, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storing blob %s: %w", objectPath, err)
	}
	return nil
}

// Exists reports whether an object is already stored at objectPath.
func (s *Store) Exists(objectPath string) bool {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	return err == nil
}

// SignedURL issues a credential-free URL for objectPath that expires after
// ttl. The signature covers the path and the expiry, so neither can be
// altered without the signing key.
func (s *Store) SignedURL(objectPath string, ttl time.Duration) (string, time.Time, error) {
	if objectPath == "" {
		return "", time.Time{}, fmt.Errorf("object path is required")
	}

	expiresAt := s.now().Add(ttl)
	sig := s.sign(objectPath, expiresAt.Unix())
	url := fmt.Sprintf("%s/%s?expires=%d&sig=%s", s.baseURL, objectPath, expiresAt.Unix(), sig)
	return url, expiresAt, nil
}

// Verify checks a signature produced by SignedURL and that it has not
// expired.
func (s *Store) Verify(objectPath string, expiresUnix int64, sig string) bool {
	if s.now().Unix() > expiresUnix {
		return false
	}
	expected := s.sign(objectPath, expiresUnix)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *Store) sign(objectPath string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s|%d", objectPath, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// WritableCheck verifies the blob root accepts writes. Used by the
// readiness probe.
func (s *Store) WritableCheck() error {
	tmp, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	return os.Remove(name)
}
