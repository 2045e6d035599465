package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/pocketdesk/mailgate/internal/logging"
)

// DefaultMaxAttachmentSize caps attachment bytes at 25MB; each download
// materializes the full attachment in memory before upload.
const DefaultMaxAttachmentSize = 25 * 1024 * 1024

// DefaultSignedURLTTL is how long issued attachment URLs stay valid.
const DefaultSignedURLTTL = time.Hour

// AttachmentSource is the slice of the provider client the pipeline needs.
type AttachmentSource interface {
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*gmail.MessagePartBody, error)
}

// BlobStore persists attachment bytes and issues time-limited URLs.
// storage.Store is the production implementation.
type BlobStore interface {
	Put(ctx context.Context, objectPath string, data []byte) error
	SignedURL(objectPath string, ttl time.Duration) (string, time.Time, error)
}

// StoredAttachment is the result of one attachment download.
type StoredAttachment struct {
	StoragePath string    `json:"storagePath"`
	SignedURL   string    `json:"signedUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// FetchError is a per-item attachment failure. Inside batch operations it
// is recorded alongside successes and never aborts the batch.
type FetchError struct {
	Reason  string
	wrapped error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("attachment fetch failed (%s): %v", e.Reason, e.wrapped)
}

func (e *FetchError) Unwrap() error {
	return e.wrapped
}

// FetchPipeline downloads attachment bytes under bounded concurrency and
// persists them to blob storage. One pipeline (and one semaphore) is
// shared across all downloads of a gateway; the provider source is passed
// per fetch because it is bound to a caller's credential.
//
// The pipeline never retries internally: bounded-concurrency pools must
// not compound with unbounded retry, so retry stays with the caller.
type FetchPipeline struct {
	blobs   BlobStore
	sem     *Semaphore
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
}

// NewFetchPipeline builds a pipeline with the given download concurrency
// capacity. Zero maxSize and ttl take the package defaults.
func NewFetchPipeline(blobs BlobStore, capacity int, maxSize int64, ttl time.Duration, logger *slog.Logger) *FetchPipeline {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchPipeline{
		blobs:   blobs,
		sem:     NewSemaphore(capacity),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
	}
}

// BlobPath is the deterministic storage path for an attachment, so that
// repeated downloads upsert rather than append.
func BlobPath(userID, messageID, attachmentID, filename string) string {
	return fmt.Sprintf("attachments/%s/%s_%s_%s", userID, messageID, attachmentID, SanitizeFilename(filename))
}

// SanitizeFilename strips path separators and traversal sequences from a
// provider-supplied filename.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	return filename
}

// Fetch downloads one attachment, stores it, and returns a time-limited
// URL. A concurrency slot is held for the whole download+store and is
// released on every path out.
func (p *FetchPipeline) Fetch(ctx context.Context, src AttachmentSource, userID, messageID, attachmentID, filename string) (StoredAttachment, error) {
	if err := p.sem.Acquire(ctx); err != nil {
		return StoredAttachment{}, err
	}
	defer p.sem.Release()

	body, err := src.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return StoredAttachment{}, &FetchError{Reason: "download", wrapped: err}
	}

	if body.Size > p.maxSize {
		return StoredAttachment{}, &FetchError{
			Reason:  "size",
			wrapped: fmt.Errorf("attachment size %d exceeds maximum %d", body.Size, p.maxSize),
		}
	}

	data, err := DecodeBase64URL(body.Data)
	if err != nil {
		return StoredAttachment{}, &FetchError{Reason: "decode", wrapped: err}
	}

	path := BlobPath(userID, messageID, attachmentID, filename)
	if err := p.blobs.Put(ctx, path, data); err != nil {
		return StoredAttachment{}, &FetchError{Reason: "store", wrapped: err}
	}

	url, expiresAt, err := p.blobs.SignedURL(path, p.ttl)
	if err != nil {
		return StoredAttachment{}, &FetchError{Reason: "sign", wrapped: err}
	}

	p.logger.Debug("attachment stored",
		logging.MessageID(messageID),
		slog.String("path", path),
		slog.Int("bytes", len(data)))

	return StoredAttachment{
		StoragePath: path,
		SignedURL:   url,
		ExpiresAt:   expiresAt,
	}, nil
}
