// Package gateway implements the mailbox synchronization gateway: the
// layer that authenticates against the email provider on a user's behalf,
// fetches and decodes messages, manages attachment downloads, and composes
// outbound mail, tolerating partial failures across batches.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/pocketdesk/mailgate/internal/credential"
	"github.com/pocketdesk/mailgate/internal/instrumentation"
	"github.com/pocketdesk/mailgate/internal/logging"
	"github.com/pocketdesk/mailgate/internal/mailbox"
	"github.com/pocketdesk/mailgate/internal/provider"
)

// unreadLabel is the provider label marking unread messages.
const unreadLabel = "UNREAD"

// defaultSearchPageSize bounds one page of search results.
const defaultSearchPageSize = 25

// Provider is the slice of the protocol request client the gateway
// consumes. provider.Client is the production implementation.
type Provider interface {
	Profile(ctx context.Context) (string, error)
	ListThreads(ctx context.Context, query string, maxResults int64, pageToken string) (provider.ThreadPage, error)
	GetThread(ctx context.Context, threadID string) (*gmail.Thread, error)
	ListMessages(ctx context.Context, query string, maxResults int64, pageToken string) (provider.MessagePage, error)
	GetMessage(ctx context.Context, messageID string) (*gmail.Message, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*gmail.MessagePartBody, error)
	SendRaw(ctx context.Context, raw, threadID string) (messageID, sentThreadID string, err error)
	ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) error
	ModifyThread(ctx context.Context, threadID string, addLabels, removeLabels []string) error
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteThread(ctx context.Context, threadID string) error
}

// ProviderFactory builds a protocol client for one credential. The
// refresher is already bound to that credential.
type ProviderFactory func(ctx context.Context, cred credential.Credential, refresher provider.TokenRefresher) (Provider, error)

// Options configures a Gateway.
type Options struct {
	AttachmentParallel int
	MaxAttachmentSize  int64
	SignedURLTTL       time.Duration
	Metrics            *instrumentation.Metrics
	Logger             *slog.Logger
}

// Gateway is the inbound surface consumed by the UI and assistant layers.
// It holds no per-user state: each operation resolves the caller's
// credential, performs its provider calls, and drops the credential.
type Gateway struct {
	creds     credential.Store
	lifecycle *credential.Lifecycle
	factory   ProviderFactory
	decoder   *mailbox.Decoder
	pipeline  *mailbox.FetchPipeline

	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// New creates a Gateway.
func New(creds credential.Store, lifecycle *credential.Lifecycle, factory ProviderFactory, blobs mailbox.BlobStore, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallel := opts.AttachmentParallel
	if parallel <= 0 {
		parallel = 3
	}
	return &Gateway{
		creds:     creds,
		lifecycle: lifecycle,
		factory:   factory,
		decoder:   mailbox.NewDecoder(logger),
		pipeline:  mailbox.NewFetchPipeline(blobs, parallel, opts.MaxAttachmentSize, opts.SignedURLTTL, logger),
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// credRefresher binds the token lifecycle to one credential for the
// duration of a single gateway operation. Refresh persists the new tokens
// before the retried call can use them.
type credRefresher struct {
	lifecycle *credential.Lifecycle
	metrics   *instrumentation.Metrics

	mu   sync.Mutex
	cred credential.Credential
}

func (r *credRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated, err := r.lifecycle.Refresh(ctx, r.cred)
	if err != nil {
		r.metrics.RecordTokenRefresh(logging.StatusError)
		return "", err
	}
	r.metrics.RecordTokenRefresh(logging.StatusSuccess)
	r.cred = updated
	return updated.AccessToken, nil
}

// connect resolves the caller to exactly one active credential and builds
// a protocol client for it.
func (g *Gateway) connect(ctx context.Context, userID string) (Provider, credential.Credential, error) {
	cred, err := g.creds.GetActive(ctx, userID)
	if err != nil {
		return nil, credential.Credential{}, err
	}

	refresher := &credRefresher{lifecycle: g.lifecycle, metrics: g.metrics, cred: cred}
	client, err := g.factory(ctx, cred, refresher)
	if err != nil {
		return nil, credential.Credential{}, fmt.Errorf("creating provider client: %w", err)
	}
	return client, cred, nil
}

// observe records metrics for one finished operation.
func (g *Gateway) observe(operation string, start time.Time, err error) {
	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
	}
	g.metrics.RecordOperation(operation, status, time.Since(start))
}

// AccountInfo identifies the connected mailbox.
type AccountInfo struct {
	Email string `json:"email"`
}

// Account verifies the stored credential is usable and returns the
// connected mailbox address. The profile lookup doubles as the cheap
// probe call: an expired access token is refreshed and persisted before
// the result comes back.
func (g *Gateway) Account(ctx context.Context, userID string) (info AccountInfo, err error) {
	defer func(start time.Time) { g.observe("account", start, err) }(time.Now())

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return AccountInfo{}, err
	}

	email, err := client.Profile(ctx)
	if err != nil {
		return AccountInfo{}, err
	}
	return AccountInfo{Email: email}, nil
}

// GetMessages lists conversations matching the query. Each thread is
// fetched and decoded independently; one thread's failure is recorded in
// the result's error list without invalidating the others.
func (g *Gateway) GetMessages(ctx context.Context, userID, query string, maxResults int64, pageToken string) (res BatchResult[mailbox.Conversation], err error) {
	defer func(start time.Time) { g.observe("getMessages", start, err) }(time.Now())

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return BatchResult[mailbox.Conversation]{}, err
	}

	if maxResults <= 0 {
		maxResults = 10
	}
	page, err := client.ListThreads(ctx, query, maxResults, pageToken)
	if err != nil {
		return BatchResult[mailbox.Conversation]{}, err
	}

	ids := make([]string, 0, len(page.Threads))
	for _, t := range page.Threads {
		ids = append(ids, t.Id)
	}

	batch := ProcessBatch(ctx, ids, func(ctx context.Context, threadID string) (mailbox.Conversation, error) {
		thread, err := client.GetThread(ctx, threadID)
		if err != nil {
			return mailbox.Conversation{}, err
		}
		messages := make([]mailbox.Message, 0, len(thread.Messages))
		for _, m := range thread.Messages {
			messages = append(messages, g.decoder.MessageFromProvider(m))
		}
		return mailbox.NewConversation(threadID, messages), nil
	})
	batch.NextPageToken = page.NextPageToken
	batch.AllLoaded = page.NextPageToken == ""

	if batch.PartialSuccess {
		g.logger.Warn("batch completed with failures",
			logging.Operation("getMessages"),
			slog.Int("failed", len(batch.Errors)),
			slog.Int("succeeded", len(batch.Items)))
	}
	return batch, nil
}

// SearchMessages returns individual decoded messages matching the query.
func (g *Gateway) SearchMessages(ctx context.Context, userID, query string) (res BatchResult[mailbox.Message], err error) {
	defer func(start time.Time) { g.observe("searchMessages", start, err) }(time.Now())

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return BatchResult[mailbox.Message]{}, err
	}

	page, err := client.ListMessages(ctx, query, defaultSearchPageSize, "")
	if err != nil {
		return BatchResult[mailbox.Message]{}, err
	}

	batch := ProcessBatch(ctx, page.IDs, func(ctx context.Context, messageID string) (mailbox.Message, error) {
		msg, err := client.GetMessage(ctx, messageID)
		if err != nil {
			return mailbox.Message{}, err
		}
		return g.decoder.MessageFromProvider(msg), nil
	})
	batch.NextPageToken = page.NextPageToken
	batch.AllLoaded = page.NextPageToken == ""

	return batch, nil
}

// DownloadResult is the outcome of one attachment download.
type DownloadResult struct {
	SignedURL string    `json:"signedUrl"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DownloadAttachment fetches attachment bytes through the bounded
// pipeline, persists them, and returns a time-limited URL. Storage is
// idempotent: re-downloading the same attachment overwrites in place.
func (g *Gateway) DownloadAttachment(ctx context.Context, userID, messageID, attachmentID string) (res DownloadResult, err error) {
	defer func(start time.Time) { g.observe("downloadAttachment", start, err) }(time.Now())

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return DownloadResult{}, err
	}

	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return DownloadResult{}, err
	}

	filename := ""
	for _, meta := range g.decoder.Decode(msg.Payload).Attachments {
		if meta.AttachmentID == attachmentID {
			filename = meta.Filename
			break
		}
	}
	if filename == "" {
		return DownloadResult{}, fmt.Errorf("attachment %s not found on message %s", attachmentID, messageID)
	}

	g.metrics.DownloadStarted()
	stored, err := g.pipeline.Fetch(ctx, client, userID, messageID, attachmentID, filename)
	g.metrics.DownloadFinished()
	if err != nil {
		g.metrics.RecordAttachmentDownload(logging.StatusError)
		return DownloadResult{}, err
	}
	g.metrics.RecordAttachmentDownload(logging.StatusSuccess)

	return DownloadResult{
		SignedURL: stored.SignedURL,
		Filename:  filename,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// SendRequest is a structured outbound message request.
type SendRequest struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Content     string
	ThreadID    string
	Attachments []mailbox.OutboundAttachment
}

// SendResult identifies the sent message.
type SendResult struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// SendMessage composes and sends a message. Sends are all-or-nothing:
// there is no partial send.
func (g *Gateway) SendMessage(ctx context.Context, userID string, req SendRequest) (res SendResult, err error) {
	defer func(start time.Time) { g.observe("sendMessage", start, err) }(time.Now())

	client, cred, err := g.connect(ctx, userID)
	if err != nil {
		return SendResult{}, err
	}

	raw, err := mailbox.Compose(mailbox.OutboundMessage{
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		return SendResult{}, err
	}

	messageID, threadID, err := client.SendRaw(ctx, raw, req.ThreadID)
	if err != nil {
		return SendResult{}, err
	}

	g.logger.Info("message sent",
		logging.Operation("sendMessage"),
		logging.UserHash(cred.AccountEmail),
		logging.MessageID(messageID))

	return SendResult{MessageID: messageID, ThreadID: threadID}, nil
}

// ReplyToThread sends a reply onto an existing conversation, threading it
// via In-Reply-To/References. The literal subject prefix is omitted; the
// provider re-adds display prefixes on its side.
func (g *Gateway) ReplyToThread(ctx context.Context, userID, threadID string, req SendRequest) (res SendResult, err error) {
	defer func(start time.Time) { g.observe("replyToThread", start, err) }(time.Now())

	if threadID == "" {
		return SendResult{}, fmt.Errorf("threadID is required")
	}

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return SendResult{}, err
	}

	thread, err := client.GetThread(ctx, threadID)
	if err != nil {
		return SendResult{}, err
	}
	if len(thread.Messages) == 0 {
		return SendResult{}, fmt.Errorf("thread %s has no messages", threadID)
	}

	last := thread.Messages[len(thread.Messages)-1]
	messageIDHeader := payloadHeader(last, "Message-ID")
	references := payloadHeader(last, "References")
	if references != "" && messageIDHeader != "" {
		references = references + " " + messageIDHeader
	} else if messageIDHeader != "" {
		references = messageIDHeader
	}

	raw, err := mailbox.Compose(mailbox.OutboundMessage{
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     mailbox.NormalizeSubject(req.Subject),
		Content:     req.Content,
		InReplyTo:   messageIDHeader,
		References:  references,
		Attachments: req.Attachments,
	})
	if err != nil {
		return SendResult{}, err
	}

	messageID, sentThreadID, err := client.SendRaw(ctx, raw, threadID)
	if err != nil {
		return SendResult{}, err
	}

	g.logger.Info("reply sent",
		logging.Operation("replyToThread"),
		logging.ThreadID(sentThreadID),
		logging.MessageID(messageID))

	return SendResult{MessageID: messageID, ThreadID: sentThreadID}, nil
}

// MarkAsRead clears the unread marker on a single message or a whole
// thread. Exactly one of messageID and threadID must be set.
func (g *Gateway) MarkAsRead(ctx context.Context, userID, messageID, threadID string) (err error) {
	defer func(start time.Time) { g.observe("markAsRead", start, err) }(time.Now())
	return g.modifyUnread(ctx, userID, messageID, threadID, false)
}

// MarkAsUnread restores the unread marker.
func (g *Gateway) MarkAsUnread(ctx context.Context, userID, messageID, threadID string) (err error) {
	defer func(start time.Time) { g.observe("markAsUnread", start, err) }(time.Now())
	return g.modifyUnread(ctx, userID, messageID, threadID, true)
}

func (g *Gateway) modifyUnread(ctx context.Context, userID, messageID, threadID string, unread bool) error {
	if (messageID == "") == (threadID == "") {
		return fmt.Errorf("exactly one of messageID and threadID is required")
	}

	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return err
	}

	var add, remove []string
	if unread {
		add = []string{unreadLabel}
	} else {
		remove = []string{unreadLabel}
	}

	if messageID != "" {
		return client.ModifyMessage(ctx, messageID, add, remove)
	}
	return client.ModifyThread(ctx, threadID, add, remove)
}

// DeleteMessage permanently removes a message.
func (g *Gateway) DeleteMessage(ctx context.Context, userID, messageID string) (err error) {
	defer func(start time.Time) { g.observe("deleteMessage", start, err) }(time.Now())

	if messageID == "" {
		return fmt.Errorf("messageID is required")
	}
	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return err
	}
	return client.DeleteMessage(ctx, messageID)
}

// DeleteThread permanently removes a thread and all its messages.
func (g *Gateway) DeleteThread(ctx context.Context, userID, threadID string) (err error) {
	defer func(start time.Time) { g.observe("deleteThread", start, err) }(time.Now())

	if threadID == "" {
		return fmt.Errorf("threadID is required")
	}
	client, _, err := g.connect(ctx, userID)
	if err != nil {
		return err
	}
	return client.DeleteThread(ctx, threadID)
}

// HealthStatus is the health operation response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports gateway liveness. It requires no credential and opts out
// of the resilient invoker's retry budget entirely: health checks fail
// fast.
func (g *Gateway) Health(ctx context.Context) HealthStatus {
	return HealthStatus{Status: "ok", Timestamp: time.Now().UTC()}
}

// payloadHeader returns a header from a provider message payload.
func payloadHeader(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
