package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/pocketdesk/mailgate/internal/credential"
)

// TokenRefresher exchanges the current refresh token for a fresh access
// token and persists it before returning. credential.Lifecycle is the
// production implementation, adapted per invocation.
type TokenRefresher interface {
	Refresh(ctx context.Context) (accessToken string, err error)
}

// tokenHolder is a mutable oauth2.TokenSource. The zero Expiry makes the
// oauth2 transport treat the token as never expiring, so refresh stays
// under our control instead of the transport's.
type tokenHolder struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

func (h *tokenHolder) Token() (*oauth2.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tok, nil
}

func (h *tokenHolder) set(accessToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tok = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
}

// Client issues authenticated calls against the provider's REST surface.
//
// Every call goes through the refresh-and-retry rule: on an authorization
// failure the token is refreshed once (and persisted) and the call retried
// exactly once; a second authorization failure is credential.ErrExpired.
type Client struct {
	svc       *gmail.UsersService
	holder    *tokenHolder
	refresher TokenRefresher
	logger    *slog.Logger
}

// NewClient builds a Client using the given access token. The refresher is
// consulted only when the provider rejects the token mid-operation.
func NewClient(ctx context.Context, accessToken string, refresher TokenRefresher, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	holder := &tokenHolder{}
	holder.set(accessToken)

	base := &http.Client{Timeout: timeout}
	httpClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), holder)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating provider service: %w", err)
	}

	return &Client{
		svc:       svc.Users,
		holder:    holder,
		refresher: refresher,
		logger:    logger,
	}, nil
}

// do runs call, applying the refresh-and-retry rule on authorization
// failures and classifying everything else.
func (c *Client) do(ctx context.Context, call func() error) error {
	err := call()
	if err == nil {
		return nil
	}
	if !isAuthError(err) {
		return classify(err)
	}

	c.logger.Debug("access token rejected, refreshing")

	accessToken, rerr := c.refresher.Refresh(ctx)
	if rerr != nil {
		return rerr
	}
	c.holder.set(accessToken)

	if err := call(); err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: provider rejected refreshed token", credential.ErrExpired)
		}
		return classify(err)
	}
	return nil
}

// Profile returns the mailbox email address. It doubles as the cheap probe
// call that verifies a stored token is usable before a larger operation.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var email string
	err := c.do(ctx, func() error {
		p, err := c.svc.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		email = p.EmailAddress
		return nil
	})
	return email, err
}

// ThreadPage is one page of thread listings.
type ThreadPage struct {
	Threads       []*gmail.Thread
	NextPageToken string
}

// ListThreads returns one page of thread ids/snippets matching the query.
// The continuation cursor is passed through verbatim.
func (c *Client) ListThreads(ctx context.Context, query string, maxResults int64, pageToken string) (ThreadPage, error) {
	var page ThreadPage
	err := c.do(ctx, func() error {
		req := c.svc.Threads.List("me").Q(query).MaxResults(maxResults)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		res, err := req.Context(ctx).Do()
		if err != nil {
			return err
		}
		page = ThreadPage{Threads: res.Threads, NextPageToken: res.NextPageToken}
		return nil
	})
	return page, err
}

// GetThread retrieves a full thread with all its messages.
func (c *Client) GetThread(ctx context.Context, threadID string) (*gmail.Thread, error) {
	var thread *gmail.Thread
	err := c.do(ctx, func() error {
		t, err := c.svc.Threads.Get("me", threadID).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		thread = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", threadID, err)
	}
	return thread, nil
}

// MessagePage is one page of message id listings.
type MessagePage struct {
	IDs           []string
	NextPageToken string
}

// ListMessages returns one page of message ids matching the query.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64, pageToken string) (MessagePage, error) {
	var page MessagePage
	err := c.do(ctx, func() error {
		req := c.svc.Messages.List("me").Q(query).MaxResults(maxResults)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		res, err := req.Context(ctx).Do()
		if err != nil {
			return err
		}
		page.IDs = page.IDs[:0]
		for _, m := range res.Messages {
			page.IDs = append(page.IDs, m.Id)
		}
		page.NextPageToken = res.NextPageToken
		return nil
	})
	return page, err
}

// GetMessage retrieves a full message including its payload tree.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.do(ctx, func() error {
		m, err := c.svc.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return msg, nil
}

// GetAttachment fetches the base64url-encoded attachment body.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) (*gmail.MessagePartBody, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	var body *gmail.MessagePartBody
	err := c.do(ctx, func() error {
		b, err := c.svc.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting attachment %s: %w", attachmentID, err)
	}
	return body, nil
}

// SendRaw submits an already-encoded raw message. threadID, when set, asks
// the provider to attach the message to an existing conversation.
func (c *Client) SendRaw(ctx context.Context, raw string, threadID string) (messageID, sentThreadID string, err error) {
	err = c.do(ctx, func() error {
		msg := &gmail.Message{Raw: raw, ThreadId: threadID}
		sent, err := c.svc.Messages.Send("me", msg).Context(ctx).Do()
		if err != nil {
			return err
		}
		messageID = sent.Id
		sentThreadID = sent.ThreadId
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("sending message: %w", err)
	}
	return messageID, sentThreadID, nil
}

// ModifyMessage adds and removes labels on a message.
func (c *Client) ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) error {
	return c.do(ctx, func() error {
		_, err := c.svc.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    addLabels,
			RemoveLabelIds: removeLabels,
		}).Context(ctx).Do()
		return err
	})
}

// ModifyThread adds and removes labels on every message of a thread.
func (c *Client) ModifyThread(ctx context.Context, threadID string, addLabels, removeLabels []string) error {
	return c.do(ctx, func() error {
		_, err := c.svc.Threads.Modify("me", threadID, &gmail.ModifyThreadRequest{
			AddLabelIds:    addLabels,
			RemoveLabelIds: removeLabels,
		}).Context(ctx).Do()
		return err
	})
}

// DeleteMessage permanently removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, func() error {
		return c.svc.Messages.Delete("me", messageID).Context(ctx).Do()
	})
}

// DeleteThread permanently removes a thread and all its messages.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, func() error {
		return c.svc.Threads.Delete("me", threadID).Context(ctx).Do()
	})
}
