package mailbox

import (
	"sort"
	"strings"
	"time"
)

// AttachmentMeta describes an attachment without its bytes. Metadata is
// cheap to produce for every message; bytes are fetched lazily through the
// FetchPipeline using the opaque AttachmentID handle.
type AttachmentMeta struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId"`
	IsInline     bool   `json:"isInline"`
	CID          string `json:"cid,omitempty"`
}

// Message is one decoded mailbox message. It is immutable after
// construction.
type Message struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"threadId"`
	Snippet     string           `json:"snippet"`
	Subject     string           `json:"subject"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Date        time.Time        `json:"date"`
	TextBody    string           `json:"textBody"`
	HTMLBody    string           `json:"htmlBody"`
	Unread      bool             `json:"unread"`
	Attachments []AttachmentMeta `json:"attachments"`
}

// Content returns the display body: HTML preferred, then plain text, then a
// fixed placeholder.
func (m Message) Content() string {
	if m.HTMLBody != "" {
		return m.HTMLBody
	}
	if m.TextBody != "" {
		return m.TextBody
	}
	return "No content available"
}

// Conversation is a provider-grouped set of related messages. It is derived
// from its messages and never persisted independently by the gateway.
type Conversation struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"messageCount"`
	LastDate     time.Time `json:"lastDate"`
	UnreadCount  int       `json:"unreadCount"`
	Participants []string  `json:"participants"`
}

// NewConversation derives a Conversation from its messages: subject of the
// last message, de-duplicated union of all from/to addresses, unread count.
func NewConversation(id string, messages []Message) Conversation {
	conv := Conversation{
		ID:           id,
		Messages:     messages,
		MessageCount: len(messages),
	}

	seen := make(map[string]bool)
	for _, m := range messages {
		if m.Unread {
			conv.UnreadCount++
		}
		if m.Date.After(conv.LastDate) {
			conv.LastDate = m.Date
		}
		for _, addr := range splitAddresses(m.From) {
			if !seen[addr] {
				seen[addr] = true
				conv.Participants = append(conv.Participants, addr)
			}
		}
		for _, addr := range splitAddresses(m.To) {
			if !seen[addr] {
				seen[addr] = true
				conv.Participants = append(conv.Participants, addr)
			}
		}
	}
	sort.Strings(conv.Participants)

	if len(messages) > 0 {
		conv.Subject = messages[len(messages)-1].Subject
	}

	return conv
}

// splitAddresses splits a comma-separated header value into trimmed,
// non-empty entries.
func splitAddresses(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
