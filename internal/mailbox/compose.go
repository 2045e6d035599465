package mailbox

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboundAttachment is one attachment to include in a composed message.
type OutboundAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// OutboundMessage is a structured send or reply request.
type OutboundMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	// Content is the HTML body of the message.
	Content string
	// InReplyTo and References thread a reply onto an existing
	// conversation. Both are provider Message-ID header values.
	InReplyTo  string
	References string

	Attachments []OutboundAttachment
}

// base64LineLength is the RFC 2045 maximum encoded line length.
const base64LineLength = 76

// Compose builds the transmittable raw message: RFC 2822 headers plus
// either a single text/html part or a multipart/mixed body, the whole
// thing base64url-encoded per the provider's raw-message convention.
func Compose(msg OutboundMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if msg.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if msg.Content == "" {
		return "", fmt.Errorf("content is required")
	}

	var b strings.Builder

	b.WriteString("To: ")
	b.WriteString(strings.Join(msg.To, ", "))
	b.WriteString("\r\n")

	if len(msg.Cc) > 0 {
		b.WriteString("Cc: ")
		b.WriteString(strings.Join(msg.Cc, ", "))
		b.WriteString("\r\n")
	}
	if len(msg.Bcc) > 0 {
		b.WriteString("Bcc: ")
		b.WriteString(strings.Join(msg.Bcc, ", "))
		b.WriteString("\r\n")
	}

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(msg.Subject))
	b.WriteString("\r\n")

	if msg.InReplyTo != "" {
		b.WriteString("In-Reply-To: ")
		b.WriteString(msg.InReplyTo)
		b.WriteString("\r\n")
	}
	if msg.References != "" {
		b.WriteString("References: ")
		b.WriteString(msg.References)
		b.WriteString("\r\n")
	}

	b.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.Content)
	} else {
		boundary := newBoundary()
		b.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
		b.WriteString("\r\n")

		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.Content)
		b.WriteString("\r\n")

		for _, att := range msg.Attachments {
			mimeType := att.MimeType
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			b.WriteString("--" + boundary + "\r\n")
			b.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", mimeType, att.Filename))
			b.WriteString("Content-Transfer-Encoding: base64\r\n")
			b.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n", att.Filename))
			b.WriteString("\r\n")
			b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(att.Data)))
			b.WriteString("\r\n")
		}

		b.WriteString("--" + boundary + "--")
	}

	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}

// newBoundary generates a multipart boundary that cannot collide with
// content: a random token plus a timestamp component, never derived from
// the message itself.
func newBoundary() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("=_%s_%d", token, time.Now().UnixNano())
}

// wrapBase64 folds encoded data to RFC 2045 line lengths.
func wrapBase64(encoded string) string {
	if len(encoded) <= base64LineLength {
		return encoded
	}
	var b strings.Builder
	for len(encoded) > base64LineLength {
		b.WriteString(encoded[:base64LineLength])
		b.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	b.WriteString(encoded)
	return b.String()
}

// encodeRFC2047 encodes a header value for non-ASCII characters. ASCII
// values pass through untouched.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
