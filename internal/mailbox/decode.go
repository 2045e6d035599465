package mailbox

import (
	"encoding/base64"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/pocketdesk/mailgate/internal/logging"
)

// mojibakeRepairs maps common UTF-8-as-Latin-1 mis-encodings back to the
// characters they were meant to be. This is a best-effort fixed table, not
// a charset detector; unknown sequences are passed through as-is.
var mojibakeRepairs = []struct{ broken, fixed string }{
	{"â€™", "'"},
	{"â€˜", "'"},
	{"â€œ", "“"},
	{"â€", "”"},
	{"â€“", "–"},
	{"â€”", "—"},
	{"â€¦", "…"},
	{"Â ", " "},
	{"Ã©", "é"},
	{"Ã¨", "è"},
	{"Ã¼", "ü"},
	{"Ã¶", "ö"},
	{"Ã¤", "ä"},
	{"ÃŸ", "ß"},
}

// Decoder turns a provider message payload tree into clean text plus typed
// attachment metadata.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder. A nil logger falls back to slog.Default.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// DecodedContent is the result of decoding one message payload.
type DecodedContent struct {
	TextBody    string
	HTMLBody    string
	Attachments []AttachmentMeta
}

// Decode walks the payload tree depth-first. Attachment nodes are recorded
// as metadata and never decoded inline. text/plain parts accumulate into a
// newline-joined plain-text buffer (multipart emails may split plain text
// across siblings); text/html parts concatenate into an HTML buffer.
//
// A payload with no parts and top-level body data is treated as a
// single-part message of its own MIME type.
func (d *Decoder) Decode(payload *gmail.MessagePart) DecodedContent {
	var content DecodedContent
	if payload == nil {
		return content
	}

	var textParts []string
	var html strings.Builder

	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}

		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			cid := headerValue(part.Headers, "Content-ID")
			content.Attachments = append(content.Attachments, AttachmentMeta{
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
				AttachmentID: part.Body.AttachmentId,
				IsInline:     cid != "" || strings.HasPrefix(headerValue(part.Headers, "Content-Disposition"), "inline"),
				CID:          strings.Trim(cid, "<>"),
			})
			return
		}

		if part.Body != nil && part.Body.Data != "" {
			switch part.MimeType {
			case "text/plain":
				if text := d.decodePart(part); text != "" {
					textParts = append(textParts, text)
				}
			case "text/html":
				html.WriteString(d.decodePart(part))
			}
		}

		for _, sub := range part.Parts {
			walk(sub)
		}
	}
	walk(payload)

	content.TextBody = strings.Join(textParts, "\n")
	content.HTMLBody = html.String()
	return content
}

// decodePart decodes one part's inline body data. On failure it logs and
// substitutes an empty string rather than aborting the whole message.
func (d *Decoder) decodePart(part *gmail.MessagePart) string {
	raw, err := DecodeBase64URL(part.Body.Data)
	if err != nil {
		d.logger.Warn("part decode failed, substituting empty body",
			slog.String("mime_type", part.MimeType),
			logging.Err(err))
		return ""
	}

	text := string(raw)
	if strings.EqualFold(headerValue(part.Headers, "Content-Transfer-Encoding"), "quoted-printable") {
		text = decodeQuotedPrintable(text)
	}

	return RepairMojibake(text)
}

// DecodeBase64URL decodes provider body data: pad to a multiple of four and
// swap the URL-safe alphabet back before decoding. Standard-alphabet input
// is accepted too, since some provider responses use it.
func DecodeBase64URL(data string) ([]byte, error) {
	normalized := strings.ReplaceAll(data, "-", "+")
	normalized = strings.ReplaceAll(normalized, "_", "/")
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(normalized)
}

// decodeQuotedPrintable decodes =XX hex escapes. Partial output is kept on
// error: a truncated body beats no body.
func decodeQuotedPrintable(text string) string {
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(text)))
	if len(decoded) == 0 && err != nil {
		return text
	}
	return string(decoded)
}

// RepairMojibake applies the fixed replacement table. Documented lossy
// step: genuinely unknown encodings are passed through as raw UTF-8.
func RepairMojibake(text string) string {
	for _, r := range mojibakeRepairs {
		text = strings.ReplaceAll(text, r.broken, r.fixed)
	}
	return text
}

// headerValue returns the first matching header value, case-insensitively.
func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// MessageFromProvider builds an immutable Message from one provider
// payload. The subject is normalized by stripping a single reply/forward
// prefix.
func (d *Decoder) MessageFromProvider(msg *gmail.Message) Message {
	out := Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}

	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			out.Unread = true
			break
		}
	}

	if msg.Payload != nil {
		out.Subject = NormalizeSubject(headerValue(msg.Payload.Headers, "Subject"))
		out.From = headerValue(msg.Payload.Headers, "From")
		out.To = headerValue(msg.Payload.Headers, "To")
		out.Date = parseDate(headerValue(msg.Payload.Headers, "Date"), msg.InternalDate)

		decoded := d.Decode(msg.Payload)
		out.TextBody = decoded.TextBody
		out.HTMLBody = decoded.HTMLBody
		out.Attachments = decoded.Attachments
	}

	return out
}

// parseDate prefers the RFC 5322 Date header and falls back to the
// provider's internal millisecond timestamp.
func parseDate(header string, internalMillis int64) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t
		}
	}
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis)
	}
	return time.Time{}
}
