package mailbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRaw(t *testing.T, raw string) string {
	t.Helper()
	data, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	return string(data)
}

func TestComposeValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     OutboundMessage
		wantErr string
	}{
		{
			name:    "missing recipient",
			msg:     OutboundMessage{Subject: "s", Content: "c"},
			wantErr: "recipient",
		},
		{
			name:    "missing subject",
			msg:     OutboundMessage{To: []string{"a@example.com"}, Content: "c"},
			wantErr: "subject",
		},
		{
			name:    "missing content",
			msg:     OutboundMessage{To: []string{"a@example.com"}, Subject: "s"},
			wantErr: "content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.msg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestComposeSimpleMessage(t *testing.T) {
	raw, err := Compose(OutboundMessage{
		To:      []string{"alice@example.com"},
		Cc:      []string{"bob@example.com"},
		Subject: "Hello",
		Content: "<p>Hi there</p>",
	})
	require.NoError(t, err)

	decoded := decodeRaw(t, raw)
	assert.Contains(t, decoded, "To: alice@example.com\r\n")
	assert.Contains(t, decoded, "Cc: bob@example.com\r\n")
	assert.Contains(t, decoded, "Subject: Hello\r\n")
	assert.Contains(t, decoded, "MIME-Version: 1.0\r\n")
	assert.Contains(t, decoded, "Content-Type: text/html; charset=\"UTF-8\"")
	assert.Contains(t, decoded, "<p>Hi there</p>")
	assert.NotContains(t, decoded, "multipart/mixed")
}

func TestComposeReplyHeaders(t *testing.T) {
	raw, err := Compose(OutboundMessage{
		To:         []string{"alice@example.com"},
		Subject:    "Quarterly Report",
		Content:    "<p>reply</p>",
		InReplyTo:  "<orig@mail.example.com>",
		References: "<root@mail.example.com> <orig@mail.example.com>",
	})
	require.NoError(t, err)

	decoded := decodeRaw(t, raw)
	assert.Contains(t, decoded, "In-Reply-To: <orig@mail.example.com>\r\n")
	assert.Contains(t, decoded, "References: <root@mail.example.com> <orig@mail.example.com>\r\n")
}

func TestComposeWithAttachments(t *testing.T) {
	data := []byte(strings.Repeat("attachment payload ", 20))
	raw, err := Compose(OutboundMessage{
		To:      []string{"alice@example.com"},
		Subject: "With file",
		Content: "<p>see attached</p>",
		Attachments: []OutboundAttachment{
			{Filename: "notes.txt", MimeType: "text/plain", Data: data},
			{Filename: "blob.bin", Data: []byte{0x01, 0x02}},
		},
	})
	require.NoError(t, err)

	decoded := decodeRaw(t, raw)
	assert.Contains(t, decoded, "Content-Type: multipart/mixed; boundary=")
	assert.Contains(t, decoded, "Content-Disposition: attachment; filename=\"notes.txt\"")
	assert.Contains(t, decoded, "Content-Transfer-Encoding: base64")
	// Unspecified MIME type falls back to octet-stream.
	assert.Contains(t, decoded, "Content-Type: application/octet-stream; name=\"blob.bin\"")

	// The boundary must not occur in the content, and the body must close
	// with the terminal boundary marker.
	boundary := extractBoundary(t, decoded)
	assert.NotContains(t, "<p>see attached</p>", boundary)
	assert.True(t, strings.HasSuffix(decoded, "--"+boundary+"--"))

	// Encoded attachment lines stay within RFC 2045 length.
	for _, line := range strings.Split(decoded, "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
}

func extractBoundary(t *testing.T, decoded string) string {
	t.Helper()
	const marker = "boundary=\""
	idx := strings.Index(decoded, marker)
	require.GreaterOrEqual(t, idx, 0)
	rest := decoded[idx+len(marker):]
	end := strings.Index(rest, "\"")
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}

func TestComposeBoundariesAreUnique(t *testing.T) {
	msg := OutboundMessage{
		To:          []string{"alice@example.com"},
		Subject:     "s",
		Content:     "<p>c</p>",
		Attachments: []OutboundAttachment{{Filename: "f.txt", Data: []byte("x")}},
	}

	rawA, err := Compose(msg)
	require.NoError(t, err)
	rawB, err := Compose(msg)
	require.NoError(t, err)

	boundaryA := extractBoundary(t, decodeRaw(t, rawA))
	boundaryB := extractBoundary(t, decodeRaw(t, rawB))
	assert.NotEqual(t, boundaryA, boundaryB)
}

func TestComposeEncodesNonASCIISubject(t *testing.T) {
	raw, err := Compose(OutboundMessage{
		To:      []string{"alice@example.com"},
		Subject: "Résumé für dich",
		Content: "<p>c</p>",
	})
	require.NoError(t, err)

	decoded := decodeRaw(t, raw)
	assert.Contains(t, decoded, "Subject: =?UTF-8?")
	assert.NotContains(t, decoded, "Subject: Résumé")
}

func TestWrapBase64(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, wrapBase64(short))

	long := strings.Repeat("A", 200)
	wrapped := wrapBase64(long)
	for _, line := range strings.Split(wrapped, "\r\n") {
		assert.LessOrEqual(t, len(line), base64LineLength)
	}
	assert.Equal(t, long, strings.ReplaceAll(wrapped, "\r\n", ""))
}
