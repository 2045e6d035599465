package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeEmail(t *testing.T) {
	hashed := AnonymizeEmail("alice@example.com")

	assert.NotContains(t, hashed, "alice")
	assert.NotContains(t, hashed, "example.com")
	assert.Contains(t, hashed, "user:")

	// Deterministic: the same address correlates across log lines.
	assert.Equal(t, hashed, AnonymizeEmail("alice@example.com"))
	assert.NotEqual(t, hashed, AnonymizeEmail("bob@example.com"))
	assert.Empty(t, AnonymizeEmail(""))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))

	masked := SanitizeToken("ya29.secret-token-value")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "23 chars")
}

func TestErrAttr(t *testing.T) {
	attr := Err(assert.AnError)
	assert.Equal(t, KeyError, attr.Key)

	// Nil errors produce an empty group that handlers drop.
	nilAttr := Err(nil)
	assert.Equal(t, slog.KindGroup, nilAttr.Value.Kind())
	assert.Empty(t, nilAttr.Key)
}

func TestAttrKeys(t *testing.T) {
	assert.Equal(t, KeyOperation, Operation("x").Key)
	assert.Equal(t, KeyMessageID, MessageID("m1").Key)
	assert.Equal(t, KeyThreadID, ThreadID("t1").Key)
	assert.Equal(t, KeyUserHash, UserHash("a@b.c").Key)
}
