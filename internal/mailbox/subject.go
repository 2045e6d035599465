package mailbox

import "strings"

// subjectPrefixes are the reply/forward markers stripped during subject
// normalization, checked case-insensitively.
var subjectPrefixes = []string{"re:", "fwd:", "fw:"}

// NormalizeSubject strips a single leading reply/forward prefix from a
// subject. Repeated prefixes are intentionally left alone; the provider
// re-adds display prefixes on its side.
func NormalizeSubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	lower := strings.ToLower(trimmed)

	for _, prefix := range subjectPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return trimmed
}
