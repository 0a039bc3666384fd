package policy

import "regexp"

// Sensitive-format patterns replaced before text reaches storage.
var redactions = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[redacted-email]"},
	{regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`), "[redacted-card]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[redacted-ssn]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(\d{3}\)|\d{3})[ .-]\d{3}[ .-]\d{4}\b`), "[redacted-phone]"},
}

// Redact replaces common sensitive formats (email addresses, payment card
// numbers, SSNs, phone numbers) with placeholder tags. Card numbers are
// matched before phone numbers so a 16-digit grouping is not split.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return text
}
