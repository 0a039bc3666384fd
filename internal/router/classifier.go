package router

import "strings"

// Classifier labels a request simple or deep from its prompt text. Simple
// requests go straight to the fast backend; everything else is considered for
// the larger models.
type Classifier struct {
	wordThreshold int
	keywords      []string
}

// NewClassifier builds a classifier. Keywords are matched case-insensitively
// as substrings of the prompt.
func NewClassifier(wordThreshold int, keywords []string) *Classifier {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Classifier{wordThreshold: wordThreshold, keywords: lowered}
}

// IsSimple reports whether prompt is short and free of deep-work keywords.
func (c *Classifier) IsSimple(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return false
		}
	}
	return len(strings.Fields(prompt)) <= c.wordThreshold
}
