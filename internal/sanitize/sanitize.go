// Package sanitize cleans user-supplied profile text before it is stored.
// Display names and bios are plain text; any markup a client sends is
// stripped with bluemonday's strict policy so no stored field can carry
// script tags or event handlers into a front-end.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared strict policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText strips every HTML element from input and decodes the entities
// the policy escaped, so "Tom & Jerry" round-trips unchanged while
// "<b>Tom</b>" becomes "Tom". Surrounding whitespace is trimmed.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(getPolicy().Sanitize(input)))
}

// PlainTextPtr applies PlainText to an optional field, keeping nil as nil.
func PlainTextPtr(input *string) *string {
	if input == nil {
		return nil
	}
	out := PlainText(*input)
	return &out
}
