package verify

import (
	"regexp"
	"strings"
)

// Only https links are ever followed.
var linkPattern = regexp.MustCompile(`https://[^\s<>"']+`)

// linkIndicators mark a URL as a confirmation link rather than an unsubscribe
// footer or tracking pixel.
var linkIndicators = []string{"verify", "confirm", "activate"}

// ExtractLink returns the first https confirmation link in the body, or ""
// when none qualifies. Trailing sentence punctuation is stripped.
func ExtractLink(body string) string {
	for _, raw := range linkPattern.FindAllString(body, -1) {
		link := strings.TrimRight(raw, `.,;!?)`)
		lower := strings.ToLower(link)
		for _, ind := range linkIndicators {
			if strings.Contains(lower, ind) {
				return link
			}
		}
	}
	return ""
}
