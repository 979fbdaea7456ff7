package conversation

import "regexp"

// mentionPattern implements the bracket-form teammate-mention grammar this
// daemon standardizes on: "[@slug: message]" on its own segment. One
// explicit directive form beats scanning free text for bare "@word", which
// would false-positive on prose that happens to contain an email-style or
// social-style mention.
var mentionPattern = regexp.MustCompile(`\[@([A-Za-z0-9_-]+):\s*([^\]]*)\]`)

// Mention is one teammate hand-off extracted from an agent's reply.
type Mention struct {
	Slug    string
	Message string
}

// ExtractMentions scans an agent's response text for bracket-form
// teammate mentions, per spec.md §4.5.
func ExtractMentions(text string) []Mention {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]Mention, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, Mention{Slug: m[1], Message: m[2]})
	}
	return mentions
}
