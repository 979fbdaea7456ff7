// Package artifacts handles the filesystem side of outbound attachments:
// extracting "[send_file: <path>]" directives from an agent's response
// text (spec.md §4.4 step 9), spilling oversized replies to a text file,
// and generating image thumbnails for channel delivery.
package artifacts

import (
	"regexp"
	"strings"
)

var sendFilePattern = regexp.MustCompile(`\[send_file:\s*([^\]]+)\]`)

// ExtractSendFileDirectives strips every "[send_file: <path>]" token from
// text and returns the cleaned text alongside the de-duplicated list of
// referenced paths, in order of first appearance.
func ExtractSendFileDirectives(text string) (string, []string) {
	seen := map[string]bool{}
	var files []string
	cleaned := sendFilePattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := sendFilePattern.FindStringSubmatch(match)
		path := strings.TrimSpace(sub[1])
		if path != "" && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
		return ""
	})
	return collapseRunsOfSpace(cleaned), files
}

// collapseRunsOfSpace tidies up whitespace left behind once directive
// tokens are removed, without otherwise reformatting the reply.
func collapseRunsOfSpace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
