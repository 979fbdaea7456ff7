package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// SpillToFile writes text to a fresh file under dir named after
// clientMessageID when text exceeds maxChars, per spec.md §4.4 step 9's
// "spill to a text file and attach that file" rule. Returns the written
// path, or "" if text did not need spilling.
func SpillToFile(dir, clientMessageID, text string, maxChars int) (string, error) {
	if len(text) <= maxChars {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachments directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.txt", clientMessageID))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("spill response to file: %w", err)
	}
	return path, nil
}

// Truncated returns a preview of text bounded to maxChars, used as the
// in-line message body once the full text has been spilled to a file.
func Truncated(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n\n[response truncated; full text attached]"
}
