package hooks

import (
	"log/slog"
	"regexp"
	"strings"
)

// builtins is the set of hook ids a config's hooks.incoming/hooks.outgoing
// lists may name; external plugin hooks are out of scope (spec.md's
// exclusions — no request to load arbitrary user code into the daemon).
var builtins = map[string]Transform{
	"trim_whitespace":     trimWhitespace,
	"collapse_blank_lines": collapseBlankLines,
	"redact_secrets":      redactSecrets,
	"strip_ansi":          stripANSI,
}

// Load resolves an ordered list of hook ids into a Pipeline, skipping and
// logging unknown ids rather than failing startup over a config typo.
func Load(ids []string) *Pipeline {
	var resolved []Hook
	for _, id := range ids {
		if t, ok := builtins[id]; ok {
			resolved = append(resolved, Hook{Name: id, Transform: t})
		} else {
			slog.Default().With("component", "hooks").Warn("unknown hook id, skipping", "hook", id)
		}
	}
	return NewPipeline(resolved...)
}

func trimWhitespace(text string, _ Context) (string, map[string]string, error) {
	return strings.TrimSpace(text), nil, nil
}

var blankLineRun = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(text string, _ Context) (string, map[string]string, error) {
	return blankLineRun.ReplaceAllString(text, "\n\n"), nil, nil
}

// secretPattern matches common high-entropy token shapes (API keys,
// bearer tokens) so they don't round-trip into chat transcripts.
var secretPattern = regexp.MustCompile(`(?i)\b(sk-[a-z0-9]{20,}|ghp_[a-z0-9]{30,}|bearer\s+[a-z0-9._-]{20,})\b`)

func redactSecrets(text string, _ Context) (string, map[string]string, error) {
	redacted := secretPattern.ReplaceAllString(text, "[redacted]")
	meta := map[string]string{}
	if redacted != text {
		meta["redacted"] = "true"
	}
	return redacted, meta, nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(text string, _ Context) (string, map[string]string, error) {
	return ansiEscape.ReplaceAllString(text, ""), nil, nil
}
