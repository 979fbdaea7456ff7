// Package hooks implements the ordered incoming/outgoing text-transform
// pipeline of spec.md §4.6: each transform sees the prior one's output, a
// failing transform is logged and skipped rather than failing the
// message, and metadata merges right-biased across the chain.
package hooks

import (
	"log/slog"
)

// Context carries the fields a hook may want alongside the text it is
// transforming.
type Context struct {
	Channel      string
	Sender       string
	MessageID    string
	OriginalText string
}

// Transform is one named pipeline step. Metadata may be nil.
type Transform func(text string, ctx Context) (string, map[string]string, error)

// Hook pairs a Transform with the name it was registered under, for
// logging when it fails.
type Hook struct {
	Name      string
	Transform Transform
}

// Pipeline is an ordered, immutable list of hooks applied in sequence.
type Pipeline struct {
	hooks  []Hook
	logger *slog.Logger
}

// NewPipeline builds a pipeline from an ordered hook list.
func NewPipeline(hooks ...Hook) *Pipeline {
	return &Pipeline{hooks: hooks, logger: slog.Default().With("component", "hooks")}
}

// Run applies every hook in order, merging metadata right-biased on key
// conflict. A hook that returns an error is logged and its output
// discarded — the text and metadata accumulated so far pass through
// unchanged to the next hook.
func (p *Pipeline) Run(text string, ctx Context) (string, map[string]string) {
	metadata := map[string]string{}
	for _, h := range p.hooks {
		out, meta, err := h.Transform(text, ctx)
		if err != nil {
			p.logger.Warn("hook failed, skipping", "hook", h.Name, "error", err)
			continue
		}
		text = out
		for k, v := range meta {
			metadata[k] = v
		}
	}
	return text, metadata
}

// Len reports the number of hooks in the pipeline.
func (p *Pipeline) Len() int { return len(p.hooks) }
