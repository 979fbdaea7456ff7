package conversation

import "strings"

// ComposeReply concatenates a conversation's step responses in completion
// order, each prefixed by its agent's display name, per spec.md §4.5. Step
// order here is completion order, not enqueue order, since branches may
// finish out of sequence — an accepted property of independent agents
// fanning out rather than running a linear pipeline.
func ComposeReply(summary Summary) string {
	var b strings.Builder
	for i, step := range summary.Steps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(step.AgentDisplay)
		b.WriteString(": ")
		b.WriteString(step.Response)
	}
	return b.String()
}
