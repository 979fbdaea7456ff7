package invoker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ClaudeProvider implements Provider A of spec.md §4.3: a conversational
// CLI with a "continue" switch, whose stdout is the plain-text response.
type ClaudeProvider struct {
	Binary  string
	Aliases ModelAliases
}

// NewClaudeProvider builds a Provider A invoker for the given binary path.
func NewClaudeProvider(binary string) *ClaudeProvider {
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeProvider{Binary: binary, Aliases: defaultClaudeAliases}
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	args := []string{}
	if !req.Reset {
		args = append(args, "--continue")
	}
	if model := p.Aliases.Resolve(req.Model); model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--print", req.Prompt)

	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Dir = req.WorkingDirectory

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &InvocationError{Provider: p.Name(), Err: fmt.Errorf("%s", exitMessage(stderr.String(), err))}
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// exitMessage returns the subprocess's stderr if non-empty, otherwise a
// generic exit-code message, per spec.md §4.3's failure contract.
func exitMessage(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Sprintf("exit code %d", exitErr.ExitCode())
	}
	return err.Error()
}
