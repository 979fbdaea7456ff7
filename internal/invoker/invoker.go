// Package invoker executes a configured agent's CLI subprocess and
// extracts its single text answer, per spec.md §4.3. It mirrors goclaw's
// internal/providers package layout — one file per backend, registered
// into a shared Registry — generalized from LLM-API clients to CLI
// subprocess invokers.
package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// InvokeRequest is the input to a Provider's Invoke method.
type InvokeRequest struct {
	AgentID          string
	Model            string
	Prompt           string
	WorkingDirectory string
	Reset            bool
}

// Provider executes one agent backend's CLI and returns its text answer.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req InvokeRequest) (string, error)
}

// Registry resolves a provider name to its Provider, the way
// providers.Registry does in goclaw.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from a list of providers, keyed by Name().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// InvocationError wraps a subprocess failure with the message the
// dispatcher should log, per spec.md §4.3's failure contract: stderr if
// present, else a generic exit-code message.
type InvocationError struct {
	Provider string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s invocation failed: %v", e.Provider, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ResolveWorkingDirectory implements spec.md §4.3's working-directory
// rule: absolute paths are used as-is, relative paths resolve against the
// workspace root, and an unset path defaults to
// "<workspace>/<agent_id>/". The directory is created if it does not yet
// exist; created reports whether this call created it.
func ResolveWorkingDirectory(workspaceRoot, agentID, declared string) (dir string, created bool, err error) {
	switch {
	case declared == "":
		dir = filepath.Join(workspaceRoot, agentID)
	case filepath.IsAbs(declared):
		dir = declared
	default:
		dir = filepath.Join(workspaceRoot, declared)
	}

	if _, statErr := os.Stat(dir); statErr != nil {
		if !os.IsNotExist(statErr) {
			return "", false, statErr
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("create working directory: %w", err)
		}
		created = true
	}
	return dir, created, nil
}

// resetSentinel is the filename checked for and consumed in an agent's
// working directory to force a fresh session on the next invocation
// (dispatcher step 5 in spec.md §4.4).
const resetSentinel = ".corelay-reset"

// ConsumeResetFlag reports whether dir contains the reset sentinel file,
// removing it if present.
func ConsumeResetFlag(dir string) (bool, error) {
	path := filepath.Join(dir, resetSentinel)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}
