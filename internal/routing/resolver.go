// Package routing resolves a raw inbound message against the configured
// agent and team registries. It is a pure function package: no I/O, no
// mutable state, unit-testable in isolation from the dispatcher that
// consumes it, the same way goclaw's internal/agent/resolver.go keeps
// target selection independent of invocation.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corelay/corelay/internal/config"
)

// Kind tags the shape of a Resolution.
type Kind int

const (
	// KindDirectAgent targets one agent directly.
	KindDirectAgent Kind = iota
	// KindTeamLeader targets a team, resolved to its leader agent.
	KindTeamLeader
	// KindErrorMulti means the text mentioned two or more distinct
	// agent/team targets; the caller must short-circuit without invoking
	// any agent.
	KindErrorMulti
)

// Resolution is the tagged result of Resolve.
type Resolution struct {
	Kind         Kind
	AgentID      string
	StrippedText string
	Team         *config.TeamSpec
	TeamID       string
	Message      string // human-readable explanation, set only for KindErrorMulti
}

// Resolve implements spec.md §4.2's algorithm: collect @-mentions, detect
// multi-target ambiguity, then resolve a single leading mention if present,
// falling back to the default agent.
func Resolve(text string, agents map[string]config.AgentSpec, teams map[string]config.TeamSpec) Resolution {
	mentions := collectMentions(text)
	if targets := distinctTargets(mentions, agents, teams); len(targets) >= 2 {
		sort.Strings(targets)
		return Resolution{
			Kind:    KindErrorMulti,
			Message: fmt.Sprintf("message mentions multiple targets (%s); please address exactly one agent or team", strings.Join(targets, ", ")),
		}
	}

	if slug, rest, ok := leadingMention(text); ok {
		if agentID, ok := MatchAgent(slug, agents); ok {
			return Resolution{Kind: KindDirectAgent, AgentID: agentID, StrippedText: rest}
		}
		if teamID, team, ok := MatchTeam(slug, teams); ok {
			return Resolution{Kind: KindTeamLeader, AgentID: team.Leader, StrippedText: rest, Team: &team, TeamID: teamID}
		}
	}

	return Resolution{Kind: KindDirectAgent, AgentID: "default", StrippedText: text}
}

// collectMentions returns every raw @<slug> token in text, slug being the
// run of non-whitespace following "@".
func collectMentions(text string) []string {
	var mentions []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		j := i + 1
		for j < len(runes) && !isSpace(runes[j]) {
			j++
		}
		if j > i+1 {
			mentions = append(mentions, string(runes[i+1:j]))
		}
		i = j
	}
	return mentions
}

// leadingMention reports whether text begins with "@<slug><whitespace>",
// returning the slug and the remainder with the mention stripped.
func leadingMention(text string) (slug, rest string, ok bool) {
	if len(text) == 0 || text[0] != '@' {
		return "", "", false
	}
	runes := []rune(text)
	j := 1
	for j < len(runes) && !isSpace(runes[j]) {
		j++
	}
	if j == 1 || j >= len(runes) {
		return "", "", false
	}
	slug = string(runes[1:j])
	rest = strings.TrimLeft(string(runes[j:]), " \t\r\n")
	return slug, rest, true
}

// distinctTargets resolves each raw mention to a canonical target key
// ("agent:<id>" or "team:<id>"), de-duplicating repeats of the same
// target, and ignoring slugs that resolve to nothing.
func distinctTargets(mentions []string, agents map[string]config.AgentSpec, teams map[string]config.TeamSpec) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentions {
		if agentID, ok := MatchAgent(m, agents); ok {
			key := "agent:" + agentID
			if !seen[key] {
				seen[key] = true
				out = append(out, agentID)
			}
			continue
		}
		if teamID, _, ok := MatchTeam(m, teams); ok {
			key := "team:" + teamID
			if !seen[key] {
				seen[key] = true
				out = append(out, teamID)
			}
		}
	}
	return out
}

// MatchAgent resolves slug against agent ids first, then display names,
// case-folded, per the tie-break rule in spec.md §4.2.
func MatchAgent(slug string, agents map[string]config.AgentSpec) (string, bool) {
	folded := strings.ToLower(slug)
	if _, ok := agents[folded]; ok {
		return folded, true
	}
	var nameMatch string
	found := false
	for id, spec := range agents {
		if strings.ToLower(spec.Name) == folded {
			nameMatch = id
			found = true
			break
		}
	}
	if found {
		return nameMatch, true
	}
	return "", false
}

// MatchTeam resolves slug against team ids, case-folded.
func MatchTeam(slug string, teams map[string]config.TeamSpec) (string, config.TeamSpec, bool) {
	folded := strings.ToLower(slug)
	if team, ok := teams[folded]; ok {
		return folded, team, true
	}
	return "", config.TeamSpec{}, false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n':
		return true
	default:
		return false
	}
}
