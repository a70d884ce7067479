package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

const toolCallPath = "tools call"

// Allowlist restricts which command paths and tools may run. Entries are
// command paths such as "markets" or "tools call", optionally followed by a
// tool name ("tools call deposit"). An empty allowlist allows everything.
type Allowlist []string

// Parse splits a comma-separated allowlist.
func Parse(raw string) Allowlist {
	out := make(Allowlist, 0)
	for _, part := range strings.Split(raw, ",") {
		if v := normalize(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CheckCommand allows a command when an entry names it, one of its parents,
// or one of its subcommands or tools.
func (a Allowlist) CheckCommand(commandPath string) error {
	if len(a) == 0 {
		return nil
	}
	path := normalize(commandPath)
	for _, allowed := range a {
		allowed = normalize(allowed)
		if allowed == path || hasWordPrefix(path, allowed) || hasWordPrefix(allowed, path) {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("command %q blocked by --enable-commands policy", commandPath))
}

// CheckTool allows a tool call when "tools call" or "tools call <tool>" is
// listed.
func (a Allowlist) CheckTool(name string) error {
	if a.AllowsTool(name) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("tool %q blocked by --enable-commands policy", name))
}

func (a Allowlist) AllowsTool(name string) bool {
	if len(a) == 0 {
		return true
	}
	want := toolCallPath + " " + normalize(name)
	for _, allowed := range a {
		allowed = normalize(allowed)
		if allowed == "tools" || allowed == toolCallPath || allowed == want {
			return true
		}
	}
	return false
}

func hasWordPrefix(s, prefix string) bool {
	return prefix != "" && strings.HasPrefix(s, prefix+" ")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
