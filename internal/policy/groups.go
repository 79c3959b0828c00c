package policy

import "strings"

// ToolGroups names sets of tools rules can refer to as group:<name>.
var ToolGroups = map[string][]string{
	"group:runtime": {"shell", "exec"},
	"group:todo":    {"todo_write", "todo_update"},
	"group:mcp":     {"mcp_*"},
}

// ExpandGroups replaces group references with their members, dropping duplicates.
func ExpandGroups(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	var out []string
	for _, p := range patterns {
		members := []string{p}
		if strings.HasPrefix(p, "group:") {
			if g, ok := ToolGroups[p]; ok {
				members = g
			}
		}
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// NormalizeName lowercases and trims a tool name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
