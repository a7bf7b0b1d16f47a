package policy

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ToolAllowed evaluates a tool name against deny and allow pattern lists.
// Deny wins over allow; an empty allow list means everything not denied is
// permitted. Patterns use glob syntax ("fs_*", "spawn_*").
func ToolAllowed(name string, allow, deny []string) bool {
	for _, pattern := range deny {
		if matchToolPattern(name, pattern) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, pattern := range allow {
		if matchToolPattern(name, pattern) {
			return true
		}
	}
	return false
}

func matchToolPattern(name, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return strings.EqualFold(pattern, name)
	}
	return ok
}
