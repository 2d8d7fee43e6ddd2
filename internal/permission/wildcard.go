package permission

import "strings"

// MatchRule reports whether commandText matches a persisted rule pattern
// of the form "word word *" (trailing wildcard matches anything from
// that point on), "word word" (exact), or "*" (matches anything).
// Patterns are space-tokenized; this is deliberately simpler than a full
// shell grammar since rule content is always built by BuildRulePatterns
// below.
func MatchRule(pattern, commandText string) bool {
	if pattern == "*" {
		return true
	}

	patternParts := strings.Fields(pattern)
	cmdParts := strings.Fields(commandText)

	if len(patternParts) == 0 {
		return false
	}

	if patternParts[len(patternParts)-1] == "*" {
		prefix := patternParts[:len(patternParts)-1]
		if len(cmdParts) < len(prefix) {
			return false
		}
		for i, p := range prefix {
			if cmdParts[i] != p {
				return false
			}
		}
		return true
	}

	if len(patternParts) != len(cmdParts) {
		return false
	}
	for i, p := range patternParts {
		if cmdParts[i] != p {
			return false
		}
	}
	return true
}

// BuildRulePatterns returns the candidate patterns for commandText, most
// specific first: "cmd subcommand *" -> "cmd *" -> "cmd" -> "*". Callers
// try each in order against a session's accumulated rule set.
func BuildRulePatterns(commandText string) []string {
	parts := strings.Fields(commandText)
	if len(parts) == 0 {
		return []string{"*"}
	}

	var patterns []string
	if len(parts) >= 2 {
		patterns = append(patterns, parts[0]+" "+parts[1]+" *")
	}
	patterns = append(patterns, parts[0]+" *")
	patterns = append(patterns, parts[0])
	patterns = append(patterns, "*")
	return patterns
}

// MatchAnyRule reports whether commandText matches any of the given
// persisted rule-content strings (already-built patterns, e.g.
// "gh issue view *" paired with a toolName in a Rule).
func MatchAnyRule(rules []string, commandText string) bool {
	for _, r := range rules {
		if MatchRule(r, commandText) {
			return true
		}
	}
	return false
}
