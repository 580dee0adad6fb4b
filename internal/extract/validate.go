package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minCandidateLen = 3
	maxCandidateLen = 300
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// listMarker matches "1.", "2)", "-", "*" and "•" line prefixes.
var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+`)

// ValidateCandidate checks a single parsed title or question.
func ValidateCandidate(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if n < minCandidateLen || n > maxCandidateLen {
		return false
	}
	return !injectionPattern.MatchString(s)
}

// ParseList turns a model response into at most limit distinct candidates.
// A JSON array of strings is preferred; otherwise each non-empty line is a
// candidate with any list marker removed.
func ParseList(response string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	raw := stripFences(strings.TrimSpace(response))

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		items = items[:0]
		for _, line := range strings.Split(raw, "\n") {
			line = listMarker.ReplaceAllString(line, "")
			items = append(items, line)
		}
	}

	out := make([]string, 0, min(len(items), limit))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if len(out) == limit {
			break
		}
		item = strings.Trim(strings.TrimSpace(item), `"`)
		item = strings.TrimSpace(item)
		if !ValidateCandidate(item) {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
