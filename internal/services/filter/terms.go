// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"regexp"
	"strings"
)

// term is either a lowercased substring or a case-insensitive regex.
type term struct {
	raw   string
	plain string
	regex *regexp.Regexp
}

// compileTerms compiles terms; "/.../" marks a regex. An invalid regex is kept
// as a plain substring of the whole term, slashes included.
func compileTerms(terms []string) []term {
	compiled := make([]term, 0, len(terms))
	for _, raw := range terms {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		if len(trimmed) >= 3 && trimmed[0] == '/' && trimmed[len(trimmed)-1] == '/' {
			if re, err := regexp.Compile("(?i)" + trimmed[1:len(trimmed)-1]); err == nil {
				compiled = append(compiled, term{raw: trimmed, regex: re})
				continue
			}
		}

		compiled = append(compiled, term{raw: trimmed, plain: strings.ToLower(trimmed)})
	}
	return compiled
}

func (t term) match(text, lower string) bool {
	if t.regex != nil {
		return t.regex.MatchString(text)
	}
	return strings.Contains(lower, t.plain)
}

// firstMatch returns the first term matching text.
func firstMatch(text string, terms []term) (term, bool) {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if t.match(text, lower) {
			return t, true
		}
	}
	return term{}, false
}

// matchesAll reports whether every term matches text. Empty terms match.
func matchesAll(text string, terms []term) (term, bool) {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if !t.match(text, lower) {
			return t, false
		}
	}
	return term{}, true
}
