package tools

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Policy is the static approval configuration. Patterns match the
// qualified "server.tool" name when they contain a dot, and the bare
// tool name otherwise. "*" alone matches everything.
type Policy struct {
	Allow       []string `mapstructure:"allow"`
	Deny        []string `mapstructure:"deny"`
	AutoApprove bool     `mapstructure:"auto_approve"`
}

// patternSet holds compiled approval patterns.
type patternSet struct {
	qualified []glob.Glob // patterns with a dot, matched against server.tool
	bare      []glob.Glob // patterns without a dot, matched against the tool name
	matchAll  bool
}

func compilePatterns(patterns []string) (*patternSet, error) {
	set := &patternSet{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			set.matchAll = true
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid approval pattern %q: %w", pattern, err)
		}
		if strings.Contains(pattern, ".") {
			set.qualified = append(set.qualified, g)
		} else {
			set.bare = append(set.bare, g)
		}
	}
	return set, nil
}

// Matches reports whether the pattern set covers server.tool.
func (s *patternSet) Matches(server, tool string) bool {
	if s.matchAll {
		return true
	}
	full := server + "." + tool
	for _, g := range s.qualified {
		if g.Match(full) {
			return true
		}
	}
	for _, g := range s.bare {
		if g.Match(tool) {
			return true
		}
	}
	return false
}
