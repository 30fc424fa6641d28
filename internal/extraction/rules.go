package extraction

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// Rule is one custom categorization rule. Pattern is a Go regexp
// matched against payload and tags; Type names the category the rule
// assigns, which may be one of the builtin categories or a new one.
type Rule struct {
	Pattern string `toml:"pattern"`
	Type    string `toml:"type"`
}

func (r Rule) compile() (Matcher, error) {
	if r.Type == "" {
		return nil, fmt.Errorf("rule %q: missing type", r.Pattern)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Pattern, err)
	}
	return regexMatcher{ptype: engram.PatternType(r.Type), regex: re}, nil
}

// LoadRules reads custom rules from a TOML file:
//
//	[[rule]]
//	pattern = "(?i)timeout|deadline exceeded"
//	type = "error"
//
// A missing file is not an error, the builtin matchers alone are a
// complete chain. A rule that fails to compile is.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	var raw struct {
		Rule []Rule `toml:"rule"`
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load rules file %s: %w", path, err)
	}
	// Validate patterns up front so a bad rule surfaces at startup.
	for _, r := range raw.Rule {
		if _, err := r.compile(); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
	}
	return raw.Rule, nil
}
