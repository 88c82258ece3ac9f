// Package policy provides static command admission rules.
//
// Every command is checked against a deny list of destructive patterns
// regardless of execution mode. Allow patterns exist so that known-safe
// commands can skip the tutor-mode confirmation prompt; a command matching
// both an allow and a deny pattern is denied (fail closed).
package policy

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Verdict is the outcome of evaluating a command against the rules.
type Verdict string

const (
	VerdictAllow               Verdict = "allow"
	VerdictDeny                Verdict = "deny"
	VerdictRequireConfirmation Verdict = "require_confirmation"
)

// Decision is the result of one policy evaluation. It is derived per
// request and never persisted.
type Decision struct {
	Verdict Verdict
	Reason  string
	Pattern string // rule that produced the verdict, if any
}

// builtinDenyPatterns block destructive commands in every mode. They
// mirror the always-on rules of the original system: recursive deletion
// of root paths, fork bombs, filesystem formatting, raw device writes.
var builtinDenyPatterns = []string{
	`rm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+(/|/\S*\s*$)`,
	`:\(\)\s*{\s*:\s*\|\s*:\s*&\s*};\s*:`,
	`\bmkfs\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd[a-z]`,
}

// Rules is the on-disk shape of a policy file.
type Rules struct {
	Deny  []string `yaml:"deny"`
	Allow []string `yaml:"allow"`
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return &rules, nil
}

// Engine evaluates commands against compiled deny and allow patterns.
// It is safe for concurrent use; Reload swaps the rule set atomically.
type Engine struct {
	mu    sync.RWMutex
	deny  []*regexp.Regexp
	allow []*regexp.Regexp
}

// NewEngine compiles the built-in deny patterns plus any extra rules.
// A nil rules argument yields the built-in deny list only.
func NewEngine(rules *Rules) (*Engine, error) {
	e := &Engine{}
	if err := e.setRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the extra rules, keeping the built-in deny list. A
// compile error leaves the previous rule set in place.
func (e *Engine) Reload(rules *Rules) error {
	return e.setRules(rules)
}

func (e *Engine) setRules(rules *Rules) error {
	deny := make([]*regexp.Regexp, 0, len(builtinDenyPatterns))
	for _, p := range builtinDenyPatterns {
		deny = append(deny, regexp.MustCompile(p))
	}
	var allow []*regexp.Regexp
	if rules != nil {
		for _, p := range rules.Deny {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid deny pattern %q: %w", p, err)
			}
			deny = append(deny, re)
		}
		for _, p := range rules.Allow {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid allow pattern %q: %w", p, err)
			}
			allow = append(allow, re)
		}
	}

	e.mu.Lock()
	e.deny = deny
	e.allow = allow
	e.mu.Unlock()
	return nil
}

// Check evaluates a bare command against the rules. Deny takes
// precedence over allow.
func (e *Engine) Check(command string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, re := range e.deny {
		if re.MatchString(command) {
			return Decision{
				Verdict: VerdictDeny,
				Reason:  "command matches deny pattern",
				Pattern: re.String(),
			}
		}
	}
	return Decision{Verdict: VerdictAllow, Reason: "no deny pattern matched"}
}

// Allowed reports whether the command matches an allow pattern. Callers
// must run Check first; a deny match always wins.
func (e *Engine) Allowed(command string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, re := range e.allow {
		if re.MatchString(command) {
			return re.String(), true
		}
	}
	return "", false
}
