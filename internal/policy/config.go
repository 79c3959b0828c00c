package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPolicy allows everything except rm -rf and gates sudo.
func DefaultPolicy() *Policy {
	return &Policy{
		DefaultAllow: true,
		Rules: []Rule{
			{
				Name:    "rm-rf",
				Tool:    "shell",
				Pattern: `rm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`,
				Action:  ActionBlock,
				Message: "rm -rf is prohibited",
			},
			{
				Name:         "sudo",
				Tool:         "shell",
				Pattern:      `sudo\s+`,
				Action:       ActionApprove,
				ApprovalType: "shell:sudo",
				Timeout:      2 * time.Minute,
				Message:      "sudo requires approval",
			},
		},
	}
}

// Load reads a policy file. A missing file yields DefaultPolicy.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Unset fields keep DefaultPolicy values.
func Parse(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks rule actions and patterns.
func Validate(p *Policy) error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", ErrInvalidConfig)
	}
	m := &Matcher{}
	for i, r := range p.Rules {
		if r.Tool == "" && r.Pattern == "" {
			return fmt.Errorf("%w: rules[%d]: tool or pattern required", ErrInvalidConfig, i)
		}
		switch r.Action {
		case ActionBlock, ActionApprove, ActionWarn:
		default:
			return fmt.Errorf("%w: rules[%d]: unknown action %q", ErrInvalidConfig, i, r.Action)
		}
		if r.Timeout < 0 {
			return fmt.Errorf("%w: rules[%d]: negative timeout", ErrInvalidConfig, i)
		}
		if _, err := m.MatchArgs("", r.Pattern); err != nil {
			return fmt.Errorf("%w: rules[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// Save writes p as YAML.
func Save(p *Policy, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("policy: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("policy: write %s: %w", path, err)
	}
	return nil
}
