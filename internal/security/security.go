// Package security holds the permission check consulted before every
// mutating operation. A negative answer is a normal rejection the caller
// reports back, never an error condition.
package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Action names what a caller wants to do to a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionReset  Action = "reset"
	ActionManage Action = "manage"
)

// Resource addresses what an action applies to.
type Resource struct {
	Project string
	Sandbox string
}

// Guard answers boolean permission checks.
type Guard interface {
	Allow(ctx context.Context, user string, resource Resource, action Action) bool
}

// AllowAll grants everything. The default for single-user deployments.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, Resource, Action) bool { return true }

// Rule grants one user an action set on one resource pattern. An empty
// field matches anything; Sandbox matching also accepts a "*" suffix.
type Rule struct {
	User    string
	Project string
	Sandbox string
	Actions []Action
}

// RuleGuard evaluates a static rule list. First match wins; no match denies.
type RuleGuard struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRuleGuard builds a guard from its initial rules.
func NewRuleGuard(rules ...Rule) *RuleGuard {
	return &RuleGuard{rules: rules}
}

// AddRule appends a rule at the lowest priority.
func (g *RuleGuard) AddRule(rule Rule) {
	g.mu.Lock()
	g.rules = append(g.rules, rule)
	g.mu.Unlock()
}

func (g *RuleGuard) Allow(_ context.Context, user string, resource Resource, action Action) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, rule := range g.rules {
		if rule.matches(user, resource, action) {
			return true
		}
	}
	return false
}

func (r Rule) matches(user string, resource Resource, action Action) bool {
	if r.User != "" && r.User != user {
		return false
	}
	if r.Project != "" && r.Project != resource.Project {
		return false
	}
	if !matchPattern(r.Sandbox, resource.Sandbox) {
		return false
	}
	if len(r.Actions) == 0 {
		return true
	}
	for _, allowed := range r.Actions {
		if allowed == action {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// Describe renders a rejection reason for history entries.
func Describe(user string, resource Resource, action Action) string {
	target := resource.Project
	if resource.Sandbox != "" {
		target = fmt.Sprintf("%s/%s", resource.Project, resource.Sandbox)
	}
	return fmt.Sprintf("user %q may not %s %s", user, action, target)
}
