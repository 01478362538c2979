// Package oracle holds the in-process knowledge base the audit layer may
// consult for supplementary insight text. It implements schemas.Oracle, so
// a remote inference service can be substituted without touching callers.
// Nothing here feeds back into the deterministic audit outputs.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// ErrUnavailable reports that the oracle cannot serve the request, usually
// because it is disabled by configuration. Callers treat it as the signal
// to proceed rule-only.
var ErrUnavailable = errors.New("oracle unavailable")

// fact is one flat atom, e.g. (vulnerability reentrancy critical). Quoted
// terms may contain whitespace.
type fact struct {
	terms []string
}

func (f fact) render() string {
	parts := make([]string, len(f.terms))
	for i, term := range f.terms {
		if strings.ContainsAny(term, " \t") {
			parts[i] = fmt.Sprintf("%q", term)
		} else {
			parts[i] = term
		}
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// matches reports whether f satisfies the pattern. Pattern terms starting
// with '$' bind any value; everything else compares case-insensitively.
// Arity must agree.
func (f fact) matches(pattern fact) bool {
	if len(f.terms) != len(pattern.terms) {
		return false
	}
	for i, term := range pattern.terms {
		if strings.HasPrefix(term, "$") {
			continue
		}
		if !strings.EqualFold(term, f.terms[i]) {
			return false
		}
	}
	return true
}

// KnowledgeBase is a thread-safe in-memory fact store with a small
// pattern-match query surface. It ships seeded with the vulnerability
// class and mitigation atoms; callers may assert additional facts about
// the contract under audit.
type KnowledgeBase struct {
	mu      sync.RWMutex
	facts   []fact
	enabled bool
	timeout time.Duration
	logger  *zap.Logger
}

var _ schemas.Oracle = (*KnowledgeBase)(nil)

// New creates a seeded knowledge base. Whether it answers queries is
// governed by cfg.Oracle.Enabled; a disabled oracle still constructs so
// wiring stays unconditional.
func New(cfg *config.Config, logger *zap.Logger) (*KnowledgeBase, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize knowledge base with nil dependencies")
	}
	kb := &KnowledgeBase{
		facts:   seedFacts(),
		enabled: cfg.Oracle.Enabled,
		timeout: cfg.Oracle.Timeout,
		logger:  logger.Named("oracle"),
	}
	kb.logger.Debug("Knowledge base seeded", zap.Int("facts", len(kb.facts)))
	return kb, nil
}

// seedFacts builds the built-in atom set: one severity-class atom per
// vulnerability category plus one mitigation atom per class with known
// remediation advice.
func seedFacts() []fact {
	return []fact{
		{terms: []string{"vulnerability", "reentrancy", "critical"}},
		{terms: []string{"vulnerability", "access-control", "critical"}},
		{terms: []string{"vulnerability", "integer-overflow", "high"}},
		{terms: []string{"vulnerability", "external-call", "medium"}},
		{terms: []string{"vulnerability", "front-running", "high"}},
		{terms: []string{"vulnerability", "timestamp-dependence", "medium"}},
		{terms: []string{"vulnerability", "denial-of-service", "high"}},
		{terms: []string{"vulnerability", "gas-optimization", "low"}},
		{terms: []string{"mitigation", "reentrancy", "Guard every value-transferring function with a reentrancy lock or strict checks-effects-interactions ordering"}},
		{terms: []string{"mitigation", "access-control", "Gate privileged entry points behind Ownable or role-based modifiers"}},
		{terms: []string{"mitigation", "integer-overflow", "Compile with Solidity 0.8.0 or later so arithmetic reverts on overflow"}},
		{terms: []string{"mitigation", "external-call", "Treat every external call as hostile and verify its return value"}},
		{terms: []string{"mitigation", "front-running", "Use commit-reveal schemes to blunt transaction-ordering attacks"}},
		{terms: []string{"mitigation", "timestamp-dependence", "Never use block.timestamp as a randomness or fairness source"}},
		{terms: []string{"mitigation", "denial-of-service", "Prefer pull over push payments so one failing recipient cannot block the rest"}},
		{terms: []string{"mitigation", "gas-optimization", "Audit storage access patterns before deployment"}},
	}
}

// AddFact asserts a new atom, visible to subsequent queries. Wildcard
// terms cannot be asserted.
func (kb *KnowledgeBase) AddFact(ctx context.Context, expression string) error {
	if !kb.enabled {
		return ErrUnavailable
	}
	f, err := parseAtom(expression)
	if err != nil {
		return err
	}
	for _, term := range f.terms {
		if strings.HasPrefix(term, "$") {
			return fmt.Errorf("cannot assert atom with wildcard term %q", term)
		}
	}

	kb.mu.Lock()
	kb.facts = append(kb.facts, f)
	kb.mu.Unlock()

	kb.logger.Debug("Fact asserted", zap.String("atom", f.render()))
	return nil
}

// Query evaluates one flat pattern atom against the fact store and returns
// the matching atoms, one per line. No match is an empty result, not an
// error.
func (kb *KnowledgeBase) Query(ctx context.Context, expression string) (string, error) {
	if !kb.enabled {
		return "", ErrUnavailable
	}
	if kb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kb.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("oracle query aborted: %w", err)
	}

	pattern, err := parseAtom(expression)
	if err != nil {
		return "", err
	}

	matches := kb.match(pattern)
	if len(matches) == 0 {
		return "", nil
	}
	rendered := make([]string, len(matches))
	for i, m := range matches {
		rendered[i] = m.render()
	}
	return strings.Join(rendered, "\n"), nil
}

// Insights looks up the mitigation atom for every vulnerability category
// present in the report, in canonical category order. The returned strings
// supplement the deterministic report text.
func (kb *KnowledgeBase) Insights(ctx context.Context, report *schemas.AggregatedReport) ([]string, error) {
	if !kb.enabled {
		return nil, ErrUnavailable
	}
	if report == nil {
		return nil, errors.New("insights require a non-nil report")
	}
	if kb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kb.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("oracle insights aborted: %w", err)
	}

	present := make(map[schemas.Category]bool)
	for _, f := range report.Findings() {
		present[f.Category] = true
	}

	var insights []string
	for _, category := range schemas.AllCategories() {
		if !present[category] {
			continue
		}
		matches := kb.match(fact{terms: []string{"mitigation", string(category), "$advice"}})
		for _, m := range matches {
			insights = append(insights, fmt.Sprintf("Mitigation (%s): %s", category, m.terms[2]))
		}
	}
	return insights, nil
}

func (kb *KnowledgeBase) match(pattern fact) []fact {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var matches []fact
	for _, f := range kb.facts {
		if f.matches(pattern) {
			matches = append(matches, f)
		}
	}
	return matches
}

// parseAtom tokenizes a flat parenthesized atom. Double-quoted terms keep
// their whitespace; nesting is not supported.
func parseAtom(expression string) (fact, error) {
	s := strings.TrimSpace(expression)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return fact{}, fmt.Errorf("expression must be a parenthesized atom: %q", expression)
	}
	body := s[1 : len(s)-1]

	var terms []string
	for i := 0; i < len(body); {
		switch {
		case body[i] == ' ' || body[i] == '\t':
			i++
		case body[i] == '"':
			end := strings.IndexByte(body[i+1:], '"')
			if end < 0 {
				return fact{}, fmt.Errorf("unterminated quote in expression: %q", expression)
			}
			terms = append(terms, body[i+1:i+1+end])
			i += end + 2
		case body[i] == '(' || body[i] == ')':
			return fact{}, fmt.Errorf("nested expressions are not supported: %q", expression)
		default:
			end := i
			for end < len(body) && body[end] != ' ' && body[end] != '\t' {
				end++
			}
			terms = append(terms, body[i:end])
			i = end
		}
	}
	if len(terms) == 0 {
		return fact{}, fmt.Errorf("empty expression: %q", expression)
	}
	return fact{terms: terms}, nil
}
