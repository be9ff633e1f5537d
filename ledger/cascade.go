package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// CASCADE - Dependency-ordered multi-row deletion
// =============================================================================

// cascade is a small DAG of deletion steps. A step runs only after every
// step it depends on, so dependents are always removed before the rows they
// hang off: disposals before their income, payments before their liability,
// every row before its category.
//
//	disposal:d1 ──▶ entry:i1 ──┐
//	entry:i2 ──────────────────┼──▶ category:c1
//	entry:e1 ──▶ liability:l1 ─┘
type cascade struct {
	steps map[string]*cascadeStep
	order []string // insertion order, used to break ties
}

type cascadeStep struct {
	key   string
	kind  string
	after []string
	run   func(ctx context.Context, st Store) error
}

// CascadeReport counts the rows a cascade removed, by kind.
type CascadeReport struct {
	Incomes      int
	Expenditures int
	Liabilities  int
	Disposals    int
	Budgets      int
	Categories   int
}

// Total is the number of rows removed.
func (r CascadeReport) Total() int {
	return r.Incomes + r.Expenditures + r.Liabilities + r.Disposals + r.Budgets + r.Categories
}

func newCascade() *cascade {
	return &cascade{steps: make(map[string]*cascadeStep)}
}

// add registers a step. Adding the same key twice keeps the first step and
// merges the dependencies.
func (c *cascade) add(key, kind string, run func(ctx context.Context, st Store) error, after ...string) {
	if s, ok := c.steps[key]; ok {
		for _, a := range after {
			s.after = appendUnique(s.after, a)
		}
		return
	}
	c.steps[key] = &cascadeStep{key: key, kind: kind, run: run, after: after}
	c.order = append(c.order, key)
}

// plan returns the steps in dependency order (Kahn's algorithm, stable on
// insertion order). Unknown dependencies and cycles are errors.
func (c *cascade) plan() ([]*cascadeStep, error) {
	indegree := make(map[string]int, len(c.steps))
	dependents := make(map[string][]string, len(c.steps))
	for _, key := range c.order {
		s := c.steps[key]
		for _, dep := range s.after {
			if _, ok := c.steps[dep]; !ok {
				return nil, fmt.Errorf("cascade step %q depends on unknown step %q", key, dep)
			}
			indegree[key]++
			dependents[dep] = append(dependents[dep], key)
		}
	}

	var ready []string
	for _, key := range c.order {
		if indegree[key] == 0 {
			ready = append(ready, key)
		}
	}

	planned := make([]*cascadeStep, 0, len(c.steps))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		planned = append(planned, c.steps[key])
		for _, d := range dependents[key] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(planned) != len(c.steps) {
		return nil, fmt.Errorf("cascade has a dependency cycle (%d of %d steps orderable)", len(planned), len(c.steps))
	}
	return planned, nil
}

// execute runs the plan against st and counts removed rows by kind.
// The caller owns atomicity: a failing step leaves rollback to WithTx or
// the compensating journal.
func (c *cascade) execute(ctx context.Context, st Store) (CascadeReport, error) {
	var report CascadeReport
	steps, err := c.plan()
	if err != nil {
		return report, err
	}
	for _, s := range steps {
		if err := s.run(ctx, st); err != nil {
			return report, fmt.Errorf("cascade step %s: %w", s.key, err)
		}
		switch s.kind {
		case "income":
			report.Incomes++
		case "expenditure":
			report.Expenditures++
		case "liability":
			report.Liabilities++
		case "disposal":
			report.Disposals++
		case "budget":
			report.Budgets++
		case "category":
			report.Categories++
		}
	}
	return report, nil
}
