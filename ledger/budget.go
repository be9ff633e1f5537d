package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUDGET ROLL-UP
// =============================================================================

// recomputeSpent sums the expenditures filed under the budget's category
// inside its period window and persists the total.
func (s *Service) recomputeSpent(ctx context.Context, st Store, b Budget) (Budget, error) {
	p, err := ParsePeriod(b.Period)
	if err != nil {
		return b, err
	}
	entries, err := st.ListEntries(ctx, EntryFilter{
		OrgID:    b.OrgID,
		Kinds:    kindsOf(CategoryExpense),
		Category: b.Category,
		From:     p.Start,
		To:       p.End,
	})
	if err != nil {
		return b, err
	}
	spent := decimal.Zero
	for _, e := range entries {
		spent = spent.Add(e.Header().Amount)
	}
	if spent.Equal(b.Spent) {
		return b, nil
	}
	b.Spent = spent
	b.UpdatedAt = s.stamp()
	return b, st.UpdateBudget(ctx, b)
}

// refreshBudgets recomputes every budget whose category and window cover
// one of the given entries. Called with the old and new version on update
// so a budget the entry moved out of is refreshed too.
func (s *Service) refreshBudgets(ctx context.Context, st Store, entries ...Entry) error {
	done := make(map[BudgetID]bool)
	for _, e := range entries {
		ex, ok := e.(*Expenditure)
		if !ok {
			continue
		}
		budgets, err := st.ListBudgets(ctx, BudgetFilter{OrgID: ex.OrgID, Category: ex.Category})
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if done[b.ID] {
				continue
			}
			p, err := ParsePeriod(b.Period)
			if err != nil || !p.Contains(ex.Date) {
				continue
			}
			done[b.ID] = true
			if _, err := s.recomputeSpent(ctx, st, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

type CreateBudget struct {
	Category string `validate:"required"`
	Period   string `validate:"required"`
	Budgeted decimal.Decimal
}

// CreateBudget opens a budget for an expense category; spent is computed
// from the expenditures already on the books.
func (s *Service) CreateBudget(ctx context.Context, cmd CreateBudget) (Budget, error) {
	if err := checkCommand(cmd); err != nil {
		return Budget{}, err
	}
	p, err := ParsePeriod(strings.TrimSpace(cmd.Period))
	if err != nil {
		return Budget{}, err
	}
	if cmd.Budgeted.IsNegative() {
		return Budget{}, invalid("budgeted", "must not be negative")
	}
	now := s.stamp()
	b := Budget{
		ID:        BudgetID(s.newID()),
		OrgID:     s.org,
		Category:  cmd.Category,
		Period:    p.Label,
		Budgeted:  cmd.Budgeted,
		Spent:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.run(ctx, "create_budget", s.categoryResolver(CategoryExpense, cmd.Category), func(st Store) error {
		c, err := s.findCategory(ctx, st, CategoryExpense, b.Category)
		if err != nil {
			return err
		}
		b.Category = c.Name
		existing, err := st.ListBudgets(ctx, BudgetFilter{OrgID: s.org, Category: b.Category})
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Period == b.Period {
				return invalid("period", "category %q already has a budget for %s", b.Category, b.Period)
			}
		}
		if err := st.InsertBudget(ctx, b); err != nil {
			return err
		}
		b, err = s.recomputeSpent(ctx, st, b)
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	return b, nil
}

// UpdateBudget changes the budgeted amount. Spent is never set directly.
type UpdateBudget struct {
	ID       BudgetID `validate:"required"`
	Budgeted decimal.Decimal
}

func (s *Service) UpdateBudget(ctx context.Context, cmd UpdateBudget) (Budget, error) {
	if err := checkCommand(cmd); err != nil {
		return Budget{}, err
	}
	if cmd.Budgeted.IsNegative() {
		return Budget{}, invalid("budgeted", "must not be negative")
	}
	var out Budget
	err := s.run(ctx, "update_budget", s.budgetResolver(cmd.ID), func(st Store) error {
		b, err := st.GetBudget(ctx, cmd.ID)
		if err != nil {
			return err
		}
		b.Budgeted = cmd.Budgeted
		b.UpdatedAt = s.stamp()
		out = b
		return st.UpdateBudget(ctx, b)
	})
	return out, err
}

func (s *Service) DeleteBudget(ctx context.Context, id BudgetID) error {
	return s.run(ctx, "delete_budget", s.budgetResolver(id), func(st Store) error {
		if _, err := st.GetBudget(ctx, id); err != nil {
			return err
		}
		return st.DeleteBudget(ctx, id)
	})
}

// RecomputeSpent rebuilds spent for the budget of category and period.
func (s *Service) RecomputeSpent(ctx context.Context, category, period string) (Budget, error) {
	p, err := ParsePeriod(strings.TrimSpace(period))
	if err != nil {
		return Budget{}, err
	}
	var out Budget
	err = s.run(ctx, "recompute_spent", s.categoryResolver(CategoryExpense, category), func(st Store) error {
		c, err := s.findCategory(ctx, st, CategoryExpense, category)
		if err != nil {
			return err
		}
		budgets, err := st.ListBudgets(ctx, BudgetFilter{OrgID: s.org, Category: c.Name})
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if b.Period == p.Label {
				out, err = s.recomputeSpent(ctx, st, b)
				return err
			}
		}
		return NotFound("budget", c.Name+" "+p.Label)
	})
	return out, err
}

// RecomputeBudget rebuilds spent for one budget by id.
func (s *Service) RecomputeBudget(ctx context.Context, id BudgetID) (Budget, error) {
	var out Budget
	err := s.run(ctx, "recompute_budget", s.budgetResolver(id), func(st Store) error {
		b, err := st.GetBudget(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.recomputeSpent(ctx, st, b)
		return err
	})
	return out, err
}

func (s *Service) GetBudget(ctx context.Context, id BudgetID) (Budget, error) {
	return s.store.GetBudget(ctx, id)
}

func (s *Service) ListBudgets(ctx context.Context, category string) ([]Budget, error) {
	return s.store.ListBudgets(ctx, BudgetFilter{OrgID: s.org, Category: category})
}

func (s *Service) budgetResolver(id BudgetID) lockResolver {
	return func(ctx context.Context) ([]string, error) {
		b, err := s.store.GetBudget(ctx, id)
		if err != nil {
			return nil, err
		}
		return []string{budgetKey(b.OrgID, b.Category)}, nil
	}
}
