/*
category.go - Category Integrity Enforcer

PURPOSE:
  Categories are referenced by name from incomes, expenditures, liabilities
  and budgets. This file keeps those references intact.

RULES:
  ┌──────────────┬──────────────────────────────┬────────────────────────┐
  │              │ delete                       │ update                 │
  ├──────────────┼──────────────────────────────┼────────────────────────┤
  │ system       │ cascade every row filed      │ ErrImmutableSystem-    │
  │              │ under it, then the category  │ Category               │
  │ user-defined │ CategoryInUseError while any │ rename cascades to     │
  │              │ row is filed under it        │ rows and budgets       │
  └──────────────┴──────────────────────────────┴────────────────────────┘

  Rows match on the category's type: an income category owns incomes, an
  expense category owns expenditures, a liability category owns liabilities.

CASCADE ORDER ("Asset Disposal" example):
  disposal:d1 ──▶ entry:i1 ──┐
                             ├──▶ category
  entry:i2 ──────────────────┘

SEE ALSO:
  - cascade.go: DAG executor
  - linker.go: detachDisposal, removeLiabilityPayment, planLiability
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// LOOKUP
// =============================================================================

// findCategory resolves name (case-insensitively) to a category of type t.
func (s *Service) findCategory(ctx context.Context, st Store, t CategoryType, name string) (Category, error) {
	all, err := st.ListCategories(ctx, s.org)
	if err != nil {
		return Category{}, err
	}
	name = strings.TrimSpace(name)
	for _, c := range all {
		if c.Type == t && strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Category{}, NotFound(string(t)+" category", name)
}

// ensureSystemCategory returns the system category, creating it on first use.
func (s *Service) ensureSystemCategory(ctx context.Context, st Store, t CategoryType, name string) (Category, error) {
	c, err := s.findCategory(ctx, st, t, name)
	if err == nil || !IsNotFound(err) {
		return c, err
	}
	c = Category{
		ID:        CategoryID(s.newID()),
		OrgID:     s.org,
		Name:      name,
		Type:      t,
		CreatedAt: s.stamp(),
	}
	err = st.InsertCategory(ctx, c)
	if errors.Is(err, ErrDuplicateCategory) {
		// Created concurrently by a command holding other locks.
		return s.findCategory(ctx, st, t, name)
	}
	return c, err
}

// EnsureSystemCategories creates any missing system category.
func (s *Service) EnsureSystemCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := s.run(ctx, "ensure_system_categories", fixedKeys(orgKey(s.org)), func(st Store) error {
		out = out[:0]
		for _, t := range []CategoryType{CategoryIncome, CategoryExpense, CategoryLiability} {
			for _, name := range SystemCategories(t) {
				c, err := s.ensureSystemCategory(ctx, st, t, name)
				if err != nil {
					return err
				}
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// ListCategories returns the organization's categories, optionally of one type.
func (s *Service) ListCategories(ctx context.Context, t CategoryType) ([]Category, error) {
	all, err := s.store.ListCategories(ctx, s.org)
	if err != nil || t == "" {
		return all, err
	}
	out := make([]Category, 0, len(all))
	for _, c := range all {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) GetCategory(ctx context.Context, id CategoryID) (Category, error) {
	return s.store.GetCategory(ctx, id)
}

// =============================================================================
// CREATE / UPDATE
// =============================================================================

type CreateCategory struct {
	Name         string       `validate:"required"`
	Type         CategoryType `validate:"required"`
	TrackMembers bool
	Description  string
}

func (s *Service) CreateCategory(ctx context.Context, cmd CreateCategory) (Category, error) {
	if err := checkCommand(cmd); err != nil {
		return Category{}, err
	}
	if !cmd.Type.Valid() {
		return Category{}, invalid("type", "unknown category type %q", cmd.Type)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, invalid("name", "is required")
	}
	c := Category{
		ID:           CategoryID(s.newID()),
		OrgID:        s.org,
		Name:         name,
		Type:         cmd.Type,
		TrackMembers: cmd.TrackMembers,
		Description:  strings.TrimSpace(cmd.Description),
		CreatedAt:    s.stamp(),
	}
	// System names keep their canonical spelling.
	for _, n := range SystemCategories(c.Type) {
		if strings.EqualFold(n, name) {
			c.Name = n
		}
	}

	err := s.run(ctx, "create_category", fixedKeys(orgKey(s.org)), func(st Store) error {
		if _, err := s.findCategory(ctx, st, c.Type, c.Name); err == nil {
			return fmt.Errorf("%w: %s category %q", ErrDuplicateCategory, c.Type, c.Name)
		} else if !IsNotFound(err) {
			return err
		}
		return st.InsertCategory(ctx, c)
	})
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

type UpdateCategory struct {
	ID           CategoryID `validate:"required"`
	Name         string
	TrackMembers *bool
	Description  *string
}

// UpdateCategory edits a user-defined category. A rename is carried to
// every row and budget filed under the old name.
func (s *Service) UpdateCategory(ctx context.Context, cmd UpdateCategory) (Category, error) {
	if err := checkCommand(cmd); err != nil {
		return Category{}, err
	}
	newName := strings.TrimSpace(cmd.Name)

	var out Category
	var renamed int
	err := s.run(ctx, "update_category", s.categoryKeys(cmd.ID, newName), func(st Store) error {
		c, err := st.GetCategory(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if c.IsSystem() {
			return fmt.Errorf("%w: %q", ErrImmutableSystemCategory, c.Name)
		}
		oldName := c.Name
		if newName != "" && newName != oldName {
			if IsSystemCategory(c.Type, newName) {
				return invalid("name", "%q is reserved for ledger-generated rows", newName)
			}
			if other, err := s.findCategory(ctx, st, c.Type, newName); err == nil && other.ID != c.ID {
				return fmt.Errorf("%w: %s category %q", ErrDuplicateCategory, c.Type, newName)
			} else if err != nil && !IsNotFound(err) {
				return err
			}
			c.Name = newName
		}
		if cmd.TrackMembers != nil {
			c.TrackMembers = *cmd.TrackMembers
		}
		if cmd.Description != nil {
			c.Description = strings.TrimSpace(*cmd.Description)
		}
		if err := st.UpdateCategory(ctx, c); err != nil {
			return err
		}
		if c.Name != oldName {
			if renamed, err = s.renameCategory(ctx, st, c.Type, oldName, c.Name); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		return Category{}, err
	}
	if renamed > 0 {
		s.log.Info().Str("category", out.Name).Int("rows", renamed).Msg("category rename cascaded")
	}
	return out, nil
}

func (s *Service) renameCategory(ctx context.Context, st Store, t CategoryType, from, to string) (int, error) {
	n := 0
	switch t {
	case CategoryIncome, CategoryExpense:
		entries, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, Kinds: kindsOf(t), Category: from})
		if err != nil {
			return n, err
		}
		for _, e := range entries {
			e = CloneEntry(e)
			switch v := e.(type) {
			case *Income:
				v.Category = to
			case *Expenditure:
				v.Category = to
			}
			if err := st.UpdateEntry(ctx, e); err != nil {
				return n, err
			}
			n++
		}
		if t == CategoryExpense {
			budgets, err := st.ListBudgets(ctx, BudgetFilter{OrgID: s.org, Category: from})
			if err != nil {
				return n, err
			}
			for _, b := range budgets {
				b.Category = to
				b.UpdatedAt = s.stamp()
				if err := st.UpdateBudget(ctx, b); err != nil {
					return n, err
				}
				n++
			}
		}
	case CategoryLiability:
		liabilities, err := st.ListLiabilities(ctx, LiabilityFilter{OrgID: s.org, Category: from})
		if err != nil {
			return n, err
		}
		for _, l := range liabilities {
			l.Category = to
			l.UpdatedAt = s.stamp()
			if err := st.UpdateLiability(ctx, l); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteCategory deletes a category. System categories take every row filed
// under them along; user-defined ones must be unused.
func (s *Service) DeleteCategory(ctx context.Context, id CategoryID) (CascadeReport, error) {
	var report CascadeReport
	err := s.run(ctx, "delete_category", s.categoryKeys(id, ""), func(st Store) error {
		c, err := st.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		plan := newCascade()
		if c.IsSystem() {
			if err := s.planSystemCascade(ctx, st, plan, c); err != nil {
				return err
			}
		} else if err := s.checkUnused(ctx, st, c); err != nil {
			return err
		}
		if err := s.planBudgets(ctx, st, plan, c); err != nil {
			return err
		}
		deps := append([]string(nil), plan.order...)
		plan.add("category:"+string(c.ID), "category", func(ctx context.Context, st Store) error {
			return st.DeleteCategory(ctx, c.ID)
		}, deps...)
		report, err = plan.execute(ctx, st)
		return err
	})
	if err != nil {
		return CascadeReport{}, err
	}
	if report.Total() > 1 {
		s.log.Info().
			Str("category", string(id)).
			Int("incomes", report.Incomes).
			Int("expenditures", report.Expenditures).
			Int("liabilities", report.Liabilities).
			Int("disposals", report.Disposals).
			Msg("category cascade deleted")
	}
	return report, nil
}

// checkUnused counts only rows of c's own type; a same-named category of
// another type is a separate category.
func (s *Service) checkUnused(ctx context.Context, st Store, c Category) error {
	inUse := &CategoryInUseError{Category: c.Name}
	switch c.Type {
	case CategoryIncome, CategoryExpense:
		entries, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, Kinds: kindsOf(c.Type), Category: c.Name})
		if err != nil {
			return err
		}
		if c.Type == CategoryIncome {
			inUse.Incomes = len(entries)
		} else {
			inUse.Expenditures = len(entries)
		}
	case CategoryLiability:
		liabilities, err := st.ListLiabilities(ctx, LiabilityFilter{OrgID: s.org, Category: c.Name})
		if err != nil {
			return err
		}
		inUse.Liabilities = len(liabilities)
	}
	if inUse.Incomes+inUse.Expenditures+inUse.Liabilities > 0 {
		return inUse
	}
	return nil
}

// planSystemCascade adds every row filed under c, with its dependents, to p.
func (s *Service) planSystemCascade(ctx context.Context, st Store, p *cascade, c Category) error {
	switch c.Type {
	case CategoryIncome:
		entries, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, Kinds: kindsOf(c.Type), Category: c.Name})
		if err != nil {
			return err
		}
		for _, e := range entries {
			in := e.(*Income)
			var deps []string
			if in.LinkedAssetID != "" {
				disposals, err := st.ListDisposals(ctx, DisposalFilter{OrgID: s.org, IncomeID: in.ID})
				if err != nil {
					return err
				}
				for _, d := range disposals {
					d := d // per-iteration copy: go.mod targets go 1.21 loop semantics
					key := "disposal:" + string(d.ID)
					p.add(key, "disposal", func(ctx context.Context, st Store) error {
						return s.detachDisposal(ctx, st, d)
					})
					deps = append(deps, key)
				}
			}
			p.add("entry:"+string(in.ID), "income", func(ctx context.Context, st Store) error {
				return s.removeEntry(ctx, st, in)
			}, deps...)
		}
	case CategoryExpense:
		entries, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, Kinds: kindsOf(c.Type), Category: c.Name})
		if err != nil {
			return err
		}
		for _, e := range entries {
			ex := e.(*Expenditure)
			p.add("entry:"+string(ex.ID), "expenditure", func(ctx context.Context, st Store) error {
				if ex.LinkedLiabilityID != "" {
					return s.removeLiabilityPayment(ctx, st, ex)
				}
				return s.removeEntry(ctx, st, ex)
			})
		}
	case CategoryLiability:
		liabilities, err := st.ListLiabilities(ctx, LiabilityFilter{OrgID: s.org, Category: c.Name})
		if err != nil {
			return err
		}
		for _, l := range liabilities {
			if err := s.planLiability(ctx, st, p, l.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// planBudgets drops the budgets of an expense category along with it.
func (s *Service) planBudgets(ctx context.Context, st Store, p *cascade, c Category) error {
	if c.Type != CategoryExpense {
		return nil
	}
	budgets, err := st.ListBudgets(ctx, BudgetFilter{OrgID: s.org, Category: c.Name})
	if err != nil {
		return err
	}
	deps := append([]string(nil), p.order...)
	for _, b := range budgets {
		id := b.ID
		p.add("budget:"+string(id), "budget", func(ctx context.Context, st Store) error {
			return st.DeleteBudget(ctx, id)
		}, deps...)
	}
	return nil
}

// categoryKeys locks every account, liability and disposed asset of the
// organization plus the budget roll-ups of the category's old and new name.
func (s *Service) categoryKeys(id CategoryID, newName string) lockResolver {
	return func(ctx context.Context) ([]string, error) {
		keys, err := s.allAccountKeys(ctx)
		if err != nil {
			return nil, err
		}
		liabilities, err := s.store.ListLiabilities(ctx, LiabilityFilter{OrgID: s.org})
		if err != nil {
			return nil, err
		}
		for _, l := range liabilities {
			keys = append(keys, liabilityKey(l.ID))
		}
		disposals, err := s.store.ListDisposals(ctx, DisposalFilter{OrgID: s.org})
		if err != nil {
			return nil, err
		}
		for _, d := range disposals {
			keys = append(keys, assetKey(d.AssetID))
		}
		c, err := s.store.GetCategory(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Type == CategoryExpense {
			keys = append(keys, budgetKey(s.org, c.Name))
			if newName != "" {
				keys = append(keys, budgetKey(s.org, newName))
			}
		}
		return keys, nil
	}
}

// kindsOf returns the entry kinds a category type owns.
func kindsOf(t CategoryType) []Kind {
	switch t {
	case CategoryIncome:
		return []Kind{KindIncome, KindOpeningBalance}
	case CategoryExpense:
		return []Kind{KindExpenditure, KindLiabilityPayment}
	}
	return nil
}
