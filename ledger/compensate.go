package ledger

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// JOURNAL - Write tracking and compensating rollback
// =============================================================================

// journal wraps the Store a command writes through. It always counts
// writes, so a failure after the first write can be reported as a partial
// failure. When the backend has no transactions it also records the
// inverse of every write; rollback replays them newest first.
type journal struct {
	Store
	compensate bool
	writes     int
	undo       []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (j *journal) record(name string, fn func(ctx context.Context) error) {
	j.writes++
	if j.compensate {
		j.undo = append(j.undo, undoStep{name: name, fn: fn})
	}
}

func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", j.undo[i].name, err))
		}
	}
	j.undo = nil
	return errors.Join(errs...)
}

// --- accounts ---

func (j *journal) InsertAccount(ctx context.Context, a Account) error {
	if err := j.Store.InsertAccount(ctx, a); err != nil {
		return err
	}
	j.record("insert account", func(ctx context.Context) error { return j.Store.DeleteAccount(ctx, a.ID) })
	return nil
}

func (j *journal) UpdateAccount(ctx context.Context, a Account) error {
	prev, err := j.Store.GetAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateAccount(ctx, a); err != nil {
		return err
	}
	j.record("update account", func(ctx context.Context) error { return j.Store.UpdateAccount(ctx, prev) })
	return nil
}

func (j *journal) DeleteAccount(ctx context.Context, id AccountID) error {
	prev, err := j.Store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	j.record("delete account", func(ctx context.Context) error { return j.Store.InsertAccount(ctx, prev) })
	return nil
}

// --- entries ---

func (j *journal) InsertEntry(ctx context.Context, e Entry) error {
	if err := j.Store.InsertEntry(ctx, e); err != nil {
		return err
	}
	id := e.Header().ID
	j.record("insert entry", func(ctx context.Context) error { return j.Store.DeleteEntry(ctx, id) })
	return nil
}

func (j *journal) UpdateEntry(ctx context.Context, e Entry) error {
	prev, err := j.Store.GetEntry(ctx, e.Header().ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateEntry(ctx, e); err != nil {
		return err
	}
	j.record("update entry", func(ctx context.Context) error { return j.Store.UpdateEntry(ctx, prev) })
	return nil
}

func (j *journal) DeleteEntry(ctx context.Context, id TransactionID) error {
	prev, err := j.Store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	j.record("delete entry", func(ctx context.Context) error { return j.Store.InsertEntry(ctx, prev) })
	return nil
}

// --- liabilities ---

func (j *journal) InsertLiability(ctx context.Context, l Liability) error {
	if err := j.Store.InsertLiability(ctx, l); err != nil {
		return err
	}
	j.record("insert liability", func(ctx context.Context) error { return j.Store.DeleteLiability(ctx, l.ID) })
	return nil
}

func (j *journal) UpdateLiability(ctx context.Context, l Liability) error {
	prev, err := j.Store.GetLiability(ctx, l.ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateLiability(ctx, l); err != nil {
		return err
	}
	j.record("update liability", func(ctx context.Context) error { return j.Store.UpdateLiability(ctx, prev) })
	return nil
}

func (j *journal) DeleteLiability(ctx context.Context, id LiabilityID) error {
	prev, err := j.Store.GetLiability(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteLiability(ctx, id); err != nil {
		return err
	}
	j.record("delete liability", func(ctx context.Context) error { return j.Store.InsertLiability(ctx, prev) })
	return nil
}

// --- categories ---

func (j *journal) InsertCategory(ctx context.Context, c Category) error {
	if err := j.Store.InsertCategory(ctx, c); err != nil {
		return err
	}
	j.record("insert category", func(ctx context.Context) error { return j.Store.DeleteCategory(ctx, c.ID) })
	return nil
}

func (j *journal) UpdateCategory(ctx context.Context, c Category) error {
	prev, err := j.Store.GetCategory(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateCategory(ctx, c); err != nil {
		return err
	}
	j.record("update category", func(ctx context.Context) error { return j.Store.UpdateCategory(ctx, prev) })
	return nil
}

func (j *journal) DeleteCategory(ctx context.Context, id CategoryID) error {
	prev, err := j.Store.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	j.record("delete category", func(ctx context.Context) error { return j.Store.InsertCategory(ctx, prev) })
	return nil
}

// --- budgets ---

func (j *journal) InsertBudget(ctx context.Context, b Budget) error {
	if err := j.Store.InsertBudget(ctx, b); err != nil {
		return err
	}
	j.record("insert budget", func(ctx context.Context) error { return j.Store.DeleteBudget(ctx, b.ID) })
	return nil
}

func (j *journal) UpdateBudget(ctx context.Context, b Budget) error {
	prev, err := j.Store.GetBudget(ctx, b.ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateBudget(ctx, b); err != nil {
		return err
	}
	j.record("update budget", func(ctx context.Context) error { return j.Store.UpdateBudget(ctx, prev) })
	return nil
}

func (j *journal) DeleteBudget(ctx context.Context, id BudgetID) error {
	prev, err := j.Store.GetBudget(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteBudget(ctx, id); err != nil {
		return err
	}
	j.record("delete budget", func(ctx context.Context) error { return j.Store.InsertBudget(ctx, prev) })
	return nil
}

// --- reconciliations ---

func (j *journal) InsertReconciliation(ctx context.Context, r Reconciliation) error {
	if err := j.Store.InsertReconciliation(ctx, r); err != nil {
		return err
	}
	j.record("insert reconciliation", func(ctx context.Context) error { return j.Store.DeleteReconciliation(ctx, r.ID) })
	return nil
}

func (j *journal) UpdateReconciliation(ctx context.Context, r Reconciliation) error {
	prev, err := j.Store.GetReconciliation(ctx, r.ID)
	if err != nil {
		return err
	}
	if err := j.Store.UpdateReconciliation(ctx, r); err != nil {
		return err
	}
	j.record("update reconciliation", func(ctx context.Context) error { return j.Store.UpdateReconciliation(ctx, prev) })
	return nil
}

func (j *journal) DeleteReconciliation(ctx context.Context, id ReconciliationID) error {
	prev, err := j.Store.GetReconciliation(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteReconciliation(ctx, id); err != nil {
		return err
	}
	j.record("delete reconciliation", func(ctx context.Context) error { return j.Store.InsertReconciliation(ctx, prev) })
	return nil
}

// --- disposals ---

func (j *journal) InsertDisposal(ctx context.Context, d Disposal) error {
	if err := j.Store.InsertDisposal(ctx, d); err != nil {
		return err
	}
	j.record("insert disposal", func(ctx context.Context) error { return j.Store.DeleteDisposal(ctx, d.ID) })
	return nil
}

func (j *journal) DeleteDisposal(ctx context.Context, id DisposalID) error {
	prev, err := j.Store.GetDisposal(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Store.DeleteDisposal(ctx, id); err != nil {
		return err
	}
	j.record("delete disposal", func(ctx context.Context) error { return j.Store.InsertDisposal(ctx, prev) })
	return nil
}

// --- entity store ---

// SaveAsset is an upsert; the ledger only saves assets it has just read, so
// the previous row always exists when compensation is needed.
func (j *journal) SaveAsset(ctx context.Context, a Asset) error {
	prev, prevErr := j.Store.GetAsset(ctx, a.ID)
	if err := j.Store.SaveAsset(ctx, a); err != nil {
		return err
	}
	j.record("save asset", func(ctx context.Context) error {
		if prevErr != nil {
			return nil
		}
		return j.Store.SaveAsset(ctx, prev)
	})
	return nil
}

func (j *journal) SaveMember(ctx context.Context, m Member) error {
	if err := j.Store.SaveMember(ctx, m); err != nil {
		return err
	}
	j.record("save member", func(context.Context) error { return nil })
	return nil
}
