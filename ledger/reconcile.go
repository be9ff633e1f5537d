/*
reconcile.go - Reconciliation Workflow

PURPOSE:
  Matches the book balance of an account against its bank statement on a
  date and marks the entries the statement covered.

LIFECYCLE:
  create ──▶ {balanced | unbalanced} ──▶ update* ──▶ delete
  Status is a label computed from book − bank, never a gate.

INVARIANT:
  entry.ReconciledIn == r.ID  ⇔  r's entry sets contain entry.ID

  Every path that changes either side keeps both in step:
    create   marks every listed entry
    update   unmarks entries that left the sets, marks the new ones
    delete   unmarks every entry, then drops the row
    editing amount/date/account of a marked entry, or deleting it,
    removes it from the sets (transactions.go)

SEE ALSO:
  - transactions.go: replaceEntry / removeEntry call detachReconciliation
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOK BALANCE
// =============================================================================

// BookBalance returns what the books say an account held at the end of
// asOf: the opening balance plus every leg dated on or before that day.
func (s *Service) BookBalance(ctx context.Context, id AccountID, asOf time.Time) (decimal.Decimal, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	entries, err := s.store.ListEntries(ctx, EntryFilter{OrgID: a.OrgID, AccountID: id, To: asOf})
	if err != nil {
		return decimal.Zero, err
	}
	balance := a.OpeningBalance
	for _, e := range entries {
		for _, l := range e.Legs() {
			if l.AccountID == id {
				balance = balance.Add(l.Delta)
			}
		}
	}
	return balance, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// ReconcileAccount creates a reconciliation. Added ids are entries recorded
// while working through the statement; they are marked like the rest.
type ReconcileAccount struct {
	AccountID                AccountID `validate:"required"`
	Date                     time.Time
	BookBalance              decimal.Decimal
	BankBalance              decimal.Decimal
	ReconciledIncomeIDs      []TransactionID
	ReconciledExpenditureIDs []TransactionID
	AddedIncomeIDs           []TransactionID
	AddedExpenditureIDs      []TransactionID
	Notes                    string
}

func (s *Service) CreateReconciliation(ctx context.Context, cmd ReconcileAccount) (Reconciliation, error) {
	if err := checkCommand(cmd); err != nil {
		return Reconciliation{}, err
	}
	if cmd.Date.IsZero() {
		return Reconciliation{}, invalid("date", "is required")
	}
	now := s.stamp()
	r := Reconciliation{
		ID:                       ReconciliationID(s.newID()),
		OrgID:                    s.org,
		AccountID:                cmd.AccountID,
		Date:                     Day(cmd.Date),
		BookBalance:              cmd.BookBalance,
		BankBalance:              cmd.BankBalance,
		ReconciledIncomeIDs:      dedupe(cmd.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: dedupe(cmd.ReconciledExpenditureIDs),
		AddedIncomeIDs:           dedupe(cmd.AddedIncomeIDs),
		AddedExpenditureIDs:      dedupe(cmd.AddedExpenditureIDs),
		Notes:                    strings.TrimSpace(cmd.Notes),
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	err := s.run(ctx, "create_reconciliation", fixedKeys(accountKey(r.AccountID)), func(st Store) error {
		if _, err := st.GetAccount(ctx, r.AccountID); err != nil {
			return err
		}
		if err := s.checkReconciliationSets(ctx, st, r); err != nil {
			return err
		}
		if err := st.InsertReconciliation(ctx, r); err != nil {
			return err
		}
		return s.markEntries(ctx, st, r.EntryIDs(), ReconcileMark{IsReconciled: true, ReconciledIn: r.ID})
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return r, nil
}

// UpdateReconciliation replaces the entry sets (and optionally balances,
// date and notes). Entries that left the sets are unmarked, new ones marked.
type UpdateReconciliation struct {
	ID                       ReconciliationID `validate:"required"`
	Date                     time.Time
	BookBalance              *decimal.Decimal
	BankBalance              *decimal.Decimal
	ReconciledIncomeIDs      []TransactionID
	ReconciledExpenditureIDs []TransactionID
	AddedIncomeIDs           []TransactionID
	AddedExpenditureIDs      []TransactionID
	Notes                    *string
}

func (s *Service) UpdateReconciliation(ctx context.Context, cmd UpdateReconciliation) (Reconciliation, error) {
	if err := checkCommand(cmd); err != nil {
		return Reconciliation{}, err
	}
	var out Reconciliation
	err := s.run(ctx, "update_reconciliation", s.reconciliationResolver(cmd.ID), func(st Store) error {
		old, err := st.GetReconciliation(ctx, cmd.ID)
		if err != nil {
			return err
		}
		r := old
		if !cmd.Date.IsZero() {
			r.Date = Day(cmd.Date)
		}
		if cmd.BookBalance != nil {
			r.BookBalance = *cmd.BookBalance
		}
		if cmd.BankBalance != nil {
			r.BankBalance = *cmd.BankBalance
		}
		if cmd.Notes != nil {
			r.Notes = strings.TrimSpace(*cmd.Notes)
		}
		r.ReconciledIncomeIDs = dedupe(cmd.ReconciledIncomeIDs)
		r.ReconciledExpenditureIDs = dedupe(cmd.ReconciledExpenditureIDs)
		r.AddedIncomeIDs = dedupe(cmd.AddedIncomeIDs)
		r.AddedExpenditureIDs = dedupe(cmd.AddedExpenditureIDs)
		r.UpdatedAt = s.stamp()

		if err := s.checkReconciliationSets(ctx, st, r); err != nil {
			return err
		}

		var dropped, added []TransactionID
		for _, id := range old.EntryIDs() {
			if !r.Contains(id) {
				dropped = append(dropped, id)
			}
		}
		for _, id := range r.EntryIDs() {
			if !old.Contains(id) {
				added = append(added, id)
			}
		}
		if err := s.markEntries(ctx, st, dropped, ReconcileMark{}); err != nil {
			return err
		}
		if err := s.markEntries(ctx, st, added, ReconcileMark{IsReconciled: true, ReconciledIn: r.ID}); err != nil {
			return err
		}
		out = r
		return st.UpdateReconciliation(ctx, r)
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return out, nil
}

// DeleteReconciliation unmarks every referenced entry and drops the row.
// The entries themselves, added ones included, stay in the books.
func (s *Service) DeleteReconciliation(ctx context.Context, id ReconciliationID) error {
	return s.run(ctx, "delete_reconciliation", s.reconciliationResolver(id), func(st Store) error {
		r, err := st.GetReconciliation(ctx, id)
		if err != nil {
			return err
		}
		if err := s.markEntries(ctx, st, r.EntryIDs(), ReconcileMark{}); err != nil {
			return err
		}
		return st.DeleteReconciliation(ctx, id)
	})
}

func (s *Service) GetReconciliation(ctx context.Context, id ReconciliationID) (Reconciliation, error) {
	return s.store.GetReconciliation(ctx, id)
}

// ListReconciliations returns the organization's reconciliations, optionally
// for one account.
func (s *Service) ListReconciliations(ctx context.Context, account AccountID) ([]Reconciliation, error) {
	return s.store.ListReconciliations(ctx, s.org, account)
}

// =============================================================================
// MARKING
// =============================================================================

func (s *Service) reconciliationResolver(id ReconciliationID) lockResolver {
	return func(ctx context.Context) ([]string, error) {
		r, err := s.store.GetReconciliation(ctx, id)
		if err != nil {
			return nil, err
		}
		return []string{accountKey(r.AccountID)}, nil
	}
}

// checkReconciliationSets verifies every listed entry exists, has the right
// kind, belongs to the reconciled account and isn't claimed by another
// reconciliation.
func (s *Service) checkReconciliationSets(ctx context.Context, st Store, r Reconciliation) error {
	check := func(field string, ids []TransactionID, wantIncome bool) error {
		for _, id := range ids {
			e, err := st.GetEntry(ctx, id)
			if err != nil {
				return err
			}
			var account AccountID
			switch v := e.(type) {
			case *Income:
				if !wantIncome {
					return invalid(field, "transaction %s is an income", id)
				}
				account = v.AccountID
			case *Expenditure:
				if wantIncome {
					return invalid(field, "transaction %s is an expenditure", id)
				}
				account = v.AccountID
			default:
				return invalid(field, "transaction %s is a %s and can't be reconciled", id, e.Kind())
			}
			if account != r.AccountID {
				return invalid(field, "transaction %s belongs to account %s", id, account)
			}
			m, _ := MarkOf(e)
			if m.IsReconciled && m.ReconciledIn != r.ID {
				return fmt.Errorf("%w: transaction %s is part of reconciliation %s", ErrAlreadyReconciled, id, m.ReconciledIn)
			}
		}
		return nil
	}
	if err := check("reconciled_income_ids", r.ReconciledIncomeIDs, true); err != nil {
		return err
	}
	if err := check("reconciled_expenditure_ids", r.ReconciledExpenditureIDs, false); err != nil {
		return err
	}
	if err := check("added_income_ids", r.AddedIncomeIDs, true); err != nil {
		return err
	}
	return check("added_expenditure_ids", r.AddedExpenditureIDs, false)
}

func (s *Service) markEntries(ctx context.Context, st Store, ids []TransactionID, m ReconcileMark) error {
	for _, id := range ids {
		e, err := st.GetEntry(ctx, id)
		if IsNotFound(err) && !m.IsReconciled {
			continue
		}
		if err != nil {
			return err
		}
		if err := st.UpdateEntry(ctx, withMark(e, m)); err != nil {
			return err
		}
	}
	return nil
}

// detachReconciliation takes e out of the reconciliation that marks it.
// The caller rewrites or deletes e itself.
func (s *Service) detachReconciliation(ctx context.Context, st Store, e Entry) error {
	m, ok := MarkOf(e)
	if !ok || m.ReconciledIn == "" {
		return nil
	}
	r, err := st.GetReconciliation(ctx, m.ReconciledIn)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	r = r.without(e.Header().ID)
	r.UpdatedAt = s.stamp()
	return st.UpdateReconciliation(ctx, r)
}

func dedupe(ids []TransactionID) []TransactionID {
	out := make([]TransactionID, 0, len(ids))
	for _, id := range ids {
		out = appendUnique(out, id)
	}
	return out
}
