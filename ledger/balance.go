/*
balance.go - Balance Invariant Engine and account commands

PURPOSE:
  The single source of truth for "what is this account worth now".
  Every entry insert, update and delete goes through applyLegs, which turns
  the entry's positive amount into signed per-account deltas.

INVARIANT:
  balance == opening_balance
           + Σ income (not "Opening Balance")
           − Σ expenditure
           + Σ transfers in − Σ transfers out

  The persisted balance is a materialized projection of that sum.
  RecalculateBalance rebuilds it from the full history and reports drift.

EXAMPLE FLOW:
  Account A opening 100
  1. Income 50        → legs [A +50]          → 150
  2. Expenditure 30   → legs [A −30]          → 120
  3. Transfer A→B 20  → legs [A −20, B +20]   → A 100, B 20
  4. Delete transfer  → reversed legs         → A 120, B 0

SEE ALSO:
  - entry.go: Legs() per variant
  - transactions.go: insertEntry / replaceEntry / removeEntry
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
// ENGINE
// =============================================================================

// applyDelta adjusts one account's persisted balance. Callers hold the
// account's lock and run inside the command's transaction.
func (s *Service) applyDelta(ctx context.Context, st Store, id AccountID, delta decimal.Decimal) error {
	a, err := st.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = s.stamp()
	return st.UpdateAccount(ctx, a)
}

// applyLegs applies (or, with reverse, undoes) every leg of an entry.
func (s *Service) applyLegs(ctx context.Context, st Store, legs []Leg, reverse bool) error {
	for _, l := range legs {
		delta := l.Delta
		if reverse {
			delta = delta.Neg()
		}
		if err := s.applyDelta(ctx, st, l.AccountID, delta); err != nil {
			return err
		}
	}
	return nil
}

// computeBalance rebuilds a balance from the opening balance and history.
func computeBalance(ctx context.Context, st Store, a Account) (decimal.Decimal, error) {
	entries, err := st.ListEntries(ctx, EntryFilter{OrgID: a.OrgID, AccountID: a.ID})
	if err != nil {
		return decimal.Zero, err
	}
	balance := a.OpeningBalance
	for _, e := range entries {
		for _, l := range e.Legs() {
			if l.AccountID == a.ID {
				balance = balance.Add(l.Delta)
			}
		}
	}
	return balance, nil
}

// BalanceCorrection reports the outcome of a recomputation.
type BalanceCorrection struct {
	AccountID  AccountID
	Previous   decimal.Decimal
	Recomputed decimal.Decimal
}

// Drift is how far the persisted balance was off.
func (c BalanceCorrection) Drift() decimal.Decimal {
	return c.Recomputed.Sub(c.Previous)
}

func (s *Service) recompute(ctx context.Context, st Store, id AccountID) (BalanceCorrection, error) {
	a, err := st.GetAccount(ctx, id)
	if err != nil {
		return BalanceCorrection{}, err
	}
	balance, err := computeBalance(ctx, st, a)
	if err != nil {
		return BalanceCorrection{}, err
	}
	c := BalanceCorrection{AccountID: id, Previous: a.Balance, Recomputed: balance}
	if !balance.Equal(a.Balance) {
		a.Balance = balance
		a.UpdatedAt = s.stamp()
		if err := st.UpdateAccount(ctx, a); err != nil {
			return c, err
		}
	}
	return c, nil
}

// RecalculateBalance rebuilds one account's balance from its history.
func (s *Service) RecalculateBalance(ctx context.Context, id AccountID) (BalanceCorrection, error) {
	var c BalanceCorrection
	err := s.run(ctx, "recalculate_balance", fixedKeys(accountKey(id)), func(st Store) error {
		var err error
		c, err = s.recompute(ctx, st, id)
		return err
	})
	if err == nil && !c.Drift().IsZero() {
		s.log.Warn().Str("account", string(id)).Str("drift", c.Drift().String()).Msg("balance drift corrected")
	}
	return c, err
}

// RecalculateAllBalances rebuilds every account of the organization and
// returns the corrections that changed something.
func (s *Service) RecalculateAllBalances(ctx context.Context) ([]BalanceCorrection, error) {
	var drifted []BalanceCorrection
	err := s.run(ctx, "recalculate_all_balances", s.allAccountKeys, func(st Store) error {
		drifted = drifted[:0]
		accounts, err := st.ListAccounts(ctx, s.org)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			c, err := s.recompute(ctx, st, a.ID)
			if err != nil {
				return err
			}
			if !c.Drift().IsZero() {
				drifted = append(drifted, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range drifted {
		s.log.Warn().Str("account", string(c.AccountID)).Str("drift", c.Drift().String()).Msg("balance drift corrected")
	}
	return drifted, nil
}

// =============================================================================
// ACCOUNT COMMANDS
// =============================================================================

type CreateAccount struct {
	Name           string      `validate:"required"`
	Type           AccountType `validate:"required"`
	Currency       string      `validate:"required"`
	OpeningBalance decimal.Decimal
	OpeningDate    time.Time // defaults to today
}

// CreateAccount opens an account. A positive opening balance is documented
// by an "Opening Balance" income row that doesn't move the balance.
func (s *Service) CreateAccount(ctx context.Context, cmd CreateAccount) (Account, error) {
	if err := checkCommand(cmd); err != nil {
		return Account{}, err
	}
	if !cmd.Type.Valid() {
		return Account{}, invalid("type", "unknown account type %q", cmd.Type)
	}
	if cmd.OpeningBalance.IsNegative() {
		return Account{}, invalid("opening_balance", "must not be negative")
	}

	now := s.stamp()
	a := Account{
		ID:             AccountID(s.newID()),
		OrgID:          s.org,
		Name:           strings.TrimSpace(cmd.Name),
		Type:           cmd.Type,
		Currency:       strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		OpeningBalance: cmd.OpeningBalance,
		Balance:        cmd.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	openedOn := cmd.OpeningDate
	if openedOn.IsZero() {
		openedOn = now
	}

	err := s.run(ctx, "create_account", fixedKeys(accountKey(a.ID)), func(st Store) error {
		if err := st.InsertAccount(ctx, a); err != nil {
			return err
		}
		if !a.OpeningBalance.IsPositive() {
			return nil
		}
		if _, err := s.ensureSystemCategory(ctx, st, CategoryIncome, CategoryOpeningBalance); err != nil {
			return err
		}
		return s.insertEntry(ctx, st, s.openingEntry(a, openedOn))
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *Service) openingEntry(a Account, date time.Time) *Income {
	return &Income{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     a.OrgID,
			Date:      Day(date),
			Amount:    a.OpeningBalance,
			CreatedAt: s.stamp(),
		},
		AccountID: a.ID,
		Source:    "Opening balance",
		Category:  CategoryOpeningBalance,
	}
}

type UpdateAccount struct {
	ID             AccountID `validate:"required"`
	Name           string
	Type           AccountType
	OpeningBalance *decimal.Decimal
}

// UpdateAccount edits descriptive fields. Changing the opening balance
// shifts the balance by the same difference and rewrites the opening row.
func (s *Service) UpdateAccount(ctx context.Context, cmd UpdateAccount) (Account, error) {
	if err := checkCommand(cmd); err != nil {
		return Account{}, err
	}
	if cmd.Type != "" && !cmd.Type.Valid() {
		return Account{}, invalid("type", "unknown account type %q", cmd.Type)
	}
	if cmd.OpeningBalance != nil && cmd.OpeningBalance.IsNegative() {
		return Account{}, invalid("opening_balance", "must not be negative")
	}

	var out Account
	err := s.run(ctx, "update_account", fixedKeys(accountKey(cmd.ID)), func(st Store) error {
		a, err := st.GetAccount(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if name := strings.TrimSpace(cmd.Name); name != "" {
			a.Name = name
		}
		if cmd.Type != "" {
			a.Type = cmd.Type
		}
		if cmd.OpeningBalance != nil && !cmd.OpeningBalance.Equal(a.OpeningBalance) {
			a.Balance = a.Balance.Add(cmd.OpeningBalance.Sub(a.OpeningBalance))
			a.OpeningBalance = *cmd.OpeningBalance
			if err := s.syncOpeningEntry(ctx, st, a); err != nil {
				return err
			}
		}
		a.UpdatedAt = s.stamp()
		out = a
		return st.UpdateAccount(ctx, a)
	})
	return out, err
}

func (s *Service) syncOpeningEntry(ctx context.Context, st Store, a Account) error {
	rows, err := st.ListEntries(ctx, EntryFilter{OrgID: a.OrgID, AccountID: a.ID, Kinds: []Kind{KindOpeningBalance}})
	if err != nil {
		return err
	}
	if !a.OpeningBalance.IsPositive() {
		for _, e := range rows {
			if err := s.removeEntry(ctx, st, e); err != nil {
				return err
			}
		}
		return nil
	}
	if len(rows) == 0 {
		if _, err := s.ensureSystemCategory(ctx, st, CategoryIncome, CategoryOpeningBalance); err != nil {
			return err
		}
		return s.insertEntry(ctx, st, s.openingEntry(a, a.CreatedAt))
	}
	in := CloneEntry(rows[0]).(*Income)
	in.Amount = a.OpeningBalance
	return st.UpdateEntry(ctx, in)
}

// DeleteAccount removes an account nothing references anymore. Opening
// balance rows go with it.
func (s *Service) DeleteAccount(ctx context.Context, id AccountID) error {
	return s.run(ctx, "delete_account", fixedKeys(accountKey(id)), func(st Store) error {
		if _, err := st.GetAccount(ctx, id); err != nil {
			return err
		}
		entries, err := st.ListEntries(ctx, EntryFilter{OrgID: s.org, AccountID: id})
		if err != nil {
			return err
		}
		var opening []Entry
		for _, e := range entries {
			if e.Kind() == KindOpeningBalance {
				opening = append(opening, e)
			}
		}
		if n := len(entries) - len(opening); n > 0 {
			return fmt.Errorf("%w: %d ledger entries reference account %s", ErrAccountInUse, n, id)
		}
		recs, err := st.ListReconciliations(ctx, s.org, id)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			return fmt.Errorf("%w: %d reconciliations reference account %s", ErrAccountInUse, len(recs), id)
		}
		disposals, err := st.ListDisposals(ctx, DisposalFilter{OrgID: s.org})
		if err != nil {
			return err
		}
		for _, d := range disposals {
			if d.AccountID == id {
				return fmt.Errorf("%w: disposal %s references account %s", ErrAccountInUse, d.ID, id)
			}
		}
		for _, e := range opening {
			if err := st.DeleteEntry(ctx, e.Header().ID); err != nil {
				return err
			}
		}
		return st.DeleteAccount(ctx, id)
	})
}

func (s *Service) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx, s.org)
}
