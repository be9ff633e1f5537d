package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY WRITE PATHS - every entry mutation funnels through these three
// =============================================================================

// insertEntry validates e, writes it, applies its legs and rolls up budgets.
func (s *Service) insertEntry(ctx context.Context, st Store, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	for _, id := range Accounts(e) {
		if _, err := st.GetAccount(ctx, id); err != nil {
			return err
		}
	}
	if err := st.InsertEntry(ctx, e); err != nil {
		return err
	}
	if err := s.applyLegs(ctx, st, e.Legs(), false); err != nil {
		return err
	}
	return s.refreshBudgets(ctx, st, e)
}

// removeEntry detaches e from its reconciliation, deletes it and reverses
// its legs.
func (s *Service) removeEntry(ctx context.Context, st Store, e Entry) error {
	if err := s.detachReconciliation(ctx, st, e); err != nil {
		return err
	}
	if err := st.DeleteEntry(ctx, e.Header().ID); err != nil {
		return err
	}
	if err := s.applyLegs(ctx, st, e.Legs(), true); err != nil {
		return err
	}
	return s.refreshBudgets(ctx, st, e)
}

// replaceEntry swaps old for updated: the old legs are reversed before the
// new ones apply. Editing amount, date or account of a reconciled entry
// takes it out of its reconciliation.
func (s *Service) replaceEntry(ctx context.Context, st Store, old, updated Entry) error {
	if err := updated.Validate(); err != nil {
		return err
	}
	for _, id := range Accounts(updated) {
		if _, err := st.GetAccount(ctx, id); err != nil {
			return err
		}
	}
	if m, ok := MarkOf(old); ok && m.IsReconciled && materiallyChanged(old, updated) {
		if err := s.detachReconciliation(ctx, st, old); err != nil {
			return err
		}
		updated = withMark(updated, ReconcileMark{})
	}
	if err := s.applyLegs(ctx, st, old.Legs(), true); err != nil {
		return err
	}
	if err := s.applyLegs(ctx, st, updated.Legs(), false); err != nil {
		return err
	}
	if err := st.UpdateEntry(ctx, updated); err != nil {
		return err
	}
	return s.refreshBudgets(ctx, st, old, updated)
}

func materiallyChanged(old, updated Entry) bool {
	oh, uh := old.Header(), updated.Header()
	if !oh.Amount.Equal(uh.Amount) || !oh.Date.Equal(uh.Date) {
		return true
	}
	return !sameKeys(accountStrings(Accounts(old)), accountStrings(Accounts(updated)))
}

func accountStrings(ids []AccountID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// checkTransferFunds rejects a transfer the source account can't cover.
// credit is what the source regains from reversing a previous version of
// the same transfer.
func checkTransferFunds(from Account, amount, credit decimal.Decimal) error {
	available := from.Balance.Add(credit)
	if available.LessThan(amount) {
		return &InsufficientBalanceError{
			AccountID: from.ID,
			Available: available,
			Requested: amount,
			Shortfall: amount.Sub(available),
		}
	}
	return nil
}

// =============================================================================
// INCOME
// =============================================================================

type CreateIncome struct {
	AccountID         AccountID `validate:"required"`
	Date              time.Time
	Source            string
	Category          string `validate:"required"`
	Amount            decimal.Decimal
	Method            string
	MemberID          MemberID
	LinkedLiabilityID LiabilityID
}

// CreateIncome records money received into an account. Incomes carrying a
// member id emit ContributionRecorded after commit.
func (s *Service) CreateIncome(ctx context.Context, cmd CreateIncome) (*Income, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	in := &Income{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     s.org,
			Date:      dayOrZero(cmd.Date),
			Amount:    cmd.Amount,
			CreatedAt: s.stamp(),
		},
		AccountID:         cmd.AccountID,
		Source:            strings.TrimSpace(cmd.Source),
		Category:          cmd.Category,
		Method:            cmd.Method,
		MemberID:          cmd.MemberID,
		LinkedLiabilityID: cmd.LinkedLiabilityID,
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var currency string
	err := s.run(ctx, "create_income", fixedKeys(entryKeys(in)...), func(st Store) error {
		if err := s.prepareIncome(ctx, st, in); err != nil {
			return err
		}
		a, err := st.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		currency = a.Currency
		return s.insertEntry(ctx, st, in)
	})
	if err != nil {
		return nil, err
	}
	if in.MemberID != "" {
		s.publish(ctx, ContributionRecorded{
			OrgID:    in.OrgID,
			IncomeID: in.ID,
			MemberID: in.MemberID,
			Amount:   in.Amount,
			Category: in.Category,
			Date:     in.Date,
			Currency: currency,
		})
	}
	return in, nil
}

// prepareIncome resolves the category to its canonical name and checks the
// member and liability references.
func (s *Service) prepareIncome(ctx context.Context, st Store, in *Income) error {
	if IsSystemCategory(CategoryIncome, in.Category) {
		return invalid("category", "%q is reserved for ledger-generated incomes", in.Category)
	}
	c, err := s.findCategory(ctx, st, CategoryIncome, in.Category)
	if err != nil {
		return err
	}
	in.Category = c.Name
	if c.TrackMembers && in.MemberID == "" {
		return invalid("member_id", "category %q tracks members", c.Name)
	}
	if in.MemberID != "" {
		ok, err := st.MemberExists(ctx, in.MemberID)
		if err != nil {
			return err
		}
		if !ok {
			return NotFound("member", in.MemberID)
		}
	}
	if in.LinkedLiabilityID != "" {
		if _, err := st.GetLiability(ctx, in.LinkedLiabilityID); err != nil {
			return err
		}
	}
	return nil
}

type UpdateIncome struct {
	ID        TransactionID `validate:"required"`
	AccountID AccountID     `validate:"required"`
	Date      time.Time
	Source    string
	Category  string `validate:"required"`
	Amount    decimal.Decimal
	Method    string
	MemberID  MemberID
}

// UpdateIncome replaces the editable fields of a user-entered income.
// Disposal and opening balance rows are managed by their own commands.
func (s *Service) UpdateIncome(ctx context.Context, cmd UpdateIncome) (*Income, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	var out *Income
	resolve := s.entryResolver(cmd.ID, fixedKeys(accountKey(cmd.AccountID)))
	err := s.run(ctx, "update_income", resolve, func(st Store) error {
		e, err := st.GetEntry(ctx, cmd.ID)
		if err != nil {
			return err
		}
		old, ok := e.(*Income)
		if !ok {
			return invalid("id", "transaction %s is a %s, not an income", cmd.ID, e.Kind())
		}
		if old.LinkedAssetID != "" || old.IsOpeningBalance() {
			return invalid("id", "income %s is managed by the ledger and can't be edited", cmd.ID)
		}
		in := CloneEntry(old).(*Income)
		in.AccountID = cmd.AccountID
		in.Date = dayOrZero(cmd.Date)
		in.Source = strings.TrimSpace(cmd.Source)
		in.Category = cmd.Category
		in.Amount = cmd.Amount
		in.Method = cmd.Method
		in.MemberID = cmd.MemberID
		if err := s.prepareIncome(ctx, st, in); err != nil {
			return err
		}
		if err := s.replaceEntry(ctx, st, old, in); err != nil {
			return err
		}
		out = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// EXPENDITURE
// =============================================================================

type CreateExpenditure struct {
	AccountID   AccountID `validate:"required"`
	Date        time.Time
	Description string
	Category    string `validate:"required"`
	Amount      decimal.Decimal
	Method      string
}

// CreateExpenditure records money spent from an account.
func (s *Service) CreateExpenditure(ctx context.Context, cmd CreateExpenditure) (*Expenditure, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	ex := &Expenditure{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     s.org,
			Date:      dayOrZero(cmd.Date),
			Amount:    cmd.Amount,
			CreatedAt: s.stamp(),
		},
		AccountID:   cmd.AccountID,
		Description: strings.TrimSpace(cmd.Description),
		Category:    cmd.Category,
		Method:      cmd.Method,
	}
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	if IsSystemCategory(CategoryExpense, ex.Category) {
		return nil, invalid("category", "%q is reserved for liability payments", ex.Category)
	}

	err := s.run(ctx, "create_expenditure", s.categoryResolver(CategoryExpense, ex.Category, accountKey(ex.AccountID)), func(st Store) error {
		c, err := s.findCategory(ctx, st, CategoryExpense, ex.Category)
		if err != nil {
			return err
		}
		ex.Category = c.Name
		return s.insertEntry(ctx, st, ex)
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

type UpdateExpenditure struct {
	ID          TransactionID `validate:"required"`
	AccountID   AccountID     `validate:"required"`
	Date        time.Time
	Description string
	Category    string
	Amount      decimal.Decimal
	Method      string
}

// UpdateExpenditure replaces the editable fields of an expenditure. For a
// liability payment the category stays "Liabilities" and the liability's
// amount paid moves by the change in amount.
func (s *Service) UpdateExpenditure(ctx context.Context, cmd UpdateExpenditure) (*Expenditure, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	var out *Expenditure
	var settled *Liability
	var extra lockResolver = fixedKeys(accountKey(cmd.AccountID))
	if cmd.Category != "" {
		extra = s.categoryResolver(CategoryExpense, cmd.Category, accountKey(cmd.AccountID))
	}
	resolve := s.entryResolver(cmd.ID, extra)

	err := s.run(ctx, "update_expenditure", resolve, func(st Store) error {
		e, err := st.GetEntry(ctx, cmd.ID)
		if err != nil {
			return err
		}
		old, ok := e.(*Expenditure)
		if !ok {
			return invalid("id", "transaction %s is a %s, not an expenditure", cmd.ID, e.Kind())
		}
		ex := CloneEntry(old).(*Expenditure)
		ex.AccountID = cmd.AccountID
		ex.Date = dayOrZero(cmd.Date)
		ex.Description = strings.TrimSpace(cmd.Description)
		ex.Amount = cmd.Amount
		ex.Method = cmd.Method

		if old.LinkedLiabilityID == "" {
			if cmd.Category == "" {
				return invalid("category", "is required")
			}
			if IsSystemCategory(CategoryExpense, cmd.Category) {
				return invalid("category", "%q is reserved for liability payments", cmd.Category)
			}
			c, err := s.findCategory(ctx, st, CategoryExpense, cmd.Category)
			if err != nil {
				return err
			}
			ex.Category = c.Name
		}

		if err := s.replaceEntry(ctx, st, old, ex); err != nil {
			return err
		}
		if old.LinkedLiabilityID != "" && !old.Amount.Equal(ex.Amount) {
			l, paid, err := s.adjustAmountPaid(ctx, st, old.LinkedLiabilityID, ex.Amount.Sub(old.Amount))
			if err != nil {
				return err
			}
			if paid {
				settled = &l
			}
		}
		out = ex
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		s.publish(ctx, settledEvent(*settled, out.Date))
	}
	return out, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

type CreateTransfer struct {
	FromAccountID AccountID `validate:"required"`
	ToAccountID   AccountID `validate:"required"`
	Date          time.Time
	Amount        decimal.Decimal
	Description   string
}

// CreateTransfer moves money between two accounts of the same currency.
// The source balance is checked under both account locks before any write.
func (s *Service) CreateTransfer(ctx context.Context, cmd CreateTransfer) (*Transfer, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	t := &Transfer{
		EntryHeader: EntryHeader{
			ID:        TransactionID(s.newID()),
			OrgID:     s.org,
			Date:      dayOrZero(cmd.Date),
			Amount:    cmd.Amount,
			CreatedAt: s.stamp(),
		},
		FromAccountID: cmd.FromAccountID,
		ToAccountID:   cmd.ToAccountID,
		Description:   strings.TrimSpace(cmd.Description),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	err := s.run(ctx, "create_transfer", fixedKeys(entryKeys(t)...), func(st Store) error {
		if err := s.checkTransfer(ctx, st, t, decimal.Zero); err != nil {
			return err
		}
		return s.insertEntry(ctx, st, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) checkTransfer(ctx context.Context, st Store, t *Transfer, credit decimal.Decimal) error {
	from, err := st.GetAccount(ctx, t.FromAccountID)
	if err != nil {
		return err
	}
	to, err := st.GetAccount(ctx, t.ToAccountID)
	if err != nil {
		return err
	}
	if from.Currency != to.Currency {
		return fmt.Errorf("%w: %s (%s) → %s (%s)", ErrCurrencyMismatch, from.ID, from.Currency, to.ID, to.Currency)
	}
	return checkTransferFunds(from, t.Amount, credit)
}

type UpdateTransfer struct {
	ID            TransactionID `validate:"required"`
	FromAccountID AccountID     `validate:"required"`
	ToAccountID   AccountID     `validate:"required"`
	Date          time.Time
	Amount        decimal.Decimal
	Description   string
}

// UpdateTransfer reverses the old transfer and applies the new one. The
// funds check counts what the source regains from the reversal.
func (s *Service) UpdateTransfer(ctx context.Context, cmd UpdateTransfer) (*Transfer, error) {
	if err := checkCommand(cmd); err != nil {
		return nil, err
	}
	var out *Transfer
	resolve := s.entryResolver(cmd.ID, fixedKeys(accountKey(cmd.FromAccountID), accountKey(cmd.ToAccountID)))
	err := s.run(ctx, "update_transfer", resolve, func(st Store) error {
		e, err := st.GetEntry(ctx, cmd.ID)
		if err != nil {
			return err
		}
		old, ok := e.(*Transfer)
		if !ok {
			return invalid("id", "transaction %s is a %s, not a transfer", cmd.ID, e.Kind())
		}
		t := CloneEntry(old).(*Transfer)
		t.FromAccountID = cmd.FromAccountID
		t.ToAccountID = cmd.ToAccountID
		t.Date = dayOrZero(cmd.Date)
		t.Amount = cmd.Amount
		t.Description = strings.TrimSpace(cmd.Description)
		if err := t.Validate(); err != nil {
			return err
		}

		credit := decimal.Zero
		for _, l := range old.Legs() {
			if l.AccountID == t.FromAccountID {
				credit = credit.Sub(l.Delta)
			}
		}
		if err := s.checkTransfer(ctx, st, t, credit); err != nil {
			return err
		}
		if err := s.replaceEntry(ctx, st, old, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// DELETE / READ
// =============================================================================

// DeleteTransaction removes any entry and reverses its balance effect.
// Linked rows route through their owners: a disposal income deletes its
// disposal (restoring the asset), a liability payment gives the amount back
// to the liability.
func (s *Service) DeleteTransaction(ctx context.Context, id TransactionID) error {
	return s.run(ctx, "delete_transaction", s.entryResolver(id, nil), func(st Store) error {
		e, err := st.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		switch v := e.(type) {
		case *Income:
			if v.LinkedAssetID != "" {
				disposals, err := st.ListDisposals(ctx, DisposalFilter{OrgID: v.OrgID, IncomeID: v.ID})
				if err != nil {
					return err
				}
				for _, d := range disposals {
					if err := s.detachDisposal(ctx, st, d); err != nil {
						return err
					}
				}
			}
		case *Expenditure:
			if v.LinkedLiabilityID != "" {
				return s.removeLiabilityPayment(ctx, st, v)
			}
		}
		return s.removeEntry(ctx, st, e)
	})
}

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// ListTransactions returns the organization's entries matching f.
func (s *Service) ListTransactions(ctx context.Context, f EntryFilter) ([]Entry, error) {
	f.OrgID = s.org
	return s.store.ListEntries(ctx, f)
}

// entryResolver locks whatever the stored entry touches plus extra.
func (s *Service) entryResolver(id TransactionID, extra lockResolver) lockResolver {
	return func(ctx context.Context) ([]string, error) {
		e, err := s.store.GetEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		keys := entryKeys(e)
		if extra != nil {
			more, err := extra(ctx)
			if err != nil {
				return nil, err
			}
			keys = append(keys, more...)
		}
		return keys, nil
	}
}

// categoryResolver locks the budget roll-up of an expense category.
func (s *Service) categoryResolver(t CategoryType, name string, extra ...string) lockResolver {
	return func(ctx context.Context) ([]string, error) {
		keys := append([]string(nil), extra...)
		if t != CategoryExpense {
			return keys, nil
		}
		canonical := name
		if c, err := s.findCategory(ctx, s.store, t, name); err == nil {
			canonical = c.Name
		}
		return append(keys, budgetKey(s.org, canonical)), nil
	}
}

func dayOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return Day(t)
}
