package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY - Sum type over balance-affecting transactions
// =============================================================================

// Kind identifies an entry variant. LiabilityPayment and OpeningBalance are
// refinements of Expenditure and Income; Kind() derives them from the row.
type Kind string

const (
	KindIncome           Kind = "income"
	KindExpenditure      Kind = "expenditure"
	KindTransfer         Kind = "transfer"
	KindLiabilityPayment Kind = "liability_payment"
	KindOpeningBalance   Kind = "opening_balance"
)

// Leg is the signed balance effect an entry has on one account.
type Leg struct {
	AccountID AccountID
	Delta     decimal.Decimal
}

// Entry is implemented by *Income, *Expenditure and *Transfer only.
//
// Amount is always strictly positive. Direction is carried by the variant:
// Legs() turns the positive amount into signed per-account deltas.
type Entry interface {
	Header() EntryHeader
	Kind() Kind
	Legs() []Leg
	Validate() error
	entry()
}

// EntryHeader holds the fields every variant shares.
type EntryHeader struct {
	ID        TransactionID
	OrgID     OrgID
	Date      time.Time
	Amount    decimal.Decimal
	CreatedAt time.Time
}

func (h EntryHeader) Header() EntryHeader { return h }

func (h EntryHeader) validate() error {
	if !h.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero, got %s", h.Amount)
	}
	if h.Date.IsZero() {
		return invalid("date", "is required")
	}
	return nil
}

// ReconcileMark is carried by entries that can appear on a bank statement.
type ReconcileMark struct {
	IsReconciled bool
	ReconciledIn ReconciliationID
}

// =============================================================================
// INCOME
// =============================================================================

type Income struct {
	EntryHeader
	ReconcileMark
	AccountID         AccountID
	Source            string
	Category          string
	Method            string
	MemberID          MemberID
	LinkedAssetID     AssetID
	LinkedLiabilityID LiabilityID
}

func (*Income) entry() {}

func (i *Income) Kind() Kind {
	if i.IsOpeningBalance() {
		return KindOpeningBalance
	}
	return KindIncome
}

// IsOpeningBalance reports whether the row only documents an account's
// opening balance. Such rows never move the balance.
func (i *Income) IsOpeningBalance() bool {
	return strings.EqualFold(strings.TrimSpace(i.Category), CategoryOpeningBalance)
}

func (i *Income) Legs() []Leg {
	if i.IsOpeningBalance() {
		return nil
	}
	return []Leg{{AccountID: i.AccountID, Delta: i.Amount}}
}

func (i *Income) Validate() error {
	if err := i.EntryHeader.validate(); err != nil {
		return err
	}
	if i.AccountID == "" {
		return invalid("account_id", "is required")
	}
	if strings.TrimSpace(i.Category) == "" {
		return invalid("category", "is required")
	}
	return nil
}

// =============================================================================
// EXPENDITURE
// =============================================================================

type Expenditure struct {
	EntryHeader
	ReconcileMark
	AccountID         AccountID
	Description       string
	Category          string
	Method            string
	LinkedLiabilityID LiabilityID
}

func (*Expenditure) entry() {}

func (e *Expenditure) Kind() Kind {
	if e.LinkedLiabilityID != "" {
		return KindLiabilityPayment
	}
	return KindExpenditure
}

func (e *Expenditure) Legs() []Leg {
	return []Leg{{AccountID: e.AccountID, Delta: e.Amount.Neg()}}
}

func (e *Expenditure) Validate() error {
	if err := e.EntryHeader.validate(); err != nil {
		return err
	}
	if e.AccountID == "" {
		return invalid("account_id", "is required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return invalid("category", "is required")
	}
	return nil
}

// =============================================================================
// TRANSFER
// =============================================================================

type Transfer struct {
	EntryHeader
	FromAccountID AccountID
	ToAccountID   AccountID
	Description   string
}

func (*Transfer) entry() {}

func (t *Transfer) Kind() Kind { return KindTransfer }

func (t *Transfer) Legs() []Leg {
	return []Leg{
		{AccountID: t.FromAccountID, Delta: t.Amount.Neg()},
		{AccountID: t.ToAccountID, Delta: t.Amount},
	}
}

func (t *Transfer) Validate() error {
	if err := t.EntryHeader.validate(); err != nil {
		return err
	}
	if t.FromAccountID == "" {
		return invalid("from_account_id", "is required")
	}
	if t.ToAccountID == "" {
		return invalid("to_account_id", "is required")
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccountTransfer
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Accounts returns the distinct accounts an entry moves.
func Accounts(e Entry) []AccountID {
	var ids []AccountID
	for _, l := range e.Legs() {
		ids = appendUnique(ids, l.AccountID)
	}
	// Opening balance rows have no legs but still belong to an account.
	if in, ok := e.(*Income); ok && len(ids) == 0 {
		ids = append(ids, in.AccountID)
	}
	return ids
}

// CategoryOf returns the category of incomes and expenditures, "" otherwise.
func CategoryOf(e Entry) string {
	switch v := e.(type) {
	case *Income:
		return v.Category
	case *Expenditure:
		return v.Category
	}
	return ""
}

// MarkOf returns the reconciliation mark of incomes and expenditures.
func MarkOf(e Entry) (ReconcileMark, bool) {
	switch v := e.(type) {
	case *Income:
		return v.ReconcileMark, true
	case *Expenditure:
		return v.ReconcileMark, true
	}
	return ReconcileMark{}, false
}

// withMark returns a copy of e carrying m. Transfers are returned unchanged.
func withMark(e Entry, m ReconcileMark) Entry {
	switch v := e.(type) {
	case *Income:
		c := *v
		c.ReconcileMark = m
		return &c
	case *Expenditure:
		c := *v
		c.ReconcileMark = m
		return &c
	}
	return e
}

// CloneEntry returns a shallow copy so callers can edit without aliasing
// rows held by a store.
func CloneEntry(e Entry) Entry {
	switch v := e.(type) {
	case *Income:
		c := *v
		return &c
	case *Expenditure:
		c := *v
		return &c
	case *Transfer:
		c := *v
		return &c
	}
	return e
}

func appendUnique[T comparable](xs []T, x T) []T {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
