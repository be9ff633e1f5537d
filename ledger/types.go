/*
Package ledger provides the financial ledger core.

PURPOSE:
  This package owns every rule that touches money: account balances,
  transfers, asset disposals, liability payments, reconciliation, category
  integrity and budget roll-ups. Outer layers (HTTP, seed files, schedulers)
  only submit commands to the Service and read rows back.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe ids so an AccountID can't be passed as a LiabilityID
  - Account: a named store of money with a derived, persisted balance
  - Liability / Disposal / Category / Budget / Reconciliation rows
  - Asset / Member: rows owned by the non-financial entity store, referenced
    by id and touched only through disposal and contribution commands

DESIGN PRINCIPLES:
  1. Derived fields are outputs: Account.Balance, Liability.AmountPaid and
     Budget.Spent are written only by the engine, never by a command
  2. Precision: decimal.Decimal for every amount
  3. Positive amounts: direction lives in the entry kind, never in the sign

SEE ALSO:
  - entry.go: Income / Expenditure / Transfer sum type
  - service.go: Command surface
  - balance.go: Balance Invariant Engine
*/
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrgID string
type AccountID string
type TransactionID string
type LiabilityID string
type AssetID string
type DisposalID string
type CategoryID string
type ReconciliationID string
type BudgetID string
type MemberID string

// NewID returns a random row identifier.
func NewID() string {
	return uuid.NewString()
}

// Day truncates t to a UTC calendar day. Ledger dates carry no time of day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountCash        AccountType = "cash"
	AccountBank        AccountType = "bank"
	AccountMobileMoney AccountType = "mobile_money"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountCash, AccountBank, AccountMobileMoney:
		return true
	}
	return false
}

// Account is a named store of money.
//
// INVARIANT:
//
//	Balance == OpeningBalance + Σ income (excluding "Opening Balance")
//	         − Σ expenditure + Σ transfers in − Σ transfers out
type Account struct {
	ID             AccountID
	OrgID          OrgID
	Name           string
	Type           AccountType
	Currency       string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// CATEGORY
// =============================================================================

type CategoryType string

const (
	CategoryIncome    CategoryType = "income"
	CategoryExpense   CategoryType = "expense"
	CategoryLiability CategoryType = "liability"
)

func (t CategoryType) Valid() bool {
	switch t {
	case CategoryIncome, CategoryExpense, CategoryLiability:
		return true
	}
	return false
}

// System category names. Rows filed under these are generated by the ledger
// itself (opening balances, disposals, liability payments).
const (
	CategoryOpeningBalance = "Opening Balance"
	CategoryAssetDisposal  = "Asset Disposal"
	CategoryLiabilities    = "Liabilities"
)

var systemCategories = map[CategoryType][]string{
	CategoryIncome:  {CategoryOpeningBalance, CategoryAssetDisposal},
	CategoryExpense: {CategoryLiabilities},
}

// IsSystemCategory reports whether name is reserved for the given type.
// Matching ignores case and surrounding whitespace.
func IsSystemCategory(t CategoryType, name string) bool {
	for _, n := range systemCategories[t] {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// SystemCategories returns the reserved names for a type.
func SystemCategories(t CategoryType) []string {
	return append([]string(nil), systemCategories[t]...)
}

type Category struct {
	ID           CategoryID
	OrgID        OrgID
	Name         string
	Type         CategoryType
	TrackMembers bool
	Description  string
	CreatedAt    time.Time
}

func (c Category) IsSystem() bool {
	return IsSystemCategory(c.Type, c.Name)
}

// =============================================================================
// LIABILITY
// =============================================================================

type LiabilityStatus string

const (
	LiabilityOpen          LiabilityStatus = "open"
	LiabilityPartiallyPaid LiabilityStatus = "partially_paid"
	LiabilityPaid          LiabilityStatus = "paid"
)

// Liability is an owed amount reduced by linked expenditure payments.
// AmountPaid is maintained by the Linker; Balance and Status are derived.
type Liability struct {
	ID             LiabilityID
	OrgID          OrgID
	Date           time.Time
	Category       string
	Creditor       string
	Description    string
	OriginalAmount decimal.Decimal
	AmountPaid     decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (l Liability) Balance() decimal.Decimal {
	return l.OriginalAmount.Sub(l.AmountPaid)
}

func (l Liability) Status() LiabilityStatus {
	switch {
	case !l.Balance().IsPositive():
		return LiabilityPaid
	case l.AmountPaid.IsPositive():
		return LiabilityPartiallyPaid
	default:
		return LiabilityOpen
	}
}

// =============================================================================
// ASSETS AND MEMBERS (owned by the entity store)
// =============================================================================

type AssetStatus string

const (
	AssetAvailable        AssetStatus = "available"
	AssetInUse            AssetStatus = "in_use"
	AssetUnderMaintenance AssetStatus = "under_maintenance"
	AssetDisposed         AssetStatus = "disposed"
)

type Asset struct {
	ID             AssetID
	OrgID          OrgID
	Name           string
	Status         AssetStatus
	PreviousStatus AssetStatus
}

type Member struct {
	ID    MemberID
	OrgID OrgID
	Name  string
}

// =============================================================================
// DISPOSAL
// =============================================================================

// Disposal records the sale or retirement of an asset. It owns exactly one
// generated Income row filed under "Asset Disposal".
type Disposal struct {
	ID        DisposalID
	OrgID     OrgID
	AssetID   AssetID
	AccountID AccountID
	Date      time.Time
	Amount    decimal.Decimal
	IncomeID  TransactionID
	Notes     string
	CreatedAt time.Time
}

// =============================================================================
// BUDGET
// =============================================================================

// Budget caps spending for an expense category over a period
// ("2025", "2025-Q2" or "2025-03"). Spent is recomputed from expenditures.
type Budget struct {
	ID        BudgetID
	OrgID     OrgID
	Category  string
	Period    string
	Budgeted  decimal.Decimal
	Spent     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Budget) Remaining() decimal.Decimal {
	return b.Budgeted.Sub(b.Spent)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationStatus string

const (
	ReconciliationBalanced   ReconciliationStatus = "balanced"
	ReconciliationUnbalanced ReconciliationStatus = "unbalanced"
)

// Reconciliation matches the book balance of an account against the bank
// statement on a date. Every entry in the four id sets is marked reconciled
// with ReconciledIn pointing back here.
type Reconciliation struct {
	ID                       ReconciliationID
	OrgID                    OrgID
	AccountID                AccountID
	Date                     time.Time
	BookBalance              decimal.Decimal
	BankBalance              decimal.Decimal
	ReconciledIncomeIDs      []TransactionID
	ReconciledExpenditureIDs []TransactionID
	AddedIncomeIDs           []TransactionID
	AddedExpenditureIDs      []TransactionID
	Notes                    string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (r Reconciliation) Difference() decimal.Decimal {
	return r.BookBalance.Sub(r.BankBalance)
}

func (r Reconciliation) Status() ReconciliationStatus {
	if r.Difference().IsZero() {
		return ReconciliationBalanced
	}
	return ReconciliationUnbalanced
}

// EntryIDs returns every entry the reconciliation marks, without duplicates.
func (r Reconciliation) EntryIDs() []TransactionID {
	seen := make(map[TransactionID]bool)
	var ids []TransactionID
	for _, set := range [][]TransactionID{
		r.ReconciledIncomeIDs, r.ReconciledExpenditureIDs,
		r.AddedIncomeIDs, r.AddedExpenditureIDs,
	} {
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Contains reports whether id is in any of the entry sets.
func (r Reconciliation) Contains(id TransactionID) bool {
	for _, e := range r.EntryIDs() {
		if e == id {
			return true
		}
	}
	return false
}

// without returns a copy of r with id removed from every set.
func (r Reconciliation) without(id TransactionID) Reconciliation {
	drop := func(ids []TransactionID) []TransactionID {
		out := make([]TransactionID, 0, len(ids))
		for _, x := range ids {
			if x != id {
				out = append(out, x)
			}
		}
		return out
	}
	r.ReconciledIncomeIDs = drop(r.ReconciledIncomeIDs)
	r.ReconciledExpenditureIDs = drop(r.ReconciledExpenditureIDs)
	r.AddedIncomeIDs = drop(r.AddedIncomeIDs)
	r.AddedExpenditureIDs = drop(r.AddedExpenditureIDs)
	return r
}
