/*
store.go - Persistence interface for ledger rows

PURPOSE:
  Defines the interface between the ledger rules and the database.
  The Store is a plain table gateway: it never computes balances, never
  cascades, never validates business rules. All of that lives in Service.

KEY INTERFACES:
  Store:       Row access for every ledger table plus the entity store
  TxStore:     Store with atomic multi-row writes (WithTx)
  EntityStore: Assets and members, owned by the non-financial side

ATOMICITY:
  Service runs every command through TxStore.WithTx when the backend
  offers it. A backend without transactions gets a compensating journal
  instead (compensate.go): every write records its inverse, and a failed
  command replays the inverses in reverse order.

NOT FOUND:
  Get* methods return an error matching ErrEntityNotFound (see NotFound)
  when the row doesn't exist.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing and dev
  - store/sqlite/sqlite.go: Embedded SQLite
  - store/postgres/postgres.go: Hosted PostgreSQL via gorm

SEE ALSO:
  - service.go: The only caller that writes
  - compensate.go: Journal used when WithTx is unavailable
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	AccountStore
	EntryStore
	LiabilityStore
	CategoryStore
	BudgetStore
	ReconciliationStore
	DisposalStore
	EntityStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

type AccountStore interface {
	GetAccount(ctx context.Context, id AccountID) (Account, error)
	ListAccounts(ctx context.Context, org OrgID) ([]Account, error)
	InsertAccount(ctx context.Context, a Account) error
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id AccountID) error
}

type EntryStore interface {
	GetEntry(ctx context.Context, id TransactionID) (Entry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)
	InsertEntry(ctx context.Context, e Entry) error
	UpdateEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, id TransactionID) error
}

type LiabilityStore interface {
	GetLiability(ctx context.Context, id LiabilityID) (Liability, error)
	ListLiabilities(ctx context.Context, f LiabilityFilter) ([]Liability, error)
	InsertLiability(ctx context.Context, l Liability) error
	UpdateLiability(ctx context.Context, l Liability) error
	DeleteLiability(ctx context.Context, id LiabilityID) error
}

type CategoryStore interface {
	GetCategory(ctx context.Context, id CategoryID) (Category, error)
	ListCategories(ctx context.Context, org OrgID) ([]Category, error)
	InsertCategory(ctx context.Context, c Category) error
	UpdateCategory(ctx context.Context, c Category) error
	DeleteCategory(ctx context.Context, id CategoryID) error
}

type BudgetStore interface {
	GetBudget(ctx context.Context, id BudgetID) (Budget, error)
	ListBudgets(ctx context.Context, f BudgetFilter) ([]Budget, error)
	InsertBudget(ctx context.Context, b Budget) error
	UpdateBudget(ctx context.Context, b Budget) error
	DeleteBudget(ctx context.Context, id BudgetID) error
}

type ReconciliationStore interface {
	GetReconciliation(ctx context.Context, id ReconciliationID) (Reconciliation, error)
	ListReconciliations(ctx context.Context, org OrgID, account AccountID) ([]Reconciliation, error)
	InsertReconciliation(ctx context.Context, r Reconciliation) error
	UpdateReconciliation(ctx context.Context, r Reconciliation) error
	DeleteReconciliation(ctx context.Context, id ReconciliationID) error
}

type DisposalStore interface {
	GetDisposal(ctx context.Context, id DisposalID) (Disposal, error)
	ListDisposals(ctx context.Context, f DisposalFilter) ([]Disposal, error)
	InsertDisposal(ctx context.Context, d Disposal) error
	DeleteDisposal(ctx context.Context, id DisposalID) error
}

// EntityStore is the slice of the non-financial entity store the ledger
// needs: asset status for disposals and member existence for contributions.
type EntityStore interface {
	GetAsset(ctx context.Context, id AssetID) (Asset, error)
	SaveAsset(ctx context.Context, a Asset) error
	MemberExists(ctx context.Context, id MemberID) (bool, error)
	SaveMember(ctx context.Context, m Member) error
}

// =============================================================================
// FILTERS
// =============================================================================

// EntryFilter selects entries. Zero-valued fields don't filter.
type EntryFilter struct {
	OrgID            OrgID
	AccountID        AccountID // any leg, including opening balance rows
	Kinds            []Kind
	Category         string
	LiabilityID      LiabilityID
	AssetID          AssetID
	ReconciliationID ReconciliationID
	From             time.Time // inclusive
	To               time.Time // inclusive
}

// Match applies the filter in memory. SQL stores translate the same
// semantics into WHERE clauses.
func (f EntryFilter) Match(e Entry) bool {
	h := e.Header()
	if f.OrgID != "" && h.OrgID != f.OrgID {
		return false
	}
	if f.AccountID != "" {
		found := false
		for _, id := range Accounts(e) {
			if id == f.AccountID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && CategoryOf(e) != f.Category {
		return false
	}
	if f.LiabilityID != "" && linkedLiability(e) != f.LiabilityID {
		return false
	}
	if f.AssetID != "" {
		in, ok := e.(*Income)
		if !ok || in.LinkedAssetID != f.AssetID {
			return false
		}
	}
	if f.ReconciliationID != "" {
		m, ok := MarkOf(e)
		if !ok || m.ReconciledIn != f.ReconciliationID {
			return false
		}
	}
	if !f.From.IsZero() && h.Date.Before(Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && h.Date.After(Day(f.To)) {
		return false
	}
	return true
}

func linkedLiability(e Entry) LiabilityID {
	switch v := e.(type) {
	case *Income:
		return v.LinkedLiabilityID
	case *Expenditure:
		return v.LinkedLiabilityID
	}
	return ""
}

type LiabilityFilter struct {
	OrgID    OrgID
	Category string
}

type BudgetFilter struct {
	OrgID    OrgID
	Category string
}

type DisposalFilter struct {
	OrgID    OrgID
	AssetID  AssetID
	IncomeID TransactionID
}
