package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testOrg ledger.OrgID = "org-1"

func newTestService(t *testing.T, opts ...ledger.Option) (*ledger.Service, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	return ledger.NewService(st, testOrg, opts...), st
}

// newCompensatingService runs on a store without transactions, so every
// command goes through the compensating journal.
func newCompensatingService(t *testing.T, opts ...ledger.Option) (*ledger.Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return ledger.NewService(st, testOrg, opts...), st
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func mustAccount(t *testing.T, svc *ledger.Service, name, opening string) ledger.Account {
	t.Helper()
	a, err := svc.CreateAccount(context.Background(), ledger.CreateAccount{
		Name:           name,
		Type:           ledger.AccountBank,
		Currency:       "KES",
		OpeningBalance: dec(opening),
		OpeningDate:    day(2025, time.January, 1),
	})
	require.NoError(t, err)
	return a
}

func mustCategory(t *testing.T, svc *ledger.Service, name string, typ ledger.CategoryType) ledger.Category {
	t.Helper()
	c, err := svc.CreateCategory(context.Background(), ledger.CreateCategory{Name: name, Type: typ})
	require.NoError(t, err)
	return c
}

func mustIncome(t *testing.T, svc *ledger.Service, account ledger.AccountID, category, amount string, on time.Time) *ledger.Income {
	t.Helper()
	in, err := svc.CreateIncome(context.Background(), ledger.CreateIncome{
		AccountID: account,
		Date:      on,
		Source:    "Sunday service",
		Category:  category,
		Amount:    dec(amount),
		Method:    "cash",
	})
	require.NoError(t, err)
	return in
}

func mustExpenditure(t *testing.T, svc *ledger.Service, account ledger.AccountID, category, amount string, on time.Time) *ledger.Expenditure {
	t.Helper()
	ex, err := svc.CreateExpenditure(context.Background(), ledger.CreateExpenditure{
		AccountID:   account,
		Date:        on,
		Description: "Monthly bill",
		Category:    category,
		Amount:      dec(amount),
		Method:      "bank",
	})
	require.NoError(t, err)
	return ex
}

func balanceOf(t *testing.T, svc *ledger.Service, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	a, err := svc.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

// assertBalanceIdentity checks the persisted balance against
// opening + Σincome − Σexpenditure + Σin − Σout over the account's history.
func assertBalanceIdentity(t *testing.T, svc *ledger.Service, id ledger.AccountID) {
	t.Helper()
	ctx := context.Background()
	a, err := svc.GetAccount(ctx, id)
	require.NoError(t, err)
	entries, err := svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: id})
	require.NoError(t, err)

	want := a.OpeningBalance
	for _, e := range entries {
		switch v := e.(type) {
		case *ledger.Income:
			if !v.IsOpeningBalance() {
				want = want.Add(v.Amount)
			}
		case *ledger.Expenditure:
			want = want.Sub(v.Amount)
		case *ledger.Transfer:
			if v.ToAccountID == id {
				want = want.Add(v.Amount)
			}
			if v.FromAccountID == id {
				want = want.Sub(v.Amount)
			}
		}
	}
	assert.True(t, want.Equal(a.Balance), "balance identity broken for %s: persisted %s, derived %s", id, a.Balance, want)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = errors.New("injected store failure")

// faultyStore fails selected writes so rollback paths can be observed.
type faultyStore struct {
	ledger.Store
	failAccountUpdate ledger.AccountID
	failDisposal      bool
	failLiability     bool
}

func (f *faultyStore) UpdateAccount(ctx context.Context, a ledger.Account) error {
	if a.ID == f.failAccountUpdate {
		return errInjected
	}
	return f.Store.UpdateAccount(ctx, a)
}

func (f *faultyStore) InsertDisposal(ctx context.Context, d ledger.Disposal) error {
	if f.failDisposal {
		return errInjected
	}
	return f.Store.InsertDisposal(ctx, d)
}

func (f *faultyStore) UpdateLiability(ctx context.Context, l ledger.Liability) error {
	if f.failLiability {
		return errInjected
	}
	return f.Store.UpdateLiability(ctx, l)
}

// faultyTxStore injects the same faults inside WithTx.
type faultyTxStore struct {
	*store.TxMemory
	faults *faultyStore
}

func (f *faultyTxStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(st ledger.Store) error {
		view := *f.faults
		view.Store = st
		return fn(&view)
	})
}

// =============================================================================
// EVENT CAPTURE
// =============================================================================

type eventRecorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *eventRecorder) Publish(_ context.Context, e ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) named(name string) []ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.Event
	for _, e := range r.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}
