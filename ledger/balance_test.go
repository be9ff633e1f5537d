package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// BALANCE IDENTITY
// =============================================================================

func TestBalance_ExampleScenario(t *testing.T) {
	// GIVEN: Account A opened with 100, account B with 0
	// WHEN: Income 50, expenditure 30, transfer A→B 20, then the transfer is deleted
	// THEN: Balances follow 150 → 120 → (100, 20) → (120, 0)

	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Tithe", ledger.CategoryIncome)
	mustCategory(t, svc, "Utilities", ledger.CategoryExpense)
	a := mustAccount(t, svc, "Main", "100")
	b := mustAccount(t, svc, "Savings", "0")
	assertDecimal(t, "100", balanceOf(t, svc, a.ID))

	mustIncome(t, svc, a.ID, "Tithe", "50", day(2025, time.March, 2))
	assertDecimal(t, "150", balanceOf(t, svc, a.ID))

	mustExpenditure(t, svc, a.ID, "Utilities", "30", day(2025, time.March, 3))
	assertDecimal(t, "120", balanceOf(t, svc, a.ID))

	tr, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		Date:          day(2025, time.March, 4),
		Amount:        dec("20"),
	})
	require.NoError(t, err)
	assertDecimal(t, "100", balanceOf(t, svc, a.ID))
	assertDecimal(t, "20", balanceOf(t, svc, b.ID))

	require.NoError(t, svc.DeleteTransaction(ctx, tr.ID))
	assertDecimal(t, "120", balanceOf(t, svc, a.ID))
	assertDecimal(t, "0", balanceOf(t, svc, b.ID))

	assertBalanceIdentity(t, svc, a.ID)
	assertBalanceIdentity(t, svc, b.ID)
}

func TestBalance_OpeningBalanceRowDoesNotMoveBalance(t *testing.T) {
	// GIVEN: A new account with an opening balance of 250
	// WHEN: Listing its transactions
	// THEN: One "Opening Balance" income documents it, and the balance is 250, not 500

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "250")

	entries, err := svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindOpeningBalance, entries[0].Kind())
	assert.Empty(t, entries[0].Legs())
	assertDecimal(t, "250", balanceOf(t, svc, a.ID))

	cats, err := svc.ListCategories(ctx, ledger.CategoryIncome)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, ledger.CategoryOpeningBalance, cats[0].Name)
}

func TestBalance_IdentityHoldsAcrossUpdatesAndDeletes(t *testing.T) {
	// GIVEN: Two accounts with mixed history
	// WHEN: Incomes, expenditures and transfers are edited and removed
	// THEN: The persisted balance always equals the derived sum

	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	mustCategory(t, svc, "Rent", ledger.CategoryExpense)
	mustCategory(t, svc, "Repairs", ledger.CategoryExpense)
	a := mustAccount(t, svc, "Main", "500")
	b := mustAccount(t, svc, "Petty cash", "40")

	in := mustIncome(t, svc, a.ID, "Offering", "120", day(2025, time.April, 6))
	ex := mustExpenditure(t, svc, a.ID, "Rent", "200", day(2025, time.April, 7))
	tr, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
		FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, time.April, 8), Amount: dec("60"),
	})
	require.NoError(t, err)

	// Move the income to B and raise it.
	_, err = svc.UpdateIncome(ctx, ledger.UpdateIncome{
		ID: in.ID, AccountID: b.ID, Date: in.Date, Category: "Offering", Amount: dec("150"),
	})
	require.NoError(t, err)

	// Recategorize and shrink the expenditure.
	_, err = svc.UpdateExpenditure(ctx, ledger.UpdateExpenditure{
		ID: ex.ID, AccountID: a.ID, Date: ex.Date, Category: "Repairs", Amount: dec("80"),
	})
	require.NoError(t, err)

	// Reverse the transfer direction.
	_, err = svc.UpdateTransfer(ctx, ledger.UpdateTransfer{
		ID: tr.ID, FromAccountID: b.ID, ToAccountID: a.ID, Date: tr.Date, Amount: dec("25"),
	})
	require.NoError(t, err)

	assertDecimal(t, "445", balanceOf(t, svc, a.ID)) // 500 − 80 + 25
	assertDecimal(t, "165", balanceOf(t, svc, b.ID)) // 40 + 150 − 25
	assertBalanceIdentity(t, svc, a.ID)
	assertBalanceIdentity(t, svc, b.ID)

	require.NoError(t, svc.DeleteTransaction(ctx, in.ID))
	require.NoError(t, svc.DeleteTransaction(ctx, ex.ID))
	assertDecimal(t, "525", balanceOf(t, svc, a.ID))
	assertDecimal(t, "15", balanceOf(t, svc, b.ID))
	assertBalanceIdentity(t, svc, a.ID)
	assertBalanceIdentity(t, svc, b.ID)
}

func TestBalance_RecalculateCorrectsDrift(t *testing.T) {
	// GIVEN: An account whose persisted balance was corrupted behind the ledger's back
	// WHEN: Recalculating all balances
	// THEN: The balance is rebuilt from history and the drift is reported

	svc, st := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	a := mustAccount(t, svc, "Main", "100")
	b := mustAccount(t, svc, "Other", "10")
	mustIncome(t, svc, a.ID, "Offering", "40", day(2025, time.May, 4))

	corrupted, err := st.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	corrupted.Balance = dec("999")
	require.NoError(t, st.UpdateAccount(ctx, corrupted))

	drifted, err := svc.RecalculateAllBalances(ctx)
	require.NoError(t, err)
	require.Len(t, drifted, 1, "only the corrupted account drifted")
	assert.Equal(t, a.ID, drifted[0].AccountID)
	assertDecimal(t, "999", drifted[0].Previous)
	assertDecimal(t, "140", drifted[0].Recomputed)
	assertDecimal(t, "-859", drifted[0].Drift())

	assertDecimal(t, "140", balanceOf(t, svc, a.ID))
	assertDecimal(t, "10", balanceOf(t, svc, b.ID))

	c, err := svc.RecalculateBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, c.Drift().IsZero(), "second pass finds nothing")
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransfer_InsufficientBalance_ChangesNothing(t *testing.T) {
	// GIVEN: A holds 100
	// WHEN: Transferring 150 from A to B
	// THEN: InsufficientBalance, both balances unchanged, no transfer row

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	b := mustAccount(t, svc, "Savings", "5")

	_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
		FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, time.June, 1), Amount: dec("150"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ledger.ErrPartialFailure, "rejected before any write")

	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, a.ID, ib.AccountID)
	assertDecimal(t, "50", ib.Shortfall)

	assertDecimal(t, "100", balanceOf(t, svc, a.ID))
	assertDecimal(t, "5", balanceOf(t, svc, b.ID))

	transfers, err := svc.ListTransactions(ctx, ledger.EntryFilter{Kinds: []ledger.Kind{ledger.KindTransfer}})
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestTransfer_SameAccount_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	a := mustAccount(t, svc, "Main", "100")

	_, err := svc.CreateTransfer(context.Background(), ledger.CreateTransfer{
		FromAccountID: a.ID, ToAccountID: a.ID, Date: day(2025, time.June, 1), Amount: dec("10"),
	})
	assert.ErrorIs(t, err, ledger.ErrSameAccountTransfer)
	assert.True(t, ledger.IsClientError(err))
}

func TestTransfer_CurrencyMismatch_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	usd, err := svc.CreateAccount(ctx, ledger.CreateAccount{
		Name: "Dollar", Type: ledger.AccountBank, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", usd.Currency)

	_, err = svc.CreateTransfer(ctx, ledger.CreateTransfer{
		FromAccountID: a.ID, ToAccountID: usd.ID, Date: day(2025, time.June, 1), Amount: dec("10"),
	})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
	assertDecimal(t, "100", balanceOf(t, svc, a.ID))
}

func TestTransfer_UpdateCountsReversedAmount(t *testing.T) {
	// GIVEN: A had 100 and already sent 80 to B (A=20)
	// WHEN: Raising the transfer to 100
	// THEN: Allowed, because reversing the old 80 makes 100 available

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	b := mustAccount(t, svc, "Savings", "0")
	tr, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
		FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, time.June, 1), Amount: dec("80"),
	})
	require.NoError(t, err)

	_, err = svc.UpdateTransfer(ctx, ledger.UpdateTransfer{
		ID: tr.ID, FromAccountID: a.ID, ToAccountID: b.ID, Date: tr.Date, Amount: dec("100"),
	})
	require.NoError(t, err)
	assertDecimal(t, "0", balanceOf(t, svc, a.ID))
	assertDecimal(t, "100", balanceOf(t, svc, b.ID))

	_, err = svc.UpdateTransfer(ctx, ledger.UpdateTransfer{
		ID: tr.ID, FromAccountID: a.ID, ToAccountID: b.ID, Date: tr.Date, Amount: dec("101"),
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assertDecimal(t, "0", balanceOf(t, svc, a.ID))
	assertDecimal(t, "100", balanceOf(t, svc, b.ID))
}

func TestTransfer_SecondLegFailure_RollsBackFirstLeg(t *testing.T) {
	// GIVEN: A store that fails when crediting B
	// WHEN: Transferring A→B, with and without store transactions
	// THEN: PartialFailure is returned and neither balance nor the row survives

	cases := []struct {
		name  string
		build func(t *testing.T) (setup *ledger.Service, faulty func(b ledger.AccountID) *ledger.Service)
	}{
		{
			name: "compensating journal",
			build: func(t *testing.T) (*ledger.Service, func(ledger.AccountID) *ledger.Service) {
				svc, mem := newCompensatingService(t)
				return svc, func(b ledger.AccountID) *ledger.Service {
					return ledger.NewService(&faultyStore{Store: mem, failAccountUpdate: b}, testOrg)
				}
			},
		},
		{
			name: "store transaction",
			build: func(t *testing.T) (*ledger.Service, func(ledger.AccountID) *ledger.Service) {
				svc, txm := newTestService(t)
				return svc, func(b ledger.AccountID) *ledger.Service {
					return ledger.NewService(&faultyTxStore{TxMemory: txm, faults: &faultyStore{failAccountUpdate: b}}, testOrg)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			setup, faultyFor := tc.build(t)

			a := mustAccount(t, setup, "Main", "100")
			b := mustAccount(t, setup, "Savings", "0")
			svc := faultyFor(b.ID)

			_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
				FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, time.June, 1), Amount: dec("30"),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrPartialFailure)
			assert.ErrorIs(t, err, errInjected)

			assertDecimal(t, "100", balanceOf(t, setup, a.ID))
			assertDecimal(t, "0", balanceOf(t, setup, b.ID))
			transfers, err := setup.ListTransactions(ctx, ledger.EntryFilter{Kinds: []ledger.Kind{ledger.KindTransfer}})
			require.NoError(t, err)
			assert.Empty(t, transfers)
		})
	}
}

func TestTransfer_ConcurrentSpendSerializesPerAccount(t *testing.T) {
	// GIVEN: A holds 25
	// WHEN: 50 goroutines each transfer 1 from A to B at once
	// THEN: Exactly 25 succeed, the rest get InsufficientBalance, A ends at 0

	for name, build := range map[string]func(t *testing.T) *ledger.Service{
		"tx store":     func(t *testing.T) *ledger.Service { s, _ := newTestService(t); return s },
		"journal only": func(t *testing.T) *ledger.Service { s, _ := newCompensatingService(t); return s },
	} {
		t.Run(name, func(t *testing.T) {
			svc := build(t)
			ctx := context.Background()
			a := mustAccount(t, svc, "Main", "25")
			b := mustAccount(t, svc, "Savings", "0")

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				ok, short int
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
						FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, time.June, 1), Amount: dec("1"),
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, ledger.ErrInsufficientBalance):
						short++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 25, ok)
			assert.Equal(t, 25, short)
			assertDecimal(t, "0", balanceOf(t, svc, a.ID))
			assertDecimal(t, "25", balanceOf(t, svc, b.ID))
			assertBalanceIdentity(t, svc, a.ID)
		})
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidation_RejectedBeforeAnyWrite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	a := mustAccount(t, svc, "Main", "100")

	tests := []struct {
		name string
		run  func() error
	}{
		{"zero income", func() error {
			_, err := svc.CreateIncome(ctx, ledger.CreateIncome{AccountID: a.ID, Date: day(2025, 1, 5), Category: "Offering", Amount: dec("0")})
			return err
		}},
		{"negative expenditure", func() error {
			_, err := svc.CreateExpenditure(ctx, ledger.CreateExpenditure{AccountID: a.ID, Date: day(2025, 1, 5), Category: "Offering", Amount: dec("-5")})
			return err
		}},
		{"missing account", func() error {
			_, err := svc.CreateIncome(ctx, ledger.CreateIncome{Date: day(2025, 1, 5), Category: "Offering", Amount: dec("5")})
			return err
		}},
		{"missing date", func() error {
			_, err := svc.CreateIncome(ctx, ledger.CreateIncome{AccountID: a.ID, Category: "Offering", Amount: dec("5")})
			return err
		}},
		{"zero transfer", func() error {
			_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{FromAccountID: a.ID, ToAccountID: "other", Date: day(2025, 1, 5)})
			return err
		}},
		{"unknown account type", func() error {
			_, err := svc.CreateAccount(ctx, ledger.CreateAccount{Name: "X", Type: "crypto", Currency: "KES"})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, ledger.ErrValidation)
			assert.NotErrorIs(t, err, ledger.ErrPartialFailure)
		})
	}

	entries, err := svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: a.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the opening balance row")
	assertDecimal(t, "100", balanceOf(t, svc, a.ID))
}

func TestIncome_UnknownCategoryOrReservedName_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustAccount(t, svc, "Main", "0")

	_, err := svc.CreateIncome(ctx, ledger.CreateIncome{AccountID: a.ID, Date: day(2025, 1, 5), Category: "Nope", Amount: dec("5")})
	assert.True(t, ledger.IsNotFound(err))

	_, err = svc.CreateIncome(ctx, ledger.CreateIncome{AccountID: a.ID, Date: day(2025, 1, 5), Category: "asset disposal", Amount: dec("5")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.CreateExpenditure(ctx, ledger.CreateExpenditure{AccountID: a.ID, Date: day(2025, 1, 5), Category: "Liabilities", Amount: dec("5")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccount_UpdateOpeningBalanceShiftsBalance(t *testing.T) {
	// GIVEN: Account opened at 100 with a 50 income on top
	// WHEN: Correcting the opening balance to 160
	// THEN: Balance moves by +60 and the opening row follows

	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	a := mustAccount(t, svc, "Main", "100")
	mustIncome(t, svc, a.ID, "Offering", "50", day(2025, 2, 2))

	opening := dec("160")
	updated, err := svc.UpdateAccount(ctx, ledger.UpdateAccount{ID: a.ID, Name: "Main account", OpeningBalance: &opening})
	require.NoError(t, err)
	assert.Equal(t, "Main account", updated.Name)
	assertDecimal(t, "210", updated.Balance)

	rows, err := svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: a.ID, Kinds: []ledger.Kind{ledger.KindOpeningBalance}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDecimal(t, "160", rows[0].Header().Amount)
	assertBalanceIdentity(t, svc, a.ID)

	zero := dec("0")
	_, err = svc.UpdateAccount(ctx, ledger.UpdateAccount{ID: a.ID, OpeningBalance: &zero})
	require.NoError(t, err)
	rows, err = svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: a.ID, Kinds: []ledger.Kind{ledger.KindOpeningBalance}})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assertDecimal(t, "50", balanceOf(t, svc, a.ID))
}

func TestAccount_DeleteInUse_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	used := mustAccount(t, svc, "Main", "100")
	unused := mustAccount(t, svc, "Spare", "10")
	mustIncome(t, svc, used.ID, "Offering", "5", day(2025, 2, 2))

	err := svc.DeleteAccount(ctx, used.ID)
	assert.ErrorIs(t, err, ledger.ErrAccountInUse)
	assert.True(t, ledger.IsConflict(err))

	require.NoError(t, svc.DeleteAccount(ctx, unused.ID))
	_, err = svc.GetAccount(ctx, unused.ID)
	assert.True(t, ledger.IsNotFound(err))

	rows, err := svc.ListTransactions(ctx, ledger.EntryFilter{AccountID: unused.ID})
	require.NoError(t, err)
	assert.Empty(t, rows, "opening row goes with the account")
}

func TestAccount_CompensatingStoreBehavesLikeTx(t *testing.T) {
	// GIVEN: The same scenario on a store without transactions
	// THEN: Balances match the transactional store

	svc, _ := newCompensatingService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Offering", ledger.CategoryIncome)
	a := mustAccount(t, svc, "Main", "100")
	b := mustAccount(t, svc, "Savings", "0")
	mustIncome(t, svc, a.ID, "Offering", "50", day(2025, 3, 2))
	_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{FromAccountID: a.ID, ToAccountID: b.ID, Date: day(2025, 3, 3), Amount: dec("70")})
	require.NoError(t, err)

	assertDecimal(t, "80", balanceOf(t, svc, a.ID))
	assertDecimal(t, "70", balanceOf(t, svc, b.ID))
}
