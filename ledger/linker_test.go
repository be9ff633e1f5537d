package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// DISPOSALS
// =============================================================================

func TestDisposal_RoundTripRestoresAssetAndBalance(t *testing.T) {
	// GIVEN: A projector in use and an account holding 100
	// WHEN: The projector is sold for 40, then the disposal is deleted
	// THEN: The asset is back to in_use, the balance back to 100, the income gone

	rec := &eventRecorder{}
	svc, _ := newTestService(t, ledger.WithPublisher(rec))
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "projector", Name: "Projector", Status: ledger.AssetInUse}))

	d, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{
		AssetID: "projector", AccountID: a.ID, Date: day(2025, time.July, 1), Amount: dec("40"),
	})
	require.NoError(t, err)
	assertDecimal(t, "140", balanceOf(t, svc, a.ID))

	asset, err := svc.GetAsset(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetDisposed, asset.Status)
	assert.Equal(t, ledger.AssetInUse, asset.PreviousStatus)

	in, err := svc.GetTransaction(ctx, d.IncomeID)
	require.NoError(t, err)
	income := in.(*ledger.Income)
	assert.Equal(t, ledger.CategoryAssetDisposal, income.Category)
	assert.Equal(t, ledger.AssetID("projector"), income.LinkedAssetID)
	assert.Len(t, rec.named("asset.disposed"), 1)

	require.NoError(t, svc.DeleteDisposal(ctx, d.ID))

	asset, err = svc.GetAsset(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetInUse, asset.Status)
	assert.Empty(t, asset.PreviousStatus)
	assertDecimal(t, "100", balanceOf(t, svc, a.ID))

	_, err = svc.GetTransaction(ctx, d.IncomeID)
	assert.True(t, ledger.IsNotFound(err))
	_, err = svc.GetDisposal(ctx, d.ID)
	assert.True(t, ledger.IsNotFound(err))
}

func TestDisposal_DeletingIncomeDeletesDisposal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "0")
	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "van", Name: "Van", Status: ledger.AssetUnderMaintenance}))
	d, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: "van", AccountID: a.ID, Date: day(2025, 7, 2), Amount: dec("900")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, d.IncomeID))

	_, err = svc.GetDisposal(ctx, d.ID)
	assert.True(t, ledger.IsNotFound(err))
	asset, err := svc.GetAsset(ctx, "van")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetUnderMaintenance, asset.Status)
	assertDecimal(t, "0", balanceOf(t, svc, a.ID))
}

func TestDisposal_AlreadyDisposed_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "0")
	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "chair", Name: "Chair"}))
	_, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: "chair", AccountID: a.ID, Date: day(2025, 7, 2), Amount: dec("5")})
	require.NoError(t, err)

	_, err = svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: "chair", AccountID: a.ID, Date: day(2025, 7, 3), Amount: dec("5")})
	assert.ErrorIs(t, err, ledger.ErrAssetAlreadyDisposed)
	assertDecimal(t, "5", balanceOf(t, svc, a.ID))

	_, err = svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: "ghost", AccountID: a.ID, Date: day(2025, 7, 3), Amount: dec("5")})
	assert.True(t, ledger.IsNotFound(err))
}

func TestDisposal_InsertFailure_RollsBackIncome(t *testing.T) {
	// GIVEN: A store that fails inserting the disposal row
	// WHEN: Disposing an asset
	// THEN: The already-written income and balance change are reverted

	for _, withTx := range []bool{false, true} {
		name := "compensating journal"
		if withTx {
			name = "store transaction"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var setup, svc *ledger.Service
			if withTx {
				s, txm := newTestService(t)
				setup = s
				svc = ledger.NewService(&faultyTxStore{TxMemory: txm, faults: &faultyStore{failDisposal: true}}, testOrg)
			} else {
				s, mem := newCompensatingService(t)
				setup = s
				svc = ledger.NewService(&faultyStore{Store: mem, failDisposal: true}, testOrg)
			}

			a := mustAccount(t, setup, "Main", "10")
			require.NoError(t, setup.SaveAsset(ctx, ledger.Asset{ID: "piano", Name: "Piano", Status: ledger.AssetInUse}))

			_, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: "piano", AccountID: a.ID, Date: day(2025, 7, 2), Amount: dec("300")})
			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrPartialFailure)

			assertDecimal(t, "10", balanceOf(t, setup, a.ID))
			incomes, err := setup.ListTransactions(ctx, ledger.EntryFilter{AssetID: "piano"})
			require.NoError(t, err)
			assert.Empty(t, incomes)
			asset, err := setup.GetAsset(ctx, "piano")
			require.NoError(t, err)
			assert.Equal(t, ledger.AssetInUse, asset.Status)
			assert.Empty(t, asset.PreviousStatus)
		})
	}
}

// =============================================================================
// LIABILITIES
// =============================================================================

func newLiability(t *testing.T, svc *ledger.Service, amount string) ledger.Liability {
	t.Helper()
	mustCategory(t, svc, "Loans", ledger.CategoryLiability)
	l, err := svc.CreateLiability(context.Background(), ledger.CreateLiability{
		Date: day(2025, 1, 10), Category: "loans", Creditor: "Builders Ltd", OriginalAmount: dec(amount),
	})
	require.NoError(t, err)
	assert.Equal(t, "Loans", l.Category, "category name is canonicalized")
	return l
}

func TestLiability_ConvergesToPaidAndBack(t *testing.T) {
	// GIVEN: A 300 liability and two accounts
	// WHEN: Paying 100 from A and 200 from B, then deleting both payments
	// THEN: Paid with zero balance, then Open with each account restored

	rec := &eventRecorder{}
	svc, _ := newTestService(t, ledger.WithPublisher(rec))
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	b := mustAccount(t, svc, "Building fund", "500")
	l := newLiability(t, svc, "300")
	assert.Equal(t, ledger.LiabilityOpen, l.Status())

	p1, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{
		LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 2, 1), Amount: dec("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindLiabilityPayment, p1.Kind())
	assert.Equal(t, ledger.CategoryLiabilities, p1.Category)

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LiabilityPartiallyPaid, l.Status())
	assertDecimal(t, "200", l.Balance())

	p2, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{
		LiabilityID: l.ID, AccountID: b.ID, Date: day(2025, 3, 1), Amount: dec("200"),
	})
	require.NoError(t, err)

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LiabilityPaid, l.Status())
	assert.True(t, l.Balance().IsZero())
	assertDecimal(t, "900", balanceOf(t, svc, a.ID))
	assertDecimal(t, "300", balanceOf(t, svc, b.ID))
	require.Len(t, rec.named("liability.settled"), 1)

	require.NoError(t, svc.DeleteLiabilityPayment(ctx, p1.ID))
	require.NoError(t, svc.DeleteTransaction(ctx, p2.ID))

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LiabilityOpen, l.Status())
	assert.True(t, l.AmountPaid.IsZero())
	assertDecimal(t, "1000", balanceOf(t, svc, a.ID))
	assertDecimal(t, "500", balanceOf(t, svc, b.ID))
}

func TestLiability_OverpaymentReadsAsPaid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	l := newLiability(t, svc, "100")

	_, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 2, 1), Amount: dec("130")})
	require.NoError(t, err)

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LiabilityPaid, l.Status())
	assertDecimal(t, "-30", l.Balance())
}

func TestLiability_EditingPaymentAdjustsAmountPaid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	l := newLiability(t, svc, "300")
	p, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 2, 1), Amount: dec("100")})
	require.NoError(t, err)

	_, err = svc.UpdateExpenditure(ctx, ledger.UpdateExpenditure{ID: p.ID, AccountID: a.ID, Date: p.Date, Amount: dec("250")})
	require.NoError(t, err)

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assertDecimal(t, "250", l.AmountPaid)
	assertDecimal(t, "750", balanceOf(t, svc, a.ID))

	got, err := svc.GetTransaction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryLiabilities, got.(*ledger.Expenditure).Category)
}

func TestLiability_DeleteCascadesPaymentsFirst(t *testing.T) {
	// GIVEN: A liability with two payments from different accounts
	// WHEN: Deleting the liability
	// THEN: Both payments go (balances restored), then the liability row

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	b := mustAccount(t, svc, "Other", "1000")
	l := newLiability(t, svc, "500")
	for _, acc := range []ledger.AccountID{a.ID, b.ID} {
		_, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: acc, Date: day(2025, 2, 1), Amount: dec("50")})
		require.NoError(t, err)
	}

	report, err := svc.DeleteLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Expenditures)
	assert.Equal(t, 1, report.Liabilities)

	_, err = svc.GetLiability(ctx, l.ID)
	assert.True(t, ledger.IsNotFound(err))
	assertDecimal(t, "1000", balanceOf(t, svc, a.ID))
	assertDecimal(t, "1000", balanceOf(t, svc, b.ID))
	payments, err := svc.ListTransactions(ctx, ledger.EntryFilter{LiabilityID: l.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestLiability_PaymentFailure_RollsBackExpenditure(t *testing.T) {
	// GIVEN: A store that fails updating the liability
	// WHEN: Recording a payment without store transactions
	// THEN: The expenditure and the balance change are reverted

	svc, mem := newCompensatingService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	l := newLiability(t, svc, "300")

	faulty := ledger.NewService(&faultyStore{Store: mem, failLiability: true}, testOrg)
	_, err := faulty.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 2, 1), Amount: dec("100")})
	assert.ErrorIs(t, err, ledger.ErrPartialFailure)

	assertDecimal(t, "1000", balanceOf(t, svc, a.ID))
	payments, err := svc.ListTransactions(ctx, ledger.EntryFilter{LiabilityID: l.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
}
