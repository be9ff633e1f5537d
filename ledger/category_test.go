package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func categoryNamed(t *testing.T, svc *ledger.Service, typ ledger.CategoryType, name string) ledger.Category {
	t.Helper()
	all, err := svc.ListCategories(context.Background(), typ)
	require.NoError(t, err)
	for _, c := range all {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "category not found", "%s category %q", typ, name)
	return ledger.Category{}
}

// =============================================================================
// SYSTEM CATEGORY CASCADES
// =============================================================================

func TestCategory_DeleteAssetDisposal_CascadesDisposals(t *testing.T) {
	// GIVEN: Two disposed assets and an ordinary income
	// WHEN: Deleting the "Asset Disposal" category
	// THEN: Both disposals and their incomes go, assets are restored, the
	//       ordinary income and its balance effect survive

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "0")
	mustCategory(t, svc, "Tithe", ledger.CategoryIncome)
	kept := mustIncome(t, svc, a.ID, "Tithe", "10", day(2025, 5, 1))

	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "organ", Name: "Organ", Status: ledger.AssetInUse}))
	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "bus", Name: "Bus", Status: ledger.AssetAvailable}))
	for _, id := range []ledger.AssetID{"organ", "bus"} {
		_, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{AssetID: id, AccountID: a.ID, Date: day(2025, 6, 1), Amount: dec("100")})
		require.NoError(t, err)
	}
	assertDecimal(t, "210", balanceOf(t, svc, a.ID))

	sys := categoryNamed(t, svc, ledger.CategoryIncome, ledger.CategoryAssetDisposal)
	report, err := svc.DeleteCategory(ctx, sys.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CascadeReport{Incomes: 2, Disposals: 2, Categories: 1}, report)
	assert.Equal(t, 5, report.Total())

	disposals, err := svc.ListDisposals(ctx, ledger.DisposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, disposals)

	organ, err := svc.GetAsset(ctx, "organ")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetInUse, organ.Status)
	bus, err := svc.GetAsset(ctx, "bus")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetAvailable, bus.Status)

	assertDecimal(t, "10", balanceOf(t, svc, a.ID))
	_, err = svc.GetTransaction(ctx, kept.ID)
	assert.NoError(t, err)
	assertBalanceIdentity(t, svc, a.ID)
}

func TestCategory_DeleteLiabilities_RestoresAmountPaid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	l := newLiability(t, svc, "300")
	_, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 2, 1), Amount: dec("300")})
	require.NoError(t, err)

	sys := categoryNamed(t, svc, ledger.CategoryExpense, ledger.CategoryLiabilities)
	report, err := svc.DeleteCategory(ctx, sys.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expenditures)
	assert.Equal(t, 0, report.Liabilities, "the liability itself is kept")

	l, err = svc.GetLiability(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, l.AmountPaid.IsZero())
	assert.Equal(t, ledger.LiabilityOpen, l.Status())
	assertDecimal(t, "1000", balanceOf(t, svc, a.ID))
}

func TestCategory_DeleteOpeningBalance_KeepsAccountOpening(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "500")
	sys := categoryNamed(t, svc, ledger.CategoryIncome, ledger.CategoryOpeningBalance)

	report, err := svc.DeleteCategory(ctx, sys.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Incomes)

	got, err := svc.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "500", got.OpeningBalance)
	assertDecimal(t, "500", got.Balance)
}

// =============================================================================
// USER CATEGORIES
// =============================================================================

func TestCategory_DeleteInUse_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	c := mustCategory(t, svc, "Utilities", ledger.CategoryExpense)
	mustExpenditure(t, svc, a.ID, "Utilities", "10", day(2025, 2, 1))
	mustExpenditure(t, svc, a.ID, "utilities", "15", day(2025, 2, 2))

	_, err := svc.DeleteCategory(ctx, c.ID)
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	var inUse *ledger.CategoryInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Equal(t, 2, inUse.Expenditures)

	_, err = svc.GetCategory(ctx, c.ID)
	assert.NoError(t, err)
}

func TestCategory_DeleteUnused_DropsBudgets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c := mustCategory(t, svc, "Travel", ledger.CategoryExpense)
	_, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Travel", Period: "2025", Budgeted: dec("100")})
	require.NoError(t, err)

	report, err := svc.DeleteCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CascadeReport{Budgets: 1, Categories: 1}, report)

	budgets, err := svc.ListBudgets(ctx, "Travel")
	require.NoError(t, err)
	assert.Empty(t, budgets)
}

func TestCategory_SystemCategoryIsImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.EnsureSystemCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	sys := categoryNamed(t, svc, ledger.CategoryExpense, ledger.CategoryLiabilities)
	_, err = svc.UpdateCategory(ctx, ledger.UpdateCategory{ID: sys.ID, Name: "Debts"})
	assert.ErrorIs(t, err, ledger.ErrImmutableSystemCategory)
}

func TestCategory_DuplicateName_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCategory(t, svc, "Tithe", ledger.CategoryIncome)

	_, err := svc.CreateCategory(ctx, ledger.CreateCategory{Name: "  TITHE ", Type: ledger.CategoryIncome})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCategory)

	// The same name under another type is a different category.
	_, err = svc.CreateCategory(ctx, ledger.CreateCategory{Name: "Tithe", Type: ledger.CategoryExpense})
	assert.NoError(t, err)

	_, err = svc.CreateCategory(ctx, ledger.CreateCategory{Name: "Tithe", Type: "bogus"})
	assert.True(t, ledger.IsClientError(err))
}

func TestCategory_RenameCascadesToRowsAndBudgets(t *testing.T) {
	// GIVEN: An expense category with an expenditure and a budget
	// WHEN: Renaming it
	// THEN: The expenditure and budget follow; the old name is free

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	c := mustCategory(t, svc, "Power", ledger.CategoryExpense)
	ex := mustExpenditure(t, svc, a.ID, "Power", "40", day(2025, 3, 3))
	b, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Power", Period: "2025-03", Budgeted: dec("100")})
	require.NoError(t, err)

	renamed, err := svc.UpdateCategory(ctx, ledger.UpdateCategory{ID: c.ID, Name: "Electricity"})
	require.NoError(t, err)
	assert.Equal(t, "Electricity", renamed.Name)

	got, err := svc.GetTransaction(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, "Electricity", ledger.CategoryOf(got))

	b, err = svc.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Electricity", b.Category)
	assertDecimal(t, "40", b.Spent)

	_, err = svc.UpdateCategory(ctx, ledger.UpdateCategory{ID: c.ID, Name: ledger.CategoryLiabilities})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.CreateCategory(ctx, ledger.CreateCategory{Name: "Power", Type: ledger.CategoryExpense})
	assert.NoError(t, err)
}

func TestCategory_InUseCheckIsPerType(t *testing.T) {
	// GIVEN: An income and an expense category both named "Building",
	//        with one income filed under the income one
	// WHEN: Deleting each category
	// THEN: The expense category goes; the income category is in use

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "0")
	income := mustCategory(t, svc, "Building", ledger.CategoryIncome)
	expense := mustCategory(t, svc, "Building", ledger.CategoryExpense)
	mustIncome(t, svc, a.ID, "Building", "500", day(2025, 3, 1))

	report, err := svc.DeleteCategory(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CascadeReport{Categories: 1}, report)

	_, err = svc.DeleteCategory(ctx, income.ID)
	var inUse *ledger.CategoryInUseError
	require.True(t, errors.As(err, &inUse), "got %v", err)
	assert.Equal(t, 1, inUse.Incomes)
	assert.Zero(t, inUse.Expenditures)
}
