package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func TestBudget_SpentFollowsExpenditures(t *testing.T) {
	// GIVEN: Monthly, quarterly and yearly budgets for one category
	// WHEN: Expenditures are recorded, edited and deleted
	// THEN: Each budget's spent is the sum of expenditures in its window

	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	mustCategory(t, svc, "Fuel", ledger.CategoryExpense)
	mustExpenditure(t, svc, a.ID, "Fuel", "20", day(2025, 2, 10))

	march, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "fuel", Period: "2025-03", Budgeted: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, "Fuel", march.Category)
	q1, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Fuel", Period: "2025-q1", Budgeted: dec("300")})
	require.NoError(t, err)
	assert.Equal(t, "2025-Q1", q1.Period)
	year, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Fuel", Period: "2025", Budgeted: dec("1000")})
	require.NoError(t, err)
	assertDecimal(t, "20", year.Spent)

	ex := mustExpenditure(t, svc, a.ID, "Fuel", "35", day(2025, 3, 31))

	spent := func(id ledger.BudgetID) string {
		b, err := svc.GetBudget(ctx, id)
		require.NoError(t, err)
		return b.Spent.String()
	}
	assert.Equal(t, "35", spent(march.ID))
	assert.Equal(t, "55", spent(q1.ID))
	assert.Equal(t, "55", spent(year.ID))

	// Moving the expenditure into April leaves March and Q1.
	_, err = svc.UpdateExpenditure(ctx, ledger.UpdateExpenditure{
		ID: ex.ID, AccountID: a.ID, Date: day(2025, 4, 1), Category: "Fuel", Amount: dec("35"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0", spent(march.ID))
	assert.Equal(t, "20", spent(q1.ID))
	assert.Equal(t, "55", spent(year.ID))

	require.NoError(t, svc.DeleteTransaction(ctx, ex.ID))
	assert.Equal(t, "20", spent(year.ID))

	b, err := svc.GetBudget(ctx, year.ID)
	require.NoError(t, err)
	assertDecimal(t, "980", b.Remaining())
}

func TestBudget_CountsLiabilityPayments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "1000")
	l := newLiability(t, svc, "500")
	_, err := svc.EnsureSystemCategories(ctx)
	require.NoError(t, err)

	b, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: ledger.CategoryLiabilities, Period: "2025", Budgeted: dec("500")})
	require.NoError(t, err)

	_, err = svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{LiabilityID: l.ID, AccountID: a.ID, Date: day(2025, 6, 1), Amount: dec("120")})
	require.NoError(t, err)

	b, err = svc.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assertDecimal(t, "120", b.Spent)
}

func TestBudget_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCategory(t, svc, "Fuel", ledger.CategoryExpense)
	mustCategory(t, svc, "Tithe", ledger.CategoryIncome)

	_, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Fuel", Period: "2025", Budgeted: dec("10")})
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  ledger.CreateBudget
		is   error
	}{
		{"invalid period", ledger.CreateBudget{Category: "Fuel", Period: "2025-13"}, ledger.ErrInvalidPeriod},
		{"quarter out of range", ledger.CreateBudget{Category: "Fuel", Period: "2025-Q5"}, ledger.ErrInvalidPeriod},
		{"negative amount", ledger.CreateBudget{Category: "Fuel", Period: "2026", Budgeted: dec("-1")}, ledger.ErrValidation},
		{"duplicate period", ledger.CreateBudget{Category: "Fuel", Period: " 2025 "}, ledger.ErrValidation},
		{"income category", ledger.CreateBudget{Category: "Tithe", Period: "2025"}, ledger.ErrEntityNotFound},
		{"missing category", ledger.CreateBudget{Period: "2025"}, ledger.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBudget(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.is)
		})
	}

	budgets, err := svc.ListBudgets(ctx, "Fuel")
	require.NoError(t, err)
	assert.Len(t, budgets, 1)
}

func TestBudget_RecomputeRepairsDrift(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	a := mustAccount(t, svc, "Main", "100")
	mustCategory(t, svc, "Fuel", ledger.CategoryExpense)
	mustExpenditure(t, svc, a.ID, "Fuel", "12.50", day(2025, 5, 5))
	b, err := svc.CreateBudget(ctx, ledger.CreateBudget{Category: "Fuel", Period: "2025-05", Budgeted: dec("50")})
	require.NoError(t, err)

	drifted := b
	drifted.Spent = dec("999")
	require.NoError(t, mem.UpdateBudget(ctx, drifted))

	got, err := svc.RecomputeSpent(ctx, "fuel", "2025-05")
	require.NoError(t, err)
	assertDecimal(t, "12.50", got.Spent)

	_, err = svc.RecomputeSpent(ctx, "Fuel", "2025-06")
	assert.True(t, ledger.IsNotFound(err))

	got, err = svc.RecomputeBudget(ctx, b.ID)
	require.NoError(t, err)
	assertDecimal(t, "12.5", got.Spent)
}
