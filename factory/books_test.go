package factory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

const parishBooks = `
name: Parish
categories:
  - {name: Tithe, type: income, track_members: true}
  - {name: Fuel, type: expense}
  - {name: Loans, type: liability}
members:
  - {id: m-1, name: Wanjiru}
assets:
  - {id: van, name: Church van, status: in_use}
accounts:
  - {key: main, name: Main Account, type: bank, currency: KES, opening_balance: "10000", opening_date: 2025-01-01}
  - {key: cash, name: Petty Cash, type: cash, currency: KES, opening_date: 2025-01-01}
liabilities:
  - {key: roof, creditor: Builders Ltd, category: Loans, original_amount: "5000", date: 2025-01-15}
incomes:
  - {key: i1, account: main, date: 2025-02-02, amount: "1200", category: Tithe, member: m-1}
expenditures:
  - {key: e1, account: main, date: 2025-02-05, amount: 300, category: Fuel}
payments:
  - {liability: roof, account: main, date: 2025-03-01, amount: "2000"}
transfers:
  - {from: main, to: cash, date: 2025-02-06, amount: "500"}
disposals:
  - {asset: van, account: main, date: 2025-04-01, amount: "800"}
budgets:
  - {category: Fuel, period: 2025-Q1, budgeted: "1000"}
reconciliations:
  - {account: main, date: 2025-02-28, bank_balance: "10400", incomes: [i1], expenditures: [e1]}
`

func TestApply_ReplaysBooks(t *testing.T) {
	// GIVEN: A books document covering every section
	// WHEN: Applied to an empty ledger
	// THEN: Balances, linked rows and roll-ups match the document

	books, err := factory.Parse([]byte(parishBooks))
	require.NoError(t, err)
	assert.Equal(t, "Parish", books.Name)

	ctx := context.Background()
	svc := ledger.NewService(store.NewTxMemory(), "org-1")
	res, err := factory.Apply(ctx, svc, books)
	require.NoError(t, err)

	balance := func(key string) decimal.Decimal {
		a, err := svc.GetAccount(ctx, res.Accounts[key])
		require.NoError(t, err)
		return a.Balance
	}
	assert.True(t, balance("main").Equal(decimal.RequireFromString("9200")), "main: %s", balance("main"))
	assert.True(t, balance("cash").Equal(decimal.RequireFromString("500")), "cash: %s", balance("cash"))

	l, err := svc.GetLiability(ctx, res.Liabilities["roof"])
	require.NoError(t, err)
	assert.Equal(t, ledger.LiabilityPartiallyPaid, l.Status())

	asset, err := svc.GetAsset(ctx, "van")
	require.NoError(t, err)
	assert.Equal(t, ledger.AssetDisposed, asset.Status)

	require.Len(t, res.Budgets, 1)
	b, err := svc.GetBudget(ctx, res.Budgets[0])
	require.NoError(t, err)
	assert.True(t, b.Spent.Equal(decimal.RequireFromString("300")))

	require.Len(t, res.Reconciliations, 1)
	rec, err := svc.GetReconciliation(ctx, res.Reconciliations[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.ReconciliationBalanced, rec.Status())

	in, err := svc.GetTransaction(ctx, res.Entries["i1"])
	require.NoError(t, err)
	mark, ok := ledger.MarkOf(in)
	require.True(t, ok)
	assert.Equal(t, rec.ID, mark.ReconciledIn)
}

func TestParse_AcceptsJSON(t *testing.T) {
	books, err := factory.Parse([]byte(`{
		"accounts": [{"key": "main", "name": "Main", "type": "mobile_money", "currency": "KES", "opening_balance": "25"}],
		"categories": [{"name": "Offering", "type": "income"}],
		"incomes": [{"account": "main", "date": "2025-05-04", "amount": "75", "category": "Offering"}]
	}`))
	require.NoError(t, err)

	ctx := context.Background()
	svc := ledger.NewService(store.NewTxMemory(), "org-1")
	res, err := factory.Apply(ctx, svc, books)
	require.NoError(t, err)

	a, err := svc.GetAccount(ctx, res.Accounts["main"])
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("100")))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := factory.Parse([]byte(`
accounts:
  - {key: main, name: Main, type: bank, currency: KES}
  - {key: main, name: Again, type: bank, currency: KES}
incomes:
  - {account: nowhere, date: 2025-13-01, amount: "-5", category: Tithe}
payments:
  - {liability: roof, account: main, date: 2025-01-01, amount: "1"}
disposals:
  - {asset: van, account: main, date: 2025-01-01, amount: "abc"}
budgets:
  - {category: Fuel, period: 2025-Q9, budgeted: "1"}
reconciliations:
  - {account: main, date: 2025-01-31, bank_balance: "0", incomes: [ghost]}
`))
	require.Error(t, err)
	for _, want := range []string{
		`duplicate key "main"`,
		`unknown account "nowhere"`,
		`date "2025-13-01"`,
		"must be positive",
		`unknown liability "roof"`,
		`unknown asset "van"`,
		`amount "abc" is not a number`,
		"budgets[0]",
		`"ghost" is not an income key`,
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestApply_StopsAtFirstRejectedCommand(t *testing.T) {
	books, err := factory.Parse([]byte(`
categories:
  - {name: Fuel, type: expense}
accounts:
  - {key: a, name: A, type: bank, currency: KES, opening_balance: "10"}
  - {key: b, name: B, type: bank, currency: KES}
transfers:
  - {from: a, to: b, date: 2025-01-02, amount: "50"}
`))
	require.NoError(t, err)

	_, err = factory.Apply(context.Background(), ledger.NewService(store.NewTxMemory(), "org-1"), books)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.ErrorContains(t, err, "transfers[0]")
}
