package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
)

func (s *testServer) loadScenario(id string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) accountsByName() map[string]AccountDTO {
	s.t.Helper()
	out := make(map[string]AccountDTO)
	for _, a := range expect[[]AccountDTO](s, http.StatusOK, http.MethodGet, "/api/accounts", nil) {
		out[a.Name] = a
	}
	return out
}

func TestScenarios_EveryListedScenarioHasValidBooks(t *testing.T) {
	require.Len(t, scenarioBooks, len(scenarios))
	for _, sc := range scenarios {
		doc, ok := scenarioBooks[sc.ID]
		require.True(t, ok, sc.ID)
		_, err := factory.Parse([]byte(doc))
		assert.NoError(t, err, sc.ID)
	}
}

func TestScenarios_LoadEach(t *testing.T) {
	s := setupTestServer(t)

	listed := expect[[]ScenarioDTO](s, http.StatusOK, http.MethodGet, "/api/scenarios", nil)
	require.Len(t, listed, len(scenarios))

	for _, sc := range listed {
		t.Run(sc.ID, func(t *testing.T) {
			s.loadScenario(sc.ID)
			current := expect[map[string]string](s, http.StatusOK, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, sc.ID, current["scenario_id"])

			// Books loaded by replaying commands never drift.
			drift := expect[[]BalanceCorrectionDTO](s, http.StatusOK, http.MethodPost, "/api/admin/recalculate", nil)
			assert.Empty(t, drift)
		})
	}
}

func TestScenario_ParishQuarter(t *testing.T) {
	// GIVEN: The parish quarter scenario
	// WHEN: Loaded
	// THEN: Balances include the M-Pesa sweep and budgets roll up Q1 spend

	s := setupTestServer(t)
	s.loadScenario("parish-quarter")

	accounts := s.accountsByName()
	require.Len(t, accounts, 3)
	assertAmount(t, "52300", accounts["Main Bank Account"].Balance)
	assertAmount(t, "500", accounts["M-Pesa Till"].Balance)
	assertAmount(t, "2300", accounts["Petty Cash"].Balance)

	utilities := expect[[]BudgetDTO](s, http.StatusOK, http.MethodGet, "/api/budgets?category=Utilities", nil)
	require.Len(t, utilities, 1)
	assertAmount(t, "8100", utilities[0].Spent)
	assertAmount(t, "3900", utilities[0].Remaining)

	tithes := expect[[]TransactionDTO](s, http.StatusOK, http.MethodGet, "/api/transactions?category=Tithe", nil)
	require.Len(t, tithes, 2)
	for _, tx := range tithes {
		assert.NotEmpty(t, tx.MemberID)
	}
}

func TestScenario_LoanRepayment(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario("loan-repayment")

	status := make(map[string]LiabilityDTO)
	for _, l := range expect[[]LiabilityDTO](s, http.StatusOK, http.MethodGet, "/api/liabilities", nil) {
		status[l.Creditor] = l
	}
	require.Len(t, status, 2)
	assert.Equal(t, string(ledger.LiabilityPartiallyPaid), status["Sacco Lenders"].Status)
	assertAmount(t, "80000", status["Sacco Lenders"].Balance)
	assert.Equal(t, string(ledger.LiabilityPaid), status["Furniture Mart"].Status)

	assertAmount(t, "80000", s.accountsByName()["Building Fund"].Balance)

	payments := expect[[]TransactionDTO](s, http.StatusOK, http.MethodGet, "/api/transactions?kind=liability_payment", nil)
	assert.Len(t, payments, 3)
}

func TestScenario_AssetDisposal(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario("asset-disposal")

	disposals := expect[[]DisposalDTO](s, http.StatusOK, http.MethodGet, "/api/disposals", nil)
	require.Len(t, disposals, 2)
	assertAmount(t, "475000", s.accountsByName()["Main Bank Account"].Balance)

	proceeds := expect[[]TransactionDTO](s, http.StatusOK, http.MethodGet, "/api/transactions?category="+url.QueryEscape(ledger.CategoryAssetDisposal), nil)
	assert.Len(t, proceeds, 2)
}

func TestScenario_BankReconciliation(t *testing.T) {
	// GIVEN: A January statement missing one late offering
	// WHEN: The scenario is loaded
	// THEN: The reconciliation is unbalanced by exactly that offering

	s := setupTestServer(t)
	s.loadScenario("bank-reconciliation")

	recs := expect[[]ReconciliationDTO](s, http.StatusOK, http.MethodGet, "/api/reconciliations", nil)
	require.Len(t, recs, 1)
	assert.Equal(t, string(ledger.ReconciliationUnbalanced), recs[0].Status)
	assertAmount(t, "30000", recs[0].BookBalance)
	assertAmount(t, "2500", recs[0].Difference)
	assert.Len(t, recs[0].ReconciledIncomeIDs, 2)
	assert.Len(t, recs[0].ReconciledExpenditureIDs, 1)
}

func TestScenario_LoadReplacesPreviousData(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario("parish-quarter")
	s.loadScenario("asset-disposal")

	assert.Len(t, s.accountsByName(), 1)
	assert.Empty(t, expect[[]BudgetDTO](s, http.StatusOK, http.MethodGet, "/api/budgets", nil))
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.loadScenario("loan-repayment")
	expect[map[string]string](s, http.StatusOK, http.MethodPost, "/api/scenarios/reset", nil)

	assert.Empty(t, s.accountsByName())
	current := expect[map[string]string](s, http.StatusOK, http.MethodGet, "/api/scenarios/current", nil)
	assert.Empty(t, current["scenario_id"])

	// System categories are seeded again.
	cats := expect[[]CategoryDTO](s, http.StatusOK, http.MethodGet, "/api/categories", nil)
	assert.Len(t, cats, 3)
}
