/*
scenarios.go - Demo scenarios

PURPOSE:
  Each scenario is a books document (see factory/books.go) that exercises
  one part of the ledger: budgets and member contributions, liability
  repayment, asset disposal, bank reconciliation. Loading a scenario resets
  the store and replays the document through ledger.Service, so every row
  is created by the same commands a client would send.

ENDPOINTS:
  GET  /api/scenarios          List scenarios
  GET  /api/scenarios/current  Currently loaded scenario id
  POST /api/scenarios/load     {"scenario_id": "..."}
  POST /api/scenarios/reset    Empty the store

REQUIREMENTS:
  The store must support Reset (memory, sqlite and postgres stores do).

SEE ALSO:
  - factory/books.go: Books schema and Apply
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/logging"
)

// Resetter is implemented by stores that can drop all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

var scenarios = []ScenarioDTO{
	{
		ID:          "parish-quarter",
		Name:        "Parish Quarter",
		Description: "Three accounts, member tithes, an M-Pesa sweep to the bank and Q1 budgets for utilities and outreach.",
		Category:    "budgets",
	},
	{
		ID:          "loan-repayment",
		Name:        "Loan Repayment",
		Description: "A roof loan paid in installments and a furniture debt settled in full.",
		Category:    "liabilities",
	},
	{
		ID:          "asset-disposal",
		Name:        "Asset Disposal",
		Description: "The church van and an old generator are sold; the proceeds land in the bank as income.",
		Category:    "assets",
	},
	{
		ID:          "bank-reconciliation",
		Name:        "Bank Reconciliation",
		Description: "January statement reconciled against the books with one offering not yet cleared.",
		Category:    "reconciliation",
	},
}

var scenarioBooks = map[string]string{
	"parish-quarter": `
name: Parish Quarter
categories:
  - {name: Tithe, type: income, track_members: true}
  - {name: Offering, type: income}
  - {name: Utilities, type: expense}
  - {name: Outreach, type: expense}
members:
  - {id: mem-001, name: Grace Wanjiru}
  - {id: mem-002, name: Peter Otieno}
accounts:
  - {key: bank, name: Main Bank Account, type: bank, currency: KES, opening_balance: "50000", opening_date: 2025-01-01}
  - {key: mpesa, name: M-Pesa Till, type: mobile_money, currency: KES, opening_date: 2025-01-01}
  - {key: cash, name: Petty Cash, type: cash, currency: KES, opening_balance: "2000", opening_date: 2025-01-01}
incomes:
  - {key: t1, account: mpesa, date: 2025-01-05, amount: "5000", category: Tithe, member: mem-001, method: mpesa}
  - {key: t2, account: mpesa, date: 2025-01-12, amount: "3500", category: Tithe, member: mem-002, method: mpesa}
  - {key: o1, account: cash, date: 2025-01-12, amount: "1800", category: Offering, method: cash}
  - {key: o2, account: bank, date: 2025-02-09, amount: "2400", category: Offering}
expenditures:
  - {key: x1, account: bank, date: 2025-01-20, amount: "4200", category: Utilities, description: Electricity}
  - {key: x2, account: cash, date: 2025-02-14, amount: "1500", category: Outreach, description: Food packs}
  - {key: x3, account: bank, date: 2025-03-03, amount: "3900", category: Utilities, description: Water and electricity}
transfers:
  - {from: mpesa, to: bank, date: 2025-01-31, amount: "8000", description: Month-end sweep}
budgets:
  - {category: Utilities, period: 2025-Q1, budgeted: "12000"}
  - {category: Outreach, period: 2025-Q1, budgeted: "5000"}
`,
	"loan-repayment": `
name: Loan Repayment
categories:
  - {name: Loans, type: liability}
accounts:
  - {key: bank, name: Building Fund, type: bank, currency: KES, opening_balance: "300000", opening_date: 2025-01-01}
liabilities:
  - {key: roof, creditor: Sacco Lenders, category: Loans, original_amount: "240000", date: 2025-01-10, description: Roof repair loan}
  - {key: chairs, creditor: Furniture Mart, category: Loans, original_amount: "60000", date: 2025-02-01}
payments:
  - {liability: roof, account: bank, date: 2025-02-10, amount: "80000"}
  - {liability: roof, account: bank, date: 2025-03-10, amount: "80000"}
  - {liability: chairs, account: bank, date: 2025-03-15, amount: "60000"}
`,
	"asset-disposal": `
name: Asset Disposal
assets:
  - {id: asset-van, name: Church van, status: in_use}
  - {id: asset-generator, name: Old generator, status: under_maintenance}
  - {id: asset-piano, name: Upright piano, status: available}
accounts:
  - {key: bank, name: Main Bank Account, type: bank, currency: KES, opening_balance: "10000", opening_date: 2025-01-01}
disposals:
  - {asset: asset-van, account: bank, date: 2025-04-02, amount: "450000", notes: Sold to dealer}
  - {asset: asset-generator, account: bank, date: 2025-04-20, amount: "15000"}
`,
	"bank-reconciliation": `
name: Bank Reconciliation
categories:
  - {name: Offering, type: income}
  - {name: Utilities, type: expense}
accounts:
  - {key: bank, name: Main Bank Account, type: bank, currency: KES, opening_balance: "20000", opening_date: 2025-01-01}
incomes:
  - {key: o1, account: bank, date: 2025-01-05, amount: "6000", category: Offering}
  - {key: o2, account: bank, date: 2025-01-19, amount: "4500", category: Offering}
  - {key: o3, account: bank, date: 2025-01-30, amount: "2500", category: Offering}
expenditures:
  - {key: u1, account: bank, date: 2025-01-15, amount: "3000", category: Utilities}
reconciliations:
  - {account: bank, date: 2025-01-31, bank_balance: "27500", incomes: [o1, o2], expenditures: [u1], notes: January statement}
`,
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario ID.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and replays a scenario's books.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	doc, ok := scenarioBooks[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	books, err := factory.Parse([]byte(doc))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Scenario books are invalid", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if !h.reset(w, r) {
		return
	}
	res, err := factory.Apply(ctx, h.Service, books)
	if err != nil {
		writeLedgerError(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	log := logging.FromContext(ctx)
	log.Info().
		Str("scenario", req.ScenarioID).
		Int("accounts", len(res.Accounts)).
		Int("entries", len(res.Entries)).
		Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data and re-seeds the system categories.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.reset(w, r) {
		return
	}
	if _, err := h.Service.EnsureSystemCategories(r.Context()); err != nil {
		writeLedgerError(w, r, "Failed to seed system categories", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reset empties the store. Callers hold h.mu.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) bool {
	resetter, ok := h.Service.Store().(Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return false
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return false
	}
	h.currentScenario = ""
	return true
}
