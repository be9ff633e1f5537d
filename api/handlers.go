/*
handlers.go - HTTP API handlers for the ledger

PURPOSE:
  Exposes ledger.Service via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every financial rule to the service.
  Handlers never touch the store directly.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Open account (with opening balance)
    GET    /api/accounts/{id}               Get account
    PUT    /api/accounts/{id}               Edit account
    DELETE /api/accounts/{id}               Delete unused account
    POST   /api/accounts/{id}/recalculate   Rebuild balance from history
    GET    /api/accounts/{id}/book-balance  Book balance as of a date

  Transactions:
    GET    /api/transactions                Filtered history
    GET    /api/transactions/{id}           Get one entry
    DELETE /api/transactions/{id}           Delete (routes linked rows)
    POST   /api/incomes, /api/expenditures, /api/transfers
    PUT    /api/incomes/{id}, /api/expenditures/{id}, /api/transfers/{id}

  Linked rows:
    /api/disposals, /api/liabilities, /api/liabilities/{id}/payments,
    /api/liability-payments/{id}

  Integrity & roll-ups:
    /api/categories, /api/budgets, /api/reconciliations

  Admin:
    POST   /api/admin/recalculate           Rebuild every balance
    GET    /api/admin/audits                Recent balance audit runs

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with HTTP status
  derived from the ledger error:
  - 400: Validation errors, invalid period, same-account transfer
  - 404: Row not found
  - 409: Insufficient balance, category or account in use, system
         category, duplicate, already disposed, already reconciled
  - 500: Internal errors (partial failures included)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Auditor *BalanceAuditor // optional

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler for the service's organization.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Service.ListAccounts(r.Context())
	if err != nil {
		writeLedgerError(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// CreateAccount opens an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	openingDate, ok := parseDateField(w, "opening_date", req.OpeningDate)
	if !ok {
		return
	}

	a, err := h.Service.CreateAccount(r.Context(), ledger.CreateAccount{
		Name:           req.Name,
		Type:           ledger.AccountType(req.Type),
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		OpeningDate:    openingDate,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// UpdateAccount edits name, type or opening balance.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.Service.UpdateAccount(r.Context(), ledger.UpdateAccount{
		ID:             ledger.AccountID(chi.URLParam(r, "id")),
		Name:           req.Name,
		Type:           ledger.AccountType(req.Type),
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// DeleteAccount removes an account nothing references.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecalculateBalance rebuilds one account's balance.
func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.RecalculateBalance(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to recalculate balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionDTO(c))
}

// GetBookBalance returns the book balance at the end of ?as_of (default
// today).
func (h *Handler) GetBookBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	asOf, ok := parseDateField(w, "as_of", r.URL.Query().Get("as_of"))
	if !ok {
		return
	}
	if asOf.IsZero() {
		asOf = ledger.Day(time.Now())
	}

	balance, err := h.Service.BookBalance(r.Context(), id, asOf)
	if err != nil {
		writeLedgerError(w, r, "Failed to compute book balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BookBalanceDTO{
		AccountID: string(id),
		AsOf:      formatDate(asOf),
		Balance:   balance,
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns entries filtered by query parameters:
// account_id, kind (comma separated), category, liability_id, asset_id,
// reconciliation_id, from, to.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := parseDateField(w, "from", q.Get("from"))
	if !ok {
		return
	}
	to, ok := parseDateField(w, "to", q.Get("to"))
	if !ok {
		return
	}

	f := ledger.EntryFilter{
		AccountID:        ledger.AccountID(q.Get("account_id")),
		Category:         q.Get("category"),
		LiabilityID:      ledger.LiabilityID(q.Get("liability_id")),
		AssetID:          ledger.AssetID(q.Get("asset_id")),
		ReconciliationID: ledger.ReconciliationID(q.Get("reconciliation_id")),
		From:             from,
		To:               to,
	}
	if kinds := q.Get("kind"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			f.Kinds = append(f.Kinds, ledger.Kind(strings.TrimSpace(k)))
		}
	}

	entries, err := h.Service.ListTransactions(r.Context(), f)
	if err != nil {
		writeLedgerError(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(entries))
}

// GetTransaction returns one entry.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.GetTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(e))
}

// DeleteTransaction deletes an entry. Disposal proceeds and liability
// payments take their linked rows with them.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateIncome records money received.
func (h *Handler) CreateIncome(w http.ResponseWriter, r *http.Request) {
	var req IncomeRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	in, err := h.Service.CreateIncome(r.Context(), ledger.CreateIncome{
		AccountID:         ledger.AccountID(req.AccountID),
		Date:              date,
		Source:            req.Source,
		Category:          req.Category,
		Amount:            req.Amount,
		Method:            req.Method,
		MemberID:          ledger.MemberID(req.MemberID),
		LinkedLiabilityID: ledger.LiabilityID(req.LinkedLiabilityID),
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create income", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(in))
}

// UpdateIncome replaces an income's editable fields.
func (h *Handler) UpdateIncome(w http.ResponseWriter, r *http.Request) {
	var req IncomeRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	in, err := h.Service.UpdateIncome(r.Context(), ledger.UpdateIncome{
		ID:        ledger.TransactionID(chi.URLParam(r, "id")),
		AccountID: ledger.AccountID(req.AccountID),
		Date:      date,
		Source:    req.Source,
		Category:  req.Category,
		Amount:    req.Amount,
		Method:    req.Method,
		MemberID:  ledger.MemberID(req.MemberID),
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update income", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(in))
}

// CreateExpenditure records money paid out.
func (h *Handler) CreateExpenditure(w http.ResponseWriter, r *http.Request) {
	var req ExpenditureRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	ex, err := h.Service.CreateExpenditure(r.Context(), ledger.CreateExpenditure{
		AccountID:   ledger.AccountID(req.AccountID),
		Date:        date,
		Description: req.Description,
		Category:    req.Category,
		Amount:      req.Amount,
		Method:      req.Method,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create expenditure", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(ex))
}

// UpdateExpenditure replaces an expenditure's editable fields.
func (h *Handler) UpdateExpenditure(w http.ResponseWriter, r *http.Request) {
	var req ExpenditureRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	ex, err := h.Service.UpdateExpenditure(r.Context(), ledger.UpdateExpenditure{
		ID:          ledger.TransactionID(chi.URLParam(r, "id")),
		AccountID:   ledger.AccountID(req.AccountID),
		Date:        date,
		Description: req.Description,
		Category:    req.Category,
		Amount:      req.Amount,
		Method:      req.Method,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update expenditure", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(ex))
}

// CreateTransfer moves money between two accounts.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	t, err := h.Service.CreateTransfer(r.Context(), ledger.CreateTransfer{
		FromAccountID: ledger.AccountID(req.FromAccountID),
		ToAccountID:   ledger.AccountID(req.ToAccountID),
		Date:          date,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(t))
}

// UpdateTransfer replaces a transfer's accounts, amount or date.
func (h *Handler) UpdateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	t, err := h.Service.UpdateTransfer(r.Context(), ledger.UpdateTransfer{
		ID:            ledger.TransactionID(chi.URLParam(r, "id")),
		FromAccountID: ledger.AccountID(req.FromAccountID),
		ToAccountID:   ledger.AccountID(req.ToAccountID),
		Date:          date,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(t))
}

// =============================================================================
// DISPOSAL HANDLERS
// =============================================================================

// CreateDisposal records an asset sale and its proceeds income.
func (h *Handler) CreateDisposal(w http.ResponseWriter, r *http.Request) {
	var req CreateDisposalRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	d, err := h.Service.CreateDisposal(r.Context(), ledger.CreateDisposal{
		AssetID:   ledger.AssetID(req.AssetID),
		AccountID: ledger.AccountID(req.AccountID),
		Date:      date,
		Amount:    req.Amount,
		Notes:     req.Notes,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to record disposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisposalDTO(d))
}

// ListDisposals returns disposals, optionally for one ?asset_id.
func (h *Handler) ListDisposals(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Service.ListDisposals(r.Context(), ledger.DisposalFilter{
		AssetID: ledger.AssetID(r.URL.Query().Get("asset_id")),
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to list disposals", err)
		return
	}

	dtos := make([]DisposalDTO, len(ds))
	for i, d := range ds {
		dtos[i] = toDisposalDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteDisposal reverses a disposal: the proceeds income goes and the
// asset returns to its previous status.
func (h *Handler) DeleteDisposal(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteDisposal(r.Context(), ledger.DisposalID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete disposal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LIABILITY HANDLERS
// =============================================================================

// ListLiabilities returns liabilities, optionally for one ?category.
func (h *Handler) ListLiabilities(w http.ResponseWriter, r *http.Request) {
	ls, err := h.Service.ListLiabilities(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeLedgerError(w, r, "Failed to list liabilities", err)
		return
	}

	dtos := make([]LiabilityDTO, len(ls))
	for i, l := range ls {
		dtos[i] = toLiabilityDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLiability returns one liability with its derived status.
func (h *Handler) GetLiability(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.GetLiability(r.Context(), ledger.LiabilityID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to get liability", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(l))
}

// CreateLiability records an amount owed.
func (h *Handler) CreateLiability(w http.ResponseWriter, r *http.Request) {
	var req CreateLiabilityRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	l, err := h.Service.CreateLiability(r.Context(), ledger.CreateLiability{
		Date:           date,
		Category:       req.Category,
		Creditor:       req.Creditor,
		Description:    req.Description,
		OriginalAmount: req.OriginalAmount,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create liability", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLiabilityDTO(l))
}

// UpdateLiability edits descriptive fields and the original amount.
func (h *Handler) UpdateLiability(w http.ResponseWriter, r *http.Request) {
	var req UpdateLiabilityRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	l, err := h.Service.UpdateLiability(r.Context(), ledger.UpdateLiability{
		ID:             ledger.LiabilityID(chi.URLParam(r, "id")),
		Date:           date,
		Category:       req.Category,
		Creditor:       req.Creditor,
		Description:    req.Description,
		OriginalAmount: req.OriginalAmount,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update liability", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(l))
}

// DeleteLiability removes a liability together with its payments.
func (h *Handler) DeleteLiability(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.DeleteLiability(r.Context(), ledger.LiabilityID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to delete liability", err)
		return
	}
	writeJSON(w, http.StatusOK, toCascadeReportDTO(report))
}

// RecordPayment pays down the liability in the URL.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	ex, err := h.Service.RecordLiabilityPayment(r.Context(), ledger.RecordLiabilityPayment{
		LiabilityID: ledger.LiabilityID(chi.URLParam(r, "id")),
		AccountID:   ledger.AccountID(req.AccountID),
		Date:        date,
		Amount:      req.Amount,
		Description: req.Description,
		Method:      req.Method,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(ex))
}

// DeletePayment reverses a liability payment.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteLiabilityPayment(r.Context(), ledger.TransactionID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// ListCategories returns categories, optionally of one ?type.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Service.ListCategories(r.Context(), ledger.CategoryType(r.URL.Query().Get("type")))
	if err != nil {
		writeLedgerError(w, r, "Failed to list categories", err)
		return
	}

	dtos := make([]CategoryDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.Service.CreateCategory(r.Context(), ledger.CreateCategory{
		Name:         req.Name,
		Type:         ledger.CategoryType(req.Type),
		TrackMembers: req.TrackMembers,
		Description:  req.Description,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

// UpdateCategory renames a category; every referencing row follows.
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req UpdateCategoryRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.Service.UpdateCategory(r.Context(), ledger.UpdateCategory{
		ID:           ledger.CategoryID(chi.URLParam(r, "id")),
		Name:         req.Name,
		TrackMembers: req.TrackMembers,
		Description:  req.Description,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update category", err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(c))
}

// DeleteCategory deletes a category. A user category in use is rejected
// with 409; a system category cascades.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.DeleteCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to delete category", err)
		return
	}
	writeJSON(w, http.StatusOK, toCascadeReportDTO(report))
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

// ListBudgets returns budgets, optionally for one ?category.
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Service.ListBudgets(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeLedgerError(w, r, "Failed to list budgets", err)
		return
	}

	dtos := make([]BudgetDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBudgetDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Service.CreateBudget(r.Context(), ledger.CreateBudget{
		Category: req.Category,
		Period:   req.Period,
		Budgeted: req.Budgeted,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetDTO(b))
}

func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req UpdateBudgetRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Service.UpdateBudget(r.Context(), ledger.UpdateBudget{
		ID:       ledger.BudgetID(chi.URLParam(r, "id")),
		Budgeted: req.Budgeted,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteBudget(r.Context(), ledger.BudgetID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecomputeBudget rebuilds spent from the expenditures in the period.
func (h *Handler) RecomputeBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.RecomputeBudget(r.Context(), ledger.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to recompute budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListReconciliations returns reconciliations, optionally for one
// ?account_id.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.ListReconciliations(r.Context(), ledger.AccountID(r.URL.Query().Get("account_id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to list reconciliations", err)
		return
	}

	dtos := make([]ReconciliationDTO, len(rs))
	for i, rec := range rs {
		dtos[i] = toReconciliationDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.GetReconciliation(r.Context(), ledger.ReconciliationID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, r, "Failed to get reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// CreateReconciliation compares the books with a bank statement and marks
// the listed entries.
func (h *Handler) CreateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ReconciliationRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}
	ctx := r.Context()

	account := ledger.AccountID(req.AccountID)
	book := req.BookBalance
	if book == nil && !date.IsZero() {
		computed, err := h.Service.BookBalance(ctx, account, date)
		if err != nil {
			writeLedgerError(w, r, "Failed to compute book balance", err)
			return
		}
		book = &computed
	}

	cmd := ledger.ReconcileAccount{
		AccountID:                account,
		Date:                     date,
		BankBalance:              req.BankBalance,
		ReconciledIncomeIDs:      toTransactionIDs(req.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: toTransactionIDs(req.ReconciledExpenditureIDs),
		AddedIncomeIDs:           toTransactionIDs(req.AddedIncomeIDs),
		AddedExpenditureIDs:      toTransactionIDs(req.AddedExpenditureIDs),
		Notes:                    req.Notes,
	}
	if book != nil {
		cmd.BookBalance = *book
	}

	rec, err := h.Service.CreateReconciliation(ctx, cmd)
	if err != nil {
		writeLedgerError(w, r, "Failed to create reconciliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReconciliationDTO(rec))
}

func (h *Handler) UpdateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req UpdateReconciliationRequest
	if !decode(w, r, &req) {
		return
	}
	date, ok := parseDateField(w, "date", req.Date)
	if !ok {
		return
	}

	rec, err := h.Service.UpdateReconciliation(r.Context(), ledger.UpdateReconciliation{
		ID:                       ledger.ReconciliationID(chi.URLParam(r, "id")),
		Date:                     date,
		BookBalance:              req.BookBalance,
		BankBalance:              req.BankBalance,
		ReconciledIncomeIDs:      toTransactionIDs(req.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: toTransactionIDs(req.ReconciledExpenditureIDs),
		AddedIncomeIDs:           toTransactionIDs(req.AddedIncomeIDs),
		AddedExpenditureIDs:      toTransactionIDs(req.AddedExpenditureIDs),
		Notes:                    req.Notes,
	})
	if err != nil {
		writeLedgerError(w, r, "Failed to update reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// DeleteReconciliation unmarks its entries and removes it.
func (h *Handler) DeleteReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteReconciliation(r.Context(), ledger.ReconciliationID(chi.URLParam(r, "id"))); err != nil {
		writeLedgerError(w, r, "Failed to delete reconciliation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RecalculateAll rebuilds every balance and returns the accounts that
// drifted.
func (h *Handler) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	drifted, err := h.Service.RecalculateAllBalances(r.Context())
	if err != nil {
		writeLedgerError(w, r, "Failed to recalculate balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrectionDTOs(drifted))
}

// ListAudits returns the most recent balance audit runs, newest first.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeJSON(w, http.StatusOK, []AuditRunDTO{})
		return
	}

	runs := h.Auditor.Runs()
	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = AuditRunDTO{
			StartedAt:   formatStamp(run.StartedAt),
			Duration:    run.Duration.String(),
			Corrections: toCorrectionDTOs(run.Corrections),
		}
		if run.Err != nil {
			dtos[i].Error = run.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a service error onto its HTTP status. Server-side
// failures are logged with the request's logger.
func writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseDateField parses an optional YYYY-MM-DD value. Empty yields the zero
// time and lets the service decide whether the field is required.
func parseDateField(w http.ResponseWriter, field, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := ledger.ParseDate(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s format (use YYYY-MM-DD)", field), err)
		return time.Time{}, false
	}
	return t, true
}
