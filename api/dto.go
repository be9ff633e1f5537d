/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMAT:
  - Money is a decimal string ("1250.50"). Requests also accept JSON numbers.
  - Dates are calendar days: "YYYY-MM-DD".
  - Timestamps are RFC 3339.

TYPES:
  Accounts:      AccountDTO, CreateAccountRequest, UpdateAccountRequest,
                 BalanceCorrectionDTO, BookBalanceDTO
  Transactions:  TransactionDTO, IncomeRequest, ExpenditureRequest,
                 TransferRequest
  Linked rows:   DisposalDTO, CreateDisposalRequest, LiabilityDTO,
                 CreateLiabilityRequest, UpdateLiabilityRequest,
                 PaymentRequest
  Categories:    CategoryDTO, CreateCategoryRequest, UpdateCategoryRequest,
                 CascadeReportDTO
  Budgets:       BudgetDTO, CreateBudgetRequest, UpdateBudgetRequest
  Reconciliation: ReconciliationDTO, ReconciliationRequest,
                 UpdateReconciliationRequest
  Scenarios:     ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by ledger.Service, not in DTOs. DTOs are pure data
  carriers; handlers only parse dates.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// CreateAccountRequest is the request to open an account.
type CreateAccountRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OpeningDate    string          `json:"opening_date,omitempty"`
}

// UpdateAccountRequest edits an account. Empty fields are left unchanged.
type UpdateAccountRequest struct {
	Name           string           `json:"name,omitempty"`
	Type           string           `json:"type,omitempty"`
	OpeningBalance *decimal.Decimal `json:"opening_balance,omitempty"`
}

// BalanceCorrectionDTO reports one recomputed balance.
type BalanceCorrectionDTO struct {
	AccountID  string          `json:"account_id"`
	Previous   decimal.Decimal `json:"previous"`
	Recomputed decimal.Decimal `json:"recomputed"`
	Drift      decimal.Decimal `json:"drift"`
}

// BookBalanceDTO is an account's book balance at the end of a day.
type BookBalanceDTO struct {
	AccountID string          `json:"account_id"`
	AsOf      string          `json:"as_of"`
	Balance   decimal.Decimal `json:"balance"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO flattens the three entry variants into one shape. Fields
// that do not apply to a kind are omitted.
type TransactionDTO struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Date              string          `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	AccountID         string          `json:"account_id,omitempty"`
	FromAccountID     string          `json:"from_account_id,omitempty"`
	ToAccountID       string          `json:"to_account_id,omitempty"`
	Source            string          `json:"source,omitempty"`
	Description       string          `json:"description,omitempty"`
	Category          string          `json:"category,omitempty"`
	Method            string          `json:"method,omitempty"`
	MemberID          string          `json:"member_id,omitempty"`
	LinkedAssetID     string          `json:"linked_asset_id,omitempty"`
	LinkedLiabilityID string          `json:"linked_liability_id,omitempty"`
	IsReconciled      bool            `json:"is_reconciled"`
	ReconciledIn      string          `json:"reconciled_in,omitempty"`
	CreatedAt         string          `json:"created_at,omitempty"`
}

// IncomeRequest creates or replaces an income.
type IncomeRequest struct {
	AccountID         string          `json:"account_id"`
	Date              string          `json:"date"`
	Source            string          `json:"source"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`
	MemberID          string          `json:"member_id,omitempty"`
	LinkedLiabilityID string          `json:"linked_liability_id,omitempty"`
}

// ExpenditureRequest creates or replaces an expenditure.
type ExpenditureRequest struct {
	AccountID   string          `json:"account_id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
}

// TransferRequest creates or replaces a transfer.
type TransferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Date          string          `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// =============================================================================
// DISPOSALS & LIABILITIES
// =============================================================================

type DisposalDTO struct {
	ID        string          `json:"id"`
	AssetID   string          `json:"asset_id"`
	AccountID string          `json:"account_id"`
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	IncomeID  string          `json:"income_id"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

type CreateDisposalRequest struct {
	AssetID   string          `json:"asset_id"`
	AccountID string          `json:"account_id"`
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
}

// LiabilityDTO includes the derived balance and status.
type LiabilityDTO struct {
	ID             string          `json:"id"`
	Date           string          `json:"date"`
	Category       string          `json:"category"`
	Creditor       string          `json:"creditor"`
	Description    string          `json:"description,omitempty"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Balance        decimal.Decimal `json:"balance"`
	Status         string          `json:"status"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

type CreateLiabilityRequest struct {
	Date           string          `json:"date"`
	Category       string          `json:"category"`
	Creditor       string          `json:"creditor"`
	Description    string          `json:"description"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
}

// UpdateLiabilityRequest never carries amount_paid: it is derived from
// payments.
type UpdateLiabilityRequest struct {
	Date           string           `json:"date,omitempty"`
	Category       string           `json:"category,omitempty"`
	Creditor       string           `json:"creditor,omitempty"`
	Description    *string          `json:"description,omitempty"`
	OriginalAmount *decimal.Decimal `json:"original_amount,omitempty"`
}

// PaymentRequest records a payment against the liability in the URL.
type PaymentRequest struct {
	AccountID   string          `json:"account_id"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Method      string          `json:"method"`
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	TrackMembers bool   `json:"track_members"`
	Description  string `json:"description,omitempty"`
	System       bool   `json:"system"`
}

type CreateCategoryRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	TrackMembers bool   `json:"track_members"`
	Description  string `json:"description"`
}

type UpdateCategoryRequest struct {
	Name         string  `json:"name,omitempty"`
	TrackMembers *bool   `json:"track_members,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// CascadeReportDTO counts what a cascading delete removed.
type CascadeReportDTO struct {
	Incomes      int `json:"incomes"`
	Expenditures int `json:"expenditures"`
	Liabilities  int `json:"liabilities"`
	Disposals    int `json:"disposals"`
	Budgets      int `json:"budgets"`
	Categories   int `json:"categories"`
	Total        int `json:"total"`
}

// =============================================================================
// BUDGETS
// =============================================================================

type BudgetDTO struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"`
	Period    string          `json:"period"`
	Budgeted  decimal.Decimal `json:"budgeted"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
}

type CreateBudgetRequest struct {
	Category string          `json:"category"`
	Period   string          `json:"period"`
	Budgeted decimal.Decimal `json:"budgeted"`
}

type UpdateBudgetRequest struct {
	Budgeted decimal.Decimal `json:"budgeted"`
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

type ReconciliationDTO struct {
	ID                       string          `json:"id"`
	AccountID                string          `json:"account_id"`
	Date                     string          `json:"date"`
	BookBalance              decimal.Decimal `json:"book_balance"`
	BankBalance              decimal.Decimal `json:"bank_balance"`
	Difference               decimal.Decimal `json:"difference"`
	Status                   string          `json:"status"`
	ReconciledIncomeIDs      []string        `json:"reconciled_income_ids"`
	ReconciledExpenditureIDs []string        `json:"reconciled_expenditure_ids"`
	AddedIncomeIDs           []string        `json:"added_income_ids"`
	AddedExpenditureIDs      []string        `json:"added_expenditure_ids"`
	Notes                    string          `json:"notes,omitempty"`
	CreatedAt                string          `json:"created_at,omitempty"`
}

// ReconciliationRequest records a statement comparison. When book_balance
// is omitted the server computes it as of date.
type ReconciliationRequest struct {
	AccountID                string           `json:"account_id"`
	Date                     string           `json:"date"`
	BookBalance              *decimal.Decimal `json:"book_balance,omitempty"`
	BankBalance              decimal.Decimal  `json:"bank_balance"`
	ReconciledIncomeIDs      []string         `json:"reconciled_income_ids"`
	ReconciledExpenditureIDs []string         `json:"reconciled_expenditure_ids"`
	AddedIncomeIDs           []string         `json:"added_income_ids"`
	AddedExpenditureIDs      []string         `json:"added_expenditure_ids"`
	Notes                    string           `json:"notes"`
}

// UpdateReconciliationRequest always replaces all four id sets; an omitted
// set becomes empty. Balances, date and notes are kept when omitted.
type UpdateReconciliationRequest struct {
	Date                     string           `json:"date,omitempty"`
	BookBalance              *decimal.Decimal `json:"book_balance,omitempty"`
	BankBalance              *decimal.Decimal `json:"bank_balance,omitempty"`
	ReconciledIncomeIDs      []string         `json:"reconciled_income_ids"`
	ReconciledExpenditureIDs []string         `json:"reconciled_expenditure_ids"`
	AddedIncomeIDs           []string         `json:"added_income_ids"`
	AddedExpenditureIDs      []string         `json:"added_expenditure_ids"`
	Notes                    *string          `json:"notes,omitempty"`
}

// =============================================================================
// SCENARIOS & ADMIN
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// AuditRunDTO is the outcome of one balance audit.
type AuditRunDTO struct {
	StartedAt   string                 `json:"started_at"`
	Duration    string                 `json:"duration"`
	Corrections []BalanceCorrectionDTO `json:"corrections"`
	Error       string                 `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(ledger.DateLayout)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		OpeningBalance: a.OpeningBalance,
		Balance:        a.Balance,
		CreatedAt:      formatStamp(a.CreatedAt),
		UpdatedAt:      formatStamp(a.UpdatedAt),
	}
}

func toCorrectionDTO(c ledger.BalanceCorrection) BalanceCorrectionDTO {
	return BalanceCorrectionDTO{
		AccountID:  string(c.AccountID),
		Previous:   c.Previous,
		Recomputed: c.Recomputed,
		Drift:      c.Drift(),
	}
}

func toCorrectionDTOs(cs []ledger.BalanceCorrection) []BalanceCorrectionDTO {
	dtos := make([]BalanceCorrectionDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCorrectionDTO(c)
	}
	return dtos
}

func toTransactionDTO(e ledger.Entry) TransactionDTO {
	h := e.Header()
	dto := TransactionDTO{
		ID:        string(h.ID),
		Kind:      string(e.Kind()),
		Date:      formatDate(h.Date),
		Amount:    h.Amount,
		CreatedAt: formatStamp(h.CreatedAt),
	}
	if mark, ok := ledger.MarkOf(e); ok {
		dto.IsReconciled = mark.IsReconciled
		dto.ReconciledIn = string(mark.ReconciledIn)
	}

	switch v := e.(type) {
	case *ledger.Income:
		dto.AccountID = string(v.AccountID)
		dto.Source = v.Source
		dto.Category = v.Category
		dto.Method = v.Method
		dto.MemberID = string(v.MemberID)
		dto.LinkedAssetID = string(v.LinkedAssetID)
		dto.LinkedLiabilityID = string(v.LinkedLiabilityID)
	case *ledger.Expenditure:
		dto.AccountID = string(v.AccountID)
		dto.Description = v.Description
		dto.Category = v.Category
		dto.Method = v.Method
		dto.LinkedLiabilityID = string(v.LinkedLiabilityID)
	case *ledger.Transfer:
		dto.FromAccountID = string(v.FromAccountID)
		dto.ToAccountID = string(v.ToAccountID)
		dto.Description = v.Description
	}
	return dto
}

func toTransactionDTOs(entries []ledger.Entry) []TransactionDTO {
	dtos := make([]TransactionDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTransactionDTO(e)
	}
	return dtos
}

func toDisposalDTO(d ledger.Disposal) DisposalDTO {
	return DisposalDTO{
		ID:        string(d.ID),
		AssetID:   string(d.AssetID),
		AccountID: string(d.AccountID),
		Date:      formatDate(d.Date),
		Amount:    d.Amount,
		IncomeID:  string(d.IncomeID),
		Notes:     d.Notes,
		CreatedAt: formatStamp(d.CreatedAt),
	}
}

func toLiabilityDTO(l ledger.Liability) LiabilityDTO {
	return LiabilityDTO{
		ID:             string(l.ID),
		Date:           formatDate(l.Date),
		Category:       l.Category,
		Creditor:       l.Creditor,
		Description:    l.Description,
		OriginalAmount: l.OriginalAmount,
		AmountPaid:     l.AmountPaid,
		Balance:        l.Balance(),
		Status:         string(l.Status()),
		CreatedAt:      formatStamp(l.CreatedAt),
	}
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{
		ID:           string(c.ID),
		Name:         c.Name,
		Type:         string(c.Type),
		TrackMembers: c.TrackMembers,
		Description:  c.Description,
		System:       c.IsSystem(),
	}
}

func toCascadeReportDTO(r ledger.CascadeReport) CascadeReportDTO {
	return CascadeReportDTO{
		Incomes:      r.Incomes,
		Expenditures: r.Expenditures,
		Liabilities:  r.Liabilities,
		Disposals:    r.Disposals,
		Budgets:      r.Budgets,
		Categories:   r.Categories,
		Total:        r.Total(),
	}
}

func toBudgetDTO(b ledger.Budget) BudgetDTO {
	return BudgetDTO{
		ID:        string(b.ID),
		Category:  b.Category,
		Period:    b.Period,
		Budgeted:  b.Budgeted,
		Spent:     b.Spent,
		Remaining: b.Remaining(),
	}
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		ID:                       string(r.ID),
		AccountID:                string(r.AccountID),
		Date:                     formatDate(r.Date),
		BookBalance:              r.BookBalance,
		BankBalance:              r.BankBalance,
		Difference:               r.Difference(),
		Status:                   string(r.Status()),
		ReconciledIncomeIDs:      fromTransactionIDs(r.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: fromTransactionIDs(r.ReconciledExpenditureIDs),
		AddedIncomeIDs:           fromTransactionIDs(r.AddedIncomeIDs),
		AddedExpenditureIDs:      fromTransactionIDs(r.AddedExpenditureIDs),
		Notes:                    r.Notes,
		CreatedAt:                formatStamp(r.CreatedAt),
	}
}

// fromTransactionIDs never returns nil so empty sets encode as [].
func fromTransactionIDs(ids []ledger.TransactionID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toTransactionIDs(ids []string) []ledger.TransactionID {
	if ids == nil {
		return nil
	}
	out := make([]ledger.TransactionID, len(ids))
	for i, id := range ids {
		out[i] = ledger.TransactionID(id)
	}
	return out
}
