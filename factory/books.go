/*
Package factory turns YAML or JSON "books" documents into ledger state.

PURPOSE:
  A books document describes an organization's chart of accounts and
  optionally a history of activity: accounts with opening balances,
  categories, members, assets, liabilities, budgets and entries. The
  factory validates the document, then replays it through ledger.Service,
  so every row obeys the same rules as one entered by hand.

  Generated ids aren't known when the document is written, so accounts,
  liabilities and entries carry a local "key" that later sections use to
  refer to them.

SCHEMA (YAML; JSON with the same field names is accepted):
  categories:
    - {name: Tithe, type: income, track_members: true}
    - {name: Fuel, type: expense}
    - {name: Loans, type: liability}
  members:
    - {id: m-1, name: Wanjiru}
  assets:
    - {id: van, name: Church van, status: in_use}
  accounts:
    - {key: main, name: Main Account, type: bank, currency: KES,
       opening_balance: "10000", opening_date: 2025-01-01}
  liabilities:
    - {key: roof, creditor: Builders Ltd, category: Loans,
       original_amount: "5000", date: 2025-01-15}
  incomes:
    - {key: i1, account: main, date: 2025-02-02, amount: "1200",
       category: Tithe, member: m-1}
  expenditures:
    - {key: e1, account: main, date: 2025-02-05, amount: "300", category: Fuel}
  transfers:
    - {from: main, to: cash, date: 2025-02-06, amount: "500"}
  payments:
    - {liability: roof, account: main, date: 2025-03-01, amount: "2000"}
  disposals:
    - {asset: van, account: main, date: 2025-04-01, amount: "800000"}
  budgets:
    - {category: Fuel, period: 2025-Q1, budgeted: "1000"}
  reconciliations:
    - {account: main, date: 2025-02-28, bank_balance: "10900",
       incomes: [i1], expenditures: [e1]}

ORDER OF APPLICATION:
  System categories, categories, members, assets, accounts, liabilities,
  incomes, expenditures, payments, transfers, disposals, budgets,
  reconciliations. Amounts are strings so no float ever touches money.

SEE ALSO:
  - api/scenarios.go: Demo books built on this package
  - ledger/service.go: The commands the factory replays
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// Books is a seed document.
type Books struct {
	Name            string               `yaml:"name" json:"name"`
	Description     string               `yaml:"description" json:"description"`
	Categories      []CategorySpec       `yaml:"categories" json:"categories"`
	Members         []MemberSpec         `yaml:"members" json:"members"`
	Assets          []AssetSpec          `yaml:"assets" json:"assets"`
	Accounts        []AccountSpec        `yaml:"accounts" json:"accounts"`
	Liabilities     []LiabilitySpec      `yaml:"liabilities" json:"liabilities"`
	Incomes         []IncomeSpec         `yaml:"incomes" json:"incomes"`
	Expenditures    []ExpenditureSpec    `yaml:"expenditures" json:"expenditures"`
	Payments        []PaymentSpec        `yaml:"payments" json:"payments"`
	Transfers       []TransferSpec       `yaml:"transfers" json:"transfers"`
	Disposals       []DisposalSpec       `yaml:"disposals" json:"disposals"`
	Budgets         []BudgetSpec         `yaml:"budgets" json:"budgets"`
	Reconciliations []ReconciliationSpec `yaml:"reconciliations" json:"reconciliations"`
}

type CategorySpec struct {
	Name         string `yaml:"name" json:"name"`
	Type         string `yaml:"type" json:"type"`
	TrackMembers bool   `yaml:"track_members" json:"track_members,omitempty"`
	Description  string `yaml:"description" json:"description,omitempty"`
}

type MemberSpec struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type AssetSpec struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Status string `yaml:"status" json:"status,omitempty"`
}

type AccountSpec struct {
	Key            string `yaml:"key" json:"key"`
	Name           string `yaml:"name" json:"name"`
	Type           string `yaml:"type" json:"type"`
	Currency       string `yaml:"currency" json:"currency"`
	OpeningBalance string `yaml:"opening_balance" json:"opening_balance,omitempty"`
	OpeningDate    string `yaml:"opening_date" json:"opening_date,omitempty"`
}

type LiabilitySpec struct {
	Key            string `yaml:"key" json:"key"`
	Creditor       string `yaml:"creditor" json:"creditor"`
	Category       string `yaml:"category" json:"category"`
	OriginalAmount string `yaml:"original_amount" json:"original_amount"`
	Date           string `yaml:"date" json:"date"`
	Description    string `yaml:"description" json:"description,omitempty"`
}

type IncomeSpec struct {
	Key      string `yaml:"key" json:"key,omitempty"`
	Account  string `yaml:"account" json:"account"`
	Date     string `yaml:"date" json:"date"`
	Amount   string `yaml:"amount" json:"amount"`
	Category string `yaml:"category" json:"category"`
	Source   string `yaml:"source" json:"source,omitempty"`
	Method   string `yaml:"method" json:"method,omitempty"`
	Member   string `yaml:"member" json:"member,omitempty"`
}

type ExpenditureSpec struct {
	Key         string `yaml:"key" json:"key,omitempty"`
	Account     string `yaml:"account" json:"account"`
	Date        string `yaml:"date" json:"date"`
	Amount      string `yaml:"amount" json:"amount"`
	Category    string `yaml:"category" json:"category"`
	Description string `yaml:"description" json:"description,omitempty"`
	Method      string `yaml:"method" json:"method,omitempty"`
}

type PaymentSpec struct {
	Key       string `yaml:"key" json:"key,omitempty"`
	Liability string `yaml:"liability" json:"liability"`
	Account   string `yaml:"account" json:"account"`
	Date      string `yaml:"date" json:"date"`
	Amount    string `yaml:"amount" json:"amount"`
}

type TransferSpec struct {
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Date        string `yaml:"date" json:"date"`
	Amount      string `yaml:"amount" json:"amount"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type DisposalSpec struct {
	Asset   string `yaml:"asset" json:"asset"`
	Account string `yaml:"account" json:"account"`
	Date    string `yaml:"date" json:"date"`
	Amount  string `yaml:"amount" json:"amount"`
	Notes   string `yaml:"notes" json:"notes,omitempty"`
}

type BudgetSpec struct {
	Category string `yaml:"category" json:"category"`
	Period   string `yaml:"period" json:"period"`
	Budgeted string `yaml:"budgeted" json:"budgeted"`
}

// ReconciliationSpec marks entries by key. The book balance is computed
// from the books at Date.
type ReconciliationSpec struct {
	Account      string   `yaml:"account" json:"account"`
	Date         string   `yaml:"date" json:"date"`
	BankBalance  string   `yaml:"bank_balance" json:"bank_balance"`
	Incomes      []string `yaml:"incomes" json:"incomes,omitempty"`
	Expenditures []string `yaml:"expenditures" json:"expenditures,omitempty"`
	Notes        string   `yaml:"notes" json:"notes,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a books document. JSON is valid YAML, so both work.
func Parse(data []byte) (*Books, error) {
	var b Books
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse books: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadFile reads and parses a books document from disk.
func LoadFile(path string) (*Books, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}
	return Parse(data)
}

// Validate checks what can be checked without a ledger: amounts and dates
// parse, keys are unique, and every reference names a declared key.
// Business rules (balances, category types) are left to the Service.
func (b *Books) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	checkAmount := func(where, s string, allowZero bool) {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		switch {
		case err != nil:
			fail("%s: amount %q is not a number", where, s)
		case d.IsNegative(), !allowZero && d.IsZero():
			fail("%s: amount %s must be positive", where, s)
		}
	}
	checkDate := func(where, s string, optional bool) {
		if optional && s == "" {
			return
		}
		if _, err := ledger.ParseDate(s); err != nil {
			fail("%s: date %q is not YYYY-MM-DD", where, s)
		}
	}

	accounts := map[string]bool{}
	for i, a := range b.Accounts {
		where := fmt.Sprintf("accounts[%d]", i)
		if a.Key == "" {
			fail("%s: key is required", where)
		} else if accounts[a.Key] {
			fail("%s: duplicate key %q", where, a.Key)
		}
		accounts[a.Key] = true
		if a.OpeningBalance != "" {
			checkAmount(where, a.OpeningBalance, true)
		}
		checkDate(where, a.OpeningDate, true)
	}
	liabilities := map[string]bool{}
	for i, l := range b.Liabilities {
		where := fmt.Sprintf("liabilities[%d]", i)
		if l.Key == "" {
			fail("%s: key is required", where)
		} else if liabilities[l.Key] {
			fail("%s: duplicate key %q", where, l.Key)
		}
		liabilities[l.Key] = true
		checkAmount(where, l.OriginalAmount, false)
		checkDate(where, l.Date, true)
	}
	assets := map[string]bool{}
	for _, a := range b.Assets {
		assets[a.ID] = true
	}

	account := func(where, key string) {
		if !accounts[key] {
			fail("%s: unknown account %q", where, key)
		}
	}
	entries := map[string]string{}
	entryKey := func(where, key, kind string) {
		if key == "" {
			return
		}
		if _, dup := entries[key]; dup {
			fail("%s: duplicate entry key %q", where, key)
		}
		entries[key] = kind
	}

	for i, e := range b.Incomes {
		where := fmt.Sprintf("incomes[%d]", i)
		account(where, e.Account)
		checkAmount(where, e.Amount, false)
		checkDate(where, e.Date, false)
		entryKey(where, e.Key, "income")
	}
	for i, e := range b.Expenditures {
		where := fmt.Sprintf("expenditures[%d]", i)
		account(where, e.Account)
		checkAmount(where, e.Amount, false)
		checkDate(where, e.Date, false)
		entryKey(where, e.Key, "expenditure")
	}
	for i, p := range b.Payments {
		where := fmt.Sprintf("payments[%d]", i)
		account(where, p.Account)
		if !liabilities[p.Liability] {
			fail("%s: unknown liability %q", where, p.Liability)
		}
		checkAmount(where, p.Amount, false)
		checkDate(where, p.Date, false)
		entryKey(where, p.Key, "expenditure")
	}
	for i, t := range b.Transfers {
		where := fmt.Sprintf("transfers[%d]", i)
		account(where, t.From)
		account(where, t.To)
		checkAmount(where, t.Amount, false)
		checkDate(where, t.Date, false)
	}
	for i, d := range b.Disposals {
		where := fmt.Sprintf("disposals[%d]", i)
		account(where, d.Account)
		if !assets[d.Asset] {
			fail("%s: unknown asset %q", where, d.Asset)
		}
		checkAmount(where, d.Amount, false)
		checkDate(where, d.Date, false)
	}
	for i, bs := range b.Budgets {
		where := fmt.Sprintf("budgets[%d]", i)
		checkAmount(where, bs.Budgeted, true)
		if _, err := ledger.ParsePeriod(bs.Period); err != nil {
			fail("%s: %v", where, err)
		}
	}
	for i, r := range b.Reconciliations {
		where := fmt.Sprintf("reconciliations[%d]", i)
		account(where, r.Account)
		checkAmount(where, r.BankBalance, true)
		checkDate(where, r.Date, false)
		for _, k := range r.Incomes {
			if entries[k] != "income" {
				fail("%s: %q is not an income key", where, k)
			}
		}
		for _, k := range r.Expenditures {
			if entries[k] != "expenditure" {
				fail("%s: %q is not an expenditure key", where, k)
			}
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// APPLYING
// =============================================================================

// Result maps document keys to the ids the ledger generated.
type Result struct {
	Accounts        map[string]ledger.AccountID
	Liabilities     map[string]ledger.LiabilityID
	Entries         map[string]ledger.TransactionID
	Disposals       []ledger.DisposalID
	Budgets         []ledger.BudgetID
	Reconciliations []ledger.ReconciliationID
}

// Apply replays the document through svc. It stops at the first rejected
// command; rows applied before it stay, each having committed on its own.
func Apply(ctx context.Context, svc *ledger.Service, b *Books) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	res := &Result{
		Accounts:    map[string]ledger.AccountID{},
		Liabilities: map[string]ledger.LiabilityID{},
		Entries:     map[string]ledger.TransactionID{},
	}

	if _, err := svc.EnsureSystemCategories(ctx); err != nil {
		return res, fmt.Errorf("system categories: %w", err)
	}
	for _, c := range b.Categories {
		_, err := svc.CreateCategory(ctx, ledger.CreateCategory{
			Name:         c.Name,
			Type:         ledger.CategoryType(c.Type),
			TrackMembers: c.TrackMembers,
			Description:  c.Description,
		})
		if err != nil {
			return res, fmt.Errorf("category %q: %w", c.Name, err)
		}
	}
	for _, m := range b.Members {
		if err := svc.SaveMember(ctx, ledger.Member{ID: ledger.MemberID(m.ID), Name: m.Name}); err != nil {
			return res, fmt.Errorf("member %q: %w", m.ID, err)
		}
	}
	for _, a := range b.Assets {
		err := svc.SaveAsset(ctx, ledger.Asset{ID: ledger.AssetID(a.ID), Name: a.Name, Status: ledger.AssetStatus(a.Status)})
		if err != nil {
			return res, fmt.Errorf("asset %q: %w", a.ID, err)
		}
	}
	for _, a := range b.Accounts {
		acct, err := svc.CreateAccount(ctx, ledger.CreateAccount{
			Name:           a.Name,
			Type:           ledger.AccountType(a.Type),
			Currency:       a.Currency,
			OpeningBalance: amountOrZero(a.OpeningBalance),
			OpeningDate:    dateOrZero(a.OpeningDate),
		})
		if err != nil {
			return res, fmt.Errorf("account %q: %w", a.Key, err)
		}
		res.Accounts[a.Key] = acct.ID
	}
	for _, l := range b.Liabilities {
		li, err := svc.CreateLiability(ctx, ledger.CreateLiability{
			Date:           dateOrZero(l.Date),
			Category:       l.Category,
			Creditor:       l.Creditor,
			Description:    l.Description,
			OriginalAmount: amountOrZero(l.OriginalAmount),
		})
		if err != nil {
			return res, fmt.Errorf("liability %q: %w", l.Key, err)
		}
		res.Liabilities[l.Key] = li.ID
	}

	for i, e := range b.Incomes {
		in, err := svc.CreateIncome(ctx, ledger.CreateIncome{
			AccountID: res.Accounts[e.Account],
			Date:      dateOrZero(e.Date),
			Source:    e.Source,
			Category:  e.Category,
			Amount:    amountOrZero(e.Amount),
			Method:    e.Method,
			MemberID:  ledger.MemberID(e.Member),
		})
		if err != nil {
			return res, fmt.Errorf("incomes[%d]: %w", i, err)
		}
		res.keep(e.Key, in.ID)
	}
	for i, e := range b.Expenditures {
		ex, err := svc.CreateExpenditure(ctx, ledger.CreateExpenditure{
			AccountID:   res.Accounts[e.Account],
			Date:        dateOrZero(e.Date),
			Description: e.Description,
			Category:    e.Category,
			Amount:      amountOrZero(e.Amount),
			Method:      e.Method,
		})
		if err != nil {
			return res, fmt.Errorf("expenditures[%d]: %w", i, err)
		}
		res.keep(e.Key, ex.ID)
	}
	for i, p := range b.Payments {
		ex, err := svc.RecordLiabilityPayment(ctx, ledger.RecordLiabilityPayment{
			LiabilityID: res.Liabilities[p.Liability],
			AccountID:   res.Accounts[p.Account],
			Date:        dateOrZero(p.Date),
			Amount:      amountOrZero(p.Amount),
		})
		if err != nil {
			return res, fmt.Errorf("payments[%d]: %w", i, err)
		}
		res.keep(p.Key, ex.ID)
	}
	for i, t := range b.Transfers {
		_, err := svc.CreateTransfer(ctx, ledger.CreateTransfer{
			FromAccountID: res.Accounts[t.From],
			ToAccountID:   res.Accounts[t.To],
			Date:          dateOrZero(t.Date),
			Amount:        amountOrZero(t.Amount),
			Description:   t.Description,
		})
		if err != nil {
			return res, fmt.Errorf("transfers[%d]: %w", i, err)
		}
	}
	for i, d := range b.Disposals {
		disp, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{
			AssetID:   ledger.AssetID(d.Asset),
			AccountID: res.Accounts[d.Account],
			Date:      dateOrZero(d.Date),
			Amount:    amountOrZero(d.Amount),
			Notes:     d.Notes,
		})
		if err != nil {
			return res, fmt.Errorf("disposals[%d]: %w", i, err)
		}
		res.Disposals = append(res.Disposals, disp.ID)
	}
	for i, bs := range b.Budgets {
		budget, err := svc.CreateBudget(ctx, ledger.CreateBudget{
			Category: bs.Category,
			Period:   bs.Period,
			Budgeted: amountOrZero(bs.Budgeted),
		})
		if err != nil {
			return res, fmt.Errorf("budgets[%d]: %w", i, err)
		}
		res.Budgets = append(res.Budgets, budget.ID)
	}
	for i, r := range b.Reconciliations {
		id := res.Accounts[r.Account]
		date := dateOrZero(r.Date)
		book, err := svc.BookBalance(ctx, id, date)
		if err != nil {
			return res, fmt.Errorf("reconciliations[%d]: %w", i, err)
		}
		rec, err := svc.CreateReconciliation(ctx, ledger.ReconcileAccount{
			AccountID:                id,
			Date:                     date,
			BookBalance:              book,
			BankBalance:              amountOrZero(r.BankBalance),
			ReconciledIncomeIDs:      res.lookup(r.Incomes),
			ReconciledExpenditureIDs: res.lookup(r.Expenditures),
			Notes:                    r.Notes,
		})
		if err != nil {
			return res, fmt.Errorf("reconciliations[%d]: %w", i, err)
		}
		res.Reconciliations = append(res.Reconciliations, rec.ID)
	}
	return res, nil
}

func (r *Result) keep(key string, id ledger.TransactionID) {
	if key != "" {
		r.Entries[key] = id
	}
}

func (r *Result) lookup(keys []string) []ledger.TransactionID {
	var ids []ledger.TransactionID
	for _, k := range keys {
		ids = append(ids, r.Entries[k])
	}
	return ids
}

// amountOrZero and dateOrZero run after Validate, so parse errors can't occur.
func amountOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func dateOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := ledger.ParseDate(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
