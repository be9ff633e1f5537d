/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists every ledger table in one embedded database. The store is a
  table gateway: balances, cascades and validation stay in ledger.Service.
  In production, the same patterns apply to PostgreSQL (store/postgres).

KEY TABLES:
  accounts:         Cash, bank and mobile money accounts with their balance
  transactions:     Incomes, expenditures and transfers in one table; the
                    kind column says which, to_account_id is set for transfers
  liabilities:      Owed amounts and the amount paid so far
  categories:       Unique per (org, type, name) ignoring ASCII case
  budgets:          Budgeted and spent per expense category and period
  reconciliations:  Bank statement matches; id sets stored as JSON arrays
  disposals:        Asset sales and the income each one generated
  assets, members:  The slice of the entity store the ledger reads

INDEXES:
  - idx_transactions_account_date:  Balance and book balance (hot path)
  - idx_transactions_to_account:    Transfer destination lookups
  - idx_transactions_category:      Cascades and budget roll-ups
  - idx_transactions_liability:     Liability payments
  - idx_transactions_reconciled_in: Reconciliation marks

TYPES ON DISK:
  Money is TEXT written by decimal.Decimal's driver.Valuer, so no float
  ever touches an amount. Dates are "YYYY-MM-DD", timestamps RFC 3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so WithTx
  sees every write of the transaction and ":memory:" databases stay one
  database. In production with PostgreSQL, database-level concurrency
  control handles this instead.

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := ledger.NewService(st, org)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	mu   *sync.RWMutex
	inTx bool // true for the view handed to WithTx callbacks
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		opening_balance TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_org
		ON accounts(org_id);

	-- Incomes, expenditures and transfers
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('income', 'expenditure', 'transfer')),
		account_id TEXT NOT NULL,
		to_account_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		member_id TEXT NOT NULL DEFAULT '',
		linked_asset_id TEXT NOT NULL DEFAULT '',
		linked_liability_id TEXT NOT NULL DEFAULT '',
		is_reconciled INTEGER NOT NULL DEFAULT 0,
		reconciled_in TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_to_account
		ON transactions(to_account_id) WHERE to_account_id <> '';
	CREATE INDEX IF NOT EXISTS idx_transactions_category
		ON transactions(org_id, category);
	CREATE INDEX IF NOT EXISTS idx_transactions_liability
		ON transactions(linked_liability_id) WHERE linked_liability_id <> '';
	CREATE INDEX IF NOT EXISTS idx_transactions_reconciled_in
		ON transactions(reconciled_in) WHERE reconciled_in <> '';

	CREATE TABLE IF NOT EXISTS liabilities (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		date TEXT NOT NULL,
		category TEXT NOT NULL,
		creditor TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		original_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_liabilities_org_category
		ON liabilities(org_id, category);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL COLLATE NOCASE,
		type TEXT NOT NULL,
		track_members INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(org_id, type, name)
	);

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		category TEXT NOT NULL,
		period TEXT NOT NULL,
		budgeted TEXT NOT NULL,
		spent TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_org_category
		ON budgets(org_id, category);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		book_balance TEXT NOT NULL,
		bank_balance TEXT NOT NULL,
		reconciled_income_ids TEXT NOT NULL DEFAULT '[]',
		reconciled_expenditure_ids TEXT NOT NULL DEFAULT '[]',
		added_income_ids TEXT NOT NULL DEFAULT '[]',
		added_expenditure_ids TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliations_account
		ON reconciliations(org_id, account_id);

	CREATE TABLE IF NOT EXISTS disposals (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		income_id TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_disposals_income
		ON disposals(income_id);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &Store{db: s.db, q: sqlTx, mu: s.mu, inTx: true}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, org_id, name, type, currency, opening_balance, balance, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ledger.NotFound("account", id)
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, org ledger.OrgID) ([]ledger.Account, error) {
	defer s.rlock()()
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE org_id = ? ORDER BY rowid`, org)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrgID, a.Name, a.Type, a.Currency, a.OpeningBalance, a.Balance,
		stamp(a.CreatedAt), stamp(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, type = ?, currency = ?, opening_balance = ?, balance = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Type, a.Currency, a.OpeningBalance, a.Balance, stamp(a.UpdatedAt), a.ID,
	)
	return affected(res, err, "account", a.ID)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return affected(res, err, "account", id)
}

func scanAccount(sc scanner) (ledger.Account, error) {
	var (
		a                    ledger.Account
		createdAt, updatedAt string
	)
	err := sc.Scan(&a.ID, &a.OrgID, &a.Name, &a.Type, &a.Currency,
		&a.OpeningBalance, &a.Balance, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}
	a.CreatedAt = parseStamp(createdAt)
	a.UpdatedAt = parseStamp(updatedAt)
	return a, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, org_id, kind, account_id, to_account_id, date, amount, category,
	source, description, method, member_id, linked_asset_id, linked_liability_id,
	is_reconciled, reconciled_in, created_at`

// entryRow is the flat shape of an entry in the transactions table.
type entryRow struct {
	ID                ledger.TransactionID
	OrgID             ledger.OrgID
	Kind              ledger.Kind
	AccountID         ledger.AccountID
	ToAccountID       ledger.AccountID
	Date              string
	Amount            decimal.Decimal
	Category          string
	Source            string
	Description       string
	Method            string
	MemberID          ledger.MemberID
	LinkedAssetID     ledger.AssetID
	LinkedLiabilityID ledger.LiabilityID
	IsReconciled      bool
	ReconciledIn      ledger.ReconciliationID
	CreatedAt         string
}

func toEntryRow(e ledger.Entry) entryRow {
	h := e.Header()
	r := entryRow{
		ID:        h.ID,
		OrgID:     h.OrgID,
		Date:      h.Date.Format(ledger.DateLayout),
		Amount:    h.Amount,
		CreatedAt: stamp(h.CreatedAt),
	}
	switch v := e.(type) {
	case *ledger.Income:
		r.Kind = ledger.KindIncome
		r.AccountID = v.AccountID
		r.Category = v.Category
		r.Source = v.Source
		r.Method = v.Method
		r.MemberID = v.MemberID
		r.LinkedAssetID = v.LinkedAssetID
		r.LinkedLiabilityID = v.LinkedLiabilityID
		r.IsReconciled = v.IsReconciled
		r.ReconciledIn = v.ReconciledIn
	case *ledger.Expenditure:
		r.Kind = ledger.KindExpenditure
		r.AccountID = v.AccountID
		r.Category = v.Category
		r.Description = v.Description
		r.Method = v.Method
		r.LinkedLiabilityID = v.LinkedLiabilityID
		r.IsReconciled = v.IsReconciled
		r.ReconciledIn = v.ReconciledIn
	case *ledger.Transfer:
		r.Kind = ledger.KindTransfer
		r.AccountID = v.FromAccountID
		r.ToAccountID = v.ToAccountID
		r.Description = v.Description
	}
	return r
}

func (r entryRow) args() []any {
	return []any{
		r.ID, r.OrgID, r.Kind, r.AccountID, r.ToAccountID, r.Date, r.Amount, r.Category,
		r.Source, r.Description, r.Method, r.MemberID, r.LinkedAssetID, r.LinkedLiabilityID,
		r.IsReconciled, r.ReconciledIn, r.CreatedAt,
	}
}

func (r entryRow) entry() (ledger.Entry, error) {
	date, err := time.Parse(ledger.DateLayout, r.Date)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad date %q: %w", r.ID, r.Date, err)
	}
	h := ledger.EntryHeader{
		ID:        r.ID,
		OrgID:     r.OrgID,
		Date:      date,
		Amount:    r.Amount,
		CreatedAt: parseStamp(r.CreatedAt),
	}
	mark := ledger.ReconcileMark{IsReconciled: r.IsReconciled, ReconciledIn: r.ReconciledIn}
	switch r.Kind {
	case ledger.KindIncome:
		return &ledger.Income{
			EntryHeader:       h,
			ReconcileMark:     mark,
			AccountID:         r.AccountID,
			Source:            r.Source,
			Category:          r.Category,
			Method:            r.Method,
			MemberID:          r.MemberID,
			LinkedAssetID:     r.LinkedAssetID,
			LinkedLiabilityID: r.LinkedLiabilityID,
		}, nil
	case ledger.KindExpenditure:
		return &ledger.Expenditure{
			EntryHeader:       h,
			ReconcileMark:     mark,
			AccountID:         r.AccountID,
			Description:       r.Description,
			Category:          r.Category,
			Method:            r.Method,
			LinkedLiabilityID: r.LinkedLiabilityID,
		}, nil
	case ledger.KindTransfer:
		return &ledger.Transfer{
			EntryHeader:   h,
			FromAccountID: r.AccountID,
			ToAccountID:   r.ToAccountID,
			Description:   r.Description,
		}, nil
	}
	return nil, fmt.Errorf("transaction %s: unknown kind %q", r.ID, r.Kind)
}

func scanEntry(sc scanner) (ledger.Entry, error) {
	var r entryRow
	err := sc.Scan(&r.ID, &r.OrgID, &r.Kind, &r.AccountID, &r.ToAccountID, &r.Date, &r.Amount,
		&r.Category, &r.Source, &r.Description, &r.Method, &r.MemberID, &r.LinkedAssetID,
		&r.LinkedLiabilityID, &r.IsReconciled, &r.ReconciledIn, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r.entry()
}

func (s *Store) GetEntry(ctx context.Context, id ledger.TransactionID) (ledger.Entry, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM transactions WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFound("transaction", id)
	}
	return e, err
}

// ListEntries returns matching entries by date, then insertion order.
// Kinds are derived from several columns, so every row also passes
// through f.Match.
func (s *Store) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.LiabilityID != "" {
		where = append(where, "linked_liability_id = ?")
		args = append(args, f.LiabilityID)
	}
	if f.AssetID != "" {
		where = append(where, "linked_asset_id = ?")
		args = append(args, f.AssetID)
	}
	if f.ReconciliationID != "" {
		where = append(where, "reconciled_in = ?")
		args = append(args, f.ReconciliationID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, ledger.Day(f.From).Format(ledger.DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, ledger.Day(f.To).Format(ledger.DateLayout))
	}

	query := `SELECT ` + entryColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date ASC, rowid ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if f.Match(e) {
			entries = append(entries, e)
		}
	}
	return entries, rows.Err()
}

func (s *Store) InsertEntry(ctx context.Context, e ledger.Entry) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toEntryRow(e).args()...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	defer s.lock()()
	r := toEntryRow(e)
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET org_id = ?, kind = ?, account_id = ?, to_account_id = ?, date = ?, amount = ?,
		    category = ?, source = ?, description = ?, method = ?, member_id = ?,
		    linked_asset_id = ?, linked_liability_id = ?, is_reconciled = ?, reconciled_in = ?
		WHERE id = ?`,
		r.OrgID, r.Kind, r.AccountID, r.ToAccountID, r.Date, r.Amount,
		r.Category, r.Source, r.Description, r.Method, r.MemberID,
		r.LinkedAssetID, r.LinkedLiabilityID, r.IsReconciled, r.ReconciledIn,
		r.ID,
	)
	return affected(res, err, "transaction", r.ID)
}

func (s *Store) DeleteEntry(ctx context.Context, id ledger.TransactionID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return affected(res, err, "transaction", id)
}

// =============================================================================
// LIABILITIES
// =============================================================================

const liabilityColumns = `id, org_id, date, category, creditor, description, original_amount, amount_paid, created_at, updated_at`

func (s *Store) GetLiability(ctx context.Context, id ledger.LiabilityID) (ledger.Liability, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+liabilityColumns+` FROM liabilities WHERE id = ?`, id)
	l, err := scanLiability(row)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ledger.NotFound("liability", id)
	}
	return l, err
}

func (s *Store) ListLiabilities(ctx context.Context, f ledger.LiabilityFilter) ([]ledger.Liability, error) {
	defer s.rlock()()
	query := `SELECT ` + liabilityColumns + ` FROM liabilities WHERE org_id = ?`
	args := []any{f.OrgID}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query liabilities: %w", err)
	}
	defer rows.Close()

	var out []ledger.Liability
	for rows.Next() {
		l, err := scanLiability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) InsertLiability(ctx context.Context, l ledger.Liability) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO liabilities (`+liabilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrgID, l.Date.Format(ledger.DateLayout), l.Category, l.Creditor, l.Description,
		l.OriginalAmount, l.AmountPaid, stamp(l.CreatedAt), stamp(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert liability: %w", err)
	}
	return nil
}

func (s *Store) UpdateLiability(ctx context.Context, l ledger.Liability) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `
		UPDATE liabilities
		SET date = ?, category = ?, creditor = ?, description = ?,
		    original_amount = ?, amount_paid = ?, updated_at = ?
		WHERE id = ?`,
		l.Date.Format(ledger.DateLayout), l.Category, l.Creditor, l.Description,
		l.OriginalAmount, l.AmountPaid, stamp(l.UpdatedAt), l.ID,
	)
	return affected(res, err, "liability", l.ID)
}

func (s *Store) DeleteLiability(ctx context.Context, id ledger.LiabilityID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM liabilities WHERE id = ?`, id)
	return affected(res, err, "liability", id)
}

func scanLiability(sc scanner) (ledger.Liability, error) {
	var (
		l                          ledger.Liability
		date, createdAt, updatedAt string
	)
	err := sc.Scan(&l.ID, &l.OrgID, &date, &l.Category, &l.Creditor, &l.Description,
		&l.OriginalAmount, &l.AmountPaid, &createdAt, &updatedAt)
	if err != nil {
		return l, err
	}
	l.Date = parseDate(date)
	l.CreatedAt = parseStamp(createdAt)
	l.UpdatedAt = parseStamp(updatedAt)
	return l, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

const categoryColumns = `id, org_id, name, type, track_members, description, created_at`

func (s *Store) GetCategory(ctx context.Context, id ledger.CategoryID) (ledger.Category, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ledger.NotFound("category", id)
	}
	return c, err
}

func (s *Store) ListCategories(ctx context.Context, org ledger.OrgID) ([]ledger.Category, error) {
	defer s.rlock()()
	rows, err := s.q.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE org_id = ? ORDER BY rowid`, org)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []ledger.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertCategory(ctx context.Context, c ledger.Category) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, c.Type, c.TrackMembers, c.Description, stamp(c.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, c ledger.Category) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `
		UPDATE categories SET name = ?, type = ?, track_members = ?, description = ?
		WHERE id = ?`,
		c.Name, c.Type, c.TrackMembers, c.Description, c.ID,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	return affected(res, err, "category", c.ID)
}

func (s *Store) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	return affected(res, err, "category", id)
}

func scanCategory(sc scanner) (ledger.Category, error) {
	var (
		c         ledger.Category
		createdAt string
	)
	if err := sc.Scan(&c.ID, &c.OrgID, &c.Name, &c.Type, &c.TrackMembers, &c.Description, &createdAt); err != nil {
		return c, err
	}
	c.CreatedAt = parseStamp(createdAt)
	return c, nil
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = `id, org_id, category, period, budgeted, spent, created_at, updated_at`

func (s *Store) GetBudget(ctx context.Context, id ledger.BudgetID) (ledger.Budget, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ledger.NotFound("budget", id)
	}
	return b, err
}

func (s *Store) ListBudgets(ctx context.Context, f ledger.BudgetFilter) ([]ledger.Budget, error) {
	defer s.rlock()()
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE org_id = ?`
	args := []any{f.OrgID}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var out []ledger.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) InsertBudget(ctx context.Context, b ledger.Budget) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrgID, b.Category, b.Period, b.Budgeted, b.Spent, stamp(b.CreatedAt), stamp(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (s *Store) UpdateBudget(ctx context.Context, b ledger.Budget) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `
		UPDATE budgets SET category = ?, period = ?, budgeted = ?, spent = ?, updated_at = ?
		WHERE id = ?`,
		b.Category, b.Period, b.Budgeted, b.Spent, stamp(b.UpdatedAt), b.ID,
	)
	return affected(res, err, "budget", b.ID)
}

func (s *Store) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	return affected(res, err, "budget", id)
}

func scanBudget(sc scanner) (ledger.Budget, error) {
	var (
		b                    ledger.Budget
		createdAt, updatedAt string
	)
	err := sc.Scan(&b.ID, &b.OrgID, &b.Category, &b.Period, &b.Budgeted, &b.Spent, &createdAt, &updatedAt)
	if err != nil {
		return b, err
	}
	b.CreatedAt = parseStamp(createdAt)
	b.UpdatedAt = parseStamp(updatedAt)
	return b, nil
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

const reconciliationColumns = `id, org_id, account_id, date, book_balance, bank_balance,
	reconciled_income_ids, reconciled_expenditure_ids, added_income_ids, added_expenditure_ids,
	notes, created_at, updated_at`

func (s *Store) GetReconciliation(ctx context.Context, id ledger.ReconciliationID) (ledger.Reconciliation, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+reconciliationColumns+` FROM reconciliations WHERE id = ?`, id)
	r, err := scanReconciliation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ledger.NotFound("reconciliation", id)
	}
	return r, err
}

func (s *Store) ListReconciliations(ctx context.Context, org ledger.OrgID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	defer s.rlock()()
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE org_id = ?`
	args := []any{org}
	if account != "" {
		query += ` AND account_id = ?`
		args = append(args, account)
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY date ASC, rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Reconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	defer s.lock()()
	sets, err := encodeSets(r)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO reconciliations (`+reconciliationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrgID, r.AccountID, r.Date.Format(ledger.DateLayout), r.BookBalance, r.BankBalance,
		sets[0], sets[1], sets[2], sets[3], r.Notes, stamp(r.CreatedAt), stamp(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	return nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	defer s.lock()()
	sets, err := encodeSets(r)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE reconciliations
		SET date = ?, book_balance = ?, bank_balance = ?,
		    reconciled_income_ids = ?, reconciled_expenditure_ids = ?,
		    added_income_ids = ?, added_expenditure_ids = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		r.Date.Format(ledger.DateLayout), r.BookBalance, r.BankBalance,
		sets[0], sets[1], sets[2], sets[3], r.Notes, stamp(r.UpdatedAt), r.ID,
	)
	return affected(res, err, "reconciliation", r.ID)
}

func (s *Store) DeleteReconciliation(ctx context.Context, id ledger.ReconciliationID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM reconciliations WHERE id = ?`, id)
	return affected(res, err, "reconciliation", id)
}

func encodeSets(r ledger.Reconciliation) ([4]string, error) {
	var out [4]string
	for i, ids := range [][]ledger.TransactionID{
		r.ReconciledIncomeIDs, r.ReconciledExpenditureIDs, r.AddedIncomeIDs, r.AddedExpenditureIDs,
	} {
		if ids == nil {
			ids = []ledger.TransactionID{}
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return out, fmt.Errorf("failed to encode reconciliation %s: %w", r.ID, err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func scanReconciliation(sc scanner) (ledger.Reconciliation, error) {
	var (
		r                          ledger.Reconciliation
		date, createdAt, updatedAt string
		sets                       [4]string
	)
	err := sc.Scan(&r.ID, &r.OrgID, &r.AccountID, &date, &r.BookBalance, &r.BankBalance,
		&sets[0], &sets[1], &sets[2], &sets[3], &r.Notes, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	for i, dst := range []*[]ledger.TransactionID{
		&r.ReconciledIncomeIDs, &r.ReconciledExpenditureIDs, &r.AddedIncomeIDs, &r.AddedExpenditureIDs,
	} {
		if err := json.Unmarshal([]byte(sets[i]), dst); err != nil {
			return r, fmt.Errorf("failed to decode reconciliation %s: %w", r.ID, err)
		}
	}
	r.Date = parseDate(date)
	r.CreatedAt = parseStamp(createdAt)
	r.UpdatedAt = parseStamp(updatedAt)
	return r, nil
}

// =============================================================================
// DISPOSALS
// =============================================================================

const disposalColumns = `id, org_id, asset_id, account_id, date, amount, income_id, notes, created_at`

func (s *Store) GetDisposal(ctx context.Context, id ledger.DisposalID) (ledger.Disposal, error) {
	defer s.rlock()()
	row := s.q.QueryRowContext(ctx, `SELECT `+disposalColumns+` FROM disposals WHERE id = ?`, id)
	d, err := scanDisposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ledger.NotFound("disposal", id)
	}
	return d, err
}

func (s *Store) ListDisposals(ctx context.Context, f ledger.DisposalFilter) ([]ledger.Disposal, error) {
	defer s.rlock()()
	var (
		where []string
		args  []any
	)
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, f.AssetID)
	}
	if f.IncomeID != "" {
		where = append(where, "income_id = ?")
		args = append(args, f.IncomeID)
	}
	query := `SELECT ` + disposalColumns + ` FROM disposals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposals: %w", err)
	}
	defer rows.Close()

	var out []ledger.Disposal
	for rows.Next() {
		d, err := scanDisposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) InsertDisposal(ctx context.Context, d ledger.Disposal) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO disposals (`+disposalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrgID, d.AssetID, d.AccountID, d.Date.Format(ledger.DateLayout), d.Amount,
		d.IncomeID, d.Notes, stamp(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert disposal: %w", err)
	}
	return nil
}

func (s *Store) DeleteDisposal(ctx context.Context, id ledger.DisposalID) error {
	defer s.lock()()
	res, err := s.q.ExecContext(ctx, `DELETE FROM disposals WHERE id = ?`, id)
	return affected(res, err, "disposal", id)
}

func scanDisposal(sc scanner) (ledger.Disposal, error) {
	var (
		d               ledger.Disposal
		date, createdAt string
	)
	err := sc.Scan(&d.ID, &d.OrgID, &d.AssetID, &d.AccountID, &date, &d.Amount, &d.IncomeID, &d.Notes, &createdAt)
	if err != nil {
		return d, err
	}
	d.Date = parseDate(date)
	d.CreatedAt = parseStamp(createdAt)
	return d, nil
}

// =============================================================================
// ENTITY STORE (assets, members)
// =============================================================================

func (s *Store) GetAsset(ctx context.Context, id ledger.AssetID) (ledger.Asset, error) {
	defer s.rlock()()
	var a ledger.Asset
	err := s.q.QueryRowContext(ctx,
		`SELECT id, org_id, name, status, previous_status FROM assets WHERE id = ?`, id,
	).Scan(&a.ID, &a.OrgID, &a.Name, &a.Status, &a.PreviousStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ledger.NotFound("asset", id)
	}
	return a, err
}

// SaveAsset upserts an asset.
func (s *Store) SaveAsset(ctx context.Context, a ledger.Asset) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assets (id, org_id, name, status, previous_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			status = excluded.status,
			previous_status = excluded.previous_status`,
		a.ID, a.OrgID, a.Name, a.Status, a.PreviousStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (s *Store) MemberExists(ctx context.Context, id ledger.MemberID) (bool, error) {
	defer s.rlock()()
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE id = ?`, id).Scan(&count)
	return count > 0, err
}

func (s *Store) SaveMember(ctx context.Context, m ledger.Member) error {
	defer s.lock()()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO members (id, org_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET org_id = excluded.org_id, name = excluded.name`,
		m.ID, m.OrgID, m.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	tables := []string{
		"transactions", "disposals", "reconciliations", "budgets",
		"liabilities", "categories", "accounts", "assets", "members",
	}
	for _, table := range tables {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func affected(res sql.Result, err error, kind string, id any) error {
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(ledger.DateLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ ledger.TxStore = (*Store)(nil)
)
