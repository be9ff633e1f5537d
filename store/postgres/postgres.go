/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore
on top of gorm.

PURPOSE:
  Hosted deployments share one database between several API processes, so
  the in-process keyed locks of ledger.Service are not enough on their own.
  Inside WithTx every account read takes a row lock (SELECT ... FOR UPDATE),
  which serializes concurrent commands touching the same account across
  processes while leaving other accounts free.

MODELS:
  One gorm model per table. Models are private: callers only ever see
  ledger types. Money columns are NUMERIC and round-trip through
  decimal.Decimal's Scanner/Valuer. Reconciliation id sets are JSONB.

ERRORS:
  gorm.ErrRecordNotFound     -> ledger.NotFound
  gorm.ErrDuplicatedKey      -> ledger.ErrDuplicateCategory (categories only)
  Zero rows affected on write -> ledger.NotFound

USAGE:
  st, err := postgres.New("host=localhost user=ledger dbname=ledger sslmode=disable")
  if err != nil {
      log.Fatal(err)
  }
  svc := ledger.NewService(st, org)

SEE ALSO:
  - store/sqlite/sqlite.go: Same schema for the embedded store
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements ledger.TxStore using PostgreSQL.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New connects to PostgreSQL and migrates the schema.
func New(dsn string) (*Store, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

// NewFromDB wraps an existing gorm handle. The schema must already exist.
func NewFromDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(
		"TRUNCATE transactions, disposals, reconciliations, budgets, liabilities, categories, accounts, assets, members",
	).Error
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&accountModel{},
		&entryModel{},
		&liabilityModel{},
		&categoryModel{},
		&budgetModel{},
		&reconciliationModel{},
		&disposalModel{},
		&assetModel{},
		&memberModel{},
	)
	if err != nil {
		return err
	}
	// Category names are unique per org and type regardless of case.
	return s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_org_type_name
		ON categories (org_id, type, lower(name))`).Error
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx runs fn inside a database transaction. Account reads made through
// the Store handed to fn lock the account row until commit.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// =============================================================================
// MODELS
// =============================================================================

type accountModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	OrgID          string          `gorm:"index;size:64;not null"`
	Name           string          `gorm:"size:100;not null"`
	Type           string          `gorm:"size:20;not null"`
	Currency       string          `gorm:"size:3;not null"`
	OpeningBalance decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (accountModel) TableName() string { return "accounts" }

// entryModel holds incomes, expenditures and transfers. For transfers
// AccountID is the source and ToAccountID the destination.
type entryModel struct {
	ID                string          `gorm:"primaryKey;size:64"`
	OrgID             string          `gorm:"index:idx_transactions_org_category;size:64;not null"`
	Kind              string          `gorm:"size:20;not null"`
	AccountID         string          `gorm:"index:idx_transactions_account_date;size:64;not null"`
	ToAccountID       string          `gorm:"index;size:64"`
	Date              time.Time       `gorm:"index:idx_transactions_account_date;type:date;not null"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Category          string          `gorm:"index:idx_transactions_org_category;size:100"`
	Source            string          `gorm:"size:255"`
	Description       string          `gorm:"size:255"`
	Method            string          `gorm:"size:50"`
	MemberID          string          `gorm:"size:64"`
	LinkedAssetID     string          `gorm:"index;size:64"`
	LinkedLiabilityID string          `gorm:"index;size:64"`
	IsReconciled      bool            `gorm:"default:false"`
	ReconciledIn      string          `gorm:"index;size:64"`
	CreatedAt         time.Time
}

func (entryModel) TableName() string { return "transactions" }

type liabilityModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	OrgID          string          `gorm:"index:idx_liabilities_org_category;size:64;not null"`
	Date           time.Time       `gorm:"type:date;not null"`
	Category       string          `gorm:"index:idx_liabilities_org_category;size:100;not null"`
	Creditor       string          `gorm:"size:255;not null"`
	Description    string          `gorm:"size:255"`
	OriginalAmount decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	AmountPaid     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (liabilityModel) TableName() string { return "liabilities" }

type categoryModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	OrgID        string `gorm:"size:64;not null"`
	Name         string `gorm:"size:100;not null"`
	Type         string `gorm:"size:20;not null"`
	TrackMembers bool   `gorm:"default:false"`
	Description  string `gorm:"size:255"`
	CreatedAt    time.Time
}

func (categoryModel) TableName() string { return "categories" }

type budgetModel struct {
	ID        string          `gorm:"primaryKey;size:64"`
	OrgID     string          `gorm:"index:idx_budgets_org_category;size:64;not null"`
	Category  string          `gorm:"index:idx_budgets_org_category;size:100;not null"`
	Period    string          `gorm:"size:10;not null"`
	Budgeted  decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Spent     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (budgetModel) TableName() string { return "budgets" }

type reconciliationModel struct {
	ID                       string          `gorm:"primaryKey;size:64"`
	OrgID                    string          `gorm:"index:idx_reconciliations_account;size:64;not null"`
	AccountID                string          `gorm:"index:idx_reconciliations_account;size:64;not null"`
	Date                     time.Time       `gorm:"type:date;not null"`
	BookBalance              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	BankBalance              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	ReconciledIncomeIDs      []string        `gorm:"type:jsonb;serializer:json"`
	ReconciledExpenditureIDs []string        `gorm:"type:jsonb;serializer:json"`
	AddedIncomeIDs           []string        `gorm:"type:jsonb;serializer:json"`
	AddedExpenditureIDs      []string        `gorm:"type:jsonb;serializer:json"`
	Notes                    string          `gorm:"type:text"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (reconciliationModel) TableName() string { return "reconciliations" }

type disposalModel struct {
	ID        string          `gorm:"primaryKey;size:64"`
	OrgID     string          `gorm:"index;size:64;not null"`
	AssetID   string          `gorm:"index;size:64;not null"`
	AccountID string          `gorm:"size:64;not null"`
	Date      time.Time       `gorm:"type:date;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	IncomeID  string          `gorm:"index;size:64;not null"`
	Notes     string          `gorm:"type:text"`
	CreatedAt time.Time
}

func (disposalModel) TableName() string { return "disposals" }

type assetModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	OrgID          string `gorm:"size:64"`
	Name           string `gorm:"size:255;not null"`
	Status         string `gorm:"size:20;not null"`
	PreviousStatus string `gorm:"size:20"`
}

func (assetModel) TableName() string { return "assets" }

type memberModel struct {
	ID    string `gorm:"primaryKey;size:64"`
	OrgID string `gorm:"size:64"`
	Name  string `gorm:"size:255;not null"`
}

func (memberModel) TableName() string { return "members" }

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m accountModel
	if err := q.Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Account{}, notFound(err, "account", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListAccounts(ctx context.Context, org ledger.OrgID) ([]ledger.Account, error) {
	var rows []accountModel
	if err := s.conn(ctx).Where("org_id = ?", string(org)).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	m := fromAccount(a)
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) error {
	m := fromAccount(a)
	res := s.conn(ctx).Model(&accountModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"name":            m.Name,
		"type":            m.Type,
		"currency":        m.Currency,
		"opening_balance": m.OpeningBalance,
		"balance":         m.Balance,
		"updated_at":      m.UpdatedAt,
	})
	return affected(res, "account", a.ID)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&accountModel{}), "account", id)
}

func fromAccount(a ledger.Account) accountModel {
	return accountModel{
		ID:             string(a.ID),
		OrgID:          string(a.OrgID),
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		OpeningBalance: a.OpeningBalance,
		Balance:        a.Balance,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (m accountModel) toLedger() ledger.Account {
	return ledger.Account{
		ID:             ledger.AccountID(m.ID),
		OrgID:          ledger.OrgID(m.OrgID),
		Name:           m.Name,
		Type:           ledger.AccountType(m.Type),
		Currency:       m.Currency,
		OpeningBalance: m.OpeningBalance,
		Balance:        m.Balance,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *Store) GetEntry(ctx context.Context, id ledger.TransactionID) (ledger.Entry, error) {
	var m entryModel
	if err := s.conn(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return m.toLedger()
}

// ListEntries narrows in SQL and finishes with f.Match, since kinds are
// derived from several columns.
func (s *Store) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	q := s.conn(ctx).Model(&entryModel{})
	if f.OrgID != "" {
		q = q.Where("org_id = ?", string(f.OrgID))
	}
	if f.AccountID != "" {
		q = q.Where("(account_id = ? OR to_account_id = ?)", string(f.AccountID), string(f.AccountID))
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.LiabilityID != "" {
		q = q.Where("linked_liability_id = ?", string(f.LiabilityID))
	}
	if f.AssetID != "" {
		q = q.Where("linked_asset_id = ?", string(f.AssetID))
	}
	if f.ReconciliationID != "" {
		q = q.Where("reconciled_in = ?", string(f.ReconciliationID))
	}
	if !f.From.IsZero() {
		q = q.Where("date >= ?", ledger.Day(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", ledger.Day(f.To))
	}

	var rows []entryModel
	if err := q.Order("date, created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var entries []ledger.Entry
	for _, m := range rows {
		e, err := m.toLedger()
		if err != nil {
			return nil, err
		}
		if f.Match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) InsertEntry(ctx context.Context, e ledger.Entry) error {
	m := fromEntry(e)
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// UpdateEntry rewrites every column but created_at. Select("*") makes gorm
// write zero values (cleared marks, empty links) too.
func (s *Store) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	m := fromEntry(e)
	res := s.conn(ctx).Model(&entryModel{}).Where("id = ?", m.ID).
		Select("*").Omit("id", "created_at").Updates(&m)
	return affected(res, "transaction", ledger.TransactionID(m.ID))
}

func (s *Store) DeleteEntry(ctx context.Context, id ledger.TransactionID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&entryModel{}), "transaction", id)
}

func fromEntry(e ledger.Entry) entryModel {
	h := e.Header()
	m := entryModel{
		ID:        string(h.ID),
		OrgID:     string(h.OrgID),
		Date:      ledger.Day(h.Date),
		Amount:    h.Amount,
		CreatedAt: h.CreatedAt,
	}
	switch v := e.(type) {
	case *ledger.Income:
		m.Kind = string(ledger.KindIncome)
		m.AccountID = string(v.AccountID)
		m.Category = v.Category
		m.Source = v.Source
		m.Method = v.Method
		m.MemberID = string(v.MemberID)
		m.LinkedAssetID = string(v.LinkedAssetID)
		m.LinkedLiabilityID = string(v.LinkedLiabilityID)
		m.IsReconciled = v.IsReconciled
		m.ReconciledIn = string(v.ReconciledIn)
	case *ledger.Expenditure:
		m.Kind = string(ledger.KindExpenditure)
		m.AccountID = string(v.AccountID)
		m.Category = v.Category
		m.Description = v.Description
		m.Method = v.Method
		m.LinkedLiabilityID = string(v.LinkedLiabilityID)
		m.IsReconciled = v.IsReconciled
		m.ReconciledIn = string(v.ReconciledIn)
	case *ledger.Transfer:
		m.Kind = string(ledger.KindTransfer)
		m.AccountID = string(v.FromAccountID)
		m.ToAccountID = string(v.ToAccountID)
		m.Description = v.Description
	}
	return m
}

func (m entryModel) toLedger() (ledger.Entry, error) {
	h := ledger.EntryHeader{
		ID:        ledger.TransactionID(m.ID),
		OrgID:     ledger.OrgID(m.OrgID),
		Date:      ledger.Day(m.Date),
		Amount:    m.Amount,
		CreatedAt: m.CreatedAt.UTC(),
	}
	mark := ledger.ReconcileMark{IsReconciled: m.IsReconciled, ReconciledIn: ledger.ReconciliationID(m.ReconciledIn)}
	switch ledger.Kind(m.Kind) {
	case ledger.KindIncome:
		return &ledger.Income{
			EntryHeader:       h,
			ReconcileMark:     mark,
			AccountID:         ledger.AccountID(m.AccountID),
			Source:            m.Source,
			Category:          m.Category,
			Method:            m.Method,
			MemberID:          ledger.MemberID(m.MemberID),
			LinkedAssetID:     ledger.AssetID(m.LinkedAssetID),
			LinkedLiabilityID: ledger.LiabilityID(m.LinkedLiabilityID),
		}, nil
	case ledger.KindExpenditure:
		return &ledger.Expenditure{
			EntryHeader:       h,
			ReconcileMark:     mark,
			AccountID:         ledger.AccountID(m.AccountID),
			Description:       m.Description,
			Category:          m.Category,
			Method:            m.Method,
			LinkedLiabilityID: ledger.LiabilityID(m.LinkedLiabilityID),
		}, nil
	case ledger.KindTransfer:
		return &ledger.Transfer{
			EntryHeader:   h,
			FromAccountID: ledger.AccountID(m.AccountID),
			ToAccountID:   ledger.AccountID(m.ToAccountID),
			Description:   m.Description,
		}, nil
	}
	return nil, fmt.Errorf("transaction %s: unknown kind %q", m.ID, m.Kind)
}

// =============================================================================
// LIABILITIES
// =============================================================================

func (s *Store) GetLiability(ctx context.Context, id ledger.LiabilityID) (ledger.Liability, error) {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m liabilityModel
	if err := q.Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Liability{}, notFound(err, "liability", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListLiabilities(ctx context.Context, f ledger.LiabilityFilter) ([]ledger.Liability, error) {
	q := s.conn(ctx).Where("org_id = ?", string(f.OrgID))
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	var rows []liabilityModel
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query liabilities: %w", err)
	}
	out := make([]ledger.Liability, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertLiability(ctx context.Context, l ledger.Liability) error {
	m := fromLiability(l)
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert liability: %w", err)
	}
	return nil
}

func (s *Store) UpdateLiability(ctx context.Context, l ledger.Liability) error {
	m := fromLiability(l)
	res := s.conn(ctx).Model(&liabilityModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"date":            m.Date,
		"category":        m.Category,
		"creditor":        m.Creditor,
		"description":     m.Description,
		"original_amount": m.OriginalAmount,
		"amount_paid":     m.AmountPaid,
		"updated_at":      m.UpdatedAt,
	})
	return affected(res, "liability", l.ID)
}

func (s *Store) DeleteLiability(ctx context.Context, id ledger.LiabilityID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&liabilityModel{}), "liability", id)
}

func fromLiability(l ledger.Liability) liabilityModel {
	return liabilityModel{
		ID:             string(l.ID),
		OrgID:          string(l.OrgID),
		Date:           ledger.Day(l.Date),
		Category:       l.Category,
		Creditor:       l.Creditor,
		Description:    l.Description,
		OriginalAmount: l.OriginalAmount,
		AmountPaid:     l.AmountPaid,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func (m liabilityModel) toLedger() ledger.Liability {
	return ledger.Liability{
		ID:             ledger.LiabilityID(m.ID),
		OrgID:          ledger.OrgID(m.OrgID),
		Date:           ledger.Day(m.Date),
		Category:       m.Category,
		Creditor:       m.Creditor,
		Description:    m.Description,
		OriginalAmount: m.OriginalAmount,
		AmountPaid:     m.AmountPaid,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) GetCategory(ctx context.Context, id ledger.CategoryID) (ledger.Category, error) {
	var m categoryModel
	if err := s.conn(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Category{}, notFound(err, "category", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListCategories(ctx context.Context, org ledger.OrgID) ([]ledger.Category, error) {
	var rows []categoryModel
	if err := s.conn(ctx).Where("org_id = ?", string(org)).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	out := make([]ledger.Category, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertCategory(ctx context.Context, c ledger.Category) error {
	m := fromCategory(c)
	err := s.conn(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, c ledger.Category) error {
	m := fromCategory(c)
	res := s.conn(ctx).Model(&categoryModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"name":          m.Name,
		"type":          m.Type,
		"track_members": m.TrackMembers,
		"description":   m.Description,
	})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	return affected(res, "category", c.ID)
}

func (s *Store) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&categoryModel{}), "category", id)
}

func fromCategory(c ledger.Category) categoryModel {
	return categoryModel{
		ID:           string(c.ID),
		OrgID:        string(c.OrgID),
		Name:         c.Name,
		Type:         string(c.Type),
		TrackMembers: c.TrackMembers,
		Description:  c.Description,
		CreatedAt:    c.CreatedAt,
	}
}

func (m categoryModel) toLedger() ledger.Category {
	return ledger.Category{
		ID:           ledger.CategoryID(m.ID),
		OrgID:        ledger.OrgID(m.OrgID),
		Name:         m.Name,
		Type:         ledger.CategoryType(m.Type),
		TrackMembers: m.TrackMembers,
		Description:  m.Description,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

// =============================================================================
// BUDGETS
// =============================================================================

func (s *Store) GetBudget(ctx context.Context, id ledger.BudgetID) (ledger.Budget, error) {
	var m budgetModel
	if err := s.conn(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Budget{}, notFound(err, "budget", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListBudgets(ctx context.Context, f ledger.BudgetFilter) ([]ledger.Budget, error) {
	q := s.conn(ctx).Where("org_id = ?", string(f.OrgID))
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	var rows []budgetModel
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	out := make([]ledger.Budget, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertBudget(ctx context.Context, b ledger.Budget) error {
	m := fromBudget(b)
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (s *Store) UpdateBudget(ctx context.Context, b ledger.Budget) error {
	m := fromBudget(b)
	res := s.conn(ctx).Model(&budgetModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"category":   m.Category,
		"period":     m.Period,
		"budgeted":   m.Budgeted,
		"spent":      m.Spent,
		"updated_at": m.UpdatedAt,
	})
	return affected(res, "budget", b.ID)
}

func (s *Store) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&budgetModel{}), "budget", id)
}

func fromBudget(b ledger.Budget) budgetModel {
	return budgetModel{
		ID:        string(b.ID),
		OrgID:     string(b.OrgID),
		Category:  b.Category,
		Period:    b.Period,
		Budgeted:  b.Budgeted,
		Spent:     b.Spent,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func (m budgetModel) toLedger() ledger.Budget {
	return ledger.Budget{
		ID:        ledger.BudgetID(m.ID),
		OrgID:     ledger.OrgID(m.OrgID),
		Category:  m.Category,
		Period:    m.Period,
		Budgeted:  m.Budgeted,
		Spent:     m.Spent,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

func (s *Store) GetReconciliation(ctx context.Context, id ledger.ReconciliationID) (ledger.Reconciliation, error) {
	var m reconciliationModel
	if err := s.conn(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Reconciliation{}, notFound(err, "reconciliation", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListReconciliations(ctx context.Context, org ledger.OrgID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	q := s.conn(ctx).Where("org_id = ?", string(org))
	if account != "" {
		q = q.Where("account_id = ?", string(account))
	}
	var rows []reconciliationModel
	if err := q.Order("date, created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	out := make([]ledger.Reconciliation, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	m := fromReconciliation(r)
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	return nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, r ledger.Reconciliation) error {
	m := fromReconciliation(r)
	res := s.conn(ctx).Model(&reconciliationModel{}).Where("id = ?", m.ID).
		Select("*").Omit("id", "org_id", "account_id", "created_at").Updates(&m)
	return affected(res, "reconciliation", r.ID)
}

func (s *Store) DeleteReconciliation(ctx context.Context, id ledger.ReconciliationID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&reconciliationModel{}), "reconciliation", id)
}

func fromReconciliation(r ledger.Reconciliation) reconciliationModel {
	return reconciliationModel{
		ID:                       string(r.ID),
		OrgID:                    string(r.OrgID),
		AccountID:                string(r.AccountID),
		Date:                     ledger.Day(r.Date),
		BookBalance:              r.BookBalance,
		BankBalance:              r.BankBalance,
		ReconciledIncomeIDs:      idStrings(r.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: idStrings(r.ReconciledExpenditureIDs),
		AddedIncomeIDs:           idStrings(r.AddedIncomeIDs),
		AddedExpenditureIDs:      idStrings(r.AddedExpenditureIDs),
		Notes:                    r.Notes,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
}

func (m reconciliationModel) toLedger() ledger.Reconciliation {
	return ledger.Reconciliation{
		ID:                       ledger.ReconciliationID(m.ID),
		OrgID:                    ledger.OrgID(m.OrgID),
		AccountID:                ledger.AccountID(m.AccountID),
		Date:                     ledger.Day(m.Date),
		BookBalance:              m.BookBalance,
		BankBalance:              m.BankBalance,
		ReconciledIncomeIDs:      transactionIDs(m.ReconciledIncomeIDs),
		ReconciledExpenditureIDs: transactionIDs(m.ReconciledExpenditureIDs),
		AddedIncomeIDs:           transactionIDs(m.AddedIncomeIDs),
		AddedExpenditureIDs:      transactionIDs(m.AddedExpenditureIDs),
		Notes:                    m.Notes,
		CreatedAt:                m.CreatedAt.UTC(),
		UpdatedAt:                m.UpdatedAt.UTC(),
	}
}

// idStrings never returns nil so empty sets are stored as [] rather than null.
func idStrings(ids []ledger.TransactionID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func transactionIDs(ids []string) []ledger.TransactionID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]ledger.TransactionID, 0, len(ids))
	for _, id := range ids {
		out = append(out, ledger.TransactionID(id))
	}
	return out
}

// =============================================================================
// DISPOSALS
// =============================================================================

func (s *Store) GetDisposal(ctx context.Context, id ledger.DisposalID) (ledger.Disposal, error) {
	var m disposalModel
	if err := s.conn(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Disposal{}, notFound(err, "disposal", id)
	}
	return m.toLedger(), nil
}

func (s *Store) ListDisposals(ctx context.Context, f ledger.DisposalFilter) ([]ledger.Disposal, error) {
	q := s.conn(ctx).Model(&disposalModel{})
	if f.OrgID != "" {
		q = q.Where("org_id = ?", string(f.OrgID))
	}
	if f.AssetID != "" {
		q = q.Where("asset_id = ?", string(f.AssetID))
	}
	if f.IncomeID != "" {
		q = q.Where("income_id = ?", string(f.IncomeID))
	}
	var rows []disposalModel
	if err := q.Order("date, created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query disposals: %w", err)
	}
	out := make([]ledger.Disposal, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toLedger())
	}
	return out, nil
}

func (s *Store) InsertDisposal(ctx context.Context, d ledger.Disposal) error {
	m := disposalModel{
		ID:        string(d.ID),
		OrgID:     string(d.OrgID),
		AssetID:   string(d.AssetID),
		AccountID: string(d.AccountID),
		Date:      ledger.Day(d.Date),
		Amount:    d.Amount,
		IncomeID:  string(d.IncomeID),
		Notes:     d.Notes,
		CreatedAt: d.CreatedAt,
	}
	if err := s.conn(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert disposal: %w", err)
	}
	return nil
}

func (s *Store) DeleteDisposal(ctx context.Context, id ledger.DisposalID) error {
	return affected(s.conn(ctx).Where("id = ?", string(id)).Delete(&disposalModel{}), "disposal", id)
}

func (m disposalModel) toLedger() ledger.Disposal {
	return ledger.Disposal{
		ID:        ledger.DisposalID(m.ID),
		OrgID:     ledger.OrgID(m.OrgID),
		AssetID:   ledger.AssetID(m.AssetID),
		AccountID: ledger.AccountID(m.AccountID),
		Date:      ledger.Day(m.Date),
		Amount:    m.Amount,
		IncomeID:  ledger.TransactionID(m.IncomeID),
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// =============================================================================
// ENTITY STORE (assets and members)
// =============================================================================

func (s *Store) GetAsset(ctx context.Context, id ledger.AssetID) (ledger.Asset, error) {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m assetModel
	if err := q.Where("id = ?", string(id)).First(&m).Error; err != nil {
		return ledger.Asset{}, notFound(err, "asset", id)
	}
	return ledger.Asset{
		ID:             ledger.AssetID(m.ID),
		OrgID:          ledger.OrgID(m.OrgID),
		Name:           m.Name,
		Status:         ledger.AssetStatus(m.Status),
		PreviousStatus: ledger.AssetStatus(m.PreviousStatus),
	}, nil
}

func (s *Store) SaveAsset(ctx context.Context, a ledger.Asset) error {
	m := assetModel{
		ID:             string(a.ID),
		OrgID:          string(a.OrgID),
		Name:           a.Name,
		Status:         string(a.Status),
		PreviousStatus: string(a.PreviousStatus),
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"org_id", "name", "status", "previous_status"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (s *Store) MemberExists(ctx context.Context, id ledger.MemberID) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&memberModel{}).Where("id = ?", string(id)).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to query members: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveMember(ctx context.Context, mem ledger.Member) error {
	m := memberModel{ID: string(mem.ID), OrgID: string(mem.OrgID), Name: mem.Name}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"org_id", "name"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func notFound[ID ~string](err error, kind string, id ID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.NotFound(kind, id)
	}
	return fmt.Errorf("failed to get %s %s: %w", kind, id, err)
}

func affected[ID ~string](res *gorm.DB, kind string, id ID) error {
	if res.Error != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ ledger.TxStore = (*Store)(nil)
)
