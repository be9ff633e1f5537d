// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps. It has no transactions: a Service on a
// plain Memory falls back to compensating rollback. Use TxMemory for
// snapshot transactions.
type Memory struct {
	mu   *sync.RWMutex
	t    *tables
	held bool // true inside WithTx, where the writer already holds mu
}

type tables struct {
	seq             int64
	accounts        table[ledger.AccountID, ledger.Account]
	entries         table[ledger.TransactionID, ledger.Entry]
	liabilities     table[ledger.LiabilityID, ledger.Liability]
	categories      table[ledger.CategoryID, ledger.Category]
	budgets         table[ledger.BudgetID, ledger.Budget]
	reconciliations table[ledger.ReconciliationID, ledger.Reconciliation]
	disposals       table[ledger.DisposalID, ledger.Disposal]
	assets          table[ledger.AssetID, ledger.Asset]
	members         table[ledger.MemberID, ledger.Member]
}

// table is one map of rows plus their insertion order.
type table[K comparable, V any] struct {
	rows map[K]V
	seq  map[K]int64
}

func newTable[K comparable, V any]() table[K, V] {
	return table[K, V]{rows: make(map[K]V), seq: make(map[K]int64)}
}

func (t table[K, V]) clone() table[K, V] {
	c := newTable[K, V]()
	for k, v := range t.rows {
		c.rows[k] = v
		c.seq[k] = t.seq[k]
	}
	return c
}

// sorted returns the rows matching keep, oldest insert first.
func (t table[K, V]) sorted(keep func(V) bool) []V {
	keys := make([]K, 0, len(t.rows))
	for k, v := range t.rows {
		if keep == nil || keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return t.seq[keys[i]] < t.seq[keys[j]] })
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = t.rows[k]
	}
	return out
}

func newTables() *tables {
	return &tables{
		accounts:        newTable[ledger.AccountID, ledger.Account](),
		entries:         newTable[ledger.TransactionID, ledger.Entry](),
		liabilities:     newTable[ledger.LiabilityID, ledger.Liability](),
		categories:      newTable[ledger.CategoryID, ledger.Category](),
		budgets:         newTable[ledger.BudgetID, ledger.Budget](),
		reconciliations: newTable[ledger.ReconciliationID, ledger.Reconciliation](),
		disposals:       newTable[ledger.DisposalID, ledger.Disposal](),
		assets:          newTable[ledger.AssetID, ledger.Asset](),
		members:         newTable[ledger.MemberID, ledger.Member](),
	}
}

func (t *tables) clone() *tables {
	return &tables{
		seq:             t.seq,
		accounts:        t.accounts.clone(),
		entries:         t.entries.clone(),
		liabilities:     t.liabilities.clone(),
		categories:      t.categories.clone(),
		budgets:         t.budgets.clone(),
		reconciliations: t.reconciliations.clone(),
		disposals:       t.disposals.clone(),
		assets:          t.assets.clone(),
		members:         t.members.clone(),
	}
}

func NewMemory() *Memory {
	return &Memory{mu: &sync.RWMutex{}, t: newTables()}
}

func (m *Memory) read() func() {
	if m.held {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *Memory) write() func() {
	if m.held {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) next() int64 {
	m.t.seq++
	return m.t.seq
}

// insert adds a row under a fresh id; update and remove need an existing one.
func insert[K comparable, V any](m *Memory, t table[K, V], kind string, id K, v V) error {
	if _, ok := t.rows[id]; ok {
		return fmt.Errorf("%s %v already exists", kind, id)
	}
	t.rows[id] = v
	t.seq[id] = m.next()
	return nil
}

func update[K comparable, V any](t table[K, V], kind string, id K, v V) error {
	if _, ok := t.rows[id]; !ok {
		return ledger.NotFound(kind, id)
	}
	t.rows[id] = v
	return nil
}

func remove[K comparable, V any](t table[K, V], kind string, id K) error {
	if _, ok := t.rows[id]; !ok {
		return ledger.NotFound(kind, id)
	}
	delete(t.rows, id)
	delete(t.seq, id)
	return nil
}

func get[K comparable, V any](t table[K, V], kind string, id K) (V, error) {
	v, ok := t.rows[id]
	if !ok {
		return v, ledger.NotFound(kind, id)
	}
	return v, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	defer m.read()()
	return get(m.t.accounts, "account", id)
}

func (m *Memory) ListAccounts(_ context.Context, org ledger.OrgID) ([]ledger.Account, error) {
	defer m.read()()
	return m.t.accounts.sorted(func(a ledger.Account) bool { return a.OrgID == org }), nil
}

func (m *Memory) InsertAccount(_ context.Context, a ledger.Account) error {
	defer m.write()()
	return insert(m, m.t.accounts, "account", a.ID, a)
}

func (m *Memory) UpdateAccount(_ context.Context, a ledger.Account) error {
	defer m.write()()
	return update(m.t.accounts, "account", a.ID, a)
}

func (m *Memory) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	defer m.write()()
	return remove(m.t.accounts, "account", id)
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) GetEntry(_ context.Context, id ledger.TransactionID) (ledger.Entry, error) {
	defer m.read()()
	e, err := get(m.t.entries, "transaction", id)
	if err != nil {
		return nil, err
	}
	return ledger.CloneEntry(e), nil
}

// ListEntries returns matching entries by date, then insertion order.
func (m *Memory) ListEntries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	defer m.read()()
	rows := m.t.entries.sorted(f.Match)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Header().Date.Before(rows[j].Header().Date)
	})
	for i, e := range rows {
		rows[i] = ledger.CloneEntry(e)
	}
	return rows, nil
}

func (m *Memory) InsertEntry(_ context.Context, e ledger.Entry) error {
	defer m.write()()
	return insert(m, m.t.entries, "transaction", e.Header().ID, ledger.CloneEntry(e))
}

func (m *Memory) UpdateEntry(_ context.Context, e ledger.Entry) error {
	defer m.write()()
	return update(m.t.entries, "transaction", e.Header().ID, ledger.CloneEntry(e))
}

func (m *Memory) DeleteEntry(_ context.Context, id ledger.TransactionID) error {
	defer m.write()()
	return remove(m.t.entries, "transaction", id)
}

// =============================================================================
// LIABILITIES
// =============================================================================

func (m *Memory) GetLiability(_ context.Context, id ledger.LiabilityID) (ledger.Liability, error) {
	defer m.read()()
	return get(m.t.liabilities, "liability", id)
}

func (m *Memory) ListLiabilities(_ context.Context, f ledger.LiabilityFilter) ([]ledger.Liability, error) {
	defer m.read()()
	return m.t.liabilities.sorted(func(l ledger.Liability) bool {
		return (f.OrgID == "" || l.OrgID == f.OrgID) && (f.Category == "" || l.Category == f.Category)
	}), nil
}

func (m *Memory) InsertLiability(_ context.Context, l ledger.Liability) error {
	defer m.write()()
	return insert(m, m.t.liabilities, "liability", l.ID, l)
}

func (m *Memory) UpdateLiability(_ context.Context, l ledger.Liability) error {
	defer m.write()()
	return update(m.t.liabilities, "liability", l.ID, l)
}

func (m *Memory) DeleteLiability(_ context.Context, id ledger.LiabilityID) error {
	defer m.write()()
	return remove(m.t.liabilities, "liability", id)
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (m *Memory) GetCategory(_ context.Context, id ledger.CategoryID) (ledger.Category, error) {
	defer m.read()()
	return get(m.t.categories, "category", id)
}

func (m *Memory) ListCategories(_ context.Context, org ledger.OrgID) ([]ledger.Category, error) {
	defer m.read()()
	return m.t.categories.sorted(func(c ledger.Category) bool { return c.OrgID == org }), nil
}

// InsertCategory enforces the (org, type, name) uniqueness a SQL store
// gets from its index. Names compare case-insensitively.
func (m *Memory) InsertCategory(_ context.Context, c ledger.Category) error {
	defer m.write()()
	if m.categoryTaken(c) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	return insert(m, m.t.categories, "category", c.ID, c)
}

func (m *Memory) UpdateCategory(_ context.Context, c ledger.Category) error {
	defer m.write()()
	if m.categoryTaken(c) {
		return fmt.Errorf("%w: %s category %q", ledger.ErrDuplicateCategory, c.Type, c.Name)
	}
	return update(m.t.categories, "category", c.ID, c)
}

func (m *Memory) categoryTaken(c ledger.Category) bool {
	for _, other := range m.t.categories.rows {
		if other.ID != c.ID && other.OrgID == c.OrgID && other.Type == c.Type &&
			strings.EqualFold(other.Name, c.Name) {
			return true
		}
	}
	return false
}

func (m *Memory) DeleteCategory(_ context.Context, id ledger.CategoryID) error {
	defer m.write()()
	return remove(m.t.categories, "category", id)
}

// =============================================================================
// BUDGETS
// =============================================================================

func (m *Memory) GetBudget(_ context.Context, id ledger.BudgetID) (ledger.Budget, error) {
	defer m.read()()
	return get(m.t.budgets, "budget", id)
}

func (m *Memory) ListBudgets(_ context.Context, f ledger.BudgetFilter) ([]ledger.Budget, error) {
	defer m.read()()
	return m.t.budgets.sorted(func(b ledger.Budget) bool {
		return (f.OrgID == "" || b.OrgID == f.OrgID) && (f.Category == "" || b.Category == f.Category)
	}), nil
}

func (m *Memory) InsertBudget(_ context.Context, b ledger.Budget) error {
	defer m.write()()
	return insert(m, m.t.budgets, "budget", b.ID, b)
}

func (m *Memory) UpdateBudget(_ context.Context, b ledger.Budget) error {
	defer m.write()()
	return update(m.t.budgets, "budget", b.ID, b)
}

func (m *Memory) DeleteBudget(_ context.Context, id ledger.BudgetID) error {
	defer m.write()()
	return remove(m.t.budgets, "budget", id)
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

func (m *Memory) GetReconciliation(_ context.Context, id ledger.ReconciliationID) (ledger.Reconciliation, error) {
	defer m.read()()
	r, err := get(m.t.reconciliations, "reconciliation", id)
	return copyReconciliation(r), err
}

func (m *Memory) ListReconciliations(_ context.Context, org ledger.OrgID, account ledger.AccountID) ([]ledger.Reconciliation, error) {
	defer m.read()()
	rows := m.t.reconciliations.sorted(func(r ledger.Reconciliation) bool {
		return r.OrgID == org && (account == "" || r.AccountID == account)
	})
	for i := range rows {
		rows[i] = copyReconciliation(rows[i])
	}
	return rows, nil
}

func (m *Memory) InsertReconciliation(_ context.Context, r ledger.Reconciliation) error {
	defer m.write()()
	return insert(m, m.t.reconciliations, "reconciliation", r.ID, copyReconciliation(r))
}

func (m *Memory) UpdateReconciliation(_ context.Context, r ledger.Reconciliation) error {
	defer m.write()()
	return update(m.t.reconciliations, "reconciliation", r.ID, copyReconciliation(r))
}

func (m *Memory) DeleteReconciliation(_ context.Context, id ledger.ReconciliationID) error {
	defer m.write()()
	return remove(m.t.reconciliations, "reconciliation", id)
}

func copyReconciliation(r ledger.Reconciliation) ledger.Reconciliation {
	r.ReconciledIncomeIDs = append([]ledger.TransactionID(nil), r.ReconciledIncomeIDs...)
	r.ReconciledExpenditureIDs = append([]ledger.TransactionID(nil), r.ReconciledExpenditureIDs...)
	r.AddedIncomeIDs = append([]ledger.TransactionID(nil), r.AddedIncomeIDs...)
	r.AddedExpenditureIDs = append([]ledger.TransactionID(nil), r.AddedExpenditureIDs...)
	return r
}

// =============================================================================
// DISPOSALS
// =============================================================================

func (m *Memory) GetDisposal(_ context.Context, id ledger.DisposalID) (ledger.Disposal, error) {
	defer m.read()()
	return get(m.t.disposals, "disposal", id)
}

func (m *Memory) ListDisposals(_ context.Context, f ledger.DisposalFilter) ([]ledger.Disposal, error) {
	defer m.read()()
	return m.t.disposals.sorted(func(d ledger.Disposal) bool {
		return (f.OrgID == "" || d.OrgID == f.OrgID) &&
			(f.AssetID == "" || d.AssetID == f.AssetID) &&
			(f.IncomeID == "" || d.IncomeID == f.IncomeID)
	}), nil
}

func (m *Memory) InsertDisposal(_ context.Context, d ledger.Disposal) error {
	defer m.write()()
	return insert(m, m.t.disposals, "disposal", d.ID, d)
}

func (m *Memory) DeleteDisposal(_ context.Context, id ledger.DisposalID) error {
	defer m.write()()
	return remove(m.t.disposals, "disposal", id)
}

// =============================================================================
// ENTITY STORE (assets, members)
// =============================================================================

func (m *Memory) GetAsset(_ context.Context, id ledger.AssetID) (ledger.Asset, error) {
	defer m.read()()
	return get(m.t.assets, "asset", id)
}

// SaveAsset upserts an asset.
func (m *Memory) SaveAsset(_ context.Context, a ledger.Asset) error {
	defer m.write()()
	if _, ok := m.t.assets.rows[a.ID]; ok {
		return update(m.t.assets, "asset", a.ID, a)
	}
	return insert(m, m.t.assets, "asset", a.ID, a)
}

func (m *Memory) MemberExists(_ context.Context, id ledger.MemberID) (bool, error) {
	defer m.read()()
	_, ok := m.t.members.rows[id]
	return ok, nil
}

func (m *Memory) SaveMember(_ context.Context, mem ledger.Member) error {
	defer m.write()()
	if _, ok := m.t.members.rows[mem.ID]; ok {
		return update(m.t.members, "member", mem.ID, mem)
	}
	return insert(m, m.t.members, "member", mem.ID, mem)
}

// Reset drops every row.
func (m *Memory) Reset(_ context.Context) error {
	defer m.write()()
	*m.t = *newTables()
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized; readers wait for the commit.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.t.clone()
	view := &Memory{mu: tm.mu, t: tm.t, held: true}

	if err := fn(view); err != nil {
		*tm.t = *snapshot
		return err
	}
	return nil
}

var (
	_ ledger.Store   = (*Memory)(nil)
	_ ledger.TxStore = (*TxMemory)(nil)
)
