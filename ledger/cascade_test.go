package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Store) error { return nil }

func TestCascade_PlanRespectsDependencies(t *testing.T) {
	// GIVEN: A disposal, its income, a plain income and the category
	// WHEN: Planning the cascade
	// THEN: Every step runs after what it depends on, ties keep insertion order

	c := newCascade()
	c.add("category:c1", "category", noop, "entry:i1", "entry:i2")
	c.add("entry:i1", "income", noop, "disposal:d1")
	c.add("entry:i2", "income", noop)
	c.add("disposal:d1", "disposal", noop)

	steps, err := c.plan()
	require.NoError(t, err)

	var order []string
	for _, s := range steps {
		order = append(order, s.key)
	}
	assert.Equal(t, []string{"entry:i2", "disposal:d1", "entry:i1", "category:c1"}, order)
}

func TestCascade_DuplicateAddMergesDependencies(t *testing.T) {
	c := newCascade()
	c.add("a", "income", noop)
	c.add("b", "income", noop)
	c.add("c", "category", noop, "a")
	c.add("c", "category", noop, "b")

	steps, err := c.plan()
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "c", steps[2].key)
}

func TestCascade_CycleAndUnknownDependency(t *testing.T) {
	c := newCascade()
	c.add("a", "income", noop, "b")
	c.add("b", "income", noop, "a")
	_, err := c.plan()
	assert.ErrorContains(t, err, "cycle")

	c = newCascade()
	c.add("a", "income", noop, "missing")
	_, err = c.plan()
	assert.ErrorContains(t, err, "unknown step")
}

func TestCascade_ExecuteCountsAndStopsOnError(t *testing.T) {
	var ran []string
	step := func(key string, fail bool) func(context.Context, Store) error {
		return func(context.Context, Store) error {
			ran = append(ran, key)
			if fail {
				return errors.New("boom")
			}
			return nil
		}
	}

	c := newCascade()
	c.add("disposal:d1", "disposal", step("disposal:d1", false))
	c.add("entry:i1", "income", step("entry:i1", false), "disposal:d1")
	c.add("budget:b1", "budget", step("budget:b1", false))
	report, err := c.execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, CascadeReport{Incomes: 1, Disposals: 1, Budgets: 1}, report)

	ran = nil
	c = newCascade()
	c.add("entry:e1", "expenditure", step("entry:e1", true))
	c.add("liability:l1", "liability", step("liability:l1", false), "entry:e1")
	_, err = c.execute(context.Background(), nil)
	assert.ErrorContains(t, err, "entry:e1")
	assert.Equal(t, []string{"entry:e1"}, ran)
}

// =============================================================================
// PERIOD
// =============================================================================

func TestParsePeriod(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		in    string
		label string
		start time.Time
		end   time.Time
	}{
		{"2025", "2025", d(2025, 1, 1), d(2025, 12, 31)},
		{"2025-Q1", "2025-Q1", d(2025, 1, 1), d(2025, 3, 31)},
		{"2025-q4", "2025-Q4", d(2025, 10, 1), d(2025, 12, 31)},
		{"2024-02", "2024-02", d(2024, 2, 1), d(2024, 2, 29)},
		{" 2025-11 ", "2025-11", d(2025, 11, 1), d(2025, 11, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePeriod(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.label, p.Label)
			assert.True(t, p.Start.Equal(tt.start), "start %s", p.Start)
			assert.True(t, p.End.Equal(tt.end), "end %s", p.End)
		})
	}

	for _, bad := range []string{"", "25", "2025-", "2025-Q0", "2025-Q12", "2025-00", "2025-1", "2025-13", "abcd", "2025-03-01"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, "input %q", bad)
	}
}

func TestPeriod_ContainsIsInclusive(t *testing.T) {
	p, err := ParsePeriod("2025-Q2")
	require.NoError(t, err)

	assert.True(t, p.Contains(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)))
}

// =============================================================================
// KEYED LOCKS
// =============================================================================

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	k := NewKeyedLocker()
	unlock := k.Lock("account:a", "account:b")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("account:b")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	// A disjoint key is not blocked.
	other := k.Lock("account:c")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was never released")
	}
}

func TestKeyedLocker_DropsIdleKeys(t *testing.T) {
	k := NewKeyedLocker()
	unlock := k.Lock("x", "x", "", "y")
	k.mu.Lock()
	assert.Len(t, k.locks, 2)
	k.mu.Unlock()

	unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestEntryKeys(t *testing.T) {
	ex := &Expenditure{
		EntryHeader:       EntryHeader{OrgID: "o"},
		AccountID:         "a1",
		Category:          "Liabilities",
		LinkedLiabilityID: "l1",
	}
	assert.ElementsMatch(t, []string{"account:a1", "budget:o:Liabilities", "liability:l1"}, entryKeys(ex))

	in := &Income{AccountID: "a2", LinkedAssetID: "asset-1"}
	assert.ElementsMatch(t, []string{"account:a2", "asset:asset-1"}, entryKeys(in))

	tr := &Transfer{FromAccountID: "a1", ToAccountID: "a2"}
	assert.ElementsMatch(t, []string{"account:a1", "account:a2"}, entryKeys(tr))
}
