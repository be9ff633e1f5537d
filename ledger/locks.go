package ledger

import (
	"sort"
	"sync"
)

// KeyedLocker hands out one mutex per key so commands against the same
// account serialize while commands against different accounts run in
// parallel. Idle mutexes are dropped once their last holder releases them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedMutex)}
}

// Lock acquires every key and returns the function that releases them.
// Keys are deduplicated and taken in sorted order, so two callers locking
// overlapping sets can't deadlock.
func (k *KeyedLocker) Lock(keys ...string) (unlock func()) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	held := make([]*keyedMutex, 0, len(sorted))
	for _, key := range sorted {
		m := k.acquire(key)
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			k.release(sorted[i])
		}
	}
}

func (k *KeyedLocker) acquire(key string) *keyedMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &keyedMutex{}
		k.locks[key] = m
	}
	m.refs++
	return m
}

func (k *KeyedLocker) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m := k.locks[key]
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

func accountKey(id AccountID) string { return "account:" + string(id) }

func liabilityKey(id LiabilityID) string { return "liability:" + string(id) }

func assetKey(id AssetID) string { return "asset:" + string(id) }

// budgetKey serializes budget roll-ups for one expense category.
func budgetKey(org OrgID, category string) string {
	return "budget:" + string(org) + ":" + category
}

// orgKey is taken by commands that rewrite rows across the organization
// (category cascades, renames, full recalculation).
func orgKey(org OrgID) string { return "org:" + string(org) }

// entryKeys returns the keys touched when e is written or removed.
func entryKeys(e Entry) []string {
	var keys []string
	for _, id := range Accounts(e) {
		keys = append(keys, accountKey(id))
	}
	switch v := e.(type) {
	case *Expenditure:
		keys = append(keys, budgetKey(v.OrgID, v.Category))
		if v.LinkedLiabilityID != "" {
			keys = append(keys, liabilityKey(v.LinkedLiabilityID))
		}
	case *Income:
		if v.LinkedLiabilityID != "" {
			keys = append(keys, liabilityKey(v.LinkedLiabilityID))
		}
		if v.LinkedAssetID != "" {
			keys = append(keys, assetKey(v.LinkedAssetID))
		}
	}
	return keys
}
