package swap

import (
	"fmt"
	"sync"

	"github.com/Siromanec/xv6-public/internal/hashtable"
	"github.com/Siromanec/xv6-public/internal/pagetable"
)

type record struct {
	slot int
	ptes []pagetable.PTELoc
}

func keyHash(k pagetable.SwapKey) uint32 { return k.LogPN + k.PaPN }

// Map is the swap map: a hash table keyed by the folded (log_a>>12,
// (pa-first)>>12) fingerprint, built on internal/hashtable's generic
// bucket chains. Unlike the underlying hashtable, whose Get is
// lock-free and whose Set/Del each take only their own bucket's lock,
// Map wraps the whole table in one mutex — put/take are
// read-modify-write sequences (find-or-create a record, then mutate
// its PTE set) that need a single held lock across, not two
// independent bucket-locked calls.
type Map struct {
	mu    sync.Mutex
	ht    *hashtable.Hashtable_t[pagetable.SwapKey, *record]
	store *Store
}

// NewMap builds a swap map with nbuckets buckets atop store.
func NewMap(nbuckets int, store *Store) *Map {
	return &Map{ht: hashtable.MkHash[pagetable.SwapKey, *record](nbuckets, keyHash), store: store}
}

// Put locates or creates the record for key and appends loc to its PTE
// set, returning the record's slot index. When
// hasParent is true (the fork tie-break case), parent must already be
// a member of the existing record — this implementation's single
// coarse lock eliminates the race the original's retry-across-buckets
// scheme defends against, so a failed check here indicates caller
// error and panics rather than opening a second record under the same
// key (which would break Take's key-uniqueness assumption).
func (m *Map) Put(key pagetable.SwapKey, loc pagetable.PTELoc, parent pagetable.PTELoc, hasParent bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.ht.Get(key)
	if !ok {
		if hasParent {
			panic(fmt.Sprintf("swap: Put: parent PTE given but no record exists for key %+v", key))
		}
		slot := m.store.AcquireSlot()
		rec = &record{slot: slot}
		m.ht.Set(key, rec)
	} else if hasParent {
		found := false
		for _, p := range rec.ptes {
			if p == parent {
				found = true
				break
			}
		}
		if !found {
			panic(fmt.Sprintf("swap: Put: parent PTE not a member of record for key %+v", key))
		}
	}

	rec.ptes = append(rec.ptes, loc)
	return rec.slot
}

// Take removes loc from the record for key, returning the slot index
// that backed it. When the record's PTE set becomes empty the record
// is destroyed and its slot released. ok is false only when loc was
// never a member of the record (no mutation happens in that case); a
// missing key entirely is a fatal invariant violation.
func (m *Map) Take(key pagetable.SwapKey, loc pagetable.PTELoc) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.ht.Get(key)
	if !ok {
		panic(fmt.Sprintf("swap: Take: no record for key %+v", key))
	}

	idx := -1
	for i, p := range rec.ptes {
		if p == loc {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false
	}

	slot := rec.slot
	rec.ptes = append(rec.ptes[:idx], rec.ptes[idx+1:]...)
	if len(rec.ptes) == 0 {
		m.ht.Del(key)
		m.store.ReleaseSlot(slot)
	}
	return slot, true
}

// WriteSlot and ReadSlot pass directly through to the backing store;
// Map exposes them so callers (the eviction scan, the fault
// dispatcher via pagetable.Swap_i) never need a separate *Store
// reference.
func (m *Map) WriteSlot(slot int, page []byte) { m.store.WriteSlot(slot, page) }
func (m *Map) ReadSlot(slot int, dst []byte)   { m.store.ReadSlot(slot, dst) }

// Occupancy reports used and total backing-store slot counts, for
// internal/vmstat's occupancy gauge.
func (m *Map) Occupancy() (used, total uint32) { return m.store.UsedSlots(), m.store.NumSlots() }

// RecordSize reports how many PTE locations the record for key
// currently carries, or 0 if none exists. Used by tests to check
// record growth/shrinkage without reaching into package internals.
func (m *Map) RecordSize(key pagetable.SwapKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ht.Get(key)
	if !ok {
		return 0
	}
	return len(rec.ptes)
}
