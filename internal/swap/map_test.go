package swap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Siromanec/xv6-public/internal/blockdev"
	"github.com/Siromanec/xv6-public/internal/pagetable"
)

func tempMap(t *testing.T, nslots uint32) *Map {
	t.Helper()
	s := tempStore(t, nslots)
	return NewMap(8, s)
}

func dummyLoc(n int) pagetable.PTELoc { return pagetable.PTELoc(uintptr(n) * 8) }

func TestPutCreatesRecordAndTakeDestroysIt(t *testing.T) {
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 1, PaPN: 2}
	loc := dummyLoc(1)

	slot := m.Put(key, loc, 0, false)
	require.Equal(t, 1, m.RecordSize(key))
	require.True(t, m.store.BitSet(slot))

	got, ok := m.Take(key, loc)
	require.True(t, ok)
	require.Equal(t, slot, got)
	require.Equal(t, 0, m.RecordSize(key))
	require.False(t, m.store.BitSet(slot))
}

func TestPutGrowsExistingRecordForSameKey(t *testing.T) {
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 5, PaPN: 9}
	locA, locB, locC := dummyLoc(1), dummyLoc(2), dummyLoc(3)

	slot1 := m.Put(key, locA, 0, false)
	slot2 := m.Put(key, locB, 0, false)
	slot3 := m.Put(key, locC, 0, false)
	require.Equal(t, slot1, slot2)
	require.Equal(t, slot1, slot3)
	require.Equal(t, 3, m.RecordSize(key))
}

func TestTakeRemovesArbitraryMemberNotJustLast(t *testing.T) {
	// Exercises removing the first and last tracked PTE explicitly,
	// standing in for a classic head/tail linked-list removal bug
	// against this slice-backed record.
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 1, PaPN: 1}
	locA, locB, locC := dummyLoc(1), dummyLoc(2), dummyLoc(3)
	m.Put(key, locA, 0, false)
	m.Put(key, locB, 0, false)
	m.Put(key, locC, 0, false)

	_, ok := m.Take(key, locA) // head
	require.True(t, ok)
	require.Equal(t, 2, m.RecordSize(key))

	_, ok = m.Take(key, locC) // tail
	require.True(t, ok)
	require.Equal(t, 1, m.RecordSize(key))

	_, ok = m.Take(key, locB)
	require.True(t, ok)
	require.Equal(t, 0, m.RecordSize(key))
}

func TestTakeWithWrongLocationDoesNotMutate(t *testing.T) {
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 3, PaPN: 4}
	loc := dummyLoc(1)
	slot := m.Put(key, loc, 0, false)

	_, ok := m.Take(key, dummyLoc(99))
	require.False(t, ok)
	require.Equal(t, 1, m.RecordSize(key), "a failed take must not mutate the record")
	require.True(t, m.store.BitSet(slot), "a failed take must not touch the bitmap")
}

func TestTakeOfMissingKeyIsFatal(t *testing.T) {
	m := tempMap(t, 4)
	require.Panics(t, func() {
		m.Take(pagetable.SwapKey{LogPN: 1, PaPN: 1}, dummyLoc(1))
	})
}

func TestPutWithParentTieBreakAttachesToSameRecord(t *testing.T) {
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 7, PaPN: 2}
	parentLoc := dummyLoc(1)
	childLoc := dummyLoc(2)

	slot := m.Put(key, parentLoc, 0, false)
	got := m.Put(key, childLoc, parentLoc, true)
	require.Equal(t, slot, got)
	require.Equal(t, 2, m.RecordSize(key))
}

func TestPutWithParentNotAMemberPanics(t *testing.T) {
	m := tempMap(t, 4)
	key := pagetable.SwapKey{LogPN: 7, PaPN: 2}
	m.Put(key, dummyLoc(1), 0, false)

	require.Panics(t, func() {
		m.Put(key, dummyLoc(2), dummyLoc(99), true)
	})
}

func TestWriteReadSlotThroughMap(t *testing.T) {
	s := tempStore(t, 2)
	m := NewMap(4, s)
	key := pagetable.SwapKey{LogPN: 0, PaPN: 0}
	slot := m.Put(key, dummyLoc(1), 0, false)

	page := make([]byte, blockdev.BlockSize)
	for i := range page {
		page[i] = byte(i)
	}
	m.WriteSlot(slot, page)

	got := make([]byte, blockdev.BlockSize)
	m.ReadSlot(slot, got)
	require.Equal(t, page, got)
}
