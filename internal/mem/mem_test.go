package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func freshPhysmem(t *testing.T, nframes int) *Physmem_t {
	t.Helper()
	p := NewPhysmem(nframes, true)
	p.Freerange(0, Pa_t(nframes*PGSIZE))
	return p
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := freshPhysmem(t, 4)
	pa, ok := p.Alloc()
	require.True(t, ok)
	require.EqualValues(t, 1, p.GetRef(pa))

	p.Free(pa)
	require.EqualValues(t, 0, p.GetRef(pa))

	// frame must be reusable after being freed
	pa2, ok := p.Alloc()
	require.True(t, ok)
	require.Equal(t, pa, pa2, "free list should return the just-freed frame")
}

func TestAllocExhaustion(t *testing.T) {
	p := freshPhysmem(t, 2)
	_, ok1 := p.Alloc()
	_, ok2 := p.Alloc()
	_, ok3 := p.Alloc()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3, "allocator must report failure once the pool is exhausted")
}

func TestIncDecRefSharing(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, ok := p.Alloc()
	require.True(t, ok)

	p.IncRef(pa)
	require.EqualValues(t, 2, p.GetRef(pa))

	p.DecRef(pa)
	require.EqualValues(t, 1, p.GetRef(pa))

	// DecRef does not unlink; the frame is still "allocated" with ref 1
	_, ok = p.Alloc()
	require.False(t, ok, "pool has only one frame and it is still referenced")
}

func TestDoubleFreeIsFatal(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, _ := p.Alloc()
	p.Free(pa)
	require.Panics(t, func() { p.Free(pa) })
}

func TestDecRefBelowZeroIsFatal(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, _ := p.Alloc()
	p.DecRef(pa) // ref now 0, frame still linked nowhere
	require.Panics(t, func() { p.DecRef(pa) })
}

func TestFreeMisalignedOrOutOfRangeIsFatal(t *testing.T) {
	p := freshPhysmem(t, 4)
	require.Panics(t, func() { p.Free(Pa_t(1)) })            // misaligned
	require.Panics(t, func() { p.Free(Pa_t(100 * PGSIZE)) }) // out of range
}

func TestFreePoisonsLastReference(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, _ := p.Alloc()
	buf := p.Dmap(pa)
	for i := range buf {
		buf[i] = 0xAB
	}
	p.Free(pa)
	buf = p.Dmap(pa)
	for i, b := range buf {
		require.EqualValues(t, 0x1, b, "byte %d should be poisoned after last free", i)
	}
}

func TestDecRefToZeroRequiresExactlyOne(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, _ := p.Alloc()
	p.IncRef(pa) // ref-count now 2
	require.Panics(t, func() { p.DecRefToZero(pa) })

	p.DecRef(pa) // back to 1
	require.NotPanics(t, func() { p.DecRefToZero(pa) })
	require.EqualValues(t, 0, p.GetRef(pa))
}

func TestSingleOwnerValidOnlyAtRefOne(t *testing.T) {
	p := freshPhysmem(t, 1)
	pa, _ := p.Alloc()
	p.SetSingleOwner(pa, 0xdead, 0x4000)

	pte, va, ok := p.SingleOwner(pa)
	require.True(t, ok)
	require.EqualValues(t, 0xdead, pte)
	require.EqualValues(t, 0x4000, va)

	p.IncRef(pa)
	_, _, ok = p.SingleOwner(pa)
	require.False(t, ok, "single-owner shortcut must not be trusted once shared")
}

func TestFreerangePopulatesFreeList(t *testing.T) {
	p := NewPhysmem(8, true)
	require.Equal(t, 0, p.Freecount(), "frames are reserved until Freerange runs")

	p.Freerange(0, Pa_t(8*PGSIZE))
	require.Equal(t, 8, p.Freecount())
}
