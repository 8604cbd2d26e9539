// Package mem implements the physical frame allocator of the
// virtual-memory subsystem. It owns the pool of 4 KiB physical
// frames, a free list, and a per-frame reference count supporting page
// sharing.
package mem

import (
	"fmt"
	"sync"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page/frame in bytes.
const PGSIZE = 1 << PGSHIFT

// Pa_t is a physical address. The subsystem models x86-32 physical
// addressing, so 32 bits is sufficient.
type Pa_t uint32

// noFrame marks an empty free-list / owner slot.
const noFrame = ^uint32(0)

// Physpg_t is the per-frame bookkeeping record.
type Physpg_t struct {
	// Refcnt is 0 when free, 1 when exclusively owned, >1 when shared.
	Refcnt int32

	// nexti links this frame into the free list.
	nexti uint32

	// singlePTE/singleVA are the hot-path back-reference used while
	// Refcnt == 1. They are unused and meaningless once Refcnt rises
	// above 1 — callers must fall back to
	// the ptable iterator in that case (see internal/swap/evict.go).
	singlePTE uintptr // opaque PTE word address, owned by internal/pagetable
	singleVA  uint32
	hasSingle bool
}

// Physmem_t manages the pool of physical frames. Two lock domains are
// maintained: the free-list lock (muFree) and the ref-count table lock
// (muRef), acquired in that order and released in reverse. GetRef
// acquires only muRef.
type Physmem_t struct {
	muFree sync.Mutex
	muRef  sync.Mutex

	pgs     []Physpg_t
	backing []byte // simulated physical RAM, PGSIZE per frame

	startn  uint32 // first managed frame number
	freei   uint32
	freelen int

	poison bool
}

// NewPhysmem allocates a frame pool of nframes frames. poisonOnFree
// controls whether Free scribbles a detectable pattern into a frame
// that reaches ref-count zero; tests that inspect freed frame contents
// for other reasons may disable it.
func NewPhysmem(nframes int, poisonOnFree bool) *Physmem_t {
	if nframes <= 0 {
		panic("mem: nframes must be positive")
	}
	p := &Physmem_t{
		pgs:     make([]Physpg_t, nframes),
		backing: make([]byte, nframes*PGSIZE),
		startn:  0,
		freei:   noFrame,
		poison:  poisonOnFree,
	}
	for i := range p.pgs {
		p.pgs[i].Refcnt = -1 // not yet on free list
	}
	return p
}

func (p *Physmem_t) pgn(pa Pa_t) uint32 {
	return uint32(pa) >> PGSHIFT
}

func (p *Physmem_t) idx(pa Pa_t) uint32 {
	if uint32(pa)&uint32(PGSIZE-1) != 0 {
		panic(fmt.Sprintf("mem: misaligned physical address %#x", pa))
	}
	n := p.pgn(pa) - p.startn
	if int(n) >= len(p.pgs) {
		panic(fmt.Sprintf("mem: physical address %#x outside managed range", pa))
	}
	return n
}

// Freerange populates the free list by calling Free on every aligned
// frame in [start, end). It is an initialization helper only.
func (p *Physmem_t) Freerange(start, end Pa_t) {
	for a := start; a+PGSIZE <= end; a += PGSIZE {
		idx := p.idx(a)
		p.pgs[idx].Refcnt = 1 // pretend exclusively owned so Free's poison-on-last-ref fires
		p.Free(a)
	}
}

// Alloc detaches the head of the free list and sets its ref-count to
// 1. It returns (0, false) when no frame is available; contract does
// not require the returned frame's contents to be zeroed.
func (p *Physmem_t) Alloc() (Pa_t, bool) {
	p.muFree.Lock()
	idx := p.freei
	if idx == noFrame {
		p.muFree.Unlock()
		return 0, false
	}
	p.freei = p.pgs[idx].nexti
	p.freelen--
	p.muFree.Unlock()

	p.muRef.Lock()
	if p.pgs[idx].Refcnt != 0 {
		p.muRef.Unlock()
		panic("mem: Alloc found nonzero ref-count on free-list frame")
	}
	p.pgs[idx].Refcnt = 1
	p.pgs[idx].hasSingle = false
	p.muRef.Unlock()

	return Pa_t((idx + p.startn) << PGSHIFT), true
}

// Free decrements the frame's ref-count. When the count reaches zero
// the frame is poisoned (if enabled) and returned to the free list.
// Fatal if pa is misaligned or outside the managed range, or on a
// double free.
func (p *Physmem_t) Free(pa Pa_t) {
	idx := p.idx(pa)

	p.muRef.Lock()
	if p.pgs[idx].Refcnt <= 0 {
		p.muRef.Unlock()
		panic(fmt.Sprintf("mem: double free of frame %#x", pa))
	}
	p.pgs[idx].Refcnt--
	last := p.pgs[idx].Refcnt == 0
	if last {
		p.pgs[idx].hasSingle = false
		if p.poison {
			off := int(idx) * PGSIZE
			for i := 0; i < PGSIZE; i++ {
				p.backing[off+i] = 0x1
			}
		}
	}
	p.muRef.Unlock()

	if last {
		p.muFree.Lock()
		p.pgs[idx].nexti = p.freei
		p.freei = idx
		p.freelen++
		p.muFree.Unlock()
	}
}

// DecRefToZero is the eviction path's entry point: it asserts the
// frame's ref-count is exactly 1 before dropping it to zero, and panics
// if other sharers still hold references (where Free would only
// decrement and leave the frame allocated). Like Free on a last
// reference, it poisons the frame (if enabled) and returns it to the
// free list.
func (p *Physmem_t) DecRefToZero(pa Pa_t) {
	idx := p.idx(pa)

	p.muRef.Lock()
	if p.pgs[idx].Refcnt != 1 {
		p.muRef.Unlock()
		panic(fmt.Sprintf("mem: DecRefToZero on frame %#x with ref-count %d", pa, p.pgs[idx].Refcnt))
	}
	p.pgs[idx].Refcnt = 0
	p.pgs[idx].hasSingle = false
	if p.poison {
		off := int(idx) * PGSIZE
		for i := 0; i < PGSIZE; i++ {
			p.backing[off+i] = 0x1
		}
	}
	p.muRef.Unlock()

	p.muFree.Lock()
	p.pgs[idx].nexti = p.freei
	p.freei = idx
	p.freelen++
	p.muFree.Unlock()
}

// IncRef raises a frame's ref-count, used by fork/CoW sharing.
func (p *Physmem_t) IncRef(pa Pa_t) int32 {
	idx := p.idx(pa)
	p.muRef.Lock()
	defer p.muRef.Unlock()
	if p.pgs[idx].Refcnt <= 0 {
		panic(fmt.Sprintf("mem: IncRef on unallocated frame %#x", pa))
	}
	p.pgs[idx].Refcnt++
	p.pgs[idx].hasSingle = false // no longer single-owner once shared
	return p.pgs[idx].Refcnt
}

// DecRef lowers a frame's ref-count without unlinking it from
// anything; it is fatal if the ref-count is already zero. It does not
// free the frame itself even if the count reaches zero — callers that
// want that must call Free or DecRefToZero explicitly — ref-count
// maintenance is independent from free-list linkage.
func (p *Physmem_t) DecRef(pa Pa_t) int32 {
	idx := p.idx(pa)
	p.muRef.Lock()
	defer p.muRef.Unlock()
	if p.pgs[idx].Refcnt <= 0 {
		panic(fmt.Sprintf("mem: DecRef of already-zero frame %#x", pa))
	}
	p.pgs[idx].Refcnt--
	return p.pgs[idx].Refcnt
}

// GetRef reads a frame's current ref-count. It acquires only the
// ref-count lock.
func (p *Physmem_t) GetRef(pa Pa_t) int32 {
	idx := p.idx(pa)
	p.muRef.Lock()
	defer p.muRef.Unlock()
	return p.pgs[idx].Refcnt
}

// SetSingleOwner records the hot-path back-reference for a frame whose
// ref-count is (or is about to become) 1. pte is an opaque PTE word
// address owned by internal/pagetable; mem never dereferences it.
func (p *Physmem_t) SetSingleOwner(pa Pa_t, pte uintptr, va uint32) {
	idx := p.idx(pa)
	p.muRef.Lock()
	defer p.muRef.Unlock()
	p.pgs[idx].singlePTE = pte
	p.pgs[idx].singleVA = va
	p.pgs[idx].hasSingle = true
}

// SingleOwner returns the recorded back-reference, valid only when the
// frame's ref-count is 1.
func (p *Physmem_t) SingleOwner(pa Pa_t) (pte uintptr, va uint32, ok bool) {
	idx := p.idx(pa)
	p.muRef.Lock()
	defer p.muRef.Unlock()
	if !p.pgs[idx].hasSingle || p.pgs[idx].Refcnt != 1 {
		return 0, 0, false
	}
	return p.pgs[idx].singlePTE, p.pgs[idx].singleVA, true
}

// Dmap returns the byte slice backing the frame at pa. This is the
// simulation's stand-in for a direct-mapped kernel view of physical
// memory; it performs no translation beyond indexing the backing array.
func (p *Physmem_t) Dmap(pa Pa_t) []byte {
	idx := p.idx(pa)
	off := int(idx) * PGSIZE
	return p.backing[off : off+PGSIZE]
}

// Freecount reports the number of frames currently on the free list,
// used by internal/vmstat.
func (p *Physmem_t) Freecount() int {
	p.muFree.Lock()
	defer p.muFree.Unlock()
	return p.freelen
}
