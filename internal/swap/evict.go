package swap

import (
	"github.com/Siromanec/xv6-public/internal/mem"
	"github.com/Siromanec/xv6-public/internal/pagetable"
	"github.com/Siromanec/xv6-public/internal/ptable"
	"github.com/Siromanec/xv6-public/internal/vmstat"
)

// Evictor implements the second-chance eviction scan (component F)
// over the ptable collaborator.
type Evictor struct {
	PT    *pagetable.Manager
	Procs ptable.Table
	Map   *Map

	// Stats receives one eviction count per successful Run. Left nil by
	// every test Evictor; cmd/vmctl wires a real *vmstat.Stats in.
	Stats *vmstat.Stats
}

// NewEvictor builds an evictor over the given page-table manager,
// process table, and swap map.
func NewEvictor(pt *pagetable.Manager, procs ptable.Table, m *Map) *Evictor {
	return &Evictor{PT: pt, Procs: procs, Map: m}
}

// Run performs one second-chance pass: every present, non-CoW PTE with
// A set has A cleared and is skipped; the first one found with A
// already clear is evicted. It returns false if no evictable page
// exists (every resident page was touched this round, or there is
// nothing resident at all). Callers needing to free more than one
// frame call Run repeatedly.
//
// The whole pass runs under the process-table lock: external
// synchronization with the process table is assumed for the
// multi-owner PTE iterator.
func (e *Evictor) Run() bool {
	e.Procs.Lock()
	defer e.Procs.Unlock()

	var victimProc *ptable.Proc
	var victimVA uint32
	var victimPTE *pagetable.PTE

	for _, p := range e.Procs.Procs() {
		if p.State == ptable.Exiting || p.AS == nil {
			continue
		}
		for va := uint32(0); va < pagetable.PGROUNDUP(p.AS.Sz); va += uint32(mem.PGSIZE) {
			pte, ok := e.PT.Walk(p.AS, va, false)
			if !ok {
				va = pagetable.NextPDEBoundary(va)
				continue
			}
			if *pte&pagetable.PTE_P == 0 || *pte&pagetable.PTE_C != 0 {
				continue
			}
			if *pte&pagetable.PTE_A != 0 {
				*pte &^= pagetable.PTE_A
				continue
			}
			if victimPTE == nil {
				victimProc, victimVA, victimPTE = p, va, pte
			}
		}
	}

	if victimPTE == nil {
		return false
	}

	e.evict(victimProc, victimVA, victimPTE)
	if e.Stats != nil {
		e.Stats.RecordEviction()
	}
	return true
}

// evict carries out the eviction procedure for one victim frame:
// acquire a slot, write the frame's contents, mark every PTE mapping
// it S (discovered via the single-owner shortcut or, when shared, by
// walking every live process's directory at the victim's logical
// address), and return the frame to the free list.
func (e *Evictor) evict(victim *ptable.Proc, la uint32, pte *pagetable.PTE) {
	pa := mem.Pa_t(*pte & pagetable.PTE_ADDR)
	page := e.PT.Physmem.Dmap(pa)
	key := pagetable.SwapKey{LogPN: la >> mem.PGSHIFT, PaPN: uint32(pa) >> mem.PGSHIFT}

	if e.PT.Physmem.GetRef(pa) == 1 {
		slot := e.Map.Put(key, pagetable.LocOf(pte), 0, false)
		e.Map.WriteSlot(slot, page)
		*pte = (*pte &^ (pagetable.PTE_P | pagetable.PTE_A)) | pagetable.PTE_S
		e.PT.Physmem.DecRefToZero(pa)
		return
	}

	first := true
	for _, q := range e.Procs.Procs() {
		if q.State == ptable.Exiting || q.AS == nil {
			continue
		}
		qpte, ok := e.PT.Walk(q.AS, la, false)
		if !ok || *qpte&pagetable.PTE_P == 0 || mem.Pa_t(*qpte&pagetable.PTE_ADDR) != pa {
			continue
		}
		if first {
			slot := e.Map.Put(key, pagetable.LocOf(qpte), 0, false)
			e.Map.WriteSlot(slot, page)
			first = false
		} else {
			e.Map.Put(key, pagetable.LocOf(qpte), 0, false)
			// every sharer beyond the first drops its routing claim on pa;
			// DecRefToZero below expects exactly one left.
			e.PT.Physmem.DecRef(pa)
		}
		*qpte = (*qpte &^ (pagetable.PTE_P | pagetable.PTE_A)) | pagetable.PTE_S
	}
	e.PT.Physmem.DecRefToZero(pa)
}
