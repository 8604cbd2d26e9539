package pagetable

import (
	"fmt"
	"time"

	"github.com/Siromanec/xv6-public/internal/defs"
	"github.com/Siromanec/xv6-public/internal/mem"
	"github.com/Siromanec/xv6-public/internal/oommsg"
	"github.com/Siromanec/xv6-public/internal/vmstat"
)

// oomWait bounds how long a fault handler waits for oommsg's receiver
// to shrink its own caches and signal Resume before giving up.
const oomWait = 2 * time.Millisecond

// allocOrNotify tries Physmem.Alloc once; on exhaustion it posts to
// oommsg.OomCh without blocking (if the channel's one-slot buffer is
// already full it fails immediately) and retries once if the receiver
// signals Resume within oomWait; otherwise it fails after oomWait.
func (m *Manager) allocOrNotify() (mem.Pa_t, bool) {
	if pa, ok := m.Physmem.Alloc(); ok {
		return pa, true
	}
	resume := make(chan bool, 1)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
	default:
		return 0, false
	}
	select {
	case <-resume:
		return m.Physmem.Alloc()
	case <-time.After(oomWait):
		return 0, false
	}
}

// FaultKind narrows the page-fault error code down to the cases the
// dispatcher distinguishes.
type FaultKind int

const (
	// FaultWrite is a store that trapped (hardware write-protect, or a
	// PTE absent entirely while the access was a write).
	FaultWrite FaultKind = iota
	// FaultRead is a load against a PTE with P clear.
	FaultRead
)

// HandleFault resolves a page fault at va. It returns 0 on success
// (the PTE is now present and usable), defs.ENOMEM when no frame can be
// allocated to resolve the fault, or defs.EFAULT on a genuine access
// violation (the null page, or an unmapped address at or beyond Sz).
//
// Dispatch order:
//  1. PTE_S set: restore from swap (may itself need a fresh frame).
//  2. PTE_C set on a write fault: copy-on-write split.
//  3. PTE absent and below Sz, outside the null page: lazy allocation.
//  4. Otherwise: EFAULT.
func (m *Manager) HandleFault(as *AddressSpace, va uint32, kind FaultKind) defs.Err_t {
	pte, ok := m.Walk(as, va, false)
	if ok && *pte&PTE_S != 0 {
		if !m.swapIn(as, pte, va) {
			return defs.ENOMEM
		}
		m.recordFault(vmstat.FaultSwapIn)
		return 0
	}

	if ok && *pte&PTE_P != 0 && *pte&PTE_C != 0 {
		if kind != FaultWrite {
			// a read against a CoW-pending page is satisfiable read-only
			return 0
		}
		if !m.cowSplit(as, pte) {
			return defs.ENOMEM
		}
		m.recordFault(vmstat.FaultCowSplit)
		return 0
	}

	if (!ok || *pte&PTE_P == 0) && va < as.Sz {
		if PGROUNDDOWN(va) == 0 {
			// the null page is never backed, lazily or otherwise
			return defs.EFAULT
		}
		err := m.lazyAlloc(as, va)
		if err == 0 {
			m.recordFault(vmstat.FaultLazyAlloc)
		}
		return err
	}

	return defs.EFAULT
}

func (m *Manager) lazyAlloc(as *AddressSpace, va uint32) defs.Err_t {
	pa, ok := m.allocOrNotify()
	if !ok {
		return defs.ENOMEM
	}
	buf := m.Physmem.Dmap(pa)
	for i := range buf {
		buf[i] = 0
	}
	rounded := PGROUNDDOWN(va)
	if !m.Map(as, rounded, uint32(mem.PGSIZE), pa, PTE_W|PTE_U) {
		m.Physmem.Free(pa)
		return defs.ENOMEM
	}
	pte, _ := m.Walk(as, rounded, false)
	m.Physmem.SetSingleOwner(pa, uintptr(locOf(pte)), rounded)
	return 0
}

// swapIn restores the frame backing *pte from the swap store. It
// allocates a fresh frame, reads the slot's contents into it, installs
// the mapping with P set and S clear, and releases the swap-map
// reference. It returns false only on frame exhaustion (fatal for the
// caller to translate into ENOMEM); a missing swap-map entry for a PTE
// that is genuinely marked S is an invariant violation and the swap
// package panics rather than returning false.
func (m *Manager) swapIn(as *AddressSpace, pte *PTE, va uint32) bool {
	pa, ok := m.allocOrNotify()
	if !ok {
		return false
	}
	key := SwapKey{LogPN: PGROUNDDOWN(va) >> mem.PGSHIFT, PaPN: uint32(*pte&PTE_ADDR) >> mem.PGSHIFT}
	slot, found := m.Swap.Take(key, locOf(pte))
	if !found {
		panic(fmt.Sprintf("pagetable: swapIn: PTE at va %#x not registered under key %+v", va, key))
	}
	m.Swap.ReadSlot(slot, m.Physmem.Dmap(pa))
	perm := (*pte &^ (PTE_ADDR | PTE_S)) | PTE_P
	*pte = PTE(pa) | perm
	m.Physmem.SetSingleOwner(pa, uintptr(locOf(pte)), PGROUNDDOWN(va))
	return true
}

// cowSplit resolves a write fault against a copy-on-write-pending PTE:
// if the frame is no longer shared (ref-count 1), the process simply
// regains write access; otherwise a private copy is made and the
// original's ref-count drops by one.
func (m *Manager) cowSplit(as *AddressSpace, pte *PTE) bool {
	oldPa := mem.Pa_t(*pte & PTE_ADDR)
	if m.Physmem.GetRef(oldPa) == 1 {
		if first, trace := cowDebug.Distinct(); first {
			fmt.Printf("pagetable: cowSplit: regaining write access without copy\n%s", trace)
		}
		*pte = (*pte &^ PTE_C) | PTE_W
		return true
	}

	newPa, ok := m.allocOrNotify()
	if !ok {
		return false
	}
	copy(m.Physmem.Dmap(newPa), m.Physmem.Dmap(oldPa))
	perm := (*pte &^ (PTE_ADDR | PTE_C)) | PTE_W
	*pte = PTE(newPa) | perm
	m.Physmem.DecRef(oldPa)
	m.Physmem.SetSingleOwner(newPa, uintptr(locOf(pte)), 0)
	return true
}

// CopyUser builds a copy-on-write sibling address space sharing every
// present user frame below sz. Page 0 is skipped, matching the
// original kernel's null-page convention. Any PTE still marked S is
// swapped back in first so that parent and child end up sharing one
// live frame rather than the swap slot; if that restore
// fails (frame exhaustion), the page is simply not copied — the child
// will fault it in lazily if it ever touches that address.
func (m *Manager) CopyUser(src *AddressSpace, sz uint32) (*AddressSpace, bool) {
	dst, ok := m.SetupKernelPD()
	if !ok {
		return nil, false
	}
	for va := uint32(mem.PGSIZE); va < sz; va += uint32(mem.PGSIZE) {
		pte, ok := m.Walk(src, va, false)
		if !ok {
			continue
		}
		if *pte&PTE_S != 0 {
			if !m.swapIn(src, pte, va) {
				continue
			}
		}
		if *pte&PTE_P == 0 {
			continue
		}

		*pte = (*pte &^ PTE_W) | PTE_C
		pa := mem.Pa_t(*pte & PTE_ADDR)
		perm := *pte &^ PTE_ADDR

		if !m.Map(dst, va, uint32(mem.PGSIZE), pa, perm) {
			dst.Sz = 0
			m.FreePD(dst)
			return nil, false
		}
		m.Physmem.IncRef(pa)

		childPte, _ := m.Walk(dst, va, false)
		_ = childPte // ref now 2, single-owner shortcut no longer applies to either side
	}
	dst.Sz = sz
	return dst, true
}

// Uva2ka resolves a user virtual address to the kernel-visible byte
// slice for its containing page, faulting it in (lazy alloc, CoW
// split, or swap-in as needed) if it is not already resident.
func (m *Manager) Uva2ka(as *AddressSpace, uva uint32) ([]byte, defs.Err_t) {
	pte, ok := m.Walk(as, uva, false)
	if !ok || *pte&(PTE_P|PTE_S) == 0 {
		if uva >= as.Sz {
			return nil, defs.EFAULT
		}
		if err := m.lazyAlloc(as, uva); err != 0 {
			return nil, err
		}
		pte, _ = m.Walk(as, uva, false)
	} else if *pte&PTE_S != 0 {
		if !m.swapIn(as, pte, uva) {
			return nil, defs.ENOMEM
		}
	} else if *pte&PTE_C != 0 {
		if !m.cowSplit(as, pte) {
			return nil, defs.ENOMEM
		}
	}
	if *pte&PTE_U == 0 {
		return nil, defs.EFAULT
	}
	pa := mem.Pa_t(*pte & PTE_ADDR)
	return m.Physmem.Dmap(pa), 0
}

// Copyout writes src into the process's address space starting at
// dstVA, crossing page boundaries and faulting pages in as needed.
func (m *Manager) Copyout(as *AddressSpace, dstVA uint32, src []byte) defs.Err_t {
	for len(src) > 0 {
		base := PGROUNDDOWN(dstVA)
		off := dstVA - base
		page, err := m.Uva2ka(as, dstVA)
		if err != 0 {
			return err
		}
		n := uint32(mem.PGSIZE) - off
		if n > uint32(len(src)) {
			n = uint32(len(src))
		}
		copy(page[off:], src[:n])
		src = src[n:]
		dstVA = base + uint32(mem.PGSIZE)
	}
	return 0
}
