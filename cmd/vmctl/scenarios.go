package main

import (
	"github.com/pkg/errors"

	"github.com/Siromanec/xv6-public/internal/blockdev"
	"github.com/Siromanec/xv6-public/internal/mem"
	"github.com/Siromanec/xv6-public/internal/pagetable"
	"github.com/Siromanec/xv6-public/internal/ptable"
)

// scenario1 allocates one frame, maps it,
// store a byte, dealloc, confirm the frame returns to the free list.
func scenario1(r *rig) error {
	as, ok := r.pt.SetupKernelPD()
	if !ok {
		return errors.New("SetupKernelPD failed")
	}
	const va = uint32(0x4000)
	as.Sz = va + uint32(mem.PGSIZE)

	pa, ok := r.pm.Alloc()
	if !ok {
		return errors.New("frame pool exhausted before scenario began")
	}
	if !r.pt.Map(as, va, uint32(mem.PGSIZE), pa, pagetable.PTE_W|pagetable.PTE_U) {
		return errors.New("Map failed")
	}
	r.pm.Dmap(pa)[0] = 0xAB

	r.pt.DeallocUser(as, as.Sz, 0)
	as.Sz = 0

	if got := r.pm.GetRef(pa); got != 0 {
		return errors.Errorf("expected ref-count 0 after dealloc, got %d", got)
	}
	return nil
}

// scenario2 forks a parent with one
// writable page, lets the child diverge via copy-on-write, and confirms
// both sides read back their own bytes from two distinct frames.
func scenario2(r *rig) error {
	parent, ok := r.pt.SetupKernelPD()
	if !ok {
		return errors.New("SetupKernelPD failed")
	}
	sz, ok := r.pt.AllocUser(parent, 0, uint32(2*mem.PGSIZE))
	if !ok {
		return errors.New("AllocUser failed")
	}
	parent.Sz = sz

	pbuf, err := r.pt.Uva2ka(parent, uint32(mem.PGSIZE))
	if err != 0 {
		return errors.Errorf("parent Uva2ka: %v", err)
	}
	pbuf[0] = 0xAB

	child, ok := r.pt.CopyUser(parent, parent.Sz)
	if !ok {
		return errors.New("CopyUser failed")
	}

	cbuf, err := r.pt.Uva2ka(child, uint32(mem.PGSIZE))
	if err != 0 {
		return errors.Errorf("child Uva2ka: %v", err)
	}
	cbuf[0] = 0xCD

	pbuf, err = r.pt.Uva2ka(parent, uint32(mem.PGSIZE))
	if err != 0 {
		return errors.Errorf("parent re-read: %v", err)
	}
	if pbuf[0] != 0xAB {
		return errors.Errorf("expected parent's page to still read 0xAB, got %#x", pbuf[0])
	}
	cbuf, err = r.pt.Uva2ka(child, uint32(mem.PGSIZE))
	if err != 0 {
		return errors.Errorf("child re-read: %v", err)
	}
	if cbuf[0] != 0xCD {
		return errors.Errorf("expected child's page to read 0xCD, got %#x", cbuf[0])
	}

	ppte, _ := r.pt.Walk(parent, uint32(mem.PGSIZE), false)
	cpte, _ := r.pt.Walk(child, uint32(mem.PGSIZE), false)
	ppa := mem.Pa_t(*ppte & pagetable.PTE_ADDR)
	cpa := mem.Pa_t(*cpte & pagetable.PTE_ADDR)
	if ppa == cpa {
		return errors.New("expected two distinct frames after the write diverged them")
	}
	if r.pm.GetRef(ppa) != 1 || r.pm.GetRef(cpa) != 1 {
		return errors.Errorf("expected ref-count 1 on each frame, got parent=%d child=%d", r.pm.GetRef(ppa), r.pm.GetRef(cpa))
	}
	return nil
}

// scenario3 fills the frame pool, faults on
// a new address, confirms the eviction scan frees a victim into slot 0,
// and that the victim's contents round-trip on the next access.
func scenario3(r *rig) error {
	as, ok := r.pt.SetupKernelPD()
	if !ok {
		return errors.New("SetupKernelPD failed")
	}
	r.procs.Lock()
	r.procs.Add(&ptable.Proc{Pid: 1, AS: as, State: ptable.Running})
	r.procs.Unlock()

	var sz uint32
	for {
		grown, ok := r.pt.AllocUser(as, sz, sz+uint32(mem.PGSIZE))
		if !ok {
			break
		}
		sz = grown
		as.Sz = sz
	}
	if sz == 0 {
		return errors.New("could not allocate even one page")
	}

	buf, errt := r.pt.Uva2ka(as, 0)
	if errt != 0 {
		return errors.Errorf("Uva2ka: %v", errt)
	}
	for i := range buf {
		buf[i] = 0xAB
	}

	if !r.ev.Run() {
		return errors.New("eviction scan found no victim")
	}

	grown, ok := r.pt.AllocUser(as, sz, sz+uint32(mem.PGSIZE))
	if !ok {
		return errors.New("allocation still failed after eviction freed a frame")
	}
	as.Sz = grown

	if !r.store.BitSet(0) {
		return errors.New("expected the first eviction to land in slot 0")
	}

	got, errt := r.pt.Uva2ka(as, 0)
	if errt != 0 {
		return errors.Errorf("reading back evicted page: %v", errt)
	}
	for _, b := range got {
		if b != 0xAB {
			return errors.New("evicted page did not round-trip its original contents")
		}
	}
	return nil
}

// scenario4 forks three children sharing
// one permanently read-only page, evicts it, lets all four sharers
// restore it in turn, and confirms the slot survives until the last one.
func scenario4(r *rig) error {
	const va = uint32(mem.PGSIZE)
	pa, ok := r.pm.Alloc()
	if !ok {
		return errors.New("frame pool exhausted before scenario began")
	}
	r.pm.Dmap(pa)[0] = 0x7E
	for i := 0; i < 3; i++ {
		r.pm.IncRef(pa)
	}

	parent, _ := r.pt.SetupKernelPD()
	parent.Sz = va + uint32(mem.PGSIZE)
	if !r.pt.Map(parent, va, uint32(mem.PGSIZE), pa, pagetable.PTE_U) {
		return errors.New("mapping parent failed")
	}

	children := make([]*pagetable.AddressSpace, 3)
	for i := range children {
		c, _ := r.pt.SetupKernelPD()
		c.Sz = va + uint32(mem.PGSIZE)
		if !r.pt.Map(c, va, uint32(mem.PGSIZE), pa, pagetable.PTE_U) {
			return errors.Errorf("mapping child %d failed", i)
		}
		children[i] = c
	}

	r.procs.Lock()
	r.procs.Add(&ptable.Proc{Pid: 1, AS: parent, State: ptable.Running})
	for i, c := range children {
		r.procs.Add(&ptable.Proc{Pid: 2 + i, AS: c, State: ptable.Running})
	}
	r.procs.Unlock()

	if !r.ev.Run() {
		return errors.New("eviction scan found no victim")
	}

	ppte, _ := r.pt.Walk(parent, va, false)
	if *ppte&pagetable.PTE_S == 0 {
		return errors.New("expected the shared page to be swapped out")
	}
	key := pagetable.SwapKey{LogPN: va >> mem.PGSHIFT, PaPN: uint32(*ppte&pagetable.PTE_ADDR) >> mem.PGSHIFT}
	if n := r.sm.RecordSize(key); n != 4 {
		return errors.Errorf("expected all 4 sharers registered under one record, got %d", n)
	}

	slot := -1
	for i := uint32(0); i < *swapSlots; i++ {
		if r.store.BitSet(int(i)) {
			slot = int(i)
			break
		}
	}
	if slot == -1 {
		return errors.New("no swap slot marked used after eviction")
	}

	readers := append([]*pagetable.AddressSpace{parent}, children...)
	for i, as := range readers {
		got, errt := r.pt.Uva2ka(as, va)
		if errt != 0 {
			return errors.Errorf("reader %d Uva2ka: %v", i, errt)
		}
		if got[0] != 0x7E {
			return errors.Errorf("reader %d did not see the original byte", i)
		}
		if i < len(readers)-1 && !r.store.BitSet(slot) {
			return errors.Errorf("slot released too early, after reader %d restored", i)
		}
	}
	if r.store.BitSet(slot) {
		return errors.New("slot was not released after the last reader restored")
	}
	return nil
}

// scenario5 confirms that Take with a wrong PTE location reports
// not-found, without mutating the record or the bitmap.
func scenario5(r *rig) error {
	key := pagetable.SwapKey{LogPN: 0, PaPN: 0}
	loc := pagetable.PTELoc(0x1000)
	slot := r.sm.Put(key, loc, 0, false)
	before := r.store.BitSet(slot)

	if _, ok := r.sm.Take(key, pagetable.PTELoc(0x9999)); ok {
		return errors.New("expected Take with a wrong location to report not-found")
	}
	if n := r.sm.RecordSize(key); n != 1 {
		return errors.Errorf("expected the record untouched, got size %d", n)
	}
	if r.store.BitSet(slot) != before {
		return errors.New("expected the bitmap bit unchanged after a failed Take")
	}

	r.sm.Take(key, loc) // tidy up so the process's final state is clean
	return nil
}

// scenario6 releases a written slot and confirms the bitmap clears,
// the payload zeroes, and the next AcquireSlot reuses the same index.
func scenario6(r *rig) error {
	i := r.store.AcquireSlot()
	page := make([]byte, blockdev.BlockSize)
	for j := range page {
		page[j] = 0xFF
	}
	r.store.WriteSlot(i, page)

	r.store.ReleaseSlot(i)
	if r.store.BitSet(i) {
		return errors.New("expected the bitmap bit to clear after release")
	}

	got := make([]byte, blockdev.BlockSize)
	r.store.ReadSlot(i, got)
	for _, b := range got {
		if b != 0 {
			return errors.New("expected the released slot's payload to read back as zeros")
		}
	}

	j := r.store.AcquireSlot()
	if j != i {
		return errors.Errorf("expected AcquireSlot to reuse slot %d, got %d", i, j)
	}
	return nil
}
