// Package pagetable implements the page-table manager and the fault
// dispatcher of the virtual-memory subsystem, plus the fork/copy-on-write
// logic. Page tables are two-level x86-style: a 10-bit directory index,
// a 10-bit table index, and a 12-bit page offset.
package pagetable

import (
	"fmt"
	"unsafe"

	"github.com/Siromanec/xv6-public/internal/caller"
	"github.com/Siromanec/xv6-public/internal/mem"
	"github.com/Siromanec/xv6-public/internal/util"
	"github.com/Siromanec/xv6-public/internal/vmstat"
)

// cowDebug deduplicates cowSplit's optional sole-owner diagnostic by
// call site, so turning it on doesn't spam a hot fault path with the
// same trace on every call. Disabled by default; set cowDebug.Enabled
// to trace which call sites hit the regain-write-without-copy shortcut.
var cowDebug caller.Distinct_caller_t

// PTE is a single 32-bit page-table entry word.
type PTE uint32

// Flag bit positions, fixed so that they match across the fault
// handler, eviction scan, and swap map regardless of host architecture:
const (
	PTE_P PTE = 0x1   // present in RAM
	PTE_W PTE = 0x2   // writable
	PTE_U PTE = 0x4   // user-accessible
	PTE_A PTE = 0x20  // hardware-set on access
	PTE_C PTE = 0x100 // copy-on-write pending; clears W while set
	PTE_S PTE = 0x200 // swapped out; clears P while set

	PTE_ADDR PTE = 0xfffff000 // upper 20 bits: frame address
	pgoffset PTE = 0xfff
)

const (
	pdxshift = 22
	ptxshift = 12
	idxmask  = 0x3ff
)

// KERNBASE is the split between user and kernel virtual addresses.
const KERNBASE = uint32(0xc0000000)

// PDX extracts the directory index from a virtual address.
func PDX(va uint32) uint32 { return (va >> pdxshift) & idxmask }

// PTX extracts the table index from a virtual address.
func PTX(va uint32) uint32 { return (va >> ptxshift) & idxmask }

// PGROUNDDOWN aligns va down to the start of its page.
func PGROUNDDOWN(va uint32) uint32 { return util.Rounddown(va, uint32(mem.PGSIZE)) }

// PGROUNDUP aligns va up to the start of the next page.
func PGROUNDUP(va uint32) uint32 { return util.Roundup(va, uint32(mem.PGSIZE)) }

// Pagetable_t is one level of the two-level table: 1024 32-bit
// entries, exactly filling one 4 KiB frame.
type Pagetable_t [1024]PTE

// AddressSpace is a page directory plus the process's logical size
// bound. The page-table manager holds no lock of its own — callers (a
// process's own thread, or an eviction scan holding the external
// process-table lock) must serialize their own access to a given
// AddressSpace.
type AddressSpace struct {
	Dir   *Pagetable_t
	DirPa mem.Pa_t
	Sz    uint32
}

// SwapKey is the swap map's fingerprint, folding the logical and
// physical page numbers. It is defined here, rather than in
// internal/swap, so that pagetable's Swap_i interface does not need to
// import the swap package (swap imports pagetable instead).
type SwapKey struct {
	LogPN uint32
	PaPN  uint32
}

// PTELoc identifies the location of a PTE word for later lookup or
// removal in the swap map: the address of the word itself, stable for
// the lifetime of the simulated physical memory backing it.
type PTELoc uintptr

func locOf(pte *PTE) PTELoc { return PTELoc(unsafe.Pointer(pte)) }

// LocOf exposes locOf for the eviction scan (internal/swap), which
// needs to register the PTE locations it discovers by walking other
// processes' directories.
func LocOf(pte *PTE) PTELoc { return locOf(pte) }

// NextPDEBoundary returns the last page-aligned address within va's
// directory entry. DeallocUser and the eviction scan both jump here
// when Walk reports a missing page-table page, skipping a whole
// directory entry's worth of unmapped virtual space in one step.
func NextPDEBoundary(va uint32) uint32 {
	return (PDX(va)+1)<<pdxshift - uint32(mem.PGSIZE)
}

// Swap_i is the narrow interface the fault dispatcher and CopyUser use
// to resolve a swapped-out page. internal/swap.Map satisfies it.
type Swap_i interface {
	// Take resolves the slot backing (key, loc), removing loc from the
	// record. ok is false only if loc was never registered; a missing
	// key entirely is a fatal invariant violation and is the
	// implementation's responsibility to panic on, not this interface's.
	Take(key SwapKey, loc PTELoc) (slot int, ok bool)
	// ReadSlot transfers slot's contents into dst, which must be
	// exactly one page.
	ReadSlot(slot int, dst []byte)
}

// Manager implements components D and E. Physmem and Swap are held as
// injected references (rather than teacher-style package-level
// singletons) purely so unit tests can exercise independent instances
// concurrently; production wiring (cmd/vmctl) still constructs exactly
// one of each at boot, matching the process-wide singletons created at
// boot.
type Manager struct {
	Physmem *mem.Physmem_t
	Swap    Swap_i

	// Stats receives per-kind fault counts (internal/vmstat). Left nil
	// by every test Manager; cmd/vmctl wires a real *vmstat.Stats in.
	Stats *vmstat.Stats

	// kernelRegions describes the fixed mappings installed by
	// SetupKernelPD (a static table of regions).
	kernelRegions []kmapRegion
}

func (m *Manager) recordFault(k vmstat.FaultKind) {
	if m.Stats != nil {
		m.Stats.RecordFault(k)
	}
}

type kmapRegion struct {
	name           string
	virt           uint32
	physStart      mem.Pa_t
	physEnd        mem.Pa_t
	perm           PTE
}

// NewManager constructs a page-table manager over the given frame
// allocator and swap source. kernelRegions may be nil to use a minimal
// default (a single 16-page low-memory I/O window mapped at KERNBASE), suitable
// for tests and the simulation harness.
func NewManager(physmem *mem.Physmem_t, swap Swap_i, kernelRegions []kmapRegion) *Manager {
	if kernelRegions == nil {
		kernelRegions = []kmapRegion{
			{name: "io", virt: KERNBASE, physStart: 0, physEnd: mem.PGSIZE * 16, perm: PTE_W},
		}
	}
	return &Manager{Physmem: physmem, Swap: swap, kernelRegions: kernelRegions}
}

// KernelRegion is a mapping installed into every address space by
// SetupKernelPD. Exported so callers (cmd/vmctl) can describe a
// richer kernel layout than the package default.
type KernelRegion = kmapRegion

// NewKernelRegion builds a KernelRegion descriptor.
func NewKernelRegion(name string, virt uint32, physStart, physEnd mem.Pa_t, perm PTE) KernelRegion {
	return kmapRegion{name: name, virt: virt, physStart: physStart, physEnd: physEnd, perm: perm}
}

func pmapAt(physmem *mem.Physmem_t, pa mem.Pa_t) *Pagetable_t {
	b := physmem.Dmap(pa)
	return (*Pagetable_t)(unsafe.Pointer(&b[0]))
}

// Walk locates the PTE for va in pd. When the PTE's table page is
// missing and allocate is true, a fresh page-table page is installed
// with permissive bits (P|W|U). It returns (nil, false) when the table
// is missing and allocate is false, or when allocate is true but the
// frame allocator is exhausted (PTE-table exhaustion).
func (m *Manager) Walk(as *AddressSpace, va uint32, allocate bool) (*PTE, bool) {
	pde := &as.Dir[PDX(va)]
	var table *Pagetable_t
	if *pde&PTE_P != 0 {
		table = pmapAt(m.Physmem, mem.Pa_t(*pde&PTE_ADDR))
	} else {
		if !allocate {
			return nil, false
		}
		pa, ok := m.Physmem.Alloc()
		if !ok {
			return nil, false
		}
		tb := m.Physmem.Dmap(pa)
		for i := range tb {
			tb[i] = 0
		}
		table = pmapAt(m.Physmem, pa)
		*pde = PTE(pa) | PTE_P | PTE_W | PTE_U
	}
	return &table[PTX(va)], true
}

// Map installs PTEs covering [va, va+size) pointing at consecutive
// frames starting at pa. It panics if an existing entry is present
// and neither copy-on-write-pending nor swapped (remapping over a live
// mapping is a caller error); it returns false if a page-table page could not
// be allocated (table exhaustion), leaving the caller to roll back.
func (m *Manager) Map(as *AddressSpace, va, size uint32, pa mem.Pa_t, perm PTE) bool {
	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	p := pa
	for {
		pte, ok := m.Walk(as, a, true)
		if !ok {
			return false
		}
		if *pte&PTE_P != 0 && *pte&(PTE_C|PTE_S) == 0 {
			panic(fmt.Sprintf("pagetable: Map: remap of live PTE at va %#x", a))
		}
		*pte = PTE(p) | perm | PTE_P
		if a == last {
			break
		}
		a += uint32(mem.PGSIZE)
		p += mem.PGSIZE
	}
	return true
}

// SetupKernelPD constructs a fresh directory containing the fixed
// kernel mappings.
func (m *Manager) SetupKernelPD() (*AddressSpace, bool) {
	dirPa, ok := m.Physmem.Alloc()
	if !ok {
		return nil, false
	}
	db := m.Physmem.Dmap(dirPa)
	for i := range db {
		db[i] = 0
	}
	as := &AddressSpace{Dir: pmapAt(m.Physmem, dirPa), DirPa: dirPa}
	for _, k := range m.kernelRegions {
		size := uint32(k.physEnd - k.physStart)
		if size == 0 {
			continue
		}
		if !m.Map(as, k.virt, size, k.physStart, k.perm) {
			m.freeDirOnly(as)
			return nil, false
		}
	}
	return as, true
}

func (m *Manager) freeDirOnly(as *AddressSpace) {
	for i := range as.Dir {
		if as.Dir[i]&PTE_P != 0 {
			m.Physmem.Free(mem.Pa_t(as.Dir[i] & PTE_ADDR))
		}
	}
	m.Physmem.Free(as.DirPa)
}

// AllocUser grows the process's logical size from oldSz to newSz,
// mapping a fresh zeroed frame for each new page with W|U|P. On
// failure the prefix is rolled back via DeallocUser and (0, false) is
// returned.
func (m *Manager) AllocUser(as *AddressSpace, oldSz, newSz uint32) (uint32, bool) {
	if newSz >= KERNBASE {
		return 0, false
	}
	if newSz < oldSz {
		return oldSz, true
	}
	a := PGROUNDUP(oldSz)
	for ; a < newSz; a += uint32(mem.PGSIZE) {
		pa, ok := m.Physmem.Alloc()
		if !ok {
			m.DeallocUser(as, newSz, oldSz)
			return 0, false
		}
		buf := m.Physmem.Dmap(pa)
		for i := range buf {
			buf[i] = 0
		}
		if !m.Map(as, a, uint32(mem.PGSIZE), pa, PTE_W|PTE_U) {
			m.Physmem.Free(pa)
			m.DeallocUser(as, newSz, oldSz)
			return 0, false
		}
	}
	return newSz, true
}

// DeallocUser shrinks the process size from oldSz to newSz. For each
// unmapped page: a present, non-swapped PTE's frame is freed; a
// swapped PTE releases its swap-map reference (which may free the
// slot). Missing page-table pages advance past a full directory
// entry's worth of virtual space.
func (m *Manager) DeallocUser(as *AddressSpace, oldSz, newSz uint32) uint32 {
	if newSz >= oldSz {
		return oldSz
	}
	a := PGROUNDUP(newSz)
	for a < oldSz {
		pte, ok := m.Walk(as, a, false)
		if !ok {
			a = NextPDEBoundary(a)
		} else if *pte&(PTE_P|PTE_S) != 0 {
			if *pte&PTE_S != 0 {
				key := SwapKey{LogPN: a >> mem.PGSHIFT, PaPN: uint32(*pte&PTE_ADDR) >> mem.PGSHIFT}
				m.Swap.Take(key, locOf(pte))
			} else {
				pa := mem.Pa_t(*pte & PTE_ADDR)
				m.Physmem.Free(pa)
			}
			*pte = 0
		}
		a += uint32(mem.PGSIZE)
	}
	return newSz
}

// FreePD releases all user mappings and the page tables themselves.
// Sz must already be 0.
func (m *Manager) FreePD(as *AddressSpace) {
	if as.Sz != 0 {
		panic("pagetable: FreePD: sz != 0")
	}
	m.DeallocUser(as, KERNBASE, 0)
	m.freeDirOnly(as)
}

// ClearUserBit drops PTE_U on one entry, used to create a guard page
// beneath a user stack.
func (m *Manager) ClearUserBit(as *AddressSpace, va uint32) {
	pte, ok := m.Walk(as, va, false)
	if !ok {
		panic("pagetable: ClearUserBit: no such mapping")
	}
	*pte &^= PTE_U
}
