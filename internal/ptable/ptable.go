// Package ptable defines the process-table collaborator contract used
// by the eviction scan: iteration over every live process's address
// space, size, and state, guarded by one lock that sits outermost in
// the lock order (acquired before the swap-map lock). Real scheduling,
// accounting, and exit handling are out of scope; MemTable exists only
// to make "iterate every live address space" concrete and testable.
package ptable

import (
	"sync"

	"github.com/Siromanec/xv6-public/internal/pagetable"
)

// State names where a process stands for the purposes of the eviction
// scan: a process mid-exit should not be visited.
type State int

const (
	Runnable State = iota
	Running
	Sleeping
	Exiting
)

// Proc is one process's address-space entry.
type Proc struct {
	Pid   int
	AS    *pagetable.AddressSpace
	State State
}

// Table is the collaborator contract: lock the whole table, iterate
// every entry, unlock. Callers that only need to read Sz/State of one
// process still take the same lock — the table has no finer-grained
// locking, matching the design's single process-table lock.
type Table interface {
	Lock()
	Unlock()
	Procs() []*Proc
}

// MemTable is a reference, in-memory Table used by the eviction scan's
// tests and the end-to-end scenarios.
type MemTable struct {
	mu    sync.Mutex
	procs []*Proc
}

// NewMemTable constructs an empty table.
func NewMemTable() *MemTable {
	return &MemTable{}
}

func (t *MemTable) Lock()   { t.mu.Lock() }
func (t *MemTable) Unlock() { t.mu.Unlock() }

// Procs returns the live process list. Callers must hold Lock.
func (t *MemTable) Procs() []*Proc { return t.procs }

// Add registers a process. The caller must hold Lock.
func (t *MemTable) Add(p *Proc) {
	t.procs = append(t.procs, p)
}

// Remove drops a process by pid. The caller must hold Lock.
func (t *MemTable) Remove(pid int) {
	for i, p := range t.procs {
		if p.Pid == pid {
			t.procs = append(t.procs[:i], t.procs[i+1:]...)
			return
		}
	}
}
