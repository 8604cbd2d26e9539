// Package defs holds the error-code type and constants shared by every
// package in the virtual-memory subsystem.
package defs

// Err_t is a kernel error code. Zero means success; negative values name
// one of the kinds below. Invariant violations (programming bugs) are
// never represented as an Err_t — they panic instead.
type Err_t int

const (
	// EFAULT is returned when a user access targets an address outside
	// the faulting process's mapped or permitted range.
	EFAULT Err_t = -1 - iota
	// ENOMEM is returned when the frame allocator or a page-table page
	// allocation fails and the caller can recover by propagating the
	// failure (as opposed to the OOM-slot case, which is fatal).
	ENOMEM
	// ENOHEAP names PTE-table exhaustion (no frame for a new page-table
	// page). No operation returns it: Walk reports that case as
	// (nil, false) and the fault path as ENOMEM.
	ENOHEAP
	// ENAMETOOLONG is unused by this subsystem directly but kept for
	// parity with the broader kernel's Err_t enumeration style.
	ENAMETOOLONG
)

// String names an Err_t for diagnostics.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case ENOHEAP:
		return "ENOHEAP"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	default:
		return "Err_t(unknown)"
	}
}
