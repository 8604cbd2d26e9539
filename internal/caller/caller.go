// Package caller provides call-stack diagnostics: Callerdump formats a
// stack, and Distinct_caller_t reports each distinct call chain once,
// which internal/pagetable uses for its opt-in copy-on-write trace.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Callerdump formats the call stack starting at the given depth.
func Callerdump(start int) string {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// Distinct_caller_t tracks whether a call chain has already been
// reported, so a hot fault path doesn't spam the same warning.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[string]bool
}

func (dc *Distinct_caller_t) pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("pchash: empty stack")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Distinct reports whether the current call chain has not been seen
// before, returning a formatted stack trace the first time. A call
// chain is identified by the names of the functions on it, starting at
// Distinct's caller, so calls from different lines of the same
// function count as one chain.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.did == nil {
		dc.did = make(map[string]bool)
	}
	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(2, pcs)
		if got == 0 {
			panic("Distinct: no callers")
		}
		pcs = pcs[:got]
	}
	frames := runtime.CallersFrames(pcs)
	chain := ""
	fs := ""
	for {
		fr, more := frames.Next()
		chain += fr.Function + "\n"
		if fs == "" {
			fs = fmt.Sprintf("%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	if dc.did[chain] {
		return false, ""
	}
	dc.did[chain] = true
	return true, fs
}
