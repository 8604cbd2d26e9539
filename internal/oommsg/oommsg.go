// Package oommsg carries out-of-memory notifications from the page-table
// manager's fault paths to any subsystem willing to shrink its own
// caches before the fault path gives up.
package oommsg

// OomCh is sent an Oommsg_t whenever a fault-path frame allocation (lazy
// allocation, swap-in, or copy-on-write split) finds the frame allocator
// exhausted. No eviction pass is run before the message is sent. Receivers that
// can release memory should do so and then signal Resume; receivers
// that cannot must still signal Resume so the waiter does not block
// forever.
var OomCh chan Oommsg_t = make(chan Oommsg_t, 1)

// Oommsg_t describes an out-of-memory condition.
type Oommsg_t struct {
	// Need is the number of frames the original allocation required.
	Need int
	// Resume is closed or sent a single value once the receiver has
	// finished reacting (or decided it cannot help).
	Resume chan bool
}
