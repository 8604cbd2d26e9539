// Package swap implements the swap backing store, the swap map, and
// the eviction scan of the virtual-memory subsystem.
package swap

import (
	"fmt"
	"sync"

	"github.com/Siromanec/xv6-public/internal/blockdev"
)

// Store is the bitmap-managed swap backing store (component B). The
// bitmap lives at the front of the device, one bit per slot; slot
// payloads follow, each exactly one block. The in-memory bitmap
// mirror doubles as a read-cache buffer: AcquireSlot scans it directly
// instead of re-reading bitmap blocks from disk, and a scan cursor
// carries forward between calls so repeated acquisitions don't restart
// from bit 0 every time. ReleaseSlot moves the cursor back to a released
// slot below it, so AcquireSlot always returns the lowest clear bit.
type Store struct {
	mu           sync.Mutex // backing-store lock: guards the bitmap only, never held across I/O
	slotLocks    []sync.Mutex // per-slot sleep locks, held across I/O only
	disk         blockdev.Disk
	bitmap       []byte
	bitmapBlocks uint32
	nslots       uint32
	scanHint     uint32
}

// NewStore sizes a store for nslots slots atop disk, reading any
// existing bitmap content back from the device (so a store reopened
// over a populated file keeps its occupancy).
func NewStore(disk blockdev.Disk, nslots uint32) (*Store, error) {
	if nslots == 0 {
		panic("swap: NewStore: nslots must be positive")
	}
	bitmapBytes := (nslots + 7) / 8
	bitmapBlocks := (bitmapBytes + blockdev.BlockSize - 1) / blockdev.BlockSize
	s := &Store{
		disk:         disk,
		bitmap:       make([]byte, bitmapBlocks*blockdev.BlockSize),
		bitmapBlocks: bitmapBlocks,
		nslots:       nslots,
		slotLocks:    make([]sync.Mutex, nslots),
	}
	for b := uint32(0); b < bitmapBlocks; b++ {
		start := b * blockdev.BlockSize
		if err := disk.ReadBlock(b, s.bitmap[start:start+blockdev.BlockSize]); err != nil {
			return nil, fmt.Errorf("swap: loading bitmap block %d: %w", b, err)
		}
	}
	return s, nil
}

func (s *Store) blockOfByte(byteIdx uint32) uint32 { return byteIdx / blockdev.BlockSize }

func (s *Store) slotBlock(i uint32) uint32 { return s.bitmapBlocks + i }

func (s *Store) persistBitmapBlock(blk uint32) {
	start := blk * blockdev.BlockSize
	s.disk.BeginTxn()
	defer s.disk.EndTxn()
	if err := s.disk.WriteBlock(blk, s.bitmap[start:start+blockdev.BlockSize]); err != nil {
		panic(fmt.Sprintf("swap: persisting bitmap block %d: %v", blk, err))
	}
}

// bitSet reports whether slot i's bit is set. Caller must hold mu.
func (s *Store) bitSet(i uint32) bool {
	return s.bitmap[i/8]&(1<<(i%8)) != 0
}

// AcquireSlot scans the bitmap for the first clear bit, marks it used,
// and returns its index. Fatal (panic) when the store is full.
func (s *Store) AcquireSlot() int {
	s.mu.Lock()
	found := -1
	for tries := uint32(0); tries < s.nslots; tries++ {
		i := (s.scanHint + tries) % s.nslots
		if !s.bitSet(i) {
			s.bitmap[i/8] |= 1 << (i % 8)
			s.scanHint = (i + 1) % s.nslots
			found = int(i)
			break
		}
	}
	s.mu.Unlock()

	if found == -1 {
		panic("swap: AcquireSlot: backing store full")
	}
	s.persistBitmapBlock(s.blockOfByte(uint32(found) / 8))
	return found
}

// BitSet reports whether slot i's bitmap bit is currently set, used by
// tests to check P4 (bitmap reflects records) directly.
func (s *Store) BitSet(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitSet(uint32(i))
}

// ReleaseSlot clears slot i's bit and zeroes its payload.
func (s *Store) ReleaseSlot(i int) {
	s.mu.Lock()
	byteIdx := uint32(i) / 8
	s.bitmap[byteIdx] &^= 1 << (uint32(i) % 8)
	if uint32(i) < s.scanHint {
		s.scanHint = uint32(i)
	}
	s.mu.Unlock()

	s.persistBitmapBlock(s.blockOfByte(byteIdx))

	s.slotLocks[i].Lock()
	defer s.slotLocks[i].Unlock()
	zero := make([]byte, blockdev.BlockSize)
	s.disk.BeginTxn()
	err := s.disk.WriteBlock(s.slotBlock(uint32(i)), zero)
	s.disk.EndTxn()
	if err != nil {
		panic(fmt.Sprintf("swap: ReleaseSlot: zeroing slot %d: %v", i, err))
	}
}

// WriteSlot transfers exactly one page into slot i.
func (s *Store) WriteSlot(i int, page []byte) {
	if len(page) != blockdev.BlockSize {
		panic("swap: WriteSlot: page must be exactly one block")
	}
	s.slotLocks[i].Lock()
	defer s.slotLocks[i].Unlock()
	s.disk.BeginTxn()
	err := s.disk.WriteBlock(s.slotBlock(uint32(i)), page)
	s.disk.EndTxn()
	if err != nil {
		panic(fmt.Sprintf("swap: WriteSlot %d: %v", i, err))
	}
}

// ReadSlot transfers slot i's contents into dst, which must be exactly
// one page.
func (s *Store) ReadSlot(i int, dst []byte) {
	if len(dst) != blockdev.BlockSize {
		panic("swap: ReadSlot: dst must be exactly one block")
	}
	s.slotLocks[i].Lock()
	defer s.slotLocks[i].Unlock()
	s.disk.BeginTxn()
	err := s.disk.ReadBlock(s.slotBlock(uint32(i)), dst)
	s.disk.EndTxn()
	if err != nil {
		panic(fmt.Sprintf("swap: ReadSlot %d: %v", i, err))
	}
}

// NumSlots reports the store's fixed slot count.
func (s *Store) NumSlots() uint32 { return s.nslots }

// UsedSlots counts currently-occupied slots, for internal/vmstat's
// occupancy gauge.
func (s *Store) UsedSlots() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint32
	for i := uint32(0); i < s.nslots; i++ {
		if s.bitSet(i) {
			n++
		}
	}
	return n
}
