// Package blockdev defines the block-device contract the swap backing
// store is built on, in the spirit of a Disk_i/Bdev_req_t request-object
// pattern, and one concrete implementation backed by a regular file.
package blockdev

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// BlockSize is the fixed transfer unit. It matches mem.PGSIZE so the
// swap store can map one page to one block with no internal
// fragmentation.
const BlockSize = 4096

// Disk is the external collaborator contract for reading and writing
// fixed-size blocks by number, plus a transactional bracket that the
// journaled file system this subsystem deliberately omits would
// otherwise implement.
type Disk interface {
	ReadBlock(blockno uint32, dst []byte) error
	WriteBlock(blockno uint32, src []byte) error
	BeginTxn()
	EndTxn()
}

// FileDisk implements Disk over a single regular file via positioned
// pread/pwrite, so the backing-store lock is never held across the
// syscall itself — a Seek+Read pair would force every slot
// access through one shared file offset and serialize otherwise
// independent I/O.
type FileDisk struct {
	fd    int
	nblks uint32
	txn   sync.Mutex
}

// NewFileDisk opens (creating if necessary) path and sizes it to hold
// nblks blocks of BlockSize bytes.
func NewFileDisk(path string, nblks uint32) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	size := int64(nblks) * BlockSize
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}
	return &FileDisk{fd: fd, nblks: nblks}, nil
}

func (d *FileDisk) checkBounds(blockno uint32, n int) {
	if blockno >= d.nblks {
		panic(fmt.Sprintf("blockdev: block %d outside device of %d blocks", blockno, d.nblks))
	}
	if n != BlockSize {
		panic(fmt.Sprintf("blockdev: buffer of %d bytes is not one block", n))
	}
}

// ReadBlock reads exactly one block into dst.
func (d *FileDisk) ReadBlock(blockno uint32, dst []byte) error {
	d.checkBounds(blockno, len(dst))
	off := int64(blockno) * BlockSize
	n, err := unix.Pread(d.fd, dst, off)
	if err != nil {
		return fmt.Errorf("blockdev: pread block %d: %w", blockno, err)
	}
	if n != BlockSize {
		return fmt.Errorf("blockdev: short read of block %d: got %d bytes", blockno, n)
	}
	return nil
}

// WriteBlock writes exactly one block from src.
func (d *FileDisk) WriteBlock(blockno uint32, src []byte) error {
	d.checkBounds(blockno, len(src))
	off := int64(blockno) * BlockSize
	n, err := unix.Pwrite(d.fd, src, off)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", blockno, err)
	}
	if n != BlockSize {
		return fmt.Errorf("blockdev: short write of block %d: wrote %d bytes", blockno, n)
	}
	return nil
}

// BeginTxn/EndTxn bracket a transaction. With no journal behind this
// device the bracket is a plain mutual-exclusion lock, a no-op
// pass-through rather than real transactional isolation.
func (d *FileDisk) BeginTxn() { d.txn.Lock() }
func (d *FileDisk) EndTxn()   { d.txn.Unlock() }

// Close releases the underlying file descriptor.
func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}

// NumBlocks reports the device's fixed block count.
func (d *FileDisk) NumBlocks() uint32 { return d.nblks }
