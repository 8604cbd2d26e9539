package swap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Siromanec/xv6-public/internal/blockdev"
)

func tempStore(t *testing.T, nslots uint32) *Store {
	t.Helper()
	bitmapBytes := (nslots + 7) / 8
	bitmapBlocks := (bitmapBytes + blockdev.BlockSize - 1) / blockdev.BlockSize
	disk, err := blockdev.NewFileDisk(filepath.Join(t.TempDir(), "swap.img"), bitmapBlocks+nslots)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	s, err := NewStore(disk, nslots)
	require.NoError(t, err)
	return s
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := tempStore(t, 4)
	i := s.AcquireSlot()
	require.True(t, s.BitSet(i))

	s.ReleaseSlot(i)
	require.False(t, s.BitSet(i))
}

func TestAcquireAllThenExhaustionIsFatal(t *testing.T) {
	s := tempStore(t, 2)
	s.AcquireSlot()
	s.AcquireSlot()
	require.Panics(t, func() { s.AcquireSlot() })
}

func TestReleaseThenAcquireReturnsSameSlot(t *testing.T) {
	s := tempStore(t, 1)
	i := s.AcquireSlot()
	s.ReleaseSlot(i)
	j := s.AcquireSlot()
	require.Equal(t, i, j, "AcquireSlot must return the same index it just released")
}

func TestWriteReadSlotRoundTrip(t *testing.T) {
	s := tempStore(t, 2)
	i := s.AcquireSlot()
	want := make([]byte, blockdev.BlockSize)
	for i := range want {
		want[i] = byte(i % 200)
	}
	s.WriteSlot(i, want)

	got := make([]byte, blockdev.BlockSize)
	s.ReadSlot(i, got)
	require.Equal(t, want, got)
}

func TestReleaseSlotZeroesPayload(t *testing.T) {
	s := tempStore(t, 1)
	i := s.AcquireSlot()
	page := make([]byte, blockdev.BlockSize)
	for j := range page {
		page[j] = 0xFF
	}
	s.WriteSlot(i, page)
	s.ReleaseSlot(i)

	got := make([]byte, blockdev.BlockSize)
	i2 := s.AcquireSlot()
	s.ReadSlot(i2, got)
	for _, b := range got {
		require.EqualValues(t, 0, b)
	}
}
