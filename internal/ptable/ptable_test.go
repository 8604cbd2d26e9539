package ptable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndRemove(t *testing.T) {
	tab := NewMemTable()
	tab.Lock()
	tab.Add(&Proc{Pid: 1, State: Running})
	tab.Add(&Proc{Pid: 2, State: Sleeping})
	tab.Unlock()

	tab.Lock()
	require.Len(t, tab.Procs(), 2)
	tab.Remove(1)
	require.Len(t, tab.Procs(), 1)
	require.Equal(t, 2, tab.Procs()[0].Pid)
	tab.Unlock()
}

func TestRemoveOfMissingPidIsNoop(t *testing.T) {
	tab := NewMemTable()
	tab.Lock()
	tab.Add(&Proc{Pid: 1})
	require.NotPanics(t, func() { tab.Remove(99) })
	require.Len(t, tab.Procs(), 1)
	tab.Unlock()
}
