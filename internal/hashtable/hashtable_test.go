package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func identityHash(k int) uint32 { return uint32(k) }

func TestSetGetDel(t *testing.T) {
	ht := MkHash[int, string](4, identityHash)

	ok := ht.Set(1, "one")
	require.True(t, ok)
	ok = ht.Set(1, "one-again")
	require.False(t, ok, "Set must not overwrite an existing key")

	v, ok := ht.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", v)

	ht.Del(1)
	_, ok = ht.Get(1)
	require.False(t, ok)
}

func TestCollidingBucketKeepsBothEntries(t *testing.T) {
	ht := MkHash[int, string](2, identityHash) // 1 and 3 collide in bucket 1
	require.True(t, ht.Set(1, "a"))
	require.True(t, ht.Set(3, "b"))

	v1, ok1 := ht.Get(1)
	v3, ok3 := ht.Get(3)
	require.True(t, ok1)
	require.True(t, ok3)
	require.Equal(t, "a", v1)
	require.Equal(t, "b", v3)
	require.Equal(t, 2, ht.Size())
}

func TestDelHeadAndTailOfChain(t *testing.T) {
	ht := MkHash[int, string](1, identityHash) // everything collides
	require.True(t, ht.Set(1, "a"))
	require.True(t, ht.Set(2, "b"))
	require.True(t, ht.Set(3, "c"))
	require.Equal(t, 3, ht.Size())

	ht.Del(1) // head
	_, ok := ht.Get(1)
	require.False(t, ok)
	require.Equal(t, 2, ht.Size())

	ht.Del(3) // tail
	_, ok = ht.Get(3)
	require.False(t, ok)
	require.Equal(t, 1, ht.Size())

	v, ok := ht.Get(2)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestDelOfMissingKeyIsNoop(t *testing.T) {
	ht := MkHash[int, string](4, identityHash)
	require.NotPanics(t, func() { ht.Del(42) })
}

func TestElemsReturnsEverything(t *testing.T) {
	ht := MkHash[int, int](4, identityHash)
	want := map[int]int{1: 10, 2: 20, 3: 30}
	for k, v := range want {
		ht.Set(k, v)
	}
	got := map[int]int{}
	for _, p := range ht.Elems() {
		got[p.Key] = p.Value
	}
	require.Equal(t, want, got)
}
