package hashtable

import (
	"testing"

	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	tbl := New[int](16, memcap.New(1<<20))

	require.NoError(t, tbl.Insert([]byte("a"), 1))
	v, ok := tbl.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	removed, ok := tbl.Remove([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, 1, removed)

	_, ok = tbl.Get([]byte("a"))
	assert.False(t, ok)
}

func TestInsertDuplicateFails(t *testing.T) {
	tbl := New[int](16, memcap.New(1<<20))
	require.NoError(t, tbl.Insert([]byte("a"), 1))

	err := tbl.Insert([]byte("a"), 2)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsertRefusedByMemcap(t *testing.T) {
	tbl := New[int](16, memcap.New(8))

	err := tbl.Insert([]byte("a-very-long-key-that-does-not-fit"), 1)
	assert.Error(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestEachVisitsAllEntries(t *testing.T) {
	cap := memcap.New(1 << 20)
	tbl := New[int](4, cap)
	require.NoError(t, tbl.Insert([]byte("a"), 1))
	require.NoError(t, tbl.Insert([]byte("b"), 2))
	require.NoError(t, tbl.Insert([]byte("c"), 3))

	seen := map[string]int{}
	tbl.Each(func(key []byte, value int) {
		seen[string(key)] = value
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
}

func TestDestroyReleasesMemcapCharges(t *testing.T) {
	cap := memcap.New(1 << 20)
	tbl := New[int](4, cap)
	require.NoError(t, tbl.Insert([]byte("a"), 1))
	require.NoError(t, tbl.Insert([]byte("b"), 2))
	assert.NotZero(t, cap.Allocated())

	tbl.Destroy()
	assert.EqualValues(t, 0, cap.Allocated())
	assert.Equal(t, 0, tbl.Len())
}
