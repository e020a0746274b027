package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-physync/backend/internal/physerr"
)

func TestAllocate_UniqueSlots(t *testing.T) {
	r := New(16)
	seen := make(map[int]string)

	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("body-%d", i)
		slot, err := r.Allocate(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, slot, 0)
		require.Less(t, slot, 16)

		prev, dup := seen[slot]
		require.False(t, dup, "slot %d given to %s and %s", slot, prev, id)
		seen[slot] = id
	}
	assert.Equal(t, 16, r.Len())
}

func TestAllocate_CapacityExceededOnce(t *testing.T) {
	const capacity = 8
	r := New(capacity)

	failures := 0
	for i := 0; i < capacity+1; i++ {
		_, err := r.Allocate(fmt.Sprintf("b%d", i))
		if err != nil {
			assert.True(t, errors.Is(err, physerr.ErrCapacityExceeded))
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, capacity, r.Len())

	// список свободных слотов не повреждён: освобождённый слот снова выдаётся
	slot, ok := r.Lookup("b3")
	require.True(t, ok)
	require.NoError(t, r.Release(slot))

	again, err := r.Allocate("fresh")
	require.NoError(t, err)
	assert.Equal(t, slot, again)

	_, err = r.Allocate("overflow")
	assert.ErrorIs(t, err, physerr.ErrCapacityExceeded)
}

func TestRelease_ReusesSlot(t *testing.T) {
	r := New(4)

	a, err := r.Allocate("a")
	require.NoError(t, err)
	require.NoError(t, r.Release(a))

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	_, ok = r.UUID(a)
	assert.False(t, ok)

	b, err := r.Allocate("b")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	id, ok := r.UUID(b)
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestRelease_DoubleReleaseRejected(t *testing.T) {
	r := New(3)
	slot, err := r.Allocate("x")
	require.NoError(t, err)

	require.NoError(t, r.Release(slot))
	assert.ErrorIs(t, r.Release(slot), physerr.ErrStaleReference)
	assert.ErrorIs(t, r.Release(99), physerr.ErrStaleReference)

	// после двойного освобождения все три слота выдаются ровно по одному разу
	got := map[int]bool{}
	for _, id := range []string{"p", "q", "s"} {
		s, err := r.Allocate(id)
		require.NoError(t, err)
		got[s] = true
	}
	assert.Len(t, got, 3)
	_, err = r.Allocate("t")
	assert.ErrorIs(t, err, physerr.ErrCapacityExceeded)
}

func TestFree_Idempotent(t *testing.T) {
	r := New(2)
	_, err := r.Allocate("x")
	require.NoError(t, err)

	assert.True(t, r.Free("x"))
	assert.False(t, r.Free("x"))
	assert.False(t, r.Free("unknown"))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 2, r.Cap())
}

func TestAllocate_DuplicateUUID(t *testing.T) {
	r := New(2)
	_, err := r.Allocate("x")
	require.NoError(t, err)

	_, err = r.Allocate("x")
	assert.ErrorIs(t, err, physerr.ErrProtocolViolation)
	assert.Equal(t, 1, r.Len())
}
