package heap

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	h, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAllocZeroReturnsNilNoError(t *testing.T) {
	h := newTestHeap(t)
	ptr, err := h.Alloc(0)
	assert.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestAllocNegativeErrors(t *testing.T) {
	h := newTestHeap(t)
	_, err := h.Alloc(-1)
	assert.Error(t, err)
}

func TestAllocReturnsWritableMemory(t *testing.T) {
	h := newTestHeap(t)
	ptr, err := h.Alloc(64)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	buf := unsafe.Slice((*byte)(ptr), 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	for i := range buf {
		assert.Equal(t, byte(i), buf[i])
	}

	require.NoError(t, h.Free(ptr))
}

func TestFreeNilIsNoOp(t *testing.T) {
	h := newTestHeap(t)
	assert.NoError(t, h.Free(nil))
}

func TestDoubleFreeErrors(t *testing.T) {
	h := newTestHeap(t)
	ptr, err := h.Alloc(32)
	require.NoError(t, err)
	require.NoError(t, h.Free(ptr))

	err = h.Free(ptr)
	assert.Error(t, err)
}

func TestFreeMergesAdjacentChunks(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Alloc(128)
	require.NoError(t, err)
	b, err := h.Alloc(128)
	require.NoError(t, err)
	c, err := h.Alloc(128)
	require.NoError(t, err)

	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(c))
	require.NoError(t, h.Free(b))

	// After freeing all three in non-address order, a single allocation
	// larger than any one of them should come back at a's address, proving
	// the address-adjacent chunks were coalesced rather than left fragmented.
	big, err := h.Alloc(300)
	require.NoError(t, err)
	require.NotNil(t, big)
	assert.Equal(t, a, big)
	require.NoError(t, h.Free(big))
}

func TestAllocExhaustsArena(t *testing.T) {
	h := newTestHeap(t)
	var ptrs []unsafe.Pointer
	for {
		ptr, err := h.Alloc(1 << 16)
		if err != nil {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	assert.NotEmpty(t, ptrs)

	for _, ptr := range ptrs {
		require.NoError(t, h.Free(ptr))
	}

	// Arena should be fully reusable after freeing everything.
	ptr, err := h.Alloc(1 << 16)
	require.NoError(t, err)
	require.NoError(t, h.Free(ptr))
}

func TestConcurrentAllocFree(t *testing.T) {
	h := newTestHeap(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ptr, err := h.Alloc(64 + n)
				if err != nil {
					continue
				}
				require.NoError(t, h.Free(ptr))
			}
		}(i)
	}
	wg.Wait()
}
