package futex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxmose/utkcore/internal/sched"
)

func newTestTable(t *testing.T) (*Table, *sched.Scheduler) {
	t.Helper()
	s := sched.New(2, nil)
	t.Cleanup(s.Shutdown)
	return New(s), s
}

func TestWaitReturnsImmediatelyOnValueMismatch(t *testing.T) {
	tbl, s := newTestTable(t)
	var word uint32 = 5

	id, err := s.Spawn(nil, "waiter", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
		ownerDied, err := tbl.Wait(self, &word, 99)
		assert.NoError(t, err)
		assert.False(t, ownerDied)
	}, nil)
	require.NoError(t, err)

	_, _, _, err = s.Join(id)
	require.NoError(t, err)
}

func TestWaitNilAddressErrors(t *testing.T) {
	tbl, s := newTestTable(t)
	done := make(chan error, 1)
	id, err := s.Spawn(nil, "w", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
		_, err := tbl.Wait(self, nil, 0)
		done <- err
	}, nil)
	require.NoError(t, err)
	_, _, _, err = s.Join(id)
	require.NoError(t, err)
	assert.Error(t, <-done)
}

func TestWakeUnblocksWaiter(t *testing.T) {
	tbl, s := newTestTable(t)
	var word uint32
	started := make(chan struct{})

	id, err := s.Spawn(nil, "waiter", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
		close(started)
		_, err := tbl.Wait(self, &word, 0)
		assert.NoError(t, err)
	}, nil)
	require.NoError(t, err)

	<-started
	time.Sleep(10 * time.Millisecond) // let the waiter register before waking it
	word = 1                          // the waiter parked on 0; Wake skips it while the word still reads 0
	n, err := tbl.Wake(&word, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, _, err = s.Join(id)
	require.NoError(t, err)
}

func TestWakeOrdersByEnqueueTime(t *testing.T) {
	tbl, s := newTestTable(t)
	var word uint32
	const n = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)

	ids := make([]sched.ThreadID, n)
	for i := 0; i < n; i++ {
		i := i
		id, err := s.Spawn(nil, "waiter", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
			wg.Done()
			_, err := tbl.Wait(self, &word, 0)
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, nil)
		require.NoError(t, err)
		ids[i] = id
		time.Sleep(2 * time.Millisecond) // stagger registration order
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	word = 1 // every waiter parked on 0; Wake skips them while the word still reads 0
	woken, err := tbl.Wake(&word, n)
	require.NoError(t, err)
	assert.Equal(t, n, woken)

	for _, id := range ids {
		_, _, _, err := s.Join(id)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWakeOwnerDiedReportsToWaiter(t *testing.T) {
	tbl, s := newTestTable(t)
	var word uint32
	var gotOwnerDied bool
	started := make(chan struct{})

	id, err := s.Spawn(nil, "waiter", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
		close(started)
		ownerDied, err := tbl.Wait(self, &word, 0)
		assert.NoError(t, err)
		gotOwnerDied = ownerDied
	}, nil)
	require.NoError(t, err)

	<-started
	time.Sleep(10 * time.Millisecond)
	n, err := tbl.WakeOwnerDied(&word)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, _, err = s.Join(id)
	require.NoError(t, err)
	assert.True(t, gotOwnerDied)
}

func TestWakeWithNoWaitersReturnsZero(t *testing.T) {
	tbl, _ := newTestTable(t)
	var word uint32
	n, err := tbl.Wake(&word, 3)
	require.NoError(t, err)
	assert.Zero(t, n)
}
