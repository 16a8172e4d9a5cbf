//go:build integration

// +build integration

package utkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxmose/utkcore/internal/ksync"
	"github.com/oxmose/utkcore/internal/sched"
)

// TestScenarioTwoThreadMutexContentionFull runs the literal end-to-end
// scenario: two priority-1 threads each doing one million protected
// increments of a shared counter, joined, expecting the exact total. Gated
// behind the integration tag the same way slow, resource-hungry tests are
// usually isolated from the default run - here the cost is wall-clock, not
// privilege.
func TestScenarioTwoThreadMutexContentionFull(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping literal 2,000,000-iteration scenario in -short mode")
	}

	k, err := Boot(DefaultConfig())
	require.NoError(t, err)
	defer k.Shutdown()

	const iterations = 1_000_000
	mu := k.NewMutex(false, ksync.NoElevation)
	res := 0

	run := func(self *sched.Thread, arg any) {
		for i := 0; i < iterations; i++ {
			require.NoError(t, mu.Lock(self))
			tmp := res
			spin(100)
			res = tmp + 1
			require.NoError(t, mu.Unlock(self))
		}
	}

	t1, err := k.Scheduler.Spawn(nil, "t1", sched.UserThread, 1, -1, run, nil)
	require.NoError(t, err)
	t2, err := k.Scheduler.Spawn(nil, "t2", sched.UserThread, 1, -1, run, nil)
	require.NoError(t, err)

	_, _, _, err = k.Scheduler.Join(t1)
	require.NoError(t, err)
	_, _, _, err = k.Scheduler.Join(t2)
	require.NoError(t, err)

	assert.Equal(t, 2*iterations, res)
}

// spin busy-loops n times, standing in for the scenario's "spin100" between
// reading and writing the shared counter.
func spin(n int) {
	x := 0
	for i := 0; i < n; i++ {
		x += i
	}
	_ = x
}
