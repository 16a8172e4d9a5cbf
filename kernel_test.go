package utkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxmose/utkcore/internal/ksync"
	"github.com/oxmose/utkcore/internal/sched"
)

func TestBootWiresAllSubsystems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPU = 2
	k, err := Boot(cfg)
	require.NoError(t, err)
	defer k.Shutdown()

	assert.NotNil(t, k.Heap)
	assert.NotNil(t, k.Frames)
	assert.NotNil(t, k.VM)
	assert.NotNil(t, k.Interrupts)
	assert.NotNil(t, k.Exceptions)
	assert.NotNil(t, k.Scheduler)
	assert.NotNil(t, k.Futex)
	assert.NotNil(t, k.Syscalls)
}

func TestBootDefaultsZeroNumCPU(t *testing.T) {
	k, err := Boot(Config{})
	require.NoError(t, err)
	defer k.Shutdown()
	assert.Positive(t, k.Info().NumCPU)
}

func TestKernelInfoReflectsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPU = 1
	k, err := Boot(cfg)
	require.NoError(t, err)

	info := k.Info()
	assert.True(t, info.Running)
	assert.Equal(t, 1, info.NumCPU)

	k.Shutdown()
	assert.False(t, k.Info().Running)
}

func TestKernelSpawnThreadAndMutex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPU = 2
	k, err := Boot(cfg)
	require.NoError(t, err)
	defer k.Shutdown()

	m := k.NewMutex(false, ksync.NoElevation)
	ran := make(chan struct{})
	id, err := k.Scheduler.Spawn(nil, "worker", sched.UserThread, 10, -1, func(self *sched.Thread, arg any) {
		require.NoError(t, m.Lock(self))
		require.NoError(t, m.Unlock(self))
		close(ran)
	}, nil)
	require.NoError(t, err)
	<-ran
	_, _, _, err = k.Scheduler.Join(id)
	require.NoError(t, err)
}
