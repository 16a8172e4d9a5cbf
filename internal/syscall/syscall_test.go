package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxmose/utkcore/internal/futex"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/sched"
)

type fakeFrames struct {
	phys uint32
	err  error
}

func (f *fakeFrames) AllocKFrames(n int) (uint32, error) {
	return f.phys, f.err
}

func newTestTable(t *testing.T) (*Table, *sched.Scheduler) {
	t.Helper()
	s := sched.New(2, nil)
	t.Cleanup(s.Shutdown)
	f := futex.New(s)
	return New(s, f, &fakeFrames{phys: 0x1000}), s
}

func TestDispatchRejectsUnknownID(t *testing.T) {
	tbl, _ := newTestTable(t)
	err := tbl.Dispatch(ID(999), &ForkParams{})
	require.Error(t, err)
	var kerr *kerrors.Error
	assert.ErrorAs(t, err, &kerr)
	assert.Equal(t, kerrors.SyscallUnknown, kerr.Code)
}

func TestDispatchRejectsWrongParamsType(t *testing.T) {
	tbl, _ := newTestTable(t)
	err := tbl.Dispatch(Fork, &ExitParams{})
	assert.Error(t, err)
}

func TestForkSpawnsThreadAndWaitpidJoins(t *testing.T) {
	tbl, _ := newTestTable(t)
	ran := make(chan struct{})
	fp := &ForkParams{
		Name:     "child",
		Priority: 10,
		Affinity: -1,
		Entry: func(self *sched.Thread, arg any) {
			close(ran)
		},
	}
	require.NoError(t, tbl.Dispatch(Fork, fp))
	<-ran

	wp := &WaitpidParams{Target: fp.Result.Index, Gen: fp.Result.Generation}
	require.NoError(t, tbl.Dispatch(Waitpid, wp))
	assert.Equal(t, sched.Returned, wp.State)
}

func TestFutexWaitWakeRoundTrip(t *testing.T) {
	tbl, s := newTestTable(t)
	var word uint32
	started := make(chan struct{})

	fp := &ForkParams{
		Name:     "waiter",
		Priority: 10,
		Affinity: -1,
		Entry: func(self *sched.Thread, arg any) {
			close(started)
			wp := &FutexWaitParams{Self: self, Addr: &word, Expected: 0}
			_ = tbl.Dispatch(FutexWait, wp)
			assert.NoError(t, wp.Error)
		},
	}
	require.NoError(t, tbl.Dispatch(Fork, fp))
	<-started

	word = 1 // the waiter parked on 0; FutexWake skips it while the word still reads 0
	wk := &FutexWakeParams{Addr: &word, Count: 1}
	require.NoError(t, tbl.Dispatch(FutexWake, wk))

	wp := &WaitpidParams{Target: fp.Result.Index, Gen: fp.Result.Generation}
	require.NoError(t, tbl.Dispatch(Waitpid, wp))
	_ = s
}

func TestSchedGetSetParamsRoundTrip(t *testing.T) {
	tbl, s := newTestTable(t)
	done := make(chan struct{})
	fp := &ForkParams{
		Name:     "prio",
		Priority: 20,
		Affinity: -1,
		Entry: func(self *sched.Thread, arg any) {
			get := &SchedGetParamsArgs{Self: self}
			require.NoError(t, tbl.Dispatch(SchedGetParams, get))
			assert.Equal(t, 20, get.Priority)

			set := &SchedSetParamsArgs{Self: self, Priority: 5}
			require.NoError(t, tbl.Dispatch(SchedSetParams, set))

			get2 := &SchedGetParamsArgs{Self: self}
			require.NoError(t, tbl.Dispatch(SchedGetParams, get2))
			assert.Equal(t, 5, get2.Priority)
			close(done)
		},
	}
	require.NoError(t, tbl.Dispatch(Fork, fp))
	<-done
	wp := &WaitpidParams{Target: fp.Result.Index, Gen: fp.Result.Generation}
	require.NoError(t, tbl.Dispatch(Waitpid, wp))
	_ = s
}

func TestPageAllocDelegatesToFrameAllocator(t *testing.T) {
	tbl, _ := newTestTable(t)
	pa := &PageAllocParams{Frames: 4}
	require.NoError(t, tbl.Dispatch(PageAlloc, pa))
	assert.Equal(t, uint32(0x1000), pa.Phys)
}

func TestExitRejectsNilSelf(t *testing.T) {
	tbl, _ := newTestTable(t)
	err := tbl.Dispatch(Exit, &ExitParams{Self: nil})
	assert.Error(t, err)
}
