package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	masks     map[int]bool
	eoiCalls  []int
	spurious  map[int]bool
	irqLines  map[int]int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		masks:    make(map[int]bool),
		spurious: make(map[int]bool),
		irqLines: map[int]int{0: 0x20, 1: 0x21},
	}
}

func (f *fakeDriver) SetIRQMask(irq int, on bool) error { f.masks[irq] = on; return nil }
func (f *fakeDriver) SetIRQEOI(irq int) error           { f.eoiCalls = append(f.eoiCalls, irq); return nil }
func (f *fakeDriver) HandleSpurious(vector int) bool    { return f.spurious[vector] }
func (f *fakeDriver) GetIRQIntLine(irq int) int {
	v, ok := f.irqLines[irq]
	if !ok {
		return -1
	}
	return v
}

func TestRegisterAndDispatch(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	called := false
	require.NoError(t, c.RegisterIntHandler(0x30, func(vector int, cpu *CPUState) {
		called = true
	}))

	c.Dispatch(0x30, &CPUState{EFlags: EFlagsIF})
	assert.True(t, called)
}

func TestDispatchDropsDeviceIRQWhenInterruptsDisabled(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	called := false
	require.NoError(t, c.RegisterIntHandler(0x35, func(int, *CPUState) { called = true }))

	c.Dispatch(0x35, &CPUState{EFlags: 0})
	assert.False(t, called)
}

func TestDispatchCPUExceptionIgnoresInterruptFlag(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	called := false
	require.NoError(t, c.RegisterIntHandler(0x06, func(int, *CPUState) { called = true }))

	c.Dispatch(0x06, &CPUState{EFlags: 0})
	assert.True(t, called)
}

func TestRegisterRejectsReservedVector(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	err := c.RegisterIntHandler(VectorSyscall, func(int, *CPUState) {})
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	require.NoError(t, c.RegisterIntHandler(0x31, func(int, *CPUState) {}))
	err := c.RegisterIntHandler(0x31, func(int, *CPUState) {})
	assert.Error(t, err)
}

func TestRemoveUnregisteredErrors(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	err := c.RemoveIntHandler(0x32)
	assert.Error(t, err)
}

func TestDispatchUnhandledRoutesToPanic(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	before := c.PanicCount()
	c.Dispatch(0x33, &CPUState{EFlags: EFlagsIF})
	assert.Equal(t, before+1, c.PanicCount())
}

func TestDispatchDriverSpuriousSkipsHandler(t *testing.T) {
	driver := newFakeDriver()
	driver.spurious[0x34] = true
	c := New(driver, nil, nil)
	called := false
	require.NoError(t, c.RegisterIntHandler(0x34, func(int, *CPUState) { called = true }))

	c.Dispatch(0x34, &CPUState{EFlags: EFlagsIF})
	assert.False(t, called)
	assert.Equal(t, uint64(1), c.SpuriousCount())
}

func TestIRQHandlerRegistrationResolvesLine(t *testing.T) {
	driver := newFakeDriver()
	c := New(driver, nil, nil)
	called := false
	require.NoError(t, c.RegisterIRQHandler(0, func(int, *CPUState) { called = true }))

	c.Dispatch(0x20, &CPUState{EFlags: EFlagsIF})
	assert.True(t, called)

	require.NoError(t, c.RemoveIRQHandler(0))
}

func TestRegisterIRQHandlerUnknownLineErrors(t *testing.T) {
	c := New(newFakeDriver(), nil, nil)
	err := c.RegisterIRQHandler(99, func(int, *CPUState) {})
	assert.Error(t, err)
}

func TestSetIRQMaskAndEOIDelegateToDriver(t *testing.T) {
	driver := newFakeDriver()
	c := New(driver, nil, nil)

	require.NoError(t, c.SetIRQMask(1, true))
	assert.True(t, driver.masks[1])

	require.NoError(t, c.SetIRQEOI(1))
	assert.Equal(t, []int{1}, driver.eoiCalls)
}
