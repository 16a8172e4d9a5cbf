package utkcore

import (
	"sync"

	"github.com/oxmose/utkcore/internal/interfaces"
)

// MockMMU is an interfaces.MMU implementation for tests: it just records
// what was asked of it rather than touching any real CR3/CR2/TLB state.
type MockMMU struct {
	mu sync.Mutex

	loadedDirectory uint32
	loadCalls       int
	invalidated     []uint32
	faultAddress    uint32
}

// NewMockMMU creates an MMU stub with no fault pending.
func NewMockMMU() *MockMMU {
	return &MockMMU{}
}

func (m *MockMMU) LoadDirectory(physFrame uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadedDirectory = physFrame
	m.loadCalls++
}

func (m *MockMMU) InvalidatePage(virt uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, virt)
}

func (m *MockMMU) FaultAddress() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faultAddress
}

// SetFaultAddress lets a test arrange what the next FaultAddress() call
// returns, simulating CR2 having been populated by a page fault.
func (m *MockMMU) SetFaultAddress(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faultAddress = addr
}

// LoadedDirectory returns the physical frame of the last LoadDirectory call.
func (m *MockMMU) LoadedDirectory() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedDirectory
}

// InvalidatedPages returns every virtual address passed to InvalidatePage,
// in call order.
func (m *MockMMU) InvalidatedPages() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, len(m.invalidated))
	copy(out, m.invalidated)
	return out
}

// MockInterruptDriver is an interfaces.InterruptDriver implementation for
// tests, with a caller-configurable IRQ-to-vector map and no spurious
// interrupts unless explicitly armed.
type MockInterruptDriver struct {
	mu sync.Mutex

	irqLines map[int]int
	masked   map[int]bool
	eoiCalls []int
	spurious map[int]bool
}

// NewMockInterruptDriver creates a driver stub with the given IRQ-to-vector
// mapping (e.g. {0: 0x20} for the timer on IRQ0).
func NewMockInterruptDriver(irqLines map[int]int) *MockInterruptDriver {
	return &MockInterruptDriver{
		irqLines: irqLines,
		masked:   make(map[int]bool),
		spurious: make(map[int]bool),
	}
}

func (d *MockInterruptDriver) SetIRQMask(irq int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.masked[irq] = on
	return nil
}

func (d *MockInterruptDriver) SetIRQEOI(irq int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eoiCalls = append(d.eoiCalls, irq)
	return nil
}

func (d *MockInterruptDriver) HandleSpurious(vector int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spurious[vector]
}

func (d *MockInterruptDriver) GetIRQIntLine(irq int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.irqLines[irq]; ok {
		return v
	}
	return -1
}

// MarkSpurious arms vector to be classified as spurious on every later
// HandleSpurious call.
func (d *MockInterruptDriver) MarkSpurious(vector int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spurious[vector] = true
}

// IsMasked reports whether irq's mask state was last set to on.
func (d *MockInterruptDriver) IsMasked(irq int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.masked[irq]
}

// EOICalls returns every IRQ SetIRQEOI was called with, in call order.
func (d *MockInterruptDriver) EOICalls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.eoiCalls))
	copy(out, d.eoiCalls)
	return out
}

var (
	_ interfaces.MMU             = (*MockMMU)(nil)
	_ interfaces.InterruptDriver = (*MockInterruptDriver)(nil)
)
