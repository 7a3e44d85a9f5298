package cluster

import (
	"context"
	"sync"
)

// Fake is an in-memory cluster used for local runs and tests. It records every resize it receives.
type Fake struct {
	mu       sync.Mutex
	size     int
	cpuUsage float64

	// Err, when set, is returned by every call.
	err error

	sizeCalls int
	cpuCalls  int
	writes    []int
	closed    int
}

var _ Service = (*Fake)(nil)

// NewFake creates a Fake cluster with the given size and CPU usage.
func NewFake(size int, cpuUsage float64) *Fake {
	return &Fake{size: size, cpuUsage: cpuUsage}
}

func (f *Fake) GetClusterSize(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizeCalls++
	if f.err != nil {
		return 0, f.err
	}
	return f.size, nil
}

func (f *Fake) SetClusterSize(_ context.Context, size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, size)
	f.size = size
	return nil
}

func (f *Fake) GetCPUUsage(_ context.Context, _, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpuCalls++
	if f.err != nil {
		return 0, f.err
	}
	return f.cpuUsage, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// SetCPUUsage changes the CPU usage reported from now on.
func (f *Fake) SetCPUUsage(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpuUsage = v
}

// SetError makes every subsequent call fail with err; nil restores normal behavior.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Size returns the current node count without counting as a read.
func (f *Fake) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Writes returns every size passed to SetClusterSize, in order.
func (f *Fake) Writes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.writes...)
}

// Reads returns how many times the size and the CPU usage were read.
func (f *Fake) Reads() (size, cpu int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizeCalls, f.cpuCalls
}

// Closed returns how many times Close was called.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
