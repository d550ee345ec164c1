package cpu

import (
	"runtime"
	"sync/atomic"
	_ "unsafe"
)

const (
	relaxCycles  = 10
	activeSpin   = 128
	passiveEvery = 16
)

//go:linkname procyield runtime.procyield
func procyield(cycles uint32)

// Relax is the spin-wait hint used inside busy loops. It never blocks.
func Relax() {
	procyield(relaxCycles)
}

type SpinLock uint32

func (l *SpinLock) Lock() {
	for {
		ok := atomic.CompareAndSwapUint32((*uint32)(l), 0, 1)
		if ok {
			break
		}
		procyield(relaxCycles)
	}
}

func (l *SpinLock) UnLock() {
	atomic.StoreUint32((*uint32)(l), 0)
}

// SpinTimeout is raised by Spinner.Spin when a bounded spin exceeds its limit.
type SpinTimeout struct {
	Name  string
	Limit uint64
}

func (e *SpinTimeout) Error() string {
	return "spin " + e.Name + " exceeded limit"
}

// Spinner counts the iterations of one busy-wait loop.
// With Limit 0 the spin is unbounded. Past activeSpin iterations the
// goroutine also yields its P now and then, so simulated cores that share
// fewer OS threads than they number still make progress.
type Spinner struct {
	Name  string
	Limit uint64
	n     uint64
}

func NewSpinner(name string, limit uint64) Spinner {
	return Spinner{Name: name, Limit: limit}
}

func (s *Spinner) Spin() {
	s.n++
	if s.Limit != 0 && s.n > s.Limit {
		panic(&SpinTimeout{Name: s.Name, Limit: s.Limit})
	}
	if s.n > activeSpin && s.n%passiveEvery == 0 {
		runtime.Gosched()
		return
	}
	procyield(relaxCycles)
}

func (s *Spinner) Count() uint64 {
	return s.n
}

func (s *Spinner) Reset() {
	s.n = 0
}
