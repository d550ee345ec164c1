package coupled

import (
	"sync/atomic"
)

// WakeChannel tracks at most one cross-core wake per target core. A wake
// stays pending until the target's interrupt handler acknowledges it, and
// further pokes to the same target are dropped meanwhile.
type WakeChannel struct {
	waker   Waker
	pending []atomic.Uint32
	sent    atomic.Uint64
}

func NewWakeChannel(cores int, waker Waker) *WakeChannel {
	return &WakeChannel{
		waker:   waker,
		pending: make([]atomic.Uint32, cores),
	}
}

// Poke wakes core unless a wake to it is already in flight.
func (w *WakeChannel) Poke(core int) {
	if w.pending[core].CompareAndSwap(0, 1) {
		w.sent.Add(1)
		w.waker.Wake(core)
	}
}

// PokeOthers pokes every alive member of set except self.
func (w *WakeChannel) PokeOthers(set *CoupledSet, self int) {
	set.mask.ForEach(func(core int) bool {
		if core != self && set.requested[core].Load() != Dead {
			w.Poke(core)
		}
		return true
	})
}

// Ack runs on the target core when the wake interrupt is handled.
func (w *WakeChannel) Ack(core int) {
	w.pending[core].Store(0)
}

func (w *WakeChannel) Pending(core int) bool {
	return w.pending[core].Load() != 0
}

// Sent returns how many wakes were actually delivered to the Waker.
func (w *WakeChannel) Sent() uint64 {
	return w.sent.Load()
}
