// Package coupled coordinates idle entry for groups of cores that share
// power logic and may only enter their deep idle states together.
//
// Every core of a coupled set calls Device.Enter from its idle path. The
// cores first agree that all live members are waiting, then commit through
// a ready barrier and enter the shallowest state any of them requested.
// Coordination uses atomic counters and busy waiting only.
package coupled

import (
	"sync/atomic"

	"github.com/flswld/cpuidle/cpu"
)

// Requested state slot values. Non-negative values are idle state indexes.
const (
	NotIdle = -1
	Dead    = -2
)

// counter sits alone on its cache line.
type counter struct {
	v atomic.Int32
	_ [60]byte
}

type CoupledSet struct {
	mask      CoreMask
	handle    Handle
	requested []atomic.Int32 // indexed by core id
	alive     counter
	waiting   counter
	ready     counter
	commit    counter // post-commit parallel barrier
	refcount  int     // registry lock
}

type SetStats struct {
	Handle    Handle
	Mask      CoreMask
	Alive     int
	Waiting   int
	Ready     int
	Refcount  int
	Requested map[int]int
}

func newCoupledSet(mask CoreMask, handle Handle) *CoupledSet {
	s := &CoupledSet{
		mask:      mask,
		handle:    handle,
		requested: make([]atomic.Int32, mask.Max()+1),
	}
	for i := range s.requested {
		s.requested[i].Store(Dead)
	}
	return s
}

func (s *CoupledSet) Mask() CoreMask {
	return s.mask
}

func (s *CoupledSet) Handle() Handle {
	return s.handle
}

// allWaiting reads alive before waiting: a core that is booting bumps alive
// before it can bump waiting, so the check never mistakes it for idle.
func (s *CoupledSet) allWaiting() bool {
	alive := s.alive.v.Load()
	waiting := s.waiting.v.Load()
	return waiting == alive
}

func (s *CoupledSet) allReady(alive int32) bool {
	return s.ready.v.Load() == alive
}

// noneReady is true once no core holds a ready increment. A hotplug claim
// counts as none.
func (s *CoupledSet) noneReady() bool {
	return s.ready.v.Load() <= 0
}

// committed reports a ready count that has reached the live member count.
func (s *CoupledSet) committed() bool {
	ready := s.ready.v.Load()
	return ready > 0 && ready >= s.alive.v.Load()
}

// deepestCommonState returns the shallowest state requested by any live
// member. Lower indexes are shallower.
func (s *CoupledSet) deepestCommonState(self int) int {
	state := int32(-1)
	s.mask.ForEach(func(core int) bool {
		req := s.requested[core].Load()
		switch {
		case req == Dead:
		case req == NotIdle:
			violation(self, "core %d not waiting at commit", core)
		case state < 0 || req < state:
			state = req
		}
		return true
	})
	if state < 0 {
		violation(self, "no live member in set %v", s.mask)
	}
	return int(state)
}

// setWaiting publishes the requested state before counting the core as
// waiting and returns the new waiting count.
func (s *CoupledSet) setWaiting(core int, state int) int32 {
	if !s.requested[core].CompareAndSwap(NotIdle, int32(state)) {
		violation(core, "set waiting with requested state %d", s.requested[core].Load())
	}
	w := s.waiting.v.Add(1)
	if alive := s.alive.v.Load(); w > alive {
		violation(core, "waiting %d above alive %d", w, alive)
	}
	return w
}

func (s *CoupledSet) setNotWaiting(core int) {
	if req := s.requested[core].Load(); req < 0 {
		violation(core, "clear waiting with requested state %d", req)
	}
	s.requested[core].Store(NotIdle)
	if w := s.waiting.v.Add(-1); w < 0 {
		violation(core, "waiting count %d", w)
	}
}

// hotplugClaim is held in ready while the hotplug path changes alive.
// Ready increments are refused meanwhile.
const hotplugClaim = -(1 << 30)

// setReady takes a ready increment. It fails while hotplug holds the claim
// and never touches the counter then, so a release cannot turn a failed
// attempt into a real increment.
func (s *CoupledSet) setReady() bool {
	for {
		r := s.ready.v.Load()
		if r < 0 {
			return false
		}
		if s.ready.v.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

func (s *CoupledSet) setNotReady(core int) {
	if r := s.ready.v.Add(-1); r < 0 {
		violation(core, "ready count %d", r)
	}
}

func (s *CoupledSet) claimReady(spin *cpu.Spinner) {
	for !s.ready.v.CompareAndSwap(0, hotplugClaim) {
		spin.Spin()
	}
}

func (s *CoupledSet) releaseReady() {
	s.ready.v.Add(-hotplugClaim)
}

// markAlive and markDead run from the hotplug path only, under the claim.
func (s *CoupledSet) markAlive(core int) {
	s.alive.v.Add(1)
	s.requested[core].Store(NotIdle)
}

func (s *CoupledSet) markDead(core int) {
	if req := s.requested[core].Load(); req >= 0 {
		violation(core, "going offline while waiting for state %d", req)
	}
	if a := s.alive.v.Add(-1); a < 0 {
		violation(core, "alive count %d", a)
	}
	s.requested[core].Store(Dead)
}

// parallelBarrier returns once n callers have arrived at a. The counter
// climbs to 2n and the last caller resets it, so a is reusable.
func parallelBarrier(a *atomic.Int32, n int32, spin *cpu.Spinner) {
	a.Add(1)
	for a.Load() < n {
		spin.Spin()
	}
	if a.Add(1) == n*2 {
		a.Store(0)
		return
	}
	for a.Load() > n {
		spin.Spin()
	}
}

// snapshot reads the counters without synchronizing with running cores.
// The caller holds the registry lock for refcount.
func (s *CoupledSet) snapshot() SetStats {
	st := SetStats{
		Handle:    s.handle,
		Mask:      s.mask,
		Alive:     int(s.alive.v.Load()),
		Waiting:   int(s.waiting.v.Load()),
		Ready:     int(s.ready.v.Load()),
		Refcount:  s.refcount,
		Requested: make(map[int]int, s.mask.Count()),
	}
	s.mask.ForEach(func(core int) bool {
		st.Requested[core] = int(s.requested[core].Load())
		return true
	})
	return st
}
