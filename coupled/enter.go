package coupled

import (
	"fmt"
	"sync/atomic"

	"github.com/flswld/cpuidle/logger"
	"github.com/flswld/cpuidle/trace"
)

// Result is the outcome of one Enter call.
type Result struct {
	State   int  // idle state actually entered, -1 if none
	Aborted bool // left on need_resched before the set committed
	Retries int  // ready phases that collapsed before the outcome
}

// Enter runs the coupled idle protocol for the device's core, asking for
// state or anything shallower. It is called from the core's idle path with
// local interrupts disabled and returns with them enabled.
//
// The core registers as waiting and parks in the safe state until every
// live member waits too. It then takes a ready increment and spins until
// all live members hold one, falling back to waiting if any member leaves.
// Once committed, every member enters the shallowest requested state and
// no member returns before all of them have left the hardware call.
func (d *Device) Enter(state int) (Result, error) {
	res := Result{State: -1}
	if state < 0 {
		d.reg.config.Interrupts.LocalEnable(d.core)
		return res, fmt.Errorf("%w: %d", ErrInvalidState, state)
	}
	if !d.attached.Load() {
		d.reg.config.Interrupts.LocalEnable(d.core)
		return res, fmt.Errorf("%w: core %d", ErrDetached, d.core)
	}

	r, set, core := d.reg, d.set, d.core
	if set.committed() {
		violation(core, "enter while set %v is committed", set.handle)
	}

	w := set.setWaiting(core, state)
	r.trace.Record(core, trace.KindWaiting, state)
	if w == set.alive.v.Load() {
		r.wake.PokeOthers(set, core)
	}
	if r.config.DebugLog {
		logger.Debug("@LogTag(coupled)|core %v waiting, state: %v, waiting: %v", core, state, w)
	}

	for {
		d.waitAll(&res)

		if r.config.Scheduler.NeedResched(core) {
			set.setNotWaiting(core)
			d.aborted.Add(1)
			r.trace.Record(core, trace.KindAbort, res.State)
			if r.config.DebugLog {
				logger.Debug("@LogTag(coupled)|core %v abort, safe state: %v", core, res.State)
			}
			res.Aborted = true
			d.leave()
			return res, nil
		}

		alive, ok := d.readyPhase()
		if ok {
			return d.commit(res, alive)
		}
		res.Retries++
		d.retries.Add(1)
		r.trace.Record(core, trace.KindRetry, state)
	}
}

// waitAll parks the core in the safe state until every live member is
// waiting or the core has work to do. Pending pokes are drained after each
// wake so the next check sees fresh counters.
func (d *Device) waitAll(res *Result) {
	r, set, core := d.reg, d.set, d.core
	for !r.config.Scheduler.NeedResched(core) && !set.allWaiting() {
		entered, err := r.config.Driver.EnterState(core, r.safe)
		if err != nil {
			if r.config.DebugLog {
				logger.Debug("@LogTag(coupled)|core %v safe state error: %v", core, err)
			}
		} else {
			res.State = entered
		}
		r.trace.Record(core, trace.KindSafeIdle, entered)
		d.drainPokes()
	}
	d.drainPokes()
}

// drainPokes lets the wake handler run and waits for this core's poke to
// be acknowledged.
func (d *Device) drainPokes() {
	r := d.reg
	r.config.Interrupts.LocalEnable(d.core)
	spin := r.spinner("poke drain")
	for r.wake.Pending(d.core) {
		spin.Spin()
	}
	r.config.Interrupts.LocalDisable(d.core)
}

// readyPhase returns the live member count and true once all live members
// hold a ready increment. It returns false after giving the increment back
// because a member stopped waiting or the hotplug path holds the claim.
func (d *Device) readyPhase() (int32, bool) {
	r, set, core := d.reg, d.set, d.core
	if !set.setReady() {
		spin := r.spinner("hotplug claim")
		for set.ready.v.Load() < 0 {
			spin.Spin()
		}
		return 0, false
	}
	// alive cannot change while this core holds a ready increment.
	alive := set.alive.v.Load()
	r.trace.Record(core, trace.KindReady, int(alive))
	spin := r.spinner("ready")
	for set.ready.v.Load() != alive {
		if !set.allWaiting() {
			set.setNotReady(core)
			return 0, false
		}
		spin.Spin()
	}
	return alive, true
}

func (d *Device) commit(res Result, alive int32) (Result, error) {
	r, set, core := d.reg, d.set, d.core

	next := set.deepestCommonState(core)
	// No member may leave the waiting state before all of them have read
	// the requested states.
	spin := r.spinner("commit")
	parallelBarrier(&set.commit.v, alive, &spin)

	r.trace.Record(core, trace.KindCommit, next)
	entered, err := r.config.Driver.EnterState(core, next)

	set.setNotWaiting(core)
	set.setNotReady(core)
	r.trace.Record(core, trace.KindDone, entered)
	d.leave()

	if err != nil {
		d.failures.Add(1)
		res.State = -1
		logger.Warn("@LogTag(coupled)|core %v enter state %v error: %v", core, next, err)
		return res, fmt.Errorf("%w: core %d state %d: %w", ErrEnterFailed, core, next, err)
	}
	d.entered.Add(1)
	res.State = entered
	if r.config.DebugLog {
		logger.Debug("@LogTag(coupled)|core %v done, state: %v, entered: %v", core, next, entered)
	}
	return res, nil
}

// leave enables interrupts and waits until no member holds a ready
// increment, so no core returns while a sibling is still committed.
func (d *Device) leave() {
	r := d.reg
	r.config.Interrupts.LocalEnable(d.core)
	spin := r.spinner("exit")
	for !d.set.noneReady() {
		spin.Spin()
	}
}

// ParallelBarrier lets the cores of a committed set run a driver step
// together. Every live member must call it with the same counter, which
// starts at zero and is reset on return so it can be reused.
func ParallelBarrier(d *Device, a *atomic.Int32) {
	spin := d.reg.spinner("parallel barrier")
	parallelBarrier(a, d.set.alive.v.Load(), &spin)
}
