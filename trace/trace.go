// Package trace records coupled idle protocol transitions per core.
package trace

import (
	"fmt"
	"time"
)

type Kind uint8

const (
	KindWaiting Kind = iota + 1 // registered a requested state
	KindSafeIdle                // returned from the safe idle state
	KindAbort                   // left the protocol on need_resched
	KindReady                   // passed into the ready phase
	KindRetry                   // ready phase collapsed, back to waiting
	KindCommit                  // entering the coupled state
	KindDone                    // left the protocol after the coupled state
)

func (k Kind) String() string {
	switch k {
	case KindWaiting:
		return "waiting"
	case KindSafeIdle:
		return "safe-idle"
	case KindAbort:
		return "abort"
	case KindReady:
		return "ready"
	case KindRetry:
		return "retry"
	case KindCommit:
		return "commit"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Event struct {
	Time  int64 // unix nanoseconds
	Core  int32
	State int32
	Kind  Kind
}

func (ev Event) String() string {
	return fmt.Sprintf("%s core=%d %s state=%d",
		time.Unix(0, ev.Time).Format("15:04:05.000000"), ev.Core, ev.Kind, ev.State)
}

// Recorder holds one Ring per core. Record for a core must only be called
// from that core; Drain may run on any single reader.
type Recorder struct {
	rings []*Ring
}

// NewRecorder returns nil when size is not a valid ring size.
func NewRecorder(cores int, size uint32) *Recorder {
	if NewRing(size) == nil {
		return nil
	}
	r := &Recorder{rings: make([]*Ring, cores)}
	for i := range r.rings {
		r.rings[i] = NewRing(size)
	}
	return r
}

func (r *Recorder) Record(core int, kind Kind, state int) {
	if r == nil {
		return
	}
	r.rings[core].Write(Event{
		Time:  time.Now().UnixNano(),
		Core:  int32(core),
		State: int32(state),
		Kind:  kind,
	})
}

// Drain reads the pending events of core until fn returns false or the ring is empty.
func (r *Recorder) Drain(core int, fn func(ev Event) (next bool)) {
	if r == nil {
		return
	}
	var ev Event
	for r.rings[core].Read(&ev) {
		if !fn(ev) {
			return
		}
	}
}

func (r *Recorder) Dropped(core int) uint64 {
	if r == nil {
		return 0
	}
	return r.rings[core].Dropped()
}
