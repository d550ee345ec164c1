// Package sim is a software platform for the coupled idle protocol: one
// goroutine per core, per-core interrupt masking, a safe idle state that
// sleeps until an interrupt or a tick, and coupled states that only record
// their use.
package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInjected = errors.New("sim: injected idle state failure")

type Config struct {
	Cores       int           // 核心数
	SafeState   int           // 安全空闲状态编号
	Tick        time.Duration // 安全空闲状态最长停留时间 模拟定时器中断
	ExitLatency time.Duration // 在耦合空闲状态中停留的时间
	Bind        bool          // 每个核心协程绑定到宿主机cpu核心
	// OnCoupled runs inside every coupled state entry, on the entering core.
	OnCoupled func(core int, state int)
}

// Call records one coupled state entry.
type Call struct {
	Core  int
	State int
	Seq   uint64 // order of entry across all cores
}

type simCore struct {
	mu      sync.Mutex
	enabled bool
	pending bool
	signal  chan struct{}
	resched atomic.Bool
	wakes   atomic.Uint64
	safe    atomic.Uint64
}

type Platform struct {
	config  Config
	handler atomic.Pointer[func(core int)]
	cores   []*simCore
	seq     atomic.Uint64
	inside  atomic.Int32
	fail    atomic.Int32
	callsMu sync.Mutex
	calls   []Call
}

func NewPlatform(config Config) *Platform {
	if config.Tick == 0 {
		config.Tick = time.Millisecond
	}
	p := &Platform{
		config: config,
		cores:  make([]*simCore, config.Cores),
	}
	for i := range p.cores {
		p.cores[i] = &simCore{signal: make(chan struct{}, 1)}
	}
	p.fail.Store(-1)
	return p
}

// Attach installs the wake interrupt handler, normally Registry.HandlePoke.
func (p *Platform) Attach(handler func(core int)) {
	p.handler.Store(&handler)
}

func (p *Platform) handle(core int) {
	if h := p.handler.Load(); h != nil {
		(*h)(core)
	}
}

// raise delivers an interrupt to core: at once when it has interrupts
// enabled, otherwise latched until it enables them.
func (p *Platform) raise(core int) {
	c := p.cores[core]
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		p.handle(core)
		return
	}
	c.pending = true
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (p *Platform) Wake(core int) {
	p.cores[core].wakes.Add(1)
	p.raise(core)
}

func (p *Platform) LocalEnable(core int) {
	c := p.cores[core]
	c.mu.Lock()
	c.enabled = true
	pending := c.pending
	c.pending = false
	c.mu.Unlock()
	if pending {
		p.handle(core)
	}
}

func (p *Platform) LocalDisable(core int) {
	c := p.cores[core]
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (p *Platform) NeedResched(core int) bool {
	return p.cores[core].resched.Load()
}

// SetResched sets the need_resched flag of core and interrupts it.
func (p *Platform) SetResched(core int, resched bool) {
	p.cores[core].resched.Store(resched)
	if resched {
		p.raise(core)
	}
}

func (p *Platform) SafeState() int {
	return p.config.SafeState
}

// Fail makes entries into state fail until Fail(-1).
func (p *Platform) Fail(state int) {
	p.fail.Store(int32(state))
}

func (p *Platform) EnterState(core int, index int) (int, error) {
	if index == p.config.SafeState {
		p.safeIdle(core)
		return index, nil
	}
	if int32(index) == p.fail.Load() {
		return -1, ErrInjected
	}
	p.inside.Add(1)
	call := Call{Core: core, State: index, Seq: p.seq.Add(1)}
	p.callsMu.Lock()
	p.calls = append(p.calls, call)
	p.callsMu.Unlock()
	if p.config.OnCoupled != nil {
		p.config.OnCoupled(core, index)
	}
	if p.config.ExitLatency > 0 {
		time.Sleep(p.config.ExitLatency)
	}
	p.inside.Add(-1)
	return index, nil
}

func (p *Platform) safeIdle(core int) {
	c := p.cores[core]
	c.safe.Add(1)
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending {
		return
	}
	timer := time.NewTimer(p.config.Tick)
	defer timer.Stop()
	select {
	case <-c.signal:
	case <-timer.C:
	}
}

// Inside returns the number of cores currently in a coupled state.
func (p *Platform) Inside() int {
	return int(p.inside.Load())
}

func (p *Platform) Calls() []Call {
	p.callsMu.Lock()
	defer p.callsMu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Wakes returns how many cross-core interrupts were sent to core.
func (p *Platform) Wakes(core int) uint64 {
	return p.cores[core].wakes.Load()
}

// SafeEntries returns how many times core entered the safe state.
func (p *Platform) SafeEntries(core int) uint64 {
	return p.cores[core].safe.Load()
}
