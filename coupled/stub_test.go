package coupled

import (
	"sync"
	"sync/atomic"
)

// stubPlatform records wakes and interrupt toggles and never idles. Wakes
// are acknowledged at once when a registry is attached.
type stubPlatform struct {
	mu      sync.Mutex
	wakes   map[int]int
	enabled map[int]bool
	safe    int
	resched atomic.Bool
	reg     atomic.Pointer[Registry]
}

func newStubPlatform() *stubPlatform {
	p := &stubPlatform{wakes: make(map[int]int), enabled: make(map[int]bool)}
	p.resched.Store(true)
	return p
}

func (p *stubPlatform) EnterState(core int, index int) (int, error) {
	return index, nil
}

func (p *stubPlatform) SafeState() int {
	return p.safe
}

func (p *stubPlatform) NeedResched(core int) bool {
	return p.resched.Load()
}

func (p *stubPlatform) Wake(core int) {
	p.mu.Lock()
	p.wakes[core]++
	p.mu.Unlock()
	if r := p.reg.Load(); r != nil {
		r.HandlePoke(core)
	}
}

func (p *stubPlatform) LocalEnable(core int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[core] = true
}

func (p *stubPlatform) LocalDisable(core int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[core] = false
}

func (p *stubPlatform) wakesOf(core int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wakes[core]
}

func (p *stubPlatform) enabledOn(core int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[core]
}

func newStubRegistry(cores int, tune func(cfg *Config)) (*Registry, *stubPlatform, error) {
	p := newStubPlatform()
	cfg := &Config{
		MaxCores:   cores,
		Driver:     p,
		Scheduler:  p,
		Waker:      p,
		Interrupts: p,
	}
	if tune != nil {
		tune(cfg)
	}
	r, err := NewRegistry(cfg)
	if err == nil {
		p.reg.Store(r)
	}
	return r, p, err
}
