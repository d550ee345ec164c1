package sim

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/flswld/cpuidle/coupled"
	"github.com/flswld/cpuidle/cpu"
)

// Machine is a Platform with a coupled registry wired to it.
type Machine struct {
	Platform *Platform
	Registry *coupled.Registry
}

// NewMachine builds the platform and registry and registers every core of
// each mask. tune may adjust the registry config before it is used.
func NewMachine(config Config, masks []coupled.CoreMask, tune func(cfg *coupled.Config)) (*Machine, error) {
	p := NewPlatform(config)
	cfg := &coupled.Config{
		MaxCores:   config.Cores,
		Driver:     p,
		Scheduler:  p,
		Waker:      p,
		Interrupts: p,
	}
	if tune != nil {
		tune(cfg)
	}
	reg, err := coupled.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	p.Attach(reg.HandlePoke)
	for _, mask := range masks {
		var regErr error
		mask.ForEach(func(core int) bool {
			_, regErr = reg.Register(core, mask)
			return regErr == nil
		})
		if regErr != nil {
			return nil, regErr
		}
	}
	return &Machine{Platform: p, Registry: reg}, nil
}

// Idle is the idle path of core: interrupts off, then the coupled protocol.
func (m *Machine) Idle(core int, state int) (coupled.Result, error) {
	dev := m.Registry.Device(core)
	if dev == nil {
		return coupled.Result{State: -1}, coupled.ErrNotRegistered
	}
	m.Platform.LocalDisable(core)
	return dev.Enter(state)
}

// Run starts fn on one goroutine per core and waits for all of them.
func (m *Machine) Run(ctx context.Context, cores []int, fn func(ctx context.Context, core int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, core := range cores {
		core := core
		g.Go(func() error {
			if m.Platform.config.Bind {
				cpu.BindCpuCore(core % runtime.NumCPU())
				defer cpu.UnbindCpuCore()
			}
			return fn(ctx, core)
		})
	}
	return g.Wait()
}
