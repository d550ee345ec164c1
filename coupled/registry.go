package coupled

import (
	"fmt"
	"sync/atomic"

	"github.com/flswld/cpuidle/cpu"
	"github.com/flswld/cpuidle/logger"
	"github.com/flswld/cpuidle/trace"
)

// Handle names a coupled set slot. Gen changes every time the slot is
// freed, so handles to a released set stop resolving.
type Handle struct {
	Index int
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("set#%d.%d", h.Index, h.Gen)
}

type setSlot struct {
	set *CoupledSet
	gen uint32
}

// Registry owns the coupled sets of one machine and the per-core devices
// registered into them.
type Registry struct {
	config  Config
	safe    int
	lock    cpu.SpinLock // slots, devices, online, refcounts
	hotplug cpu.SpinLock // one alive transition at a time
	slots   []setSlot
	devices []*Device
	online  []bool
	wake    *WakeChannel
	trace   *trace.Recorder
}

// Device is a core's membership in a coupled set.
type Device struct {
	core     int
	reg      *Registry
	set      *CoupledSet
	attached atomic.Bool
	entered  atomic.Uint64
	aborted  atomic.Uint64
	retries  atomic.Uint64
	failures atomic.Uint64
}

type DeviceStats struct {
	Entered  uint64 // coupled state entries
	Aborted  uint64 // returns on need_resched before commit
	Retries  uint64 // ready phases that collapsed
	Failures uint64 // hardware entry errors
}

func NewRegistry(config *Config) (*Registry, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg := *config
	if err := cfg.check(); err != nil {
		return nil, err
	}
	r := &Registry{
		config:  cfg,
		safe:    cfg.Driver.SafeState(),
		slots:   make([]setSlot, cfg.MaxSets),
		devices: make([]*Device, cfg.MaxCores),
		online:  make([]bool, cfg.MaxCores),
		wake:    NewWakeChannel(cfg.MaxCores, cfg.Waker),
	}
	if len(cfg.Online) == 0 {
		for i := range r.online {
			r.online[i] = true
		}
	}
	for _, core := range cfg.Online {
		r.online[core] = true
	}
	if cfg.TraceSize != 0 {
		r.trace = trace.NewRecorder(cfg.MaxCores, cfg.TraceSize)
		if r.trace == nil {
			return nil, fmt.Errorf("%w: trace size %d", ErrInvalidConfig, cfg.TraceSize)
		}
	}
	return r, nil
}

func (r *Registry) spinner(name string) cpu.Spinner {
	return cpu.NewSpinner(name, r.config.SpinLimit)
}

func (r *Registry) checkCore(core int) error {
	if core < 0 || core >= r.config.MaxCores {
		return fmt.Errorf("%w: core %d, max %d", ErrCoreOutOfRange, core, r.config.MaxCores)
	}
	return nil
}

// Register attaches core to the coupled set for mask, creating the set on
// first use. An online core is counted alive right away.
func (r *Registry) Register(core int, mask CoreMask) (*Device, error) {
	if err := r.checkCore(core); err != nil {
		return nil, err
	}
	if mask.Empty() {
		return nil, fmt.Errorf("%w: core %d", ErrEmptyMask, core)
	}
	if last := mask.Max(); last >= r.config.MaxCores {
		return nil, fmt.Errorf("%w: mask %v, max %d", ErrCoreOutOfRange, mask, r.config.MaxCores)
	}
	if !mask.Has(core) {
		return nil, fmt.Errorf("%w: core %d, mask %v", ErrCoreNotInMask, core, mask)
	}

	r.hotplug.Lock()
	defer r.hotplug.UnLock()

	r.lock.Lock()
	if r.devices[core] != nil {
		r.lock.UnLock()
		return nil, fmt.Errorf("%w: core %d", ErrAlreadyRegistered, core)
	}
	set, created := r.findOrCreate(mask)
	if set == nil {
		r.lock.UnLock()
		return nil, fmt.Errorf("%w: mask %v, %d slots", ErrSetsExhausted, mask, len(r.slots))
	}
	set.refcount++
	d := &Device{core: core, reg: r, set: set}
	d.attached.Store(true)
	r.devices[core] = d
	online := r.online[core]
	r.lock.UnLock()

	if created {
		logger.Info("@LogTag(coupled)|create coupled set %v mask: %v", set.handle, mask)
	}
	if online {
		r.setAlive(set, core, true)
	}
	logger.Debug("@LogTag(coupled)|register core: %v, set: %v, online: %v", core, set.handle, online)
	return d, nil
}

// findOrCreate runs under the registry lock.
func (r *Registry) findOrCreate(mask CoreMask) (*CoupledSet, bool) {
	free := -1
	for i := range r.slots {
		slot := &r.slots[i]
		if slot.set == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if slot.set.mask.Equal(mask) {
			return slot.set, false
		}
	}
	if free < 0 {
		return nil, false
	}
	slot := &r.slots[free]
	slot.set = newCoupledSet(mask, Handle{Index: free, Gen: slot.gen})
	return slot.set, true
}

// Unregister detaches core from its set and frees the set when no core
// references it any more. The core must not be inside Enter.
func (r *Registry) Unregister(core int) error {
	if err := r.checkCore(core); err != nil {
		return err
	}

	r.hotplug.Lock()
	defer r.hotplug.UnLock()

	r.lock.Lock()
	d := r.devices[core]
	if d == nil {
		r.lock.UnLock()
		return fmt.Errorf("%w: core %d", ErrNotRegistered, core)
	}
	online := r.online[core]
	r.lock.UnLock()

	set := d.set
	if online {
		r.setAlive(set, core, false)
	}

	r.lock.Lock()
	d.attached.Store(false)
	r.devices[core] = nil
	set.refcount--
	freed := set.refcount == 0
	if freed {
		slot := &r.slots[set.handle.Index]
		slot.set = nil
		slot.gen++
	}
	r.lock.UnLock()

	logger.Debug("@LogTag(coupled)|unregister core: %v, set: %v, freed: %v", core, set.handle, freed)
	return nil
}

// SetAlive is the hotplug hook. It runs on another core, before core boots
// (alive) or after it is fully offline (!alive).
func (r *Registry) SetAlive(core int, alive bool) error {
	if err := r.checkCore(core); err != nil {
		return err
	}

	r.hotplug.Lock()
	defer r.hotplug.UnLock()

	r.lock.Lock()
	was := r.online[core]
	r.online[core] = alive
	d := r.devices[core]
	r.lock.UnLock()

	if was == alive {
		return nil
	}
	logger.Info("@LogTag(coupled)|core %v online: %v", core, alive)
	if d != nil {
		r.setAlive(d.set, core, alive)
	}
	return nil
}

// HotplugNotify maps a hotplug notification onto SetAlive.
func (r *Registry) HotplugNotify(core int, goingOnline bool) error {
	return r.SetAlive(core, goingOnline)
}

// setAlive changes the quorum of set. It holds the ready claim while alive
// and the core's slot change, then pokes the members so cores parked in the
// safe state re-check the new quorum.
func (r *Registry) setAlive(set *CoupledSet, core int, alive bool) {
	spin := r.spinner("hotplug ready")
	set.claimReady(&spin)
	if alive {
		set.markAlive(core)
	} else {
		set.markDead(core)
	}
	set.releaseReady()
	r.wake.PokeOthers(set, core)
}

// HandlePoke is the wake interrupt handler. The platform calls it on the
// target core.
func (r *Registry) HandlePoke(core int) {
	r.wake.Ack(core)
}

func (r *Registry) Wake() *WakeChannel {
	return r.wake
}

// Trace returns the protocol trace recorder, nil when tracing is off.
func (r *Registry) Trace() *trace.Recorder {
	return r.trace
}

func (r *Registry) Device(core int) *Device {
	if r.checkCore(core) != nil {
		return nil
	}
	r.lock.Lock()
	defer r.lock.UnLock()
	return r.devices[core]
}

func (r *Registry) Online(core int) bool {
	if r.checkCore(core) != nil {
		return false
	}
	r.lock.Lock()
	defer r.lock.UnLock()
	return r.online[core]
}

func (r *Registry) Set(h Handle) (*CoupledSet, error) {
	r.lock.Lock()
	defer r.lock.UnLock()
	if h.Index < 0 || h.Index >= len(r.slots) {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	slot := r.slots[h.Index]
	if slot.set == nil || slot.gen != h.Gen {
		return nil, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return slot.set, nil
}

func (r *Registry) Stats(h Handle) (SetStats, error) {
	set, err := r.Set(h)
	if err != nil {
		return SetStats{}, err
	}
	r.lock.Lock()
	defer r.lock.UnLock()
	return set.snapshot(), nil
}

// AllStats returns a snapshot of every live set in slot order.
func (r *Registry) AllStats() []SetStats {
	r.lock.Lock()
	defer r.lock.UnLock()
	var out []SetStats
	for _, slot := range r.slots {
		if slot.set != nil {
			out = append(out, slot.set.snapshot())
		}
	}
	return out
}

func (d *Device) Core() int {
	return d.core
}

func (d *Device) Handle() Handle {
	return d.set.handle
}

func (d *Device) Set() *CoupledSet {
	return d.set
}

func (d *Device) Stats() DeviceStats {
	return DeviceStats{
		Entered:  d.entered.Load(),
		Aborted:  d.aborted.Load(),
		Retries:  d.retries.Load(),
		Failures: d.failures.Load(),
	}
}
