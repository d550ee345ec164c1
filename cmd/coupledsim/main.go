// Command coupledsim runs coupled idle sets on simulated cores and reports
// how often each core reached the coupled state.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/flswld/cpuidle/coupled"
	"github.com/flswld/cpuidle/logger"
	"github.com/flswld/cpuidle/sim"
	"github.com/flswld/cpuidle/trace"
)

func main() {
	configPath := flag.String("config", "", "toml config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.InitLogger(&logger.Config{
		AppName:      "coupledsim",
		Level:        logger.ParseLevel(cfg.Log.Level),
		TrackLine:    false,
		EnableFile:   cfg.Log.EnableFile,
		FileDir:      cfg.Log.FileDir,
		DisableColor: cfg.Log.DisableColor,
	})
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("run error: %v", err)
		logger.CloseLogger()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	masks := make([]coupled.CoreMask, 0, len(cfg.Sets))
	var cores []int
	for _, set := range cfg.Sets {
		masks = append(masks, coupled.NewCoreMask(set.Cores...))
		cores = append(cores, set.Cores...)
	}
	sort.Ints(cores)

	m, err := sim.NewMachine(sim.Config{
		Cores:       cfg.Cores,
		SafeState:   cfg.SafeState,
		Tick:        cfg.Tick.Duration,
		ExitLatency: cfg.ExitLatency.Duration,
		Bind:        cfg.Bind,
	}, masks, func(c *coupled.Config) {
		c.SpinLimit = cfg.SpinLimit
		c.DebugLog = cfg.DebugLog
		c.TraceSize = cfg.TraceSize
	})
	if err != nil {
		return err
	}
	logger.Info("machine ready, cores: %v, sets: %v, rounds: %v", cfg.Cores, masks, cfg.Rounds)

	states := cfg.stateOf()
	offline := cfg.offlineAfter()
	err = m.Run(ctx, cores, func(ctx context.Context, core int) error {
		rounds := cfg.Rounds
		if after, ok := offline[core]; ok && after < rounds {
			rounds = after
		}
		for i := 0; i < rounds && ctx.Err() == nil; i++ {
			resched := rand.Intn(100) < cfg.ReschedPercent
			m.Platform.SetResched(core, resched)
			res, err := m.Idle(core, states[core])
			m.Platform.SetResched(core, false)
			if err != nil {
				logger.Warn("core %v round %v: %v", core, i, err)
				continue
			}
			logger.Debug("core %v round %v result: %+v", core, i, res)
		}
		// A core that stops idling must leave the quorum or its siblings
		// would wait for it forever.
		return m.Registry.SetAlive(core, false)
	})
	if err != nil {
		return err
	}

	report(m, cores)
	return nil
}

func report(m *sim.Machine, cores []int) {
	for _, core := range cores {
		st := m.Registry.Device(core).Stats()
		logger.Info("core %v entered: %v, aborted: %v, retries: %v, failures: %v, safe idles: %v, wakes: %v",
			core, st.Entered, st.Aborted, st.Retries, st.Failures,
			m.Platform.SafeEntries(core), m.Platform.Wakes(core))
		m.Registry.Trace().Drain(core, func(ev trace.Event) bool {
			logger.Debug("trace %v", ev)
			return true
		})
		if dropped := m.Registry.Trace().Dropped(core); dropped != 0 {
			logger.Warn("core %v dropped %v trace events", core, dropped)
		}
	}
	for _, st := range m.Registry.AllStats() {
		logger.Info("set %v mask: %v alive: %v waiting: %v ready: %v refs: %v",
			st.Handle, st.Mask, st.Alive, st.Waiting, st.Ready, st.Refcount)
	}
	logger.Info("coupled entries: %v", len(m.Platform.Calls()))
}
