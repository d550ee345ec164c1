package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coupledsim.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
cores = 4
tick = "2ms"
exit_latency = "10us"
rounds = 7
resched_percent = 25

[[set]]
cores = [0, 1]
states = [3, 2]

[[set]]
cores = [2, 3]

[[hotplug]]
core = 3
after = 2

[log]
level = "WARN"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Cores)
	assert.Equal(t, 2*time.Millisecond, cfg.Tick.Duration)
	assert.Equal(t, 10*time.Microsecond, cfg.ExitLatency.Duration)
	assert.Equal(t, 7, cfg.Rounds)
	assert.Equal(t, 25, cfg.ReschedPercent)
	assert.Equal(t, "WARN", cfg.Log.Level)
	assert.Equal(t, map[int]int{0: 3, 1: 2, 2: 1, 3: 1}, cfg.stateOf())
	assert.Equal(t, map[int]int{3: 2}, cfg.offlineAfter())
}

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Cores)
	assert.Equal(t, time.Millisecond, cfg.Tick.Duration)
	assert.Len(t, cfg.Sets, 1)
}

func TestLoadConfigInvalid(t *testing.T) {
	for name, text := range map[string]string{
		"cores":    "cores = 0",
		"rounds":   "rounds = -1",
		"resched":  "resched_percent = 101",
		"range":    "cores = 2\n[[set]]\ncores = [0, 2]",
		"overlap":  "cores = 2\n[[set]]\ncores = [0, 1]\n[[set]]\ncores = [1]",
		"states":   "[[set]]\ncores = [0, 1]\nstates = [1]",
		"safe":     "[[set]]\ncores = [0, 1]\nstates = [0, 1]",
		"duration": `tick = "soon"`,
		"syntax":   "cores = [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, text))
			assert.Error(t, err)
		})
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
cores = 3
rounds = 20
resched_percent = 20
trace_size = 1024

[[set]]
cores = [0, 1, 2]

[[hotplug]]
core = 2
after = 5
`))
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), cfg))
}
