package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Cores          int             `toml:"cores"`           // 模拟核心数
	SafeState      int             `toml:"safe_state"`      // 安全空闲状态编号
	Tick           duration        `toml:"tick"`            // 安全空闲状态最长停留时间
	ExitLatency    duration        `toml:"exit_latency"`    // 耦合空闲状态停留时间
	Bind           bool            `toml:"bind"`            // 绑定宿主机cpu核心
	Rounds         int             `toml:"rounds"`          // 每个核心进入空闲的次数
	ReschedPercent int             `toml:"resched_percent"` // 每轮被调度唤醒而放弃的概率
	SpinLimit      uint64          `toml:"spin_limit"`      // 自旋上限 0 不限制
	DebugLog       bool            `toml:"debug_log"`       // 协议调试日志
	TraceSize      uint32          `toml:"trace_size"`      // 每核心跟踪环大小
	Sets           []SetConfig     `toml:"set"`
	Hotplug        []HotplugConfig `toml:"hotplug"`
	Log            LogConfig       `toml:"log"`
}

type SetConfig struct {
	Cores  []int `toml:"cores"`
	States []int `toml:"states"` // 与 Cores 一一对应的请求状态 缺省为1
}

// HotplugConfig takes Core offline once it has finished After rounds.
type HotplugConfig struct {
	Core  int `toml:"core"`
	After int `toml:"after"`
}

type LogConfig struct {
	Level        string `toml:"level"`
	EnableFile   bool   `toml:"enable_file"`
	FileDir      string `toml:"file_dir"`
	DisableColor bool   `toml:"disable_color"`
}

func defaultConfig() *Config {
	return &Config{
		Cores:     2,
		SafeState: 0,
		Tick:      duration{time.Millisecond},
		Rounds:    100,
		Log:       LogConfig{Level: "INFO"},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if len(cfg.Sets) == 0 {
		cfg.Sets = []SetConfig{{Cores: []int{0, 1}}}
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) check() error {
	if c.Cores <= 0 {
		return fmt.Errorf("cores must be positive, got %d", c.Cores)
	}
	if c.Rounds < 0 {
		return fmt.Errorf("rounds must not be negative, got %d", c.Rounds)
	}
	if c.ReschedPercent < 0 || c.ReschedPercent > 100 {
		return fmt.Errorf("resched_percent out of range: %d", c.ReschedPercent)
	}
	if len(c.Sets) == 0 {
		return fmt.Errorf("no coupled set configured")
	}
	seen := make(map[int]bool)
	for i, set := range c.Sets {
		if len(set.States) != 0 && len(set.States) != len(set.Cores) {
			return fmt.Errorf("set %d: %d states for %d cores", i, len(set.States), len(set.Cores))
		}
		for j, core := range set.Cores {
			if core < 0 || core >= c.Cores {
				return fmt.Errorf("set %d: core %d out of range", i, core)
			}
			if seen[core] {
				return fmt.Errorf("set %d: core %d already in another set", i, core)
			}
			seen[core] = true
			if len(set.States) != 0 && set.States[j] == c.SafeState {
				return fmt.Errorf("set %d: core %d requests the safe state", i, core)
			}
		}
	}
	return nil
}

// stateOf returns the state each core requests, keyed by core.
func (c *Config) stateOf() map[int]int {
	states := make(map[int]int)
	for _, set := range c.Sets {
		for j, core := range set.Cores {
			state := c.SafeState + 1
			if len(set.States) != 0 {
				state = set.States[j]
			}
			states[core] = state
		}
	}
	return states
}

func (c *Config) offlineAfter() map[int]int {
	after := make(map[int]int)
	for _, h := range c.Hotplug {
		after[h.Core] = h.After
	}
	return after
}
