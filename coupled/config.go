package coupled

import (
	"fmt"
)

// Driver is the per-core hardware idle layer.
type Driver interface {
	// EnterState puts core into the idle state at index and returns the
	// index actually entered. It may return with local interrupts disabled.
	EnterState(core int, index int) (int, error)
	// SafeState is the index of the cheap state any core can enter alone.
	SafeState() int
}

// Scheduler reports whether core has work pending.
type Scheduler interface {
	NeedResched(core int) bool
}

// Waker delivers a cross-core interrupt. The interrupt handler on the
// target core must call Registry.HandlePoke.
type Waker interface {
	Wake(core int)
}

// Interrupts toggles local interrupt delivery on the calling core.
type Interrupts interface {
	LocalEnable(core int)
	LocalDisable(core int)
}

type Config struct {
	MaxCores   int    // 最大核心数 核心编号范围 [0, MaxCores)
	MaxSets    int    // coupled set 槽位上限 0 表示 MaxCores
	Online     []int  // 初始在线核心列表 为空时全部在线
	Driver     Driver // 硬件空闲状态入口
	Scheduler  Scheduler
	Waker      Waker
	Interrupts Interrupts
	SpinLimit  uint64 // 自旋次数上限 0 表示不限制 调试用的死锁检测
	DebugLog   bool   // 协议调试日志
	TraceSize  uint32 // 每核心跟踪环大小 0 表示关闭
}

func (c *Config) check() error {
	if c.MaxCores <= 0 {
		return fmt.Errorf("%w: max cores %d", ErrInvalidConfig, c.MaxCores)
	}
	if c.MaxSets < 0 {
		return fmt.Errorf("%w: max sets %d", ErrInvalidConfig, c.MaxSets)
	}
	if c.MaxSets == 0 {
		c.MaxSets = c.MaxCores
	}
	if c.Driver == nil || c.Scheduler == nil || c.Waker == nil || c.Interrupts == nil {
		return fmt.Errorf("%w: driver, scheduler, waker and interrupts are required", ErrInvalidConfig)
	}
	if c.Driver.SafeState() < 0 {
		return fmt.Errorf("%w: safe state %d", ErrInvalidConfig, c.Driver.SafeState())
	}
	for _, core := range c.Online {
		if core < 0 || core >= c.MaxCores {
			return fmt.Errorf("%w: online core %d", ErrCoreOutOfRange, core)
		}
	}
	return nil
}
