//go:build linux

package cpu

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func BindCpuCore(core int) bool {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return false
	}
	return true
}

func UnbindCpuCore() bool {
	var set unix.CPUSet
	set.Zero()
	num_cpu := runtime.NumCPU()
	for core := 0; core < num_cpu; core++ {
		set.Set(core)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return false
	}
	runtime.UnlockOSThread()
	return true
}
