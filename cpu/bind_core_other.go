//go:build !linux && !windows

package cpu

import "runtime"

// BindCpuCore only pins the goroutine to its thread; affinity is not
// available here.
func BindCpuCore(core int) bool {
	runtime.LockOSThread()
	return false
}

func UnbindCpuCore() bool {
	runtime.UnlockOSThread()
	return true
}
