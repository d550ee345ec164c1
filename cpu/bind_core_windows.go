//go:build windows

package cpu

import (
	"errors"
	"runtime"

	"golang.org/x/sys/windows"
)

var procSetThreadAffinityMask = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadAffinityMask")

func setAffinity(mask uintptr) bool {
	thread := windows.CurrentThread()
	_, _, err := procSetThreadAffinityMask.Call(uintptr(thread), mask)
	return errors.Is(err, windows.NOERROR)
}

func BindCpuCore(core int) bool {
	runtime.LockOSThread()
	return setAffinity(uintptr(1) << core)
}

func UnbindCpuCore() bool {
	var mask uintptr
	num_cpu := runtime.NumCPU()
	for core := 0; core < num_cpu; core++ {
		mask |= 1 << core
	}
	if !setAffinity(mask) {
		return false
	}
	runtime.UnlockOSThread()
	return true
}
