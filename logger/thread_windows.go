//go:build windows

package logger

import (
	"strconv"

	"golang.org/x/sys/windows"
)

func getThreadId() string {
	return strconv.Itoa(int(windows.GetCurrentThreadId()))
}
