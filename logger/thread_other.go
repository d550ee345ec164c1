//go:build !linux && !windows

package logger

func getThreadId() string {
	return "?"
}
