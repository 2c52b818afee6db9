//go:build !windows
// +build !windows

package cmd

import (
	"os"
	"syscall"
	"unsafe"
)

// getTerminalSize returns terminal dimensions for Unix-like systems
func getTerminalSize() (int, int) {
	if cols, rows, ok := terminalSizeFromEnv(); ok {
		return cols, rows
	}

	// TIOCGWINSZ on stdout; stdin may be redirected
	type winsize struct {
		Row    uint16
		Col    uint16
		Xpixel uint16
		Ypixel uint16
	}

	ws := &winsize{}
	retCode, _, _ := syscall.Syscall(syscall.SYS_IOCTL,
		os.Stdout.Fd(),
		uintptr(syscall.TIOCGWINSZ),
		uintptr(unsafe.Pointer(ws)))

	if int(retCode) == -1 {
		return 0, 0
	}

	return int(ws.Col), int(ws.Row)
}
