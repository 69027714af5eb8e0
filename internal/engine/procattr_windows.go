//go:build windows

package engine

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// hideWindowAttr keeps the engine child from opening a console window.
func hideWindowAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
