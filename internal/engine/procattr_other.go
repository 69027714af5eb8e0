//go:build !windows

package engine

import "syscall"

func hideWindowAttr() *syscall.SysProcAttr {
	return nil
}
