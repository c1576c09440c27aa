//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the server in its own process group so it outlives
// the terminal that started it
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
