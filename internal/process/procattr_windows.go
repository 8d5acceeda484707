//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// createNoWindow keeps a console window from flashing up for the backend.
const createNoWindow = 0x08000000

// ConfigureCommand hides the backend's console window.
func ConfigureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: createNoWindow,
		HideWindow:    true,
	}
}

// terminateGroup has no polite equivalent for a windowless process, so it kills.
func terminateGroup(p *os.Process) error {
	return killGroup(p)
}

// killGroup kills the leader; descendants are handled by TreeKiller.
func killGroup(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
