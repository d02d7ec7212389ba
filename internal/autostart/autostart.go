// Package autostart registers the daemon to start at login.
package autostart

import (
	"fmt"
	"os/exec"
	"runtime"
)

const Label = "vaultsync"

type Installer interface {
	Install(execPath string) error
	Uninstall() error
	Installed() (bool, error)
}

func New() Installer {
	switch runtime.GOOS {
	case "linux":
		return &systemdInstaller{}
	case "darwin":
		return &launchdInstaller{}
	case "windows":
		return &taskInstaller{}
	default:
		return unsupported{}
	}
}

type unsupported struct{}

func (unsupported) Install(string) error {
	return fmt.Errorf("autostart is not supported on %s", runtime.GOOS)
}

func (unsupported) Uninstall() error {
	return nil
}

func (unsupported) Installed() (bool, error) {
	return false, nil
}

// run executes each command in order and stops at the first failure.
func run(cmds ...[]string) error {
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to run %v: %w\n%s", args, err, out)
		}
	}
	return nil
}

// runQuiet executes every command and ignores failures.
func runQuiet(cmds ...[]string) {
	for _, args := range cmds {
		_ = exec.Command(args[0], args[1:]...).Run()
	}
}
