package autostart

import (
	"fmt"
	"os/exec"
)

const taskName = "VaultSyncDaemon"

type taskInstaller struct{}

func (taskInstaller) Install(execPath string) error {
	return run([]string{"schtasks", "/Create",
		"/TN", taskName,
		"/TR", fmt.Sprintf(`"%s" watch`, execPath),
		"/SC", "ONLOGON",
		"/F"})
}

func (taskInstaller) Uninstall() error {
	return run([]string{"schtasks", "/Delete", "/TN", taskName, "/F"})
}

func (taskInstaller) Installed() (bool, error) {
	return exec.Command("schtasks", "/Query", "/TN", taskName).Run() == nil, nil
}
