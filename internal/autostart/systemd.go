package autostart

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=vaultsync vault sync daemon
After=network-online.target

[Service]
ExecStart={{.ExecPath}} watch
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

type systemdInstaller struct{}

func renderUnit(execPath string) ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, map[string]string{"ExecPath": execPath}); err != nil {
		return nil, fmt.Errorf("failed to render service file: %w", err)
	}
	return buf.Bytes(), nil
}

func (systemdInstaller) unitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "systemd", "user", Label+".service"), nil
}

func (s systemdInstaller) Install(execPath string) error {
	path, err := s.unitPath()
	if err != nil {
		return err
	}
	unit, err := renderUnit(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, unit, 0644); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	return run(
		[]string{"systemctl", "--user", "daemon-reload"},
		[]string{"systemctl", "--user", "enable", "--now", Label + ".service"},
	)
}

func (s systemdInstaller) Uninstall() error {
	runQuiet([]string{"systemctl", "--user", "disable", "--now", Label + ".service"})

	path, err := s.unitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	runQuiet([]string{"systemctl", "--user", "daemon-reload"})
	return nil
}

func (s systemdInstaller) Installed() (bool, error) {
	path, err := s.unitPath()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	return err == nil, nil
}
