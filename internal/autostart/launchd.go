package autostart

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ExecPath}}</string>
		<string>watch</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
</dict>
</plist>
`))

type launchdInstaller struct{}

func renderPlist(execPath string) ([]byte, error) {
	var buf bytes.Buffer
	data := map[string]string{"Label": "com." + Label, "ExecPath": execPath}
	if err := plistTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render launch agent: %w", err)
	}
	return buf.Bytes(), nil
}

func (launchdInstaller) plistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", "com."+Label+".plist"), nil
}

func (l launchdInstaller) Install(execPath string) error {
	path, err := l.plistPath()
	if err != nil {
		return err
	}
	plist, err := renderPlist(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, plist, 0644); err != nil {
		return fmt.Errorf("failed to write launch agent: %w", err)
	}
	return run([]string{"launchctl", "load", "-w", path})
}

func (l launchdInstaller) Uninstall() error {
	path, err := l.plistPath()
	if err != nil {
		return err
	}
	runQuiet([]string{"launchctl", "unload", "-w", path})
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l launchdInstaller) Installed() (bool, error) {
	path, err := l.plistPath()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	return err == nil, nil
}
