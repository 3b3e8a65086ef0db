package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	launchdLabel = "com.chatmock"
	systemdUnit  = "chatmock"
)

// darwinService drives launchd through a per-user LaunchAgent.
type darwinService struct{}

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%[1]s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%[2]s</string>
        <string>serve</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>5</integer>
    <key>StandardOutPath</key>
    <string>%[3]s</string>
    <key>StandardErrorPath</key>
    <string>%[3]s</string>
    <key>EnvironmentVariables</key>
    <dict>
        <key>PATH</key>
        <string>/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin</string>
        <key>HOME</key>
        <string>%[4]s</string>
    </dict>
    <key>WorkingDirectory</key>
    <string>%[4]s</string>
</dict>
</plist>`

func (darwinService) plistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library/LaunchAgents", launchdLabel+".plist")
}

func (darwinService) logPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local/var/log/chatmock.log")
}

func (d darwinService) install(exePath string) error {
	home, _ := os.UserHomeDir()
	logPath := d.logPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}

	plist := fmt.Sprintf(plistTemplate, launchdLabel, exePath, logPath, home)
	if err := os.WriteFile(d.plistPath(), []byte(plist), 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	fmt.Printf("Service installed to %s\n", d.plistPath())

	quiet("launchctl", "unload", d.plistPath())
	if err := quiet("launchctl", "load", d.plistPath()); err != nil {
		fmt.Printf("Could not load the service automatically (%v); run: launchctl load %s\n", err, d.plistPath())
		return nil
	}
	fmt.Println("Service started")
	return nil
}

func (d darwinService) uninstall() error {
	quiet("launchctl", "unload", d.plistPath())
	if err := os.Remove(d.plistPath()); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Println("Service uninstalled")
	return nil
}

func (darwinService) start() error { return run("launchctl", "start", launchdLabel) }
func (darwinService) stop() error  { return run("launchctl", "stop", launchdLabel) }

func (darwinService) running() bool {
	// launchctl list exits 0 only when the job is loaded.
	return quiet("launchctl", "list", launchdLabel) == nil
}

func (d darwinService) logs() *exec.Cmd {
	return exec.Command("tail", "-f", d.logPath())
}

// linuxService drives a systemd user unit.
type linuxService struct{}

const unitTemplate = `[Unit]
Description=chatmock - ChatGPT-backed OpenAI/Ollama compatible server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve
WorkingDirectory=%s
Restart=on-failure
RestartSec=5
StartLimitBurst=3
StartLimitIntervalSec=60
Environment=HOME=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin

[Install]
WantedBy=default.target
`

func (linuxService) unitPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config/systemd/user", systemdUnit+".service")
}

func (l linuxService) install(exePath string) error {
	home, _ := os.UserHomeDir()
	unitPath := l.unitPath()
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}

	unit := fmt.Sprintf(unitTemplate, exePath, home, home)
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Printf("Service installed to %s\n", unitPath)

	quiet("systemctl", "--user", "daemon-reload")
	quiet("systemctl", "--user", "enable", systemdUnit)
	if err := quiet("systemctl", "--user", "start", systemdUnit); err != nil {
		fmt.Printf("Could not start the service automatically: %v\n", err)
	} else {
		fmt.Println("Service started")
	}

	// Keep the user manager alive after logout.
	quiet("loginctl", "enable-linger", os.Getenv("USER"))
	return nil
}

func (l linuxService) uninstall() error {
	quiet("systemctl", "--user", "stop", systemdUnit)
	quiet("systemctl", "--user", "disable", systemdUnit)
	if err := os.Remove(l.unitPath()); err != nil {
		return fmt.Errorf("remove unit file: %w", err)
	}
	quiet("systemctl", "--user", "daemon-reload")
	fmt.Println("Service uninstalled")
	return nil
}

func (linuxService) start() error { return run("systemctl", "--user", "start", systemdUnit) }
func (linuxService) stop() error  { return run("systemctl", "--user", "stop", systemdUnit) }

func (linuxService) running() bool {
	return quiet("systemctl", "--user", "is-active", systemdUnit) == nil
}

func (linuxService) logs() *exec.Cmd {
	return exec.Command("journalctl", "--user", "-u", systemdUnit, "-f")
}
