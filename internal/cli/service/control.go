// Package service manages chatmock as a background service via
// launchctl on macOS and systemd user units on Linux.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

// platform abstracts the per-OS service manager. install writes the unit
// definition and starts it; the rest map onto the manager's verbs.
type platform interface {
	install(exePath string) error
	uninstall() error
	start() error
	stop() error
	// running reports status via the manager's exit code.
	running() bool
	logs() *exec.Cmd
}

func current() (platform, error) {
	switch runtime.GOOS {
	case "darwin":
		return darwinService{}, nil
	case "linux":
		return linuxService{}, nil
	default:
		return nil, fmt.Errorf("background service is not supported on %s", runtime.GOOS)
	}
}

// Cmd is the `chatmock service` command group.
var Cmd = &cobra.Command{
	Use:   "service",
	Short: "Manage chatmock as a background service",
}

func withPlatform(fn func(platform) error) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		p, err := current()
		if err != nil {
			return err
		}
		return fn(p)
	}
}

func init() {
	Cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install and start the background service",
		RunE: withPlatform(func(p platform) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			if resolved, err := filepath.EvalSymlinks(exe); err == nil {
				exe = resolved
			}
			return p.install(exe)
		}),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the background service",
		RunE:  withPlatform(platform.uninstall),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the service",
		RunE:  withPlatform(platform.start),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the service",
		RunE:  withPlatform(platform.stop),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the service",
		RunE: withPlatform(func(p platform) error {
			_ = p.stop()
			return p.start()
		}),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Check service status",
		RunE: withPlatform(func(p platform) error {
			if p.running() {
				fmt.Println("Service is running")
			} else {
				fmt.Println("Service is stopped")
			}
			return nil
		}),
	})
	Cmd.AddCommand(&cobra.Command{
		Use:   "logs",
		Short: "Follow service logs",
		RunE: withPlatform(func(p platform) error {
			c := p.logs()
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		}),
	})
}

// run executes a manager command with output forwarded to the terminal.
func run(name string, args ...string) error {
	c := exec.Command(name, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

// quiet executes a manager command discarding output; only the exit code
// matters.
func quiet(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}
