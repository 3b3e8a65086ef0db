// Package util provides common utilities used throughout the application.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveAuthDir expands environment variables and a leading "~" in path and
// returns the result as an absolute path.
func ResolveAuthDir(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}
	expanded := os.ExpandEnv(path)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}

// DefaultHomeDir returns the directory holding credentials and local state.
// $CHATMOCK_HOME wins, then $XDG_CONFIG_HOME/chatmock, then ~/.chatmock.
func DefaultHomeDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("CHATMOCK_HOME")); dir != "" {
		return ResolveAuthDir(dir)
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return ResolveAuthDir(filepath.Join(xdg, "chatmock"))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".chatmock"), nil
}

// EnsureDir creates dir (and parents) with 0700 permissions if it does not
// already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

// PrintSSHTunnelInstructions tells a user on a remote machine how to forward
// the login callback port so the browser flow can complete locally.
func PrintSSHTunnelInstructions(port int) {
	fmt.Fprintf(os.Stderr, "\nIf this machine is remote, forward the callback port from your local machine first:\n")
	fmt.Fprintf(os.Stderr, "    ssh -L %d:localhost:%d <user>@<this-host>\n\n", port, port)
}
