// Package browser opens URLs in the user's default browser for login flows.
package browser

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/skratchdot/open-golang/open"
)

// IsAvailable reports whether a browser can plausibly be opened in this
// environment. Headless boxes (no DISPLAY on Linux, or an SSH session)
// should fall back to printing the URL.
func IsAvailable() bool {
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return false
	}
	switch runtime.GOOS {
	case "linux":
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return false
		}
		_, err := exec.LookPath("xdg-open")
		return err == nil
	default:
		return true
	}
}

// OpenURL opens the URL in the default browser.
func OpenURL(url string) error {
	return open.Run(url)
}
