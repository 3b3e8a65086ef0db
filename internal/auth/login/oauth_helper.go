package login

import (
	"fmt"

	"github.com/yaananth/chatmock/internal/browser"
	log "github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/util"
)

// announceAuthURL hands the authorization URL to the user: opens the local
// browser when one is available and not suppressed, otherwise prints the URL
// along with SSH tunnel instructions for headless machines (callbackPort 0
// skips the tunnel hint).
func announceAuthURL(authURL string, callbackPort int, noBrowser bool) {
	openBrowser := !noBrowser
	if openBrowser {
		fmt.Println("Opening browser for ChatGPT authentication")
		if !browser.IsAvailable() {
			log.Warn("No browser available; please open the URL manually")
			openBrowser = false
		} else if err := browser.OpenURL(authURL); err != nil {
			log.Warnf("Failed to open browser automatically: %v", err)
			openBrowser = false
		}
	}
	if !openBrowser {
		if callbackPort > 0 {
			util.PrintSSHTunnelInstructions(callbackPort)
		}
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	}
}
