package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/auth/login"
	"github.com/yaananth/chatmock/internal/bootstrap"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/util"
)

var (
	loginNoBrowser  bool
	loginShowAPIKey bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with ChatGPT and store tokens",
	RunE: func(c *cobra.Command, args []string) error {
		result, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		cfg := result.Config
		if verbose {
			cfg.Verbose = true
		}
		logging.SetDebug(cfg.Debug)
		logging.SetVerbose(cfg.Verbose)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bundle, err := login.Run(ctx, login.Options{
			AuthDir:   cfg.AuthDir,
			ClientID:  cfg.ClientID,
			Issuer:    cfg.Issuer,
			Port:      cfg.LoginPort,
			NoBrowser: loginNoBrowser,
		})
		if err != nil {
			if errors.Is(err, login.ErrPortBusy) {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				util.PrintSSHTunnelInstructions(cfg.LoginPort)
				// Exit code 13 so scripts can tell "port busy" from
				// other failures.
				os.Exit(13)
			}
			return err
		}

		if claims, claimsErr := auth.ParseJWTClaims(bundle.Tokens.IDToken); claimsErr == nil {
			if email := auth.EmailFromClaims(claims); email != "" {
				fmt.Printf("Signed in as %s\n", email)
			}
		}
		if loginShowAPIKey {
			if bundle.APIKey != "" {
				fmt.Printf("API key: %s\n", bundle.APIKey)
			} else {
				fmt.Println("No API key was minted; the account lacks organization and project claims.")
			}
		}
		fmt.Println("Run 'chatmock serve' to start the server.")
		return nil
	},
}

func init() {
	f := loginCmd.Flags()
	f.BoolVar(&loginNoBrowser, "no-browser", false, "do not open the browser automatically")
	f.BoolVar(&loginShowAPIKey, "api-key", false, "print the minted API key after login")
	rootCmd.AddCommand(loginCmd)
}
