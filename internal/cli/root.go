// Package cli wires the chatmock commands: serve, login, info, init,
// service control, and version.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yaananth/chatmock/internal/buildinfo"
	"github.com/yaananth/chatmock/internal/cli/service"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatmock",
	Short: "Sign in to ChatGPT and serve OpenAI/Ollama-compatible APIs locally",
	Long: `chatmock signs in to a ChatGPT account and exposes local
OpenAI-compatible (chat completions, completions, responses) and
Ollama-compatible HTTP APIs fulfilled by that account.

Start with 'chatmock login', then 'chatmock serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(c *cobra.Command, args []string) {
		fmt.Printf("chatmock %s", buildinfo.Version)
		if buildinfo.Commit != "" {
			fmt.Printf(" (%s)", buildinfo.Commit)
		}
		fmt.Println()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default <home>/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostic logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(service.Cmd)
}
