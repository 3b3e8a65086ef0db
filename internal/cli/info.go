package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/bootstrap"
	"github.com/yaananth/chatmock/internal/json"
)

var infoJSON bool

// planNames maps the raw chatgpt_plan_type claim to a display name.
var planNames = map[string]string{
	"plus":       "Plus",
	"pro":        "Pro",
	"free":       "Free",
	"team":       "Team",
	"enterprise": "Enterprise",
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the signed-in ChatGPT account",
	RunE: func(c *cobra.Command, args []string) error {
		result, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		cfg := result.Config

		bundle, err := auth.Load(cfg.AuthDir)
		if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return err
		}

		if infoJSON {
			return printAuthJSON(cfg.AuthDir, bundle)
		}

		fmt.Println("👤 Account")
		if bundle == nil {
			fmt.Println("  • Not signed in")
			fmt.Println("  • Run: chatmock login")
			return nil
		}

		email := "<unknown>"
		accountID := bundle.Tokens.AccountID
		if claims, claimsErr := auth.ParseJWTClaims(bundle.Tokens.IDToken); claimsErr == nil {
			if v := auth.EmailFromClaims(claims); v != "" {
				email = v
			}
			if accountID == "" {
				accountID = auth.AccountIDFromClaims(claims)
			}
		}
		fmt.Printf("  • Email: %s\n", email)

		if claims, claimsErr := auth.ParseJWTClaims(bundle.Tokens.AccessToken); claimsErr == nil {
			if raw := auth.PlanTypeFromClaims(claims); raw != "" {
				fmt.Printf("  • Plan: %s\n", planDisplayName(raw))
			}
		}
		if accountID != "" {
			fmt.Printf("  • Account ID: %s\n", accountID)
		}
		if bundle.APIKey != "" {
			fmt.Println("  • API key: present")
		}
		return nil
	},
}

// printAuthJSON dumps the stored auth.json verbatim, re-indented, so the
// output stays faithful to whatever fields the file carries.
func printAuthJSON(dir string, bundle *auth.Bundle) error {
	if bundle == nil {
		fmt.Println("{}")
		return nil
	}
	data, err := os.ReadFile(auth.FilePath(dir))
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func planDisplayName(raw string) string {
	if name, ok := planNames[strings.ToLower(raw)]; ok {
		return name
	}
	if raw == "" {
		return raw
	}
	return strings.ToUpper(raw[:1]) + raw[1:]
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print the raw credential file as JSON")
	rootCmd.AddCommand(infoCmd)
}
