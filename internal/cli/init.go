package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/util"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	RunE: func(c *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			home, err := util.DefaultHomeDir()
			if err != nil {
				return err
			}
			configPath = filepath.Join(home, "config.yaml")
		}
		configPath, err := util.ResolveAuthDir(configPath)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		if _, statErr := os.Stat(configPath); statErr == nil && !initForce {
			fmt.Printf("Config already exists: %s\n", configPath)
			fmt.Println("Use 'chatmock init --force' to overwrite")
			return nil
		}

		if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Created: %s\n", configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
