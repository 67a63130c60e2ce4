package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/config"
	"go-civitai-fetch/internal/helpers"
)

var configForceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the default settings",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForceFlag, "force", "f", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigFilePath
	}

	if _, err := os.Stat(path); err == nil && !configForceFlag {
		return fmt.Errorf("config file %s already exists (use -f to overwrite)", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if !helpers.CheckAndMakeDir(dir) {
			return fmt.Errorf("failed to create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.DefaultConfig()); err != nil {
		return fmt.Errorf("encoding config file %s: %w", path, err)
	}

	log.Infof("Wrote default configuration to %s", path)
	fmt.Printf("Created %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Never echo the API key.
	cfg := globalConfig
	if cfg.APIKey != "" {
		cfg.APIKey = "***"
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}
