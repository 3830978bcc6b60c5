// idlesim runs the deterministic idle-game simulation core.
//
// Usage:
//
//	idlesim serve            - Host simulations for remote clients over gRPC
//	idlesim verify           - Replay a seeded run and compare its snapshot hash
//	idlesim version          - Print the build identifier
//
// Global flags:
//
//	--config <path>   - TOML runtime configuration (defaults when empty)
//	--content <path>  - YAML game content (search order applies when empty)
//	--log-level <lvl> - Override the configured log level
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
)

type globalFlags struct {
	configPath  string
	contentPath string
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "idlesim",
		Short: "Deterministic idle-game simulation core",
		Long: `idlesim advances an idle-game world on a fixed timestep and stays
bit-reproducible for a given seed and command sequence.

Available commands:
  serve    - Host simulations for remote clients over gRPC
  verify   - Replay a seeded run and compare it with a stored baseline
  version  - Print the build identifier

Examples:
  idlesim serve --config configs/idlesim.toml
  idlesim verify --seed 123 --duration 60s --step 16.67ms --record
  idlesim verify --seed 123 --duration 60s --step 16.67ms --check`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to TOML configuration")
	root.PersistentFlags().StringVar(&flags.contentPath, "content", "", "Path to YAML game content")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newVerifyCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// load resolves configuration, content and the process logger.
func (f *globalFlags) load() (*config.Config, *config.Content, logging.Logger, error) {
	cfg := config.Defaults()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, nil, nil, err
		}
	}
	content, err := config.LoadContent(f.contentPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logCfg := cfg.Logging
	if f.logLevel != "" {
		logCfg.Level = f.logLevel
	}
	return cfg, content, logging.New(logCfg), nil
}
