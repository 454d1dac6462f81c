// Package cmd provides the CLI commands for Nexus.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/appdir"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/config"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/gateway"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string
	jsonLogs      bool

	// Loaded configuration
	cfg *config.Config
	// cfgPath is where the configuration was (or would be) read from.
	cfgPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus - a terminal console for WhatsApp Business accounts",
	Long: `Nexus is a terminal console for WhatsApp Business Solution
Provider accounts.

It talks to the BSP backend over REST, keeps the conversation list
live through the backend's event stream, and lets operators read and
answer customer messages without leaving the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
			cfgPath = configPath
		} else {
			cfg, cfgPath, err = config.LoadDefault()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}

		// Initialize logging
		// Priority: --log-level flag > --debug flag > settings file > info
		effectiveLevel := cfg.Logging.Level
		if effectiveLevel == "" {
			effectiveLevel = "info"
		}
		if debug {
			effectiveLevel = "debug"
		}
		if logLevel != "" {
			effectiveLevel = logLevel
		}

		components := cfg.Logging.Components
		if logComponents != "" {
			components = nil
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}

		effectiveLogFile := cfg.Logging.File
		if logFile != "" {
			effectiveLogFile = logFile
		}
		var fileLog *logging.FileLogConfig
		if effectiveLogFile != "" {
			fileLog = &logging.FileLogConfig{Path: effectiveLogFile}
		}

		if err := logging.Initialize(logging.Config{
			Level:      effectiveLevel,
			FileLog:    fileLog,
			JSON:       jsonLogs || cfg.Logging.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		// Ensure the Nexus data directory exists
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Nexus directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides settings.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'stream,cache'). Empty means all components.")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Write logs as JSON lines")
}

// newGateway builds the REST client from the loaded configuration.
func newGateway(sessions *session.Store) *gateway.Client {
	return gateway.New(cfg.Backend.BaseURL, sessions,
		gateway.WithSendLimit(rate.Limit(cfg.Send.RatePerSecond), cfg.Send.Burst))
}

// requireLogin fails fast with a hint when no usable credential is stored.
func requireLogin(sessions *session.Store) error {
	if _, err := sessions.Token(); err != nil {
		return fmt.Errorf("not logged in (run 'nexus login'): %w", err)
	}
	return nil
}
