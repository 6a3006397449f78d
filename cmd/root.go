package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Shugur-Network/relay-gate/internal/application"
	"github.com/Shugur-Network/relay-gate/internal/config"
	"github.com/Shugur-Network/relay-gate/internal/identity"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for relay-gate
var rootCmd = &cobra.Command{
	Use:   "relay-gate",
	Short: "relay-gate puts a nostr relay behind NIP-42 auth and a collateral payment",
	Long: `A websocket proxy in front of a nostr relay. Clients authenticate with NIP-42;
publishing is held back until the author's collateral balance is funded.`,
	Example: `
  relay-gate start --upstream ws://localhost:7777 --public-host relay.example.com
  relay-gate start --log-level debug --metrics-port 9090
  relay-gate start --config /path/to/config.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		if cfgFile != "" {
			absPath, err := filepath.Abs(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			cfgFile = absPath
		}

		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return applyFlagOverrides(cmd, cfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// applyFlagOverrides patches flags the user set explicitly over the loaded
// configuration, then validates the result again.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		c.Proxy.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("upstream") {
		c.Proxy.UpstreamURL, _ = flags.GetString("upstream")
	}
	if flags.Changed("public-host") {
		c.Proxy.PublicHost, _ = flags.GetString("public-host")
	}
	if flags.Changed("metrics-port") {
		c.Metrics.Port, _ = flags.GetInt("metrics-port")
	}
	if flags.Changed("log-level") {
		c.Logging.Level, _ = flags.GetString("log-level")
	}
	if err := config.Validate(c); err != nil {
		return err
	}
	if flags.Changed("log-level") {
		return logger.UpdateLevel(c.Logging.Level)
	}
	return nil
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	operator, err := identity.ResolveOperator(cfg.Admission.OperatorPubKey, cfg.Admission.OperatorKeyFile)
	if err != nil {
		return fmt.Errorf("failed to resolve operator identity: %w", err)
	}

	metrics.RegisterMetrics()

	logger.Info("Starting relay-gate...", zap.String("config_file", cfgFile))
	gw, err := application.New(ctx, cfg, operator)
	if err != nil {
		return fmt.Errorf("failed to initialize the gateway: %w", err)
	}
	gw.Start()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case serveErr = <-gw.Errors():
		logger.Error("Gateway stopped unexpectedly", zap.Error(serveErr))
	}
	gw.Shutdown()
	_ = logger.Shutdown()
	return serveErr
}

// registerOverrideFlags declares the flags applyFlagOverrides reads.
func registerOverrideFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("listen", ":8080", "Address the gate listens on")
	flags.String("upstream", "ws://localhost:7777", "Upstream relay websocket URL")
	flags.String("public-host", "localhost:8080", "Host clients use to reach the gate, checked against AUTH relay tags")
	flags.String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	flags.Int("metrics-port", 2112, "Port for Prometheus metrics server")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")
	registerOverrideFlags(rootCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of relay-gate",
		Long:  "Print the version number of relay-gate along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the relay-gate proxy",
		Long:  "Start the relay-gate proxy with the specified configuration",
		RunE:  runStart,
	})
}
