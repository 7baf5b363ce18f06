package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dpc/rostra/pkg/client"
	"github.com/dpc/rostra/pkg/config"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/metrics"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rostra-node",
	Short:   "Rostra peer-to-peer social networking node",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rostra-node %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults applied if absent)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(identityCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a Rostra node: store, RPC server, directory publishing, and sync tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		secret, err := loadOrCreateSecret(cfg.SecretFile)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}

		log.WithComponent("node").Info().
			Str("identity", secret.Public().String()).
			Str("data_dir", cfg.DataDir).
			Str("listen_addr", cfg.ListenAddr).
			Msg("starting rostra node")

		c, err := client.Open(client.Options{
			DataDir:        cfg.DataDir,
			Secret:         secret,
			ListenAddr:     cfg.ListenAddr,
			AdvertiseAddr:  cfg.AdvertiseAddr,
			RelayURL:       cfg.Directory.RelayURL,
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
		})
		if err != nil {
			return fmt.Errorf("starting node: %w", err)
		}

		metrics.RegisterComponent("store", true, "open")
		metrics.RegisterComponent("rpc", true, "serving")
		metrics.RegisterComponent("directory", true, "ready")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("node").Error().Err(err).Msg("metrics server exited")
			}
		}()
		log.WithComponent("node").Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint ready")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.WithComponent("node").Info().Msg("shutting down")
		_ = metricsServer.Shutdown(context.Background())
		if err := c.Close(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}
