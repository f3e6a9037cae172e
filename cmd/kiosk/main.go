package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ferg-cod3s/tableside/kiosk/internal/config"
	"github.com/ferg-cod3s/tableside/kiosk/internal/logs"
	"github.com/ferg-cod3s/tableside/kiosk/internal/server"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configFile string

func main() {
	root := newRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kiosk",
		Short: "Tableside table kiosk",
		Long: `Tableside kiosk serves the diner ordering UI for one restaurant table.
It keeps the table session scanned from the QR code, revalidates it with the
restaurant backend and listens on the push channel for order, bill and staff
updates.

Running kiosk without a command is the same as "kiosk serve".`,
		RunE: runServe,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML configuration file (overrides KIOSK_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk server",
		RunE:  runServe,
	})
	root.AddCommand(newSessionCmd())
	root.AddCommand(newStaffCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the kiosk version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("KIOSK_CONFIG", configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logs.InitLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Options{})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	log.Info().
		Str("health", fmt.Sprintf("http://%s/health", cfg.Addr())).
		Msg("🍽️ Kiosk ready, scan a table QR code to start")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutting down server")
	case err := <-errChan:
		if err != nil {
			srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
