package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/config"
	"github.com/jonathan/publication-pipeline/internal/server"
	"github.com/jonathan/publication-pipeline/internal/server/ratelimit"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the dashboard analytics over the fact table,
the raw publications, and JWT-protected admin endpoints (reconcile, etl, clear).
Admin endpoints are disabled unless JWT_SECRET and an admin password hash are set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (defaults to server.port)")
	rootCmd.AddCommand(serveCmd)
}

func buildServerConfig() (server.Config, error) {
	sc := server.Config{
		Port:              cfg.Server.Port,
		AdminPasswordHash: cfg.Server.AdminPasswordHash,
		CacheTTL:          cfg.Server.CacheTTL.Std(),
		CacheSize:         cfg.Server.CacheSize,
		RateLimit:         ratelimit.NewConfig(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, nil),
	}
	if servePort > 0 {
		sc.Port = servePort
	}

	passwords, err := config.NewPasswordConfig(os.Getenv)
	if err != nil {
		return sc, fmt.Errorf("failed to create password config: %w", err)
	}
	sc.Passwords = passwords

	if cfg.JWT.Secret == "" {
		slog.Warn("admin endpoints disabled", "reason", config.EnvJWTSecret+" not set")
		return sc, nil
	}
	jwtConfig, err := config.NewJWTConfig(cfg.JWT)
	if err != nil {
		return sc, fmt.Errorf("failed to create JWT config: %w", err)
	}
	sc.JWT = jwtConfig
	if sc.AdminPasswordHash == "" {
		slog.Warn("admin login disabled", "reason", config.EnvAdminPasswordHash+" not set")
	}
	return sc, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	sc, err := buildServerConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	sc.Store = s

	srv, err := server.New(sc)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(cmd.Context())
}
