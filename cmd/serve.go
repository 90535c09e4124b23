package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"library-console/library"
	"library-console/server"
)

func newServeCmd(s *settings) *cobra.Command {
	var (
		addr   string
		dbPath string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development REST backend",
		Long: `Starts a development implementation of the library REST API backed by
SQLite, so the console can be used and tested without the production service.

Emails are written to the log instead of being sent.`,
		Example: `  # Serve on the default address with library.db
  library serve

  # Serve a scratch database on another port
  library serve --addr :9000 --db /tmp/library.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := s.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("jwt-secret") {
				cfg.JWTSecret = secret
			}
			if cfg.JWTSecret == "" {
				cfg.JWTSecret = uuid.NewString()
				s.logger.Warn("LIBRARY_JWT_SECRET not set; using a random secret, sessions end on restart")
			}

			lib, err := library.NewLibraryManager(cfg.DBPath, library.LogMailer{Logger: s.logger})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer lib.Close()

			if n, err := lib.Database().PurgeRevokedTokens(time.Now()); err != nil {
				s.logger.Warn("purge revoked tokens", "err", err)
			} else if n > 0 {
				s.logger.Info("purged expired revoked tokens", "count", n)
			}

			handler, err := server.New(lib, server.Config{
				JWTSecret: cfg.JWTSecret,
				TokenTTL:  cfg.TokenTTL,
				Logger:    s.logger,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				s.logger.Info("Library API available", "addr", cfg.Addr, "db", cfg.DBPath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-cmd.Context().Done():
				s.logger.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					s.logger.Error("Server shutdown failed", "err", err)
					return err
				}
				s.logger.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "Address to listen on (env LIBRARY_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "library.db", "SQLite database path (env LIBRARY_DB_PATH)")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 signing secret (env LIBRARY_JWT_SECRET)")

	return cmd
}
