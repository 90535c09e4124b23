package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"library-console/api"
	"library-console/config"
	"library-console/console"
	"library-console/store"
)

// settings is shared by every subcommand once PersistentPreRunE has run.
type settings struct {
	cfg      *config.Config
	logger   *slog.Logger
	apiURL   string
	logLevel string
}

func NewRootCmd() *cobra.Command {
	s := &settings{}

	cmd := &cobra.Command{
		Use:   "library",
		Short: "Terminal client for the library management service",
		Long: `Library is an interactive console for the library management REST API.

Members can browse the catalog and borrow books; librarians and admins can
also add books, mark loans returned and email borrowers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			config.LoadDotEnv()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-url") {
				cfg.APIURL = s.apiURL
			}
			if cmd.Flags().Changed("log-level") {
				if cfg.LogLevel, err = config.ParseLevel(s.logLevel); err != nil {
					return err
				}
			}
			s.cfg = cfg
			s.logger = config.NewLogger(cfg.LogLevel)
			slog.SetDefault(s.logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.New(s.cfg.APIURL, api.WithLogger(s.logger))
			st := store.New(client, store.WithLogger(s.logger))

			opts := []console.Option{console.WithLogger(s.logger)}
			if fd := int(os.Stdin.Fd()); console.IsTerminal(fd) {
				opts = append(opts, console.WithPasswordReader(console.TerminalPasswordReader(fd, cmd.OutOrStdout())))
			}
			c := console.New(st, client, cmd.InOrStdin(), cmd.OutOrStdout(), opts...)
			defer c.Close()

			slog.Debug("console started", "api", client.BaseURL())
			return c.Run(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&s.apiURL, "api-url", config.DefaultAPIURL, "Base URL of the library API (env LIBRARY_API_URL)")
	cmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "warn", "Log level: debug, info, warn or error (env LIBRARY_LOG_LEVEL)")

	cmd.AddCommand(newServeCmd(s))

	return cmd
}
