package main

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"library-console/config"
	"library-console/console"
	"library-console/library"
)

//go:embed catalog.yaml
var defaultCatalog []byte

func main() {
	if err := fang.Execute(context.Background(), newSeedCmd()); err != nil {
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var (
		dbPath string
		reset  bool
	)

	cmd := &cobra.Command{
		Use:   "seed_library [catalog.yaml]",
		Short: "Load users, categories and books into the development database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			if !cmd.Flags().Changed("db") {
				if cfg, err := config.Load(); err == nil {
					dbPath = cfg.DBPath
				}
			}
			out := cmd.OutOrStdout()

			if reset {
				fmt.Fprintln(out, "Cleaning up existing database files...")
				for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
					if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
						fmt.Fprintf(out, "Warning: Could not remove %s: %v\n", file, err)
					}
				}
			}

			var src io.Reader = bytes.NewReader(defaultCatalog)
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			catalog, err := library.LoadCatalog(src)
			if err != nil {
				return err
			}

			manager, err := library.NewLibraryManager(dbPath, nil)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer manager.Close()

			report, err := manager.Seed(catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nSeed complete!\n")
			fmt.Fprintf(out, "Users: %d, categories: %d, books: %d, skipped: %d\n",
				report.Users, report.Categories, report.Books, report.Skipped)

			books, err := manager.ListBooks(library.BookFilter{})
			if err != nil {
				return fmt.Errorf("list books: %w", err)
			}
			fmt.Fprintf(out, "\n%-3s %-50s %-30s\n", "ID", "Title", "Author")
			fmt.Fprintln(out, strings.Repeat("-", 85))
			for _, book := range books {
				fmt.Fprintf(out, "%-3d %-50s %-30s\n", book.ID, console.Truncate(book.Title, 50), console.Truncate(book.Author, 30))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDBPath, "SQLite database path (env LIBRARY_DB_PATH)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the database before seeding")

	return cmd
}
