package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edupinhata/naval-gunbound-war/internal/config"
	"github.com/edupinhata/naval-gunbound-war/internal/db"
	"github.com/edupinhata/naval-gunbound-war/internal/exporter"
	"github.com/edupinhata/naval-gunbound-war/internal/store"
)

func eventsCmd(cfgPath *string) *cobra.Command {
	var format string
	var outPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Export the audit ledger straight from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dbConn, err := db.Open(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
			if err != nil {
				return err
			}
			defer dbConn.Close()

			if err := db.ApplyMigrations(ctx, dbConn); err != nil {
				return err
			}

			b, _, err := exporter.Export(ctx, store.New(dbConn), format, limit)
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(outPath, b, 0644)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "export format: json|csv")
	cmd.Flags().StringVar(&outPath, "out", "-", "output path (or - for stdout)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "max events, newest first")
	return cmd
}
