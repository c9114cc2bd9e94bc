package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edupinhata/naval-gunbound-war/internal/api"
	"github.com/edupinhata/naval-gunbound-war/internal/cluster"
	"github.com/edupinhata/naval-gunbound-war/internal/config"
	"github.com/edupinhata/naval-gunbound-war/internal/db"
	"github.com/edupinhata/naval-gunbound-war/internal/logx"
	"github.com/edupinhata/naval-gunbound-war/internal/relay"
	"github.com/edupinhata/naval-gunbound-war/internal/store"
	"github.com/edupinhata/naval-gunbound-war/internal/token"
	"github.com/edupinhata/naval-gunbound-war/internal/worker"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "relayd", Short: "Relay daemon (HTTP endpoints + background workers)"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(serveCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply audit ledger migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is not set")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dbConn, err := db.Open(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			return db.ApplyMigrations(ctx, dbConn)
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := logx.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log zerolog.Logger) error {
	tokens, err := token.NewDeriver(cfg.Token.Secret, cfg.Token.IncludePort)
	if err != nil {
		return err
	}
	reg := relay.New(log.With().Str("component", "relay").Logger())

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var wg sync.WaitGroup

	var opts []api.Option

	// Audit ledger (optional)
	if cfg.DB.DSN != "" {
		dbConn, err := db.Open(bgCtx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return err
		}
		defer dbConn.Close()
		if err := db.ApplyMigrations(bgCtx, dbConn); err != nil {
			return err
		}
		st := store.New(dbConn)
		rec := worker.NewRecorder(st, cfg.Recorder.Queue, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(bgCtx)
		}()
		opts = append(opts, api.WithLedger(st, rec))
		log.Info().Msg("audit ledger enabled")
	}

	// Cross-instance fan-out (optional)
	if cfg.Redis.URL != "" {
		rdb, err := cluster.Connect(bgCtx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		bridge := cluster.New(rdb, cfg.Redis.Channel, reg, log)
		defer bridge.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(bgCtx); err != nil {
				log.Error().Err(err).Msg("cluster bridge stopped")
			}
		}()
		opts = append(opts, api.WithPublisher(bridge))
	}

	h := api.New(cfg, reg, tokens, log, opts...)
	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing every channel releases the parked stream handlers, which
	// Shutdown would otherwise wait on until its deadline.
	srv.RegisterOnShutdown(reg.Shutdown)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.API.Listen).Msg("relayd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errc:
		bgCancel()
		wg.Wait()
		return fmt.Errorf("listen: %w", err)
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	shErr := srv.Shutdown(shCtx)

	// stop background work after the last handler has recorded its events
	bgCancel()
	wg.Wait()

	if shErr != nil {
		return fmt.Errorf("shutdown: %w", shErr)
	}
	log.Info().Msg("bye")
	return nil
}
