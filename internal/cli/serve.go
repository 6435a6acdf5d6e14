package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"teamsync/api/internal/app"
	"teamsync/api/internal/config"
)

type serveOptions struct {
	addr      string
	backend   string
	noRemind  bool
	noReindex bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, live views and the reminder loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", envOr("API_ADDR", ""), "Listen address (default :8787)")
	cmd.Flags().StringVar(&opts.backend, "backend", envOr("DOCSTORE_BACKEND", ""), "Document store: memory, sqlite, postgres or mongo")
	cmd.Flags().BoolVar(&opts.noRemind, "no-remind", false, "Do not run the reminder loop in this process")
	cmd.Flags().BoolVar(&opts.noReindex, "no-reindex", false, "Skip the startup search reindex")
	return cmd
}

func runServe(opts serveOptions) error {
	cfg := config.Load()
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.backend != "" {
		cfg.DocstoreBackend = opts.backend
	}

	ctx, stop := notifyContext()
	defer stop()

	ds, err := openDocstore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ds.Close()

	extras, err := openServices(ctx, cfg, ds)
	if err != nil {
		return err
	}
	defer extras.Close()

	service := app.New(cfg, ds, extras.options...)
	defer service.Close()

	if extras.hasMeili && !opts.noReindex {
		go service.Reindex(ctx)
	}
	if !opts.noRemind {
		stopReminders := service.ReminderRunner(cfg.ReminderInterval).Start(ctx)
		defer stopReminders()
	}
	if extras.tracker != nil {
		stopSweeper := extras.tracker.StartSweeper(ctx, cfg.PresenceTTL/2)
		defer stopSweeper()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Teamsync API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
