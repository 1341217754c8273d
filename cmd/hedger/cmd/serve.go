package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wakala/hedger/internal/api"
	"github.com/wakala/hedger/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background jobs",
	Long: `Serve starts the REST API under /api/v1 together with the periodic
regeneration and expiry loops. SIGINT or SIGTERM drains in-flight requests
before the database is closed.

Examples:
  hedger serve
  SEED_FILE=testdata/seed.yaml hedger serve --port 9090`,
	RunE: runServe,
}

var (
	servePort      string
	serveNoJobs    bool
	serveDrainTime time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "do not start the regenerate and expire loops")
	serveCmd.Flags().DurationVar(&serveDrainTime, "drain", 10*time.Second, "graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	log := logger.L

	port := e.cfg.Port
	if servePort != "" {
		port = servePort
	}

	if !serveNoJobs {
		sched := e.app.Scheduler()
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	a := e.app
	srv := &http.Server{
		Addr: ":" + port,
		Handler: api.NewRouter(api.Deps{
			Ledger:          a.Ledger,
			Policies:        a.Policies,
			Generator:       a.Generator,
			Recommendations: a.Recommendations,
			Orders:          a.Orders,
			Settlements:     a.Settlements,
			Import:          a.Import,
			Reports:         a.Reports,
			Now:             time.Now,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "functional_currency", e.cfg.FunctionalCurrency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "drain", serveDrainTime)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveDrainTime)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
