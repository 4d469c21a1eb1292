package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"brokerdash/internal/scheduler"
	"brokerdash/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		Long: `Run the dashboard HTTP server and, when sync.refresh_schedule is set,
the background price refresh.

The server needs server.jwt_secret and security.vault_passphrase (or the
BROKERDASH_JWT_SECRET and VAULT_PASSPHRASE environment variables).`,
		Example: `  brokerdash serve
  brokerdash serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := openServices(ctx, cfg, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			if cfg.Sync.RefreshSchedule != "" {
				sched := scheduler.New(app.Logger)
				job := scheduler.NewPriceRefreshJob(svc.auth, svc.portfolio, svc.store, cfg.Sync.MarketHoursOnly, app.Logger)
				if err := sched.AddJob(cfg.Sync.RefreshSchedule, job); err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			srv := server.New(server.Config{
				Addr:           cfg.Server.Addr(),
				DevMode:        cfg.Server.DevMode,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				RequestTimeout: cfg.Server.RequestTimeout,
				Version:        Version,
				Provider:       cfg.Broker.Provider,
				Auth:           svc.auth,
				Portfolio:      svc.portfolio,
				Orders:         svc.orders,
				SyncStatus:     svc.store,
				Breaker:        svc.breaker,
				Audit:          svc.audit,
				Log:            app.Logger,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			output := NewOutput(cmd)
			output.Success("Dashboard listening on http://%s (broker: %s)", cfg.Server.Addr(), cfg.Broker.Provider)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	return cmd
}
