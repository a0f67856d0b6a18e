package cli

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/edge-events/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd(flags *rootFlags) *cobra.Command {
	var (
		address  string
		noIngest bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query and ingestion HTTP API",
		Long: `Serve the HTTP API:

  GET  /events?query=<base64 filter>   query stored events
  POST /ingest                         ingest objects named by an S3 event notification
  GET  /healthz                        liveness
  GET  /metrics                        ingestion and query counters

Readiness and shutdown are reported to systemd when run as a notify service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()
			if address != "" {
				a.cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.watchConfig(ctx, flags)

			return runServe(ctx, a, !noIngest)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().BoolVar(&noIngest, "no-ingest", false, "disable POST /ingest")
	return cmd
}

func runServe(ctx context.Context, a *app, ingest bool) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithMetrics(a.metrics)}
	if ingest {
		src, err := a.openSource(ctx)
		if err != nil {
			return err
		}
		p, err := a.newPipeline(src, s)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithIngester(p))
	}

	srv := server.New(a.cfg.Server, a.newQueryService(s), a.log, opts...)

	ready := func(net.Addr) {
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			a.log.Warnf("Failed to notify systemd: error=%v", err)
		} else if ok {
			a.log.Debug("Notified systemd: ready")
		}
	}

	err = srv.Start(ctx, ready)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}
