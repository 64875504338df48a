package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/motion-uploader/internal/config"
	"github.com/tonimelisma/motion-uploader/internal/daemon"
	"github.com/tonimelisma/motion-uploader/internal/graph"
	"github.com/tonimelisma/motion-uploader/internal/journal"
	"github.com/tonimelisma/motion-uploader/internal/metrics"
	"github.com/tonimelisma/motion-uploader/internal/throttle"
	"github.com/tonimelisma/motion-uploader/internal/upload"
)

func newServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "service",
		Short: "Run the upload daemon in the foreground",
		Long: "Scans the watch directory, uploads settled stills newest first and " +
			"deletes them once stored. Stops gracefully on SIGINT, SIGTERM or SIGHUP.",
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	cfg := resolvedCfg

	cleanup, err := writePIDFile(config.PIDFilePath(cfg.Camera.ID))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	svc := newService(ctx, cfg, resolvedCfgPath, endpoints{
		graphURL: graph.DefaultBaseURL,
		tokenURL: graph.Endpoint(cfg.App.Tenant).TokenURL,
	}, logger)
	defer svc.close()

	return svc.run(ctx)
}

// endpoints are the remote URLs the service talks to.
type endpoints struct {
	graphURL string
	tokenURL string
}

// service is the assembled daemon: the upload loop plus its optional
// journal, metrics endpoint and filesystem waker.
type service struct {
	loop        *daemon.Loop
	metrics     *metrics.Metrics
	metricsAddr string
	waker       *daemon.Waker
	journal     *journal.Journal
	logger      *slog.Logger
}

// newService wires the components from cfg. The journal and the waker are
// optional: if either cannot be set up the service runs without it.
func newService(ctx context.Context, cfg *config.Config, cfgPath string, ep endpoints, logger *slog.Logger) *service {
	d := cfg.Durations()
	httpClient := graph.NewHTTPClient(d.ConnectTimeout, d.DataTimeout)

	store := config.NewStore(cfgPath, cfg, logger)

	tokens := graph.NewTokenManager(ep.tokenURL, httpClient, store, logger)
	tokens.SetPersistRotated(cfg.App.PersistRotatedRefreshToken)

	client := graph.NewClient(ep.graphURL, httpClient, tokens, logger, cfg.Network.UserAgent)
	uploader := upload.NewUploader(client, tokens, logger,
		upload.WithRemoteRoot(cfg.Upload.RemoteRoot),
		upload.WithHashVerification(cfg.Upload.VerifyHash),
		upload.WithThrottle(throttle.New(cfg.BandwidthLimit(), logger)),
	)

	s := &service{
		metrics:     metrics.New(cfg.Camera.ID),
		metricsAddr: cfg.Metrics.Listen,
		logger:      logger,
	}

	opts := []daemon.Option{daemon.WithObserver(s.metrics)}

	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.Path, logger)
		if err != nil {
			logger.Warn("upload journal unavailable, continuing without it",
				slog.String("path", cfg.Journal.Path),
				slog.String("error", err.Error()),
			)
		} else {
			s.journal = j
			opts = append(opts, daemon.WithRecorder(j))
		}
	}

	if cfg.Upload.Watch {
		w, err := daemon.NewWaker(cfg.Camera.WatchDir, logger)
		if err != nil {
			logger.Warn("filesystem notifications unavailable, polling only",
				slog.String("error", err.Error()),
			)
		} else {
			s.waker = w
			opts = append(opts, daemon.WithWaker(w.C()))
		}
	}

	s.loop = daemon.NewLoop(daemon.Config{
		DeviceID:        cfg.Camera.ID,
		WatchDir:        cfg.Camera.WatchDir,
		BatchLimit:      cfg.Upload.BatchLimit,
		SettleDelay:     d.SettleDelay,
		FailureCooldown: d.FailureCooldown,
		IdleInterval:    d.IdleInterval,
		WatchdogMargin:  d.WatchdogMargin,
		UploadTimeout:   d.DataTimeout,
	}, tokens, uploader, logger, opts...)

	return s
}

// run blocks until the loop stops. The metrics server and the waker stop
// with it; a metrics server failure stops the loop.
func (s *service) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		return s.loop.Run(gctx)
	})

	if s.metricsAddr != "" {
		g.Go(func() error {
			return s.metrics.Serve(gctx, s.metricsAddr, s.logger)
		})
	}

	if s.waker != nil {
		g.Go(func() error {
			return s.waker.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		s.logger.Error("service stopped", slog.String("error", err.Error()))

		return err
	}

	s.logger.Info("service stopped")

	return nil
}

func (s *service) close() {
	if s.journal == nil {
		return
	}

	if err := s.journal.Close(); err != nil {
		s.logger.Warn("closing journal", slog.String("error", err.Error()))
	}
}
