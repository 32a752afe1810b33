package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/snapdls/internal/core/config"
	"github.com/hay-kot/snapdls/internal/engine/regiongrow"
	"github.com/hay-kot/snapdls/internal/metrics"
	"github.com/hay-kot/snapdls/internal/printer"
	"github.com/hay-kot/snapdls/internal/segment"
	"github.com/hay-kot/snapdls/internal/server"
	"github.com/hay-kot/snapdls/internal/store/memory"
	"github.com/hay-kot/snapdls/internal/styles"
	"github.com/hay-kot/snapdls/internal/warmup"
)

type ServeCmd struct {
	flags   *Flags
	version string

	host       string
	port       int
	modelsPath string
	device     string
	noBanner   bool
}

// NewServeCmd creates the serve command. version is reported by /status.
func NewServeCmd(flags *Flags, version string) *ServeCmd {
	return &ServeCmd{flags: flags, version: version}
}

// Flags returns the serve flags. They belong on the root command, where the
// serve subcommand inherits them.
func (cmd *ServeCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Usage:       "address to bind (overrides server.host)",
			Sources:     cli.EnvVars("SNAPDLS_HOST"),
			Destination: &cmd.host,
		},
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "port to listen on (overrides server.port)",
			Sources:     cli.EnvVars("SNAPDLS_PORT"),
			Destination: &cmd.port,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"m"},
			Usage:       "folder holding the model definition (overrides models_path)",
			Sources:     cli.EnvVars("SNAPDLS_MODELS_PATH"),
			Destination: &cmd.modelsPath,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "inference device: cpu, cuda or mps (overrides device)",
			Sources:     cli.EnvVars("SNAPDLS_DEVICE"),
			Destination: &cmd.device,
		},
		&cli.BoolFlag{
			Name:        "no-banner",
			Usage:       "do not print the startup banner",
			Destination: &cmd.noBanner,
		},
	}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the segmentation server",
		UsageText: "snapdls serve [options]",
		Description: `Starts the HTTP server and stages a warm segmentation session in the background
so that the next start_session call is answered immediately.

When started by systemd with socket activation the inherited listener is used
and readiness is reported once the first warm session has been built.`,
		Action: cmd.Run,
	})

	return app
}

// Run starts the server and blocks until the process is signalled.
func (cmd *ServeCmd) Run(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	cfg := *cmd.flags.Config
	cmd.override(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ModelsPath == "" {
		return fmt.Errorf("models path not set, pass --models-path or set models_path in %s", cmd.flags.ConfigPath)
	}

	logger := log.With().Str("component", "serve").Logger()
	for _, w := range cfg.Warnings() {
		logger.Warn().Str("category", w.Category).Str("item", w.Item).Msg(w.Message)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := listen(cfg.Server)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var (
		store  = memory.New()
		loader = &regiongrow.Loader{
			ModelsPath: cfg.ModelsPath,
			Glob:       cfg.ModelGlob,
			Device:     cfg.Device,
			Log:        log.With().Str("component", "engine").Logger(),
		}
		segLog = log.With().Str("component", "segment").Logger()
		build  = func(ctx context.Context) (*segment.Session, error) {
			return segment.Open(ctx, loader, segLog)
		}
		sched = warmup.New(store, build, log.With().Str("component", "warmup").Logger(), warmup.Options{
			Timeout: cfg.Warmup.Timeout,
			Metrics: m,
		})
		srv = server.New(store, sched, log.Logger, server.Options{
			Version:        cmd.version,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			MaxVoxels:      cfg.Server.MaxVoxels,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			Metrics:        m,
		})
	)

	if !cmd.noBanner {
		p := printer.Ctx(ctx)
		p.Printf("%s", styles.BannerStyle.Render(styles.Banner))
		p.Printf("  %s %s", styles.LabelStyle.Render("listening"), styles.ValueStyle.Render(ln.Addr().String()))
		p.Printf("  %s %s", styles.LabelStyle.Render("models   "), styles.ValueStyle.Render(cfg.ModelsPath))
		p.Printf("  %s %s", styles.LabelStyle.Render("device   "), styles.ValueStyle.Render(cfg.Device))
		p.Printf("")
	}

	if err := sched.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start warm-up: %w", err)
	}
	go notifyReady(ctx, sched, logger)

	if cfg.Session.IdleTimeout > 0 {
		go pruneLoop(ctx, store, cfg.Session, m, logger)
	}

	serveErr := srv.Serve(ctx, ln, cfg.Server.ShutdownTimeout)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdown(store, sched, cfg.Server.ShutdownTimeout, m, logger)

	return serveErr
}

func (cmd *ServeCmd) override(cfg *config.Config) {
	if cmd.host != "" {
		cfg.Server.Host = cmd.host
	}
	if cmd.port != 0 {
		cfg.Server.Port = cmd.port
	}
	if cmd.modelsPath != "" {
		cfg.ModelsPath = cmd.modelsPath
	}
	if cmd.device != "" {
		cfg.Device = cmd.device
	}
}

// listen prefers a socket passed in by systemd and falls back to binding
// the configured address.
func listen(sc config.ServerConfig) (net.Listener, error) {
	lns, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	for _, ln := range lns {
		if ln != nil {
			return ln, nil
		}
	}

	addr := net.JoinHostPort(sc.Host, fmt.Sprint(sc.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

type readier interface {
	Ready(ctx context.Context) error
}

func notifyReady(ctx context.Context, r readier, logger zerolog.Logger) {
	start := time.Now()
	if err := r.Ready(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("first warm-up failed, start_session will retry")
		}
		return
	}

	logger.Info().Dur("elapsed", time.Since(start)).Msg("warm session ready")
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("notify systemd")
	} else if sent {
		logger.Debug().Msg("notified systemd")
	}
}

type pruner interface {
	Prune(ctx context.Context, idle time.Duration) (int, error)
}

func pruneLoop(ctx context.Context, store pruner, sc config.SessionConfig, m *metrics.Metrics, logger zerolog.Logger) {
	ticker := time.NewTicker(sc.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, sc.IdleTimeout)
			if err != nil {
				logger.Error().Err(err).Msg("prune idle sessions")
				continue
			}
			if n > 0 {
				m.SessionsEnded("idle", n)
				logger.Info().Int("count", n).Dur("idle_timeout", sc.IdleTimeout).Msg("pruned idle sessions")
			}
		}
	}
}

func shutdown(store *memory.Store, sched *warmup.Scheduler, grace time.Duration, m *metrics.Metrics, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := sched.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("close warm-up scheduler")
	}

	n, err := store.Clear(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("release sessions")
	}
	if n > 0 {
		m.SessionsEnded("shutdown", n)
	}
	logger.Info().Int("released", n).Msg("shutdown complete")
}
