package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/eavstore/internal/config"
	"github.com/nainya/eavstore/internal/logger"
	"github.com/nainya/eavstore/internal/metrics"
	"github.com/nainya/eavstore/internal/server"
	"github.com/nainya/eavstore/pkg/journal"
)

// ServeOptions holds flags for the serve command
type ServeOptions struct {
	*RootOptions
	ConfigPath  string
	Port        int
	MetricsPort int
	JournalPath string
	NoJournal   bool
	LogLevel    string
}

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the replication server",
		Long: `Run the gRPC replication server. The journal is replayed before the
listener opens; /ready on the metrics port reports 503 until then.

Flags override values from --config.

Examples:
  eavstore serve
  eavstore serve --config eavstore.yaml --port 6000
  eavstore serve --no-journal --metrics-port 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

func (o *ServeOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().IntVar(&o.Port, "port", 0, "gRPC port")
	cmd.Flags().IntVar(&o.MetricsPort, "metrics-port", 0, "metrics port (0 disables)")
	cmd.Flags().StringVar(&o.JournalPath, "journal", "", "journal base path")
	cmd.Flags().BoolVar(&o.NoJournal, "no-journal", false, "run without durability")
	cmd.Flags().StringVar(&o.LogLevel, "log-level", "", "debug|info|warn|error")
}

// resolveConfig layers changed flags over the loaded file
func (o *ServeOptions) resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = o.Port
	}
	if flags.Changed("metrics-port") {
		cfg.Server.MetricsPort = o.MetricsPort
	}
	if flags.Changed("journal") {
		cfg.Journal.Path = o.JournalPath
	}
	if o.NoJournal {
		cfg.Journal.Path = ""
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger.InitGlobalLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.Port, cfg.Journal.Path)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j = &journal.Journal{
			Path:        cfg.Journal.Path,
			MaxFileSize: cfg.Journal.MaxFileSize,
			RetainFiles: cfg.Journal.RetainFiles,
		}
		if err := j.Open(); err != nil {
			return WrapExitError(ExitFailure, "failed to open journal", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close journal")
			}
		}()
	} else {
		log.Warn().Msg("Journal disabled, state will not survive a restart")
	}

	srv := server.NewServer(nil, nil, server.Options{
		Journal:        j,
		SyncEveryPatch: cfg.Journal.SyncEveryPatch,
		Metrics:        m,
		Logger:         log.Component("replication"),
	})

	var obs *server.ObservabilityServer
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.MetricsPort > 0 {
		obs = server.NewObservabilityServer(cfg.Server.MetricsPort, reg, log.Component("observability"))
		g.Go(obs.Start)
	}

	// abort stops the observability server when startup fails after it began
	abort := func(code int, msg string, err error) error {
		if obs != nil {
			_ = obs.Shutdown(context.Background())
			_ = g.Wait()
		}
		return WrapExitError(code, msg, err)
	}

	if _, err := srv.Recover(); err != nil {
		return abort(ExitFailure, "recovery failed", err)
	}

	if j != nil {
		cp := journal.NewCheckpointer(j, cfg.GetCheckpointInterval(), srv.WithSnapshot,
			*log.Component("checkpointer").GetZerolog())
		cp.Start()
		defer cp.Stop()
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return abort(ExitCommandError, "failed to listen", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageBytes),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.RegisterReplicationServer(grpcServer, srv)
	// grpcurl discovers the method names; payloads are raw bytes wrappers
	reflection.Register(grpcServer)

	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	if obs != nil {
		obs.SetReady(true)
	}
	log.LogServerReady(cfg.Server.Port)

	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()
		shutdown(grpcServer, obs, cfg.GetShutdownTimeout(), log)
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}

	if j != nil {
		if seq, err := srv.Checkpoint(); err != nil {
			log.Error().Err(err).Msg("Final checkpoint failed")
		} else {
			log.Info().Uint64("seq", seq).Msg("Final checkpoint written")
		}
	}
	return nil
}

// shutdown drains gRPC within timeout, then forces it
func shutdown(grpcServer *grpc.Server, obs *server.ObservabilityServer, timeout time.Duration, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if obs != nil {
		obs.SetReady(false)
		if err := obs.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Observability server shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Dur("timeout", timeout).Msg("Graceful stop timed out, forcing")
		grpcServer.Stop()
		<-done
	}
}
