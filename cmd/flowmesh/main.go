// Command flowmesh is the CLI entrypoint of spec.md §6 ("CLI surface"):
// a single binary with "leader" and "worker" subcommands, modeled on
// Chapter12/linksrus/pagerank/main.go's mode-switching urfave/cli app, a
// pprof auxiliary server, and a signal-watching shutdown goroutine.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/leader"
	"github.com/mkungla/flowmesh/metrics"
	"github.com/mkungla/flowmesh/tracing"
	"github.com/mkungla/flowmesh/worker"
)

var (
	appName = "flowmesh"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	if lvl, err := logrus.ParseLevel(os.Getenv("FLOWMESH_BOOT_LOG_LEVEL")); err == nil {
		rootLogger.SetLevel(lvl)
	}
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(exitCode(err))
	}
}

// exitCode maps a returned error to spec.md §6's exit codes: 0 clean
// shutdown, 1 fatal protocol error, 2 bad config.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if xerrors.Is(err, errBadConfig) {
		return 2
	}
	return 1
}

// errBadConfig roots the config-validation failures that map to exit code
// 2; everything else (protocol/transport/disconnected/serialization errors
// from errs, or an unrecognized subcommand) maps to exit code 1.
var errBadConfig = xerrors.New("flowmesh: bad config")

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Usage = "distributed dataflow execution runtime (leader and worker roles)"

	commonFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level: debug, info, warn, error",
		},
		cli.StringFlag{
			Name:  "metrics-address",
			Usage: "if set, serve /metrics, /healthz and /debug/jobs on this address",
		},
		cli.BoolFlag{
			Name:  "enable-tracing",
			Usage: "if set, root spans over scheduling/execution with a Jaeger tracer (JAEGER_* env vars configure the reporter)",
		},
		cli.IntFlag{
			Name:  "pprof-port",
			Value: 0,
			Usage: "if non-zero, expose pprof endpoints on this port",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "leader",
			Usage: "run the Leader control-plane coordinator",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "listen-address",
					Value: "0.0.0.0:7900",
					Usage: "control-plane listen address (host:port)",
				},
			}, commonFlags...),
			Action: runLeader,
		},
		{
			Name:  "worker",
			Usage: "run a Worker supervisor, attaching to a Leader",
			Flags: append([]cli.Flag{
				cli.UintFlag{
					Name:  "id",
					Usage: "stable worker id (u32); 0 lets the Worker mint a random one",
				},
				cli.StringFlag{
					Name:     "leader-address",
					Usage:    "the Leader's control-plane address (host:port)",
					Required: true,
				},
				cli.StringFlag{
					Name:  "data-plane-address",
					Value: "0.0.0.0:0",
					Usage: "data-plane listen address (host:port); 0.0.0.0:0 lets the OS assign a port",
				},
				cli.UintFlag{
					Name:  "num-threads",
					Value: 1,
					Usage: "this worker's scheduling weight (u16); 0 excludes it from round-robin scheduling",
				},
			}, commonFlags...),
			Action: runWorker,
		},
	}
	return app
}

func runLeader(appCtx *cli.Context) error {
	log := buildLogger(appCtx)
	listenAddr := appCtx.String("listen-address")
	if listenAddr == "" {
		return xerrors.Errorf("%w: --listen-address must not be empty", errBadConfig)
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	tracer, closeTracer, err := maybeTracer(appCtx, appName+"-leader")
	if err != nil {
		return xerrors.Errorf("%w: %v", errBadConfig, err)
	}
	defer closeTracer()

	l, err := leader.New(leader.Config{
		ListenAddress: listenAddr,
		Metrics:       reg,
		Tracer:        tracer,
		Logger:        log,
	})
	if err != nil {
		return xerrors.Errorf("%w: %v", errBadConfig, err)
	}

	addr, err := l.Start()
	if err != nil {
		return err
	}
	log.WithField("addr", addr).Info("leader: listening for worker connections")

	return runUntilSignal(appCtx, log, l, func(ctx context.Context) error {
		return l.Run(ctx)
	})
}

func runWorker(appCtx *cli.Context) error {
	log := buildLogger(appCtx)
	leaderAddr := appCtx.String("leader-address")
	if leaderAddr == "" {
		return xerrors.Errorf("%w: --leader-address must not be empty", errBadConfig)
	}
	numThreads := appCtx.Uint("num-threads")
	if numThreads > 65535 {
		return xerrors.Errorf("%w: --num-threads must fit in 16 bits", errBadConfig)
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	tracer, closeTracer, err := maybeTracer(appCtx, appName+"-worker")
	if err != nil {
		return xerrors.Errorf("%w: %v", errBadConfig, err)
	}
	defer closeTracer()

	workerID := id.WorkerID{}
	if n := appCtx.Uint("id"); n != 0 {
		workerID = id.WorkerIDFromUint32(uint32(n))
	}

	sv, err := worker.New(worker.Config{
		ID:               workerID,
		LeaderAddress:    leaderAddr,
		DataPlaneAddress: appCtx.String("data-plane-address"),
		Resources:        int(numThreads),
		Metrics:          reg,
		Tracer:           tracer,
		Logger:           log,
	})
	if err != nil {
		return xerrors.Errorf("%w: %v", errBadConfig, err)
	}

	return runUntilSignal(appCtx, log, sv, func(ctx context.Context) error {
		return sv.Run(ctx)
	})
}

// buildLogger parses --log-level into the process root logger, falling
// back to the boot logger's level on a bad value rather than failing the
// command outright.
func buildLogger(appCtx *cli.Context) *logrus.Entry {
	lvl, err := logrus.ParseLevel(appCtx.String("log-level"))
	if err != nil {
		logger.WithField("value", appCtx.String("log-level")).Warn("ignoring unrecognized --log-level")
		return logger
	}
	logger.Logger.SetLevel(lvl)
	return logger
}

// maybeTracer builds a Jaeger tracer when --enable-tracing is set, and a
// no-op cleanup func otherwise. The returned tracer is nil unless tracing
// is enabled, matching leader.Config.Tracer/worker.Config.Tracer's "nil
// means disabled" contract.
func maybeTracer(appCtx *cli.Context, serviceName string) (opentracing.Tracer, func(), error) {
	if !appCtx.Bool("enable-tracing") {
		return nil, func() {}, nil
	}
	tracer, err := tracing.GetTracer(serviceName)
	if err != nil {
		return nil, func() {}, xerrors.Errorf("starting tracer: %w", err)
	}
	return tracer, func() { _ = tracing.Pool.Close() }, nil
}

// runner is satisfied by both *leader.Leader and *worker.Supervisor: both
// expose the job table the metrics server's debug surface renders.
type runner interface {
	JobStatuses() []metrics.JobStatus
}

// runUntilSignal starts the optional pprof and metrics servers, runs svc
// via run, and blocks until ctx is cancelled by a SIGINT/SIGHUP or run
// returns, mirroring Chapter12/linksrus/pagerank/main.go's runMain.
func runUntilSignal(appCtx *cli.Context, log *logrus.Entry, status runner, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if port := appCtx.Int("pprof-port"); port != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return xerrors.Errorf("%w: binding pprof listener: %v", errBadConfig, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithField("port", port).Info("listening for pprof requests")
			_ = new(http.Server).Serve(ln)
		}()
		go func() { <-ctx.Done(); _ = ln.Close() }()
	}

	if addr := appCtx.String("metrics-address"); addr != "" {
		srv, err := metrics.NewServer(metrics.Config{
			ListenAddress: addr,
			Gatherer:      prometheus.DefaultGatherer,
			Status:        status,
			Logger:        log,
		})
		if err != nil {
			return xerrors.Errorf("%w: %v", errBadConfig, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Error("metrics server exited with error")
			}
		}()
	}

	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil {
			runErr = err
			log.WithError(err).Error("service exited with error")
		}
		cancel()
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
		select {
		case s := <-sigCh:
			log.WithField("signal", s.String()).Info("shutting down due to signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	if runErr != nil {
		return xerrors.Errorf("%w: %v", errs.ErrProtocol, runErr)
	}
	return nil
}
