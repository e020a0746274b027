// Демо-сервер: физический воркер и цикл отрисовки в одном процессе,
// инспектор по WebSocket на /ws и метрики Prometheus на /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"x-physync/backend/internal/buffer"
	"x-physync/backend/internal/config"
	"x-physync/backend/internal/host"
	"x-physync/backend/internal/logger"
	"x-physync/backend/internal/protocol"
	"x-physync/backend/internal/telemetry"
	"x-physync/backend/internal/transport/ws"
	"x-physync/backend/internal/worker"
)

const (
	renderInterval = time.Second / 60
	stallThreshold = 2 * time.Second
	shutdownWait   = 5 * time.Second
)

type options struct {
	addr     string
	shared   bool
	bodies   int
	speed    float64
	logLevel string
	env      string
	world    string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.addr, "addr", ":8080", "HTTP listen address")
	flag.BoolVar(&o.shared, "shared", true, "use the shared region; false forces buffer transfer")
	flag.IntVar(&o.bodies, "bodies", 200, "number of falling boxes")
	flag.Float64Var(&o.speed, "speed", 1, "simulation speed multiplier")
	flag.StringVar(&o.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level: debug, info, warn, error")
	flag.StringVar(&o.env, "env", os.Getenv("ENVIRONMENT"), "environment: development or production")
	flag.StringVar(&o.world, "world", os.Getenv("PHYSYNC_WORLD"), `world config as JSON, e.g. {"gravity":[0,-9.8,0],"maxSubSteps":4}`)
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	log, err := logger.New(logger.Config{
		Environment: opts.env,
		LogLevel:    opts.logLevel,
		ServiceName: "physync-demo",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Fatal("[Server] stopped with error", zap.Error(err))
	}
	log.Info("[Server] stopped")
}

func run(ctx context.Context, opts options, log *zap.Logger) error {
	world, err := config.Parse([]byte(opts.world))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)

	layout := buffer.DefaultLayout()
	layout.MaxBodies = max(opts.bodies+1, 16)

	link := protocol.NewLink()
	w := worker.New(link, nil, worker.Options{Logger: log.Named("worker"), Metrics: metrics})
	h := host.New(link, host.Options{
		Logger:       log.Named("host"),
		Metrics:      metrics,
		Layout:       layout,
		SharedMemory: func() bool { return opts.shared },
	})
	defer h.Close()

	inspector := ws.NewInspector(h, ws.Options{Logger: log.Named("inspector")})
	mux := http.NewServeMux()
	mux.Handle("/ws", inspector)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: opts.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx)
	})

	g.Go(func() error {
		if err := h.Init(world); err != nil {
			return err
		}
		if err := h.SetSimulationSpeed(opts.speed); err != nil {
			return err
		}
		demo, err := buildDemo(h, opts.bodies)
		if err != nil {
			return err
		}
		return renderLoop(ctx, h, demo, log)
	})

	g.Go(func() error {
		return inspector.Run(ctx)
	})

	g.Go(func() error {
		log.Info("[Server] listening", zap.String("addr", opts.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// renderLoop - цикл отрисовки: раз в кадр синхронизирует сцену с воркером.
func renderLoop(ctx context.Context, h *host.Host, demo *demoScene, log *zap.Logger) error {
	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	stalled := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Frame()
			demo.respawn(h)

			if h.Stalled(stallThreshold) != stalled {
				stalled = !stalled
				if stalled {
					log.Warn("[Server] no frames from the physics worker", zap.Duration("threshold", stallThreshold))
				} else {
					log.Info("[Server] physics worker resumed")
				}
			}
		}
	}
}
