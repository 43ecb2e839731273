package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/controller"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/internal/logging"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/internal/observability"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/plant"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/scheduler"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/supervisor"
)

// Config holds the options recognized by cmd/simulator (spec.md §6).
type Config struct {
	Duration                time.Duration
	StepSize                time.Duration
	RealTime                bool
	ControllerClockInterval time.Duration
	Seed                    int64
	MetricsAddress          string
	TraceExporter           string
	LogLevel                string
	LogFormat               string
}

func main() {
	cfg := loadConfig()
	log := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		AddSource: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "simulator exited with error", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() Config {
	duration := flag.Duration("duration", 200*time.Second, "total simulated duration (end_simulation_time)")
	step := flag.Duration("step", 500*time.Millisecond, "communication step size")
	realtime := flag.Bool("realtime", false, "pace iterations to wall-clock time and drive the tick source from a real timer")
	controllerClockInterval := flag.Duration("controller-clock-interval", time.Second, "real-time tick source period for controller_clock")
	seed := flag.Int64("seed", 1, "seed for the supervisor's perturbation RNG")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty to disable)")
	traceExporter := flag.String("trace-exporter", "", "override COSIM_TRACING_EXPORTER (stdout or otlp); empty uses the environment")
	logLevel := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", envOrDefault("LOG_FORMAT", "text"), "log format: text or json")

	flag.Parse()

	if *traceExporter != "" {
		os.Setenv("COSIM_TRACING_ENABLED", "true")
		os.Setenv("COSIM_TRACING_EXPORTER", *traceExporter)
	}

	return Config{
		Duration:                *duration,
		StepSize:                *step,
		RealTime:                *realtime,
		ControllerClockInterval: *controllerClockInterval,
		Seed:                    *seed,
		MetricsAddress:          *metricsAddr,
		TraceExporter:           *traceExporter,
		LogLevel:                *logLevel,
		LogFormat:               *logFormat,
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}

	traceShutdown := func(context.Context) error { return nil }
	if shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log); err != nil {
		log.Warn(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
	} else {
		traceShutdown = shutdown
	}
	defer observability.ShutdownWithTimeout(context.Background(), traceShutdown, log)

	collector, err := observability.NewCoSimCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddress, collector, log)
	}
	if metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	p, c, s, err := buildTopology(cfg)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}

	sch := scheduler.New(scheduler.Config{
		EndSimulationTime:       cfg.Duration.Seconds(),
		StepSize:                cfg.StepSize.Seconds(),
		RealTimePacing:          cfg.RealTime,
		ControllerClockInterval: cfg.ControllerClockInterval,
	}, p, c, s, log, collector)

	rec := scheduler.NewRecorder()
	sch.SetSink(rec)
	unsubscribe := rec.Subscribe(func(r scheduler.Record) {
		log.Info(ctx, "sample",
			logging.Any("sim_time", r.SimTime),
			logging.Any("supervisor_event", r.SupervisorEvent),
			logging.Any("plant_t", r.PlantTemperature),
			logging.Any("plant_t_heater", r.PlantTemperatureHeater),
			logging.Any("controller_heater_ctrl", r.ControllerHeaterCtrl),
			logging.Any("supervisor_temperature_desired", r.SupervisorTemperatureDesired),
			logging.Any("supervisor_heating_time", r.SupervisorHeatingTime),
		)
	})
	defer unsubscribe()

	log.Info(ctx, "starting simulation",
		logging.Any("duration", cfg.Duration),
		logging.Any("step", cfg.StepSize),
		logging.Any("realtime", cfg.RealTime),
	)

	if err := sch.Run(ctx); err != nil {
		return fmt.Errorf("scheduler run: %w", err)
	}

	log.Info(ctx, "simulation complete", logging.Int("samples", rec.Len()))
	return nil
}

// buildTopology instantiates the three units and drives them through
// Instantiate -> EnterInitializationMode -> ExitInitializationMode into
// StepMode; the default connection topology is wired later by the
// scheduler itself.
func buildTopology(cfg Config) (*plant.Plant, *controller.Controller, *supervisor.Supervisor, error) {
	p := plant.New()
	c := controller.New()
	rng := rand.New(rand.NewSource(cfg.Seed))
	s := supervisor.NewWithRand(rng)

	for _, u := range []interface {
		Instantiate(string) error
		EnterInitializationMode() error
		ExitInitializationMode(bool) error
	}{p, c, s} {
		if err := u.Instantiate(""); err != nil {
			return nil, nil, nil, err
		}
		if err := u.EnterInitializationMode(); err != nil {
			return nil, nil, nil, err
		}
		if err := u.ExitInitializationMode(false); err != nil {
			return nil, nil, nil, err
		}
	}
	return p, c, s, nil
}

func serveMetrics(addr string, collector *observability.CoSimCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
