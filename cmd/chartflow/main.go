// Command chartflow runs the ambient clinical scribe pipeline over one or
// more audio increments and prints the resulting session state as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberhealth/chartflow/internal/app"
	"github.com/emberhealth/chartflow/internal/capability"
	"github.com/emberhealth/chartflow/internal/clinical"
	"github.com/emberhealth/chartflow/internal/config"
	"github.com/emberhealth/chartflow/internal/extract"
	"github.com/emberhealth/chartflow/internal/health"
	"github.com/emberhealth/chartflow/internal/observe"
	"github.com/emberhealth/chartflow/internal/questionnaire"
	"github.com/emberhealth/chartflow/internal/resilience"
	"github.com/emberhealth/chartflow/internal/synth"
	"github.com/emberhealth/chartflow/internal/transcript"
	"github.com/emberhealth/chartflow/pkg/model"
	"github.com/emberhealth/chartflow/pkg/model/anyllm"
	"github.com/emberhealth/chartflow/pkg/model/gemini"
	"github.com/emberhealth/chartflow/pkg/model/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "path to an optional .env file with API keys")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "chartflow: load env file %q: %v\n", *envPath, err)
			return 1
		}
	} else {
		// Best effort: a .env next to the binary is optional.
		_ = godotenv.Load()
	}

	// ── Load configuration ─────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chartflow: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chartflow: %v\n", err)
		}
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("chartflow starting",
		"config", *configPath,
		"backend", cfg.Backend.Name,
		"model", cfg.Backend.Model,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "chartflow"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ──────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.WorkersChanged || d.TemperatureChanged {
			slog.Warn("pipeline settings changed; restart to apply",
				"workers", new.Pipeline.SynthesisWorkers,
				"temperature", new.Pipeline.Temperature)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Model backend ──────────────────────────────────────────────────────────
	rawProvider, err := buildBackend(ctx, cfg.Backend)
	if err != nil {
		slog.Error("failed to build model backend", "err", err)
		return 1
	}
	var provider model.Provider = resilience.NewBackend(rawProvider, cfg.Backend.Name, resilience.BreakerConfig{})

	// ── Chart provider ─────────────────────────────────────────────────────────
	chart, closeChart, err := buildChart(ctx, cfg.Clinical)
	if err != nil {
		slog.Error("failed to build chart provider", "err", err)
		return 1
	}
	defer closeChart()

	if cfg.Server.MetricsAddr != "" {
		startMetricsServer(cfg.Server.MetricsAddr, chart)
	}

	// ── Pipeline ───────────────────────────────────────────────────────────────
	registry, err := capability.NewRegistry(capability.Builtin()...)
	if err != nil {
		slog.Error("failed to build capability registry", "err", err)
		return 1
	}

	var extractOpts []extract.Option
	var synthOpts []synth.Option
	var reconcileOpts []questionnaire.Option
	if cfg.Pipeline.Temperature != 0 {
		extractOpts = append(extractOpts, extract.WithTemperature(cfg.Pipeline.Temperature))
		synthOpts = append(synthOpts, synth.WithTemperature(cfg.Pipeline.Temperature))
		reconcileOpts = append(reconcileOpts, questionnaire.WithTemperature(cfg.Pipeline.Temperature))
	}

	pipeline := app.NewPipeline(
		chart,
		transcript.New(provider),
		extract.NewEngine(provider, registry, extractOpts...),
		synth.NewPool(synth.New(provider, registry, synthOpts...), cfg.Pipeline.SynthesisWorkers),
		questionnaire.NewReconciler(provider, reconcileOpts...),
		registry,
		nil,
	)

	// ── Process increments ─────────────────────────────────────────────────────
	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "chartflow: no audio files given; usage: chartflow [flags] file.mp3 [file2.mp3 ...]")
		return 2
	}

	metrics := observe.DefaultMetrics()
	metrics.SessionStarted(ctx)
	defer metrics.SessionEnded(context.Background())

	sess := app.NewSession()
	for _, path := range paths {
		chunk, err := readAudio(path)
		if err != nil {
			slog.Error("failed to read audio file", "path", path, "err", err)
			return 1
		}

		result, err := pipeline.ProcessIncrement(ctx, sess, []model.AudioChunk{chunk})
		if err != nil {
			slog.Error("increment failed", "path", path, "err", err)
			return 1
		}
		if len(result.Degraded) > 0 {
			slog.Warn("increment degraded", "path", path, "stages", result.Degraded)
		}

		if err := printResult(path, result); err != nil {
			slog.Error("failed to encode result", "err", err)
			return 1
		}

		if ctx.Err() != nil {
			slog.Info("interrupted")
			return 0
		}
	}

	slog.Info("session complete",
		"lines", len(sess.Lines()),
		"instructions", len(sess.Instructions()),
		"forms", len(sess.Forms()),
	)
	return 0
}

// buildBackend instantiates the configured model provider.
func buildBackend(ctx context.Context, cfg config.BackendConfig) (model.Provider, error) {
	switch cfg.Name {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.TimeoutSeconds > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
		}
		return openai.New(apiKey, cfg.Model, opts...)

	case "gemini":
		return gemini.New(ctx, cfg.APIKey, cfg.Model)

	case "anyllm":
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(cfg.Provider, cfg.Model, opts...)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Name)
	}
}

// buildChart instantiates the configured clinical context provider. The
// returned close function is a no-op for the in-memory provider.
func buildChart(ctx context.Context, cfg config.ClinicalConfig) (clinical.Provider, func(), error) {
	switch cfg.Source {
	case config.ChartPostgres:
		p, err := clinical.NewPostgresProvider(ctx, cfg.DSN, cfg.PatientID)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil

	case config.ChartMemory, "":
		return clinical.NewMemProvider(clinical.Snapshot{}), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown chart source %q", cfg.Source)
	}
}

// startMetricsServer serves /metrics plus the health probes on addr. The
// Prometheus bridge registers with the default registry, so
// promhttp.Handler picks up everything InitProvider exports.
func startMetricsServer(addr string, chart clinical.Provider) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	probes := health.New(health.Check{
		Name: "chart",
		Probe: func(ctx context.Context) error {
			_, err := chart.Snapshot(ctx)
			return err
		},
	})
	probes.Register(mux)

	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// readAudio loads one audio file as a pipeline chunk, deriving the
// container format from the file extension.
func readAudio(path string) (model.AudioChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AudioChunk{}, err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		ext = "mp3"
	}
	return model.AudioChunk{Data: data, Format: model.AudioFormat(ext)}, nil
}

// printResult writes one increment's outcome to stdout as indented JSON.
func printResult(path string, result *app.IncrementResult) error {
	out := struct {
		Source string              `json:"source"`
		Result *app.IncrementResult `json:"result"`
	}{Source: path, Result: result}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// slogLevel maps a config log level onto its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
