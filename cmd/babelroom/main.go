// Command babelroom is the main entry point for the Babelroom live
// translation relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/babelroom/babelroom/internal/config"
	"github.com/babelroom/babelroom/internal/health"
	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/internal/resilience"
	"github.com/babelroom/babelroom/internal/room"
	"github.com/babelroom/babelroom/internal/server"
	"github.com/babelroom/babelroom/internal/translate"
	"github.com/babelroom/babelroom/pkg/provider/synth"
	synthnoop "github.com/babelroom/babelroom/pkg/provider/synth/noop"
	synthoai "github.com/babelroom/babelroom/pkg/provider/synth/openai"
	synthrelay "github.com/babelroom/babelroom/pkg/provider/synth/relay"
	"github.com/babelroom/babelroom/pkg/provider/translator"
	trnoop "github.com/babelroom/babelroom/pkg/provider/translator/noop"
	troai "github.com/babelroom/babelroom/pkg/provider/translator/openai"
	trrelay "github.com/babelroom/babelroom/pkg/provider/translator/relay"
	"github.com/babelroom/babelroom/pkg/store"
	"github.com/babelroom/babelroom/pkg/store/memory"
	"github.com/babelroom/babelroom/pkg/store/postgres"
	"github.com/babelroom/babelroom/pkg/types"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "babelroom: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "babelroom: %v\n", err)
		}
		return 1
	}
	config.ApplyVoiceEnv(cfg, os.Environ())

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("babelroom starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	mp, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "babelroom",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	primary, err := buildTranslator(cfg.Providers.Translator)
	if err != nil {
		slog.Error("failed to build translator", "err", err)
		return 1
	}
	fallback, err := buildTranslator(cfg.Providers.TranslatorFallback)
	if err != nil {
		slog.Error("failed to build fallback translator", "err", err)
		return 1
	}
	slog.Info("translator ready", "primary", primary.Name(), "fallback", fallback.Name())

	synthesizer, err := buildSynth(cfg.Providers.Synth)
	if err != nil {
		slog.Error("failed to build synthesiser", "err", err)
		return 1
	}
	// The speech backend sits behind a circuit breaker so a flapping provider
	// fails fast instead of stalling every queue on its timeout.
	guardedSynth := resilience.NewSynthFallback(synthesizer, resilience.FallbackConfig{})
	slog.Info("synthesiser ready", "name", synthesizer.Name())

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := buildStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer st.Close()

	// ── Room hub and HTTP edge ────────────────────────────────────────────────
	client := translate.NewClient(primary, fallback, metrics, logger)
	hub := room.NewHub(room.Deps{
		Cfg:        cfg,
		Translator: client,
		Synth:      guardedSynth,
		Store:      st,
		Metrics:    metrics,
		Log:        logger,
	})

	srv := server.New(cfg, hub, metaSource(cfg.Rooms), logger,
		health.Checker{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := st.LoadUnits(ctx, "healthz")
				return err
			},
		},
		health.Checker{
			Name:  "translator",
			Check: func(context.Context) error { return client.Healthy() },
		},
	)

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildTranslator(entry config.ProviderEntry) (translator.Provider, error) {
	switch entry.Name {
	case "", "noop":
		return trnoop.New(), nil
	case "openai":
		var opts []troai.Option
		if entry.BaseURL != "" {
			opts = append(opts, troai.WithBaseURL(entry.BaseURL))
		}
		return troai.New(entry.APIKey, entry.Model, opts...)
	case "relay":
		var opts []trrelay.Option
		if entry.APIKey != "" {
			opts = append(opts, trrelay.WithToken(entry.APIKey))
		}
		return trrelay.New(entry.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown translator provider %q", entry.Name)
	}
}

func buildSynth(entry config.ProviderEntry) (synth.Provider, error) {
	switch entry.Name {
	case "", "noop":
		return synthnoop.New(), nil
	case "openai":
		var opts []synthoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, synthoai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, synthoai.WithModel(entry.Model))
		}
		return synthoai.New(entry.APIKey, opts...)
	case "relay":
		var opts []synthrelay.Option
		if entry.APIKey != "" {
			opts = append(opts, synthrelay.WithToken(entry.APIKey))
		}
		return synthrelay.New(entry.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown synth provider %q", entry.Name)
	}
}

// buildStore opens the configured persistence backend, falling back to the
// in-process store when no DSN is set.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("store ready", "backend", "memory")
		return memory.New(), nil
	}
	st, err := postgres.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	slog.Info("store ready", "backend", "postgres")
	return st, nil
}

// metaSource builds the room admission source from configuration: a static
// schedule when one is declared, otherwise every slug is an open room.
func metaSource(cfg config.RoomsConfig) server.MetaSource {
	if len(cfg.Schedule) == 0 {
		return &server.OpenSource{
			SourceLang:         cfg.SourceLang,
			DefaultTargetLangs: cfg.TargetLangs,
		}
	}
	rooms := make([]types.RoomMeta, 0, len(cfg.Schedule))
	for _, e := range cfg.Schedule {
		meta := types.RoomMeta{
			Slug:               e.Slug,
			SourceLang:         e.SourceLang,
			DefaultTargetLangs: e.TargetLangs,
			StartsAt:           e.StartsAt,
			EndsAt:             e.EndsAt,
		}
		if meta.SourceLang == "" {
			meta.SourceLang = cfg.SourceLang
		}
		if len(meta.DefaultTargetLangs) == 0 {
			meta.DefaultTargetLangs = cfg.TargetLangs
		}
		rooms = append(rooms, meta)
	}
	return server.NewStaticSource(rooms...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Babelroom — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Translator", cfg.Providers.Translator.Name, cfg.Providers.Translator.Model)
	printProvider("Fallback", cfg.Providers.TranslatorFallback.Name, cfg.Providers.TranslatorFallback.Model)
	printProvider("Synth", cfg.Providers.Synth.Name, cfg.Providers.Synth.Model)
	backend := "memory"
	if cfg.Store.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Store           : %-19s ║\n", backend)
	if len(cfg.Rooms.Schedule) > 0 {
		fmt.Printf("║  Scheduled rooms : %-19d ║\n", len(cfg.Rooms.Schedule))
	} else {
		fmt.Printf("║  Rooms           : %-19s ║\n", "open admission")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "noop"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
