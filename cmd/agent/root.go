package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pteprep/livevoice/pkg/audio/capture"
	"github.com/pteprep/livevoice/pkg/audio/playback"
	"github.com/pteprep/livevoice/pkg/config"
	"github.com/pteprep/livevoice/pkg/live"
	"github.com/pteprep/livevoice/pkg/metrics"
	"github.com/pteprep/livevoice/pkg/providers/gemini"
	"github.com/pteprep/livevoice/pkg/speaking"
	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	cfgFile  string
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Speaking practice with a live voice model",
	Long: `agent streams the microphone to a Gemini Live session and plays the
model's replies, speaks prompts through Gemini TTS and records timed answers
to WAV files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		setupLogging(cfg.Log.Level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// startMetrics serves /metrics when an address is configured. The returned
// function shuts the server and the provider down.
func startMetrics() (*metrics.Metrics, func(), error) {
	if cfg.Metrics.Addr == "" {
		return metrics.Discard(), func() {}, nil
	}
	handler, shutdown, err := metrics.InitPrometheus()
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", cfg.Metrics.Addr)

	return metrics.Default(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = shutdown(ctx)
	}, nil
}

// app is everything a command needs to talk to the model and the sound
// devices.
type app struct {
	studio   *speaking.Studio
	pipeline *capture.Pipeline
	gemini   *gemini.Client
	stop     func()
}

func newApp() (*app, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	met, stopMetrics, err := startMetrics()
	if err != nil {
		return nil, err
	}

	opts := []gemini.Option{
		gemini.WithModel(cfg.Gemini.LiveModel),
		gemini.WithInstructions(cfg.Gemini.Instructions),
		gemini.WithLogger(logger),
		gemini.WithMetrics(met),
	}
	if cfg.Gemini.TTSModel != "" {
		opts = append(opts, gemini.WithTTSModel(cfg.Gemini.TTSModel))
	}
	if cfg.Gemini.Voice != "" {
		opts = append(opts, gemini.WithVoice(cfg.Gemini.Voice))
	}
	if cfg.Gemini.LiveURL != "" {
		opts = append(opts, gemini.WithLiveURL(cfg.Gemini.LiveURL))
	}
	if cfg.Gemini.APIURL != "" {
		opts = append(opts, gemini.WithAPIURL(cfg.Gemini.APIURL))
	}
	client := gemini.New(cfg.Gemini.APIKey, opts...)

	capCfg := capture.DefaultConfig()
	capCfg.FrameSize = cfg.Audio.FrameSize
	capCfg.QueueSize = cfg.Audio.QueueSize
	pipeline := capture.NewPipeline(&capture.MalgoMicrophone{Logger: logger}, capCfg, logger)
	pipeline.SetMetrics(met)

	device := &playback.MalgoDevice{Logger: logger}
	session := live.NewSession(live.Config{
		Dialer:  client,
		Device:  device,
		Capture: pipeline,
		Logger:  logger,
		Metrics: met,
	})

	studio := speaking.NewStudio(speaking.Config{
		Live:       session,
		Capture:    pipeline,
		Device:     device,
		TTS:        client,
		Logger:     logger,
		RecordHint: cfg.Practice.RecordTime,
	})

	return &app{
		studio:   studio,
		pipeline: pipeline,
		gemini:   client,
		stop: func() {
			if err := studio.Close(); err != nil {
				logger.Warn("studio close", "error", err)
			}
			stopMetrics()
		},
	}, nil
}
