package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"chatroom/pkg/backend"
	"chatroom/pkg/config"
	"chatroom/pkg/logger"
	"chatroom/pkg/store"
	"chatroom/pkg/telemetry"
)

// app bundles what every command builds from the config file.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	telemetry *telemetry.Telemetry
	recorder  *telemetry.Recorder
	client    backend.Client
	store     store.Store
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadFile(path)
	}
	return config.LoadConfig()
}

// newApp loads config and wires logging, telemetry, the backend client and
// the session store. logSink replaces stderr when no log file is configured.
func newApp(ctx context.Context, component string, logSink io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logSink == nil {
		logSink = os.Stderr
	}
	writer, _ := logger.Writer(cfg.Logging, logSink)
	appLogger, err := logger.NewWithWriter(cfg.Logging, writer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", component)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	recorder, err := telemetry.NewRecorder(tel.Meter)
	if err != nil {
		_ = tel.Close(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	client, err := backend.New(cfg, backend.WithTracer(tel.Tracer), backend.WithRecorder(recorder))
	if err != nil {
		_ = tel.Close(ctx)
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	sessions, err := store.New(cfg.Store)
	if err != nil {
		_ = tel.Close(ctx)
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		telemetry: tel,
		recorder:  recorder,
		client:    client,
		store:     sessions,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(
		a.store.Close(),
		a.telemetry.Close(context.Background()),
	)
}

// resolveUser picks the backend user id for key: flag, then config, then store.
func (a *app) resolveUser(ctx context.Context, key string, flagValue string) (string, error) {
	explicit := strings.TrimSpace(flagValue)
	if explicit == "" {
		explicit = a.cfg.Session.UserID
	}
	return store.ResolveUserID(ctx, a.store, key, explicit)
}
