package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/pkg/alert"
	"parley/pkg/alert/telegram"
	"parley/pkg/bus"
	"parley/pkg/bus/redisbus"
	"parley/pkg/config"
	"parley/pkg/dispatch"
	"parley/pkg/events"
	"parley/pkg/gateway"
	"parley/pkg/history"
	"parley/pkg/history/postgres"
	"parley/pkg/history/sqlite"
	"parley/pkg/interaction"
	"parley/pkg/logger"
	"parley/pkg/provider"
)

const connectTimeout = 10 * time.Second

// turnStore is what every history backend offers the commands.
type turnStore interface {
	history.TurnReader
	history.TurnWriter
	Close() error
}

// services holds the shared pieces every command builds from config.
type services struct {
	cfg       *config.Config
	log       *slog.Logger
	eventBus  bus.EventBus
	memoryBus *bus.MemoryBus
	redis     *redis.Client
	publisher *bus.Publisher
	store     turnStore
	checks    map[string]gateway.Check
}

func loadServices(ctx context.Context, component string) (*services, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", component)

	rt := &services{cfg: cfg, log: log, checks: map[string]gateway.Check{}}
	if err := rt.buildBus(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.buildStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *services) buildBus(ctx context.Context) error {
	switch rt.cfg.Bus.Backend {
	case config.BusRedis:
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		client, err := redisbus.Connect(connectCtx, rt.cfg.Bus.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect event bus: %w", err)
		}
		rt.redis = client
		rt.eventBus = redisbus.New(client, rt.cfg.Bus.Stream, rt.cfg.Bus.MaxLen)
		rt.checks["bus"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	default:
		rt.memoryBus = bus.NewMemoryBus()
		rt.eventBus = rt.memoryBus
	}

	rt.publisher = bus.NewPublisher(rt.eventBus, rt.log)
	rt.log.Debug("Event bus ready", "backend", rt.busBackend())
	return nil
}

func (rt *services) busBackend() string {
	if rt.redis != nil {
		return config.BusRedis
	}
	return config.BusMemory
}

func (rt *services) buildStore(ctx context.Context) error {
	switch rt.cfg.Storage.Backend {
	case config.StorageMemory:
		rt.store = history.NewMemoryStore()
	case config.StoragePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		store, err := postgres.New(connectCtx, rt.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		if err := store.Migrate(connectCtx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to migrate history store: %w", err)
		}
		rt.store = store
		rt.checks["storage"] = store.Ping
	default:
		store, err := sqlite.New(rt.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		rt.store = store
		rt.checks["storage"] = store.Ping
	}
	return nil
}

func (rt *services) newProcessor() (*interaction.Processor, error) {
	completer, err := provider.New(rt.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	assembler := history.NewAssembler(rt.store, rt.cfg.Context.MaxTurns, rt.log)
	return interaction.NewProcessor(rt.publisher, assembler, completer, interaction.Config{
		MaxTokens:   rt.cfg.Completion.MaxTokens,
		Temperature: rt.cfg.Completion.Temperature,
		Timeout:     time.Duration(rt.cfg.Completion.TimeoutSeconds) * time.Second,
		Debug:       rt.cfg.Completion.Debug,
	}, rt.log)
}

func (rt *services) newDispatcher() (*dispatch.Dispatcher, error) {
	threshold, err := events.ParseSeverity(rt.cfg.Alerts.MinSeverity)
	if err != nil {
		return nil, fmt.Errorf("invalid alert threshold: %w", err)
	}

	notifier, err := buildNotifier(rt.cfg.Alerts, rt.log)
	if err != nil {
		return nil, err
	}

	return dispatch.New(dispatch.Options{
		Alerter:   alert.NewAlerter(notifier, rt.log),
		Reporter:  rt.publisher,
		Threshold: threshold,
		Log:       rt.log,
	}), nil
}

// buildNotifier always logs alerts and also sends them to Telegram when
// that channel is enabled.
func buildNotifier(cfg config.AlertsConfig, log *slog.Logger) (alert.Notifier, error) {
	notifiers := alert.MultiNotifier{alert.NewLogNotifier(log)}

	if cfg.Telegram.Enabled {
		tg, err := telegram.NewNotifier(cfg.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram alerts: %w", err)
		}
		notifiers = append(notifiers, tg)
	}
	return notifiers, nil
}

// Close releases the bus and the store. It is safe on a partially built set.
func (rt *services) Close() {
	if rt.memoryBus != nil {
		rt.memoryBus.Close()
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.log.Warn("Failed to close redis client", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("Failed to close history store", "error", err)
		}
	}
}

// dispatchLocal feeds envelopes from the in-process bus to the dispatcher one
// at a time until the channel closes or ctx ends.
func dispatchLocal(ctx context.Context, envelopes <-chan bus.Envelope, handler *dispatch.Dispatcher, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-envelopes:
			if !ok {
				return
			}

			body, err := json.Marshal(envelope)
			if err != nil {
				log.Error("Failed to encode envelope for dispatch", "event_id", envelope.ID, "error", err)
				continue
			}

			if _, err := handler.HandleBatch(ctx, []dispatch.Record{{ID: envelope.ID, Body: body}}); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Error("Local dispatch failed", "event_id", envelope.ID, "error", err)
			}
		}
	}
}
