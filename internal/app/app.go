// -----------------------------------------------------------------------
// Application wiring: storage, event bus, backend client, tracking,
// schedules and HTTP handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/common"
	"github.com/ternarybob/curro/internal/events"
	"github.com/ternarybob/curro/internal/handlers"
	"github.com/ternarybob/curro/internal/history"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
	"github.com/ternarybob/curro/internal/scheduler"
	badgerstorage "github.com/ternarybob/curro/internal/storage/badger"
	"github.com/ternarybob/curro/internal/strategies"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Storage
	DB         *badgerstorage.BadgerDB
	RunStorage interfaces.RunStorage

	// Event-driven services
	EventService interfaces.EventService
	History      *history.Service
	Scheduler    *scheduler.Service

	// Backend client and run tracking
	Client     *strategies.Client
	Controller *strategies.Controller
	QueueView  *strategies.QueueView
	Poller     *strategies.Poller
	Stream     *strategies.Stream

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	RunHandler      *handlers.RunHandler
	QueueHandler    *handlers.QueueHandler
	HistoryHandler  *handlers.HistoryHandler
	ScheduleHandler *handlers.ScheduleHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Bare ticker codes in schedule parameters resolve against this exchange
	common.SetDefaultExchange(cfg.Markets.DefaultExchange)

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start background tracking AFTER all handlers are initialized so the
	// first poll cycle already has broadcast subscribers in place
	app.startBackground()

	logger.Info().
		Str("backend", cfg.Backend.BaseURL).
		Bool("stream_enabled", cfg.Execution.StreamEnabled).
		Int("schedules", len(cfg.Schedules)).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	db, err := badgerstorage.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger database: %w", err)
	}
	a.DB = db

	a.RunStorage = badgerstorage.NewRunStorage(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// RUN TRACKING ARCHITECTURE:
// 1. EventService - In-process bus carrying run/queue/schedule events
// 2. Client - HTTP client for the strategy execution backend
// 3. Controller - Single-run lifecycle state machine fed by poller and stream
// 4. QueueView - Cached backend queue snapshot, refreshed periodically
// 5. History - Persists terminal runs to Badger via the event bus
// 6. Scheduler - Cron-driven submissions through the controller
func (a *App) initServices() error {
	// 1. Event bus
	a.EventService = events.NewService(a.Logger)

	// Debug-level event trace, useful when diagnosing missed updates
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	// 2. Backend client
	a.Client = strategies.NewClient(
		strategies.WithBaseURL(a.Config.Backend.BaseURL),
		strategies.WithTimeout(a.Config.Backend.TimeoutDuration()),
		strategies.WithRateLimit(a.Config.Backend.RateLimitDuration()),
		strategies.WithLogger(a.Logger),
	)
	a.Logger.Debug().
		Str("base_url", a.Client.BaseURL()).
		Msg("Backend client initialized")

	// 3. Execution controller
	a.Controller = strategies.NewController(a.Client, a.EventService, a.Logger, a.Config.Execution.MaxPollFailures)

	// 4. Queue view
	a.QueueView = strategies.NewQueueView(a.Client, a.EventService, a.Logger)

	// 5. History service (subscribes itself to terminal run events)
	a.History = history.NewService(a.RunStorage, a.EventService, a.Logger)
	a.Logger.Debug().Msg("History service initialized")

	// Status poller drives the controller while a run is live
	a.Poller = strategies.NewPoller(a.Controller, a.Config.Execution.PollIntervalDuration(), a.Logger)

	// Progress stream supplements polling when the backend exposes one
	if a.Config.Execution.StreamEnabled {
		a.Stream = strategies.NewStream(a.Controller, a.Client.BaseURL(), a.Logger)
	}

	// 6. Scheduler with schedules from config
	a.Scheduler = scheduler.NewService(a.Controller, a.EventService, a.Logger)
	if err := a.registerSchedules(); err != nil {
		return err
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.Logger.Debug().Msg("Scheduler started")

	return nil
}

// registerSchedules loads the configured schedules into the scheduler,
// normalizing ticker parameters so downstream consumers see EXCHANGE:CODE
func (a *App) registerSchedules() error {
	for _, sc := range a.Config.Schedules {
		if !sc.Enabled {
			a.Logger.Info().
				Str("schedule", sc.Name).
				Msg("Schedule disabled, skipping")
			continue
		}

		params := sc.Parameters
		if raw, ok := params["tickers"]; ok {
			tickers := common.ParseTickersFromInterface(raw)
			params["tickers"] = common.TickerStrings(tickers)
		}

		req := models.StrategyExecutionRequest{
			StrategyCode: sc.Strategy,
			Parameters:   params,
		}

		if err := a.Scheduler.Register(sc.Name, sc.Cron, req); err != nil {
			return fmt.Errorf("failed to register schedule %s: %w", sc.Name, err)
		}
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()

	// The backend client doubles as the results fetcher
	a.RunHandler = handlers.NewRunHandler(a.Controller, a.Client, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.QueueView, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.History, a.Logger)
	a.ScheduleHandler = handlers.NewScheduleHandler(a.Scheduler, a.Logger)

	a.WSHandler = handlers.NewWebSocketHandler(a.Controller, a.QueueView, a.Logger)

	// Bridge bus events onto the WebSocket feed with config-driven filtering
	_ = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger, &a.Config.WebSocket)
	a.Logger.Debug().
		Int("allowed_events", len(a.Config.WebSocket.AllowedEvents)).
		Int("throttle_intervals", len(a.Config.WebSocket.ThrottleIntervals)).
		Msg("EventSubscriber initialized")

	return nil
}

// startBackground launches the poller, stream and queue refresh loops
func (a *App) startBackground() {
	a.ctx, a.cancelCtx = context.WithCancel(context.Background())

	common.SafeGoWithContext(a.ctx, a.Logger, "status-poller", func() {
		a.Poller.Run(a.ctx)
	})

	if a.Stream != nil {
		common.SafeGoWithContext(a.ctx, a.Logger, "progress-stream", func() {
			a.Stream.Run(a.ctx)
		})
	}

	common.SafeGoWithContext(a.ctx, a.Logger, "queue-refresh", func() {
		a.QueueView.RunPeriodic(a.ctx, a.Config.Execution.QueueRefreshDuration())
	})

	a.Logger.Debug().Msg("Background tracking started (poller, stream, queue refresh)")
}

// Close closes all application resources
func (a *App) Close() error {
	// Cancel background goroutines
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
		// Allow goroutines to finish gracefully
		time.Sleep(100 * time.Millisecond)
	}

	// Stop scheduler
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage last so terminal runs arriving during shutdown still persist
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
