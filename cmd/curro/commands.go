// -----------------------------------------------------------------------
// CLI commands: serve, run, status, results, cancel, queue, history
// -----------------------------------------------------------------------

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/app"
	"github.com/ternarybob/curro/internal/common"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
	"github.com/ternarybob/curro/internal/server"
	badgerstorage "github.com/ternarybob/curro/internal/storage/badger"
	"github.com/ternarybob/curro/internal/strategies"
)

// paramFlags collects repeated -param key=value flags
type paramFlags map[string]interface{}

func (p paramFlags) String() string {
	return fmt.Sprintf("%v", map[string]interface{}(p))
}

func (p paramFlags) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	if !found || key == "" {
		return fmt.Errorf("parameter must be key=value, got %q", value)
	}
	p[key] = val
	return nil
}

// runCommand dispatches the selected subcommand
func runCommand(command string, args []string, config *common.Config) error {
	switch command {
	case "serve":
		return runServe(config)
	case "run":
		return runExecute(config, args)
	case "status":
		return runStatus(config, args)
	case "results":
		return runResults(config, args)
	case "cancel":
		return runCancel(config, args)
	case "queue":
		return runQueue(config)
	case "history":
		return runHistory(config, args)
	case "version":
		fmt.Printf("Curro version %s\n", common.GetFullVersion())
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe starts the tracking server, scheduler and WebSocket feed
func runServe(config *common.Config) error {
	// Initialize logger with final configuration
	logger := common.InitLogger(config)

	// Print banner
	common.PrintBanner(common.GetVersion())

	// Debug: log final resolved configuration for troubleshooting
	logger.Debug().
		Str("backend", config.Backend.BaseURL).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("log_file", common.GetLogFilePath(logger)).
		Msg("Application configuration loaded")

	// Initialize application
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	// Create shutdown channel for HTTP endpoint to trigger shutdown
	shutdownChan := make(chan struct{})

	// Create HTTP server
	srv := server.New(application)
	srv.SetShutdownChannel(shutdownChan)

	// Start server in goroutine
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Give goroutine a moment to start
	time.Sleep(100 * time.Millisecond)

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	// Wait for interrupt signal or HTTP shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP")
	}

	// Graceful shutdown
	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// runExecute submits a strategy execution, optionally watching progress
// until the run reaches a terminal state
func runExecute(config *common.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	strategy := fs.String("strategy", "", "Strategy code to execute (required)")
	tickers := fs.String("tickers", "", "Comma-separated ticker list (EXCHANGE:CODE or bare codes)")
	watch := fs.Bool("watch", false, "Stay attached and print progress until the run finishes")
	params := paramFlags{}
	fs.Var(&params, "param", "Strategy parameter as key=value (can be specified multiple times)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *strategy == "" {
		fs.Usage()
		return fmt.Errorf("-strategy is required")
	}

	// Scope logs for this submission; the backend run ID does not exist yet
	logger := quietLogger().WithCorrelationId(common.NewClientID())

	common.SetDefaultExchange(config.Markets.DefaultExchange)

	parameters := map[string]interface{}(params)
	if *tickers != "" {
		parsed := common.ParseTickers(strings.Split(*tickers, ","))
		parameters["tickers"] = common.TickerStrings(parsed)
	}

	req := &models.StrategyExecutionRequest{
		StrategyCode: *strategy,
		Parameters:   parameters,
	}

	client := newBackendClient(config, logger)
	ctx := context.Background()

	if !*watch {
		resp, err := client.Execute(ctx, req)
		if err != nil {
			return fmt.Errorf("submission failed: %w", err)
		}
		fmt.Printf("Run %s accepted (status: %s)\n", resp.RunID, resp.Status)
		if resp.Message != "" {
			fmt.Println(resp.Message)
		}
		return nil
	}

	// Watch mode tracks the run through the controller so progress frames
	// and status polls merge the same way the server merges them
	controller := strategies.NewController(client, nil, logger, config.Execution.MaxPollFailures)

	resp, err := controller.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}
	fmt.Printf("Run %s accepted (status: %s)\n", resp.RunID, resp.Status)

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := strategies.NewPoller(controller, config.Execution.PollIntervalDuration(), logger)
	common.SafeGoWithContext(watchCtx, logger, "watch-poller", func() {
		poller.Run(watchCtx)
	})

	if config.Execution.StreamEnabled {
		stream := strategies.NewStream(controller, client.BaseURL(), logger)
		common.SafeGoWithContext(watchCtx, logger, "watch-stream", func() {
			stream.Run(watchCtx)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case run := <-controller.Updates():
			printRunProgress(run)
			if run.IsTerminal() {
				fmt.Printf("Run %s finished: %s\n", run.RunID, run.State)
				return nil
			}
		case <-sigChan:
			fmt.Println("Watch interrupted; the run continues on the backend")
			return nil
		}
	}
}

// runStatus fetches backend status for a single run
func runStatus(config *common.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: curro status <run_id>")
	}

	client := newBackendClient(config, quietLogger())
	status, err := client.FetchStatus(context.Background(), args[0])
	if err != nil {
		return err
	}

	return printJSON(status)
}

// runResults fetches and pretty-prints results for a run
func runResults(config *common.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: curro results <run_id>")
	}

	client := newBackendClient(config, quietLogger())
	raw, err := client.FetchResults(context.Background(), args[0])
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// Not JSON, print as-is
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

// runCancel requests cancellation of a run
func runCancel(config *common.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: curro cancel <run_id>")
	}

	client := newBackendClient(config, quietLogger())
	resp, err := client.Cancel(context.Background(), args[0])
	if err != nil {
		return err
	}

	if resp.Cancelled {
		fmt.Printf("Run %s cancelled\n", args[0])
	} else {
		fmt.Printf("Run %s not cancelled: %s\n", args[0], resp.Message)
	}
	return nil
}

// runQueue shows the backend execution queue
func runQueue(config *common.Config) error {
	client := newBackendClient(config, quietLogger())
	queue, err := client.FetchQueue(context.Background())
	if err != nil {
		return err
	}

	return printJSON(queue)
}

// runHistory lists or shows locally recorded runs. Opens the Badger store
// directly, so it reports a lock error while the server holds the database.
func runHistory(config *common.Config, args []string) error {
	logger := quietLogger()

	db, err := badgerstorage.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open run history store (is the server running?): %w", err)
	}
	defer db.Close()

	storage := badgerstorage.NewRunStorage(db, logger)
	ctx := context.Background()

	if len(args) > 0 {
		record, err := storage.GetRecord(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(record)
	}

	records, err := storage.ListRecords(ctx, &interfaces.RunListOptions{Limit: 20})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}
	return printJSON(records)
}

// newBackendClient builds the backend client from config
func newBackendClient(config *common.Config, logger arbor.ILogger) *strategies.Client {
	return strategies.NewClient(
		strategies.WithBaseURL(config.Backend.BaseURL),
		strategies.WithTimeout(config.Backend.TimeoutDuration()),
		strategies.WithRateLimit(config.Backend.RateLimitDuration()),
		strategies.WithLogger(logger),
	)
}

// quietLogger keeps one-shot command output clean; warnings still surface
func quietLogger() arbor.ILogger {
	return arbor.NewLogger().WithLevelFromString("warn")
}

func printRunProgress(run models.Run) {
	line := fmt.Sprintf("[%s] %5.1f%%", run.State, run.ProgressPercent)
	if run.CurrentStage != "" {
		line += " " + run.CurrentStage
	}
	if run.CurrentItem != "" {
		line += " " + run.CurrentItem
	}
	if run.TotalItems > 0 {
		line += fmt.Sprintf(" (%d/%d)", run.CompletedItems, run.TotalItems)
	}
	if run.Message != "" {
		line += " " + run.Message
	}
	fmt.Println(line)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printUsage() {
	fmt.Println(`Usage: curro [flags] <command> [command flags]

Commands:
  serve                      Start the tracking server and scheduler (default)
  run -strategy <code>       Submit a strategy execution
      [-param key=value]     Strategy parameter (repeatable)
      [-tickers BHP,CBA]     Ticker universe override
      [-watch]               Stay attached until the run finishes
  status <run_id>            Fetch backend status for a run
  results <run_id>           Fetch results for a completed run
  cancel <run_id>            Request cancellation of a run
  queue                      Show the backend execution queue
  history [run_id]           List or show locally recorded runs
  version                    Print version information

Flags:
  -config, -c <path>         Configuration file (repeatable, later wins)
  -port, -p <port>           Server port override
  -host <host>               Server host override
  -version, -v               Print version information`)
}
