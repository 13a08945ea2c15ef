package strategies

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/curro/internal/models"
)

// fakeBackend scripts client responses for controller scenarios.
type fakeBackend struct {
	mu sync.Mutex

	executeResp *models.ExecutionResponse
	executeErr  error
	statusResp  *models.ExecutionStatus
	statusErr   error
	cancelResp  *models.CancelResponse
	cancelErr   error

	executeCalls int
	statusCalls  int
	cancelCalls  int

	statusEntered chan struct{}
	statusRelease chan struct{}
	cancelEntered chan struct{}
	cancelRelease chan struct{}
}

func (f *fakeBackend) Execute(ctx context.Context, req *models.StrategyExecutionRequest) (*models.ExecutionResponse, error) {
	f.mu.Lock()
	f.executeCalls++
	resp, err := f.executeResp, f.executeErr
	f.mu.Unlock()
	return resp, err
}

func (f *fakeBackend) FetchStatus(ctx context.Context, runID string) (*models.ExecutionStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	entered, release := f.statusEntered, f.statusRelease
	f.statusEntered = nil
	resp, err := f.statusResp, f.statusErr
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	return resp, err
}

func (f *fakeBackend) Cancel(ctx context.Context, runID string) (*models.CancelResponse, error) {
	f.mu.Lock()
	f.cancelCalls++
	entered, release := f.cancelEntered, f.cancelRelease
	f.cancelEntered = nil
	resp, err := f.cancelResp, f.cancelErr
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	return resp, err
}

func (f *fakeBackend) calls() (execute, status, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executeCalls, f.statusCalls, f.cancelCalls
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func queuedResponse(runID, strategy string, total int) *models.ExecutionResponse {
	return &models.ExecutionResponse{
		RunID:        runID,
		Status:       models.ExecutionStateQueued,
		StrategyCode: strategy,
		TotalTickers: total,
	}
}

func submitRun(t *testing.T, c *Controller, strategy string, params map[string]interface{}) {
	t.Helper()
	req := &models.StrategyExecutionRequest{StrategyCode: strategy, Parameters: params}
	if _, err := c.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
}

func TestSubmitTracksRun(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-1", "bullish_breakout", 500)}
	c := NewController(backend, nil, nil, 0)

	submitRun(t, c, "bullish_breakout", map[string]interface{}{"universe": "sp500"})

	run := c.Snapshot()
	if run.RunID != "run-1" {
		t.Errorf("RunID = %q, want %q", run.RunID, "run-1")
	}
	if run.State != models.ExecutionStateQueued {
		t.Errorf("State = %q, want %q", run.State, models.ExecutionStateQueued)
	}
	if !run.CanCancel {
		t.Error("expected a freshly queued run to be cancellable")
	}
	if run.TotalItems != 500 {
		t.Errorf("TotalItems = %d, want 500", run.TotalItems)
	}
}

func TestSubmitWhileActiveRejected(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-1", "bullish_breakout", 10)}
	c := NewController(backend, nil, nil, 0)

	submitRun(t, c, "bullish_breakout", nil)

	_, err := c.Submit(context.Background(), &models.StrategyExecutionRequest{StrategyCode: "mean_reversion"})
	if !IsStateNoOp(err) {
		t.Fatalf("expected StateError for submit while active, got %v", err)
	}

	execute, _, _ := backend.calls()
	if execute != 1 {
		t.Errorf("Execute calls = %d, want 1", execute)
	}
}

func TestSubmitServerErrorLeavesControllerIdle(t *testing.T) {
	backend := &fakeBackend{executeErr: &ServerError{StatusCode: 422, Message: "unknown strategy", Endpoint: "/strategies/execute"}}
	c := NewController(backend, nil, nil, 0)

	_, err := c.Submit(context.Background(), &models.StrategyExecutionRequest{StrategyCode: "nope"})
	if err == nil {
		t.Fatal("expected submission error")
	}
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %T", err)
	}

	if run := c.Snapshot(); !run.IsIdle() {
		t.Errorf("expected controller to stay idle after failed submission, state = %q", run.State)
	}
}

// Full happy path: started, halfway progress, a ticker result, completed.
func TestRunLifecycleToCompletion(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-9", "bullish_breakout", 500)}
	c := NewController(backend, nil, nil, 0)

	submitRun(t, c, "bullish_breakout", map[string]interface{}{"universe": "sp500"})

	c.ApplyEvent(&models.ProgressEvent{
		EventType: models.ProgressEventStarted,
		RunID:     "run-9",
		Message:   "Execution started",
	})
	if run := c.Snapshot(); run.State != models.ExecutionStateStarting {
		t.Fatalf("after started event State = %q, want starting", run.State)
	}

	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-9",
		Stage:           "scanning",
		ProgressPercent: floatPtr(50),
		CompletedItems:  intPtr(250),
		TotalItems:      intPtr(500),
		Message:         "Halfway there",
	})
	run := c.Snapshot()
	if run.State != models.ExecutionStateRunning {
		t.Fatalf("after progress event State = %q, want running", run.State)
	}
	if run.ProgressPercent != 50 {
		t.Errorf("ProgressPercent = %v, want 50", run.ProgressPercent)
	}

	c.ApplyEvent(&models.ProgressEvent{
		EventType:      models.ProgressEventTickerCompleted,
		RunID:          "run-9",
		CurrentItem:    "AAPL",
		CompletedItems: intPtr(251),
	})
	if run := c.Snapshot(); run.CurrentItem != "AAPL" {
		t.Errorf("CurrentItem = %q, want AAPL", run.CurrentItem)
	}

	c.ApplyEvent(&models.ProgressEvent{
		EventType: models.ProgressEventCompleted,
		RunID:     "run-9",
	})

	run = c.Snapshot()
	if run.State != models.ExecutionStateCompleted {
		t.Errorf("final State = %q, want completed", run.State)
	}
	if run.ProgressPercent != 100 {
		t.Errorf("final ProgressPercent = %v, want 100", run.ProgressPercent)
	}
	if run.CompletedItems != 500 {
		t.Errorf("final CompletedItems = %d, want 500", run.CompletedItems)
	}
	if run.CanCancel {
		t.Error("completed run must not be cancellable")
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-2", "momentum", 100)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	steps := []struct {
		completed int
		percent   float64
	}{
		{10, 10},
		{30, 30},
		{20, 20}, // out of order, must be discarded
		{30, 25}, // percent regression on same count, discarded
		{45, 45},
	}

	for _, step := range steps {
		c.ApplyEvent(&models.ProgressEvent{
			EventType:       models.ProgressEventProgress,
			RunID:           "run-2",
			ProgressPercent: floatPtr(step.percent),
			CompletedItems:  intPtr(step.completed),
		})
	}

	run := c.Snapshot()
	if run.CompletedItems != 45 {
		t.Errorf("CompletedItems = %d, want 45", run.CompletedItems)
	}
	if run.ProgressPercent != 45 {
		t.Errorf("ProgressPercent = %v, want 45", run.ProgressPercent)
	}
}

func TestDuplicateTerminalEventIsIdempotent(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-3", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	completed := &models.ProgressEvent{
		EventType: models.ProgressEventCompleted,
		RunID:     "run-3",
		Message:   "All done",
	}
	c.ApplyEvent(completed)
	first := c.Snapshot()

	c.ApplyEvent(completed)
	second := c.Snapshot()

	if second.State != models.ExecutionStateCompleted {
		t.Errorf("State = %q, want completed", second.State)
	}
	if first.CompletedAt == nil || second.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Error("duplicate terminal event must not re-transition the run")
	}
}

func TestEventForDifferentRunDiscarded(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-4", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-OLD",
		ProgressPercent: floatPtr(90),
	})

	run := c.Snapshot()
	if run.State != models.ExecutionStateQueued {
		t.Errorf("State = %q, want queued", run.State)
	}
	if run.ProgressPercent != 0 {
		t.Errorf("ProgressPercent = %v, want 0", run.ProgressPercent)
	}
}

func TestLateEventAfterErrorDiscarded(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-5", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{
		EventType: models.ProgressEventError,
		RunID:     "run-5",
		Message:   "Strategy blew up",
	})
	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-5",
		ProgressPercent: floatPtr(80),
	})

	run := c.Snapshot()
	if run.State != models.ExecutionStateError {
		t.Errorf("State = %q, want error", run.State)
	}
	if run.Message != "Strategy blew up" {
		t.Errorf("Message = %q, want the original failure", run.Message)
	}
}

func TestStatusFetchAdvancesRun(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-6", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	backend.mu.Lock()
	backend.statusResp = &models.ExecutionStatus{
		RunID:           "run-6",
		Status:          models.ExecutionStateRunning,
		ProgressPercent: floatPtr(20),
		CurrentStage:    "warmup",
		CanCancel:       true,
	}
	backend.mu.Unlock()

	if !c.Poll(context.Background()) {
		t.Fatal("expected Poll to act on an active run")
	}

	run := c.Snapshot()
	if run.State != models.ExecutionStateRunning {
		t.Errorf("State = %q, want running", run.State)
	}
	if run.CurrentStage != "warmup" {
		t.Errorf("CurrentStage = %q, want warmup", run.CurrentStage)
	}
}

func TestConcurrentPollsShareOneFetch(t *testing.T) {
	backend := &fakeBackend{
		executeResp:   queuedResponse("run-16", "momentum", 10),
		statusResp:    &models.ExecutionStatus{RunID: "run-16", Status: models.ExecutionStateRunning, CanCancel: true},
		statusEntered: make(chan struct{}),
		statusRelease: make(chan struct{}),
	}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	firstDone := make(chan bool, 1)
	go func() {
		firstDone <- c.Poll(context.Background())
	}()

	<-backend.statusEntered

	// Polls arriving while a fetch is in flight return without a second
	// backend call.
	for i := 0; i < 3; i++ {
		if !c.Poll(context.Background()) {
			t.Fatal("expected overlapping Poll to report an active run")
		}
	}

	close(backend.statusRelease)
	if !<-firstDone {
		t.Fatal("expected the blocking Poll to report an active run")
	}

	_, statuses, _ := backend.calls()
	if statuses != 1 {
		t.Errorf("FetchStatus calls = %d, want 1", statuses)
	}
}

func TestRetryBudgetExhaustionFailsRun(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-7", "momentum", 10)}
	c := NewController(backend, nil, nil, 3)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-7",
		Stage:           "scanning",
		ProgressPercent: floatPtr(40),
		CompletedItems:  intPtr(4),
	})

	backend.mu.Lock()
	backend.statusErr = &ServerError{StatusCode: 500, Message: "internal error", Endpoint: "/strategies/status/run-7"}
	backend.mu.Unlock()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if run := c.Snapshot(); run.IsTerminal() {
			t.Fatalf("run terminal after %d failures, budget is 3", i)
		}
		c.Poll(ctx)
	}

	run := c.Snapshot()
	if run.State != models.ExecutionStateError {
		t.Fatalf("State = %q, want error after budget exhaustion", run.State)
	}
	if run.RunID != "run-7" {
		t.Errorf("RunID = %q, want run-7 preserved", run.RunID)
	}
	if run.ProgressPercent != 40 || run.CurrentStage != "scanning" {
		t.Errorf("watermark not frozen: percent %v stage %q", run.ProgressPercent, run.CurrentStage)
	}
	if !strings.Contains(run.Message, "500") {
		t.Errorf("Message = %q, want the server status mentioned", run.Message)
	}
}

func TestPollSuccessResetsRetryBudget(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-8", "momentum", 10)}
	c := NewController(backend, nil, nil, 3)
	submitRun(t, c, "momentum", nil)

	ctx := context.Background()

	backend.mu.Lock()
	backend.statusErr = &TransportError{Endpoint: "/strategies/status/run-8", Err: errors.New("connection refused")}
	backend.mu.Unlock()
	c.Poll(ctx)
	c.Poll(ctx)

	backend.mu.Lock()
	backend.statusErr = nil
	backend.statusResp = &models.ExecutionStatus{RunID: "run-8", Status: models.ExecutionStateRunning, CanCancel: true}
	backend.mu.Unlock()
	c.Poll(ctx)

	backend.mu.Lock()
	backend.statusErr = &TransportError{Endpoint: "/strategies/status/run-8", Err: errors.New("connection refused")}
	backend.mu.Unlock()
	c.Poll(ctx)
	c.Poll(ctx)

	if run := c.Snapshot(); run.IsTerminal() {
		t.Errorf("State = %q, want non-terminal: successful poll must reset the failure budget", run.State)
	}
}

func TestCancelDedupSingleBackendCall(t *testing.T) {
	backend := &fakeBackend{
		executeResp:   queuedResponse("run-10", "momentum", 10),
		cancelResp:    &models.CancelResponse{Cancelled: true, Message: "Cancellation requested"},
		cancelEntered: make(chan struct{}),
		cancelRelease: make(chan struct{}),
	}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.RequestCancel(context.Background())
		firstDone <- err
	}()

	<-backend.cancelEntered

	// Second cancel while the first is still in flight must not reach the
	// backend.
	_, err := c.RequestCancel(context.Background())
	if !IsStateNoOp(err) {
		t.Fatalf("expected StateError for duplicate cancel, got %v", err)
	}

	close(backend.cancelRelease)
	if err := <-firstDone; err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	_, _, cancels := backend.calls()
	if cancels != 1 {
		t.Errorf("Cancel calls = %d, want 1", cancels)
	}
	if run := c.Snapshot(); run.State != models.ExecutionStateCancelled {
		t.Errorf("State = %q, want cancelled", run.State)
	}
}

func TestCancelOnTerminalRunMakesNoCall(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-11", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{EventType: models.ProgressEventCompleted, RunID: "run-11"})

	_, err := c.RequestCancel(context.Background())
	if !IsStateNoOp(err) {
		t.Fatalf("expected StateError for cancel on terminal run, got %v", err)
	}

	_, _, cancels := backend.calls()
	if cancels != 0 {
		t.Errorf("Cancel calls = %d, want 0", cancels)
	}
}

func TestDeclinedCancelConvergesOnBackendState(t *testing.T) {
	backend := &fakeBackend{
		executeResp: queuedResponse("run-12", "momentum", 10),
		cancelResp:  &models.CancelResponse{Cancelled: false, Message: "Run already completed"},
		statusResp:  &models.ExecutionStatus{RunID: "run-12", Status: models.ExecutionStateCompleted},
	}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-12",
		ProgressPercent: floatPtr(95),
	})

	resp, err := c.RequestCancel(context.Background())
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if resp.Cancelled {
		t.Fatal("backend declined, response should say so")
	}

	run := c.Snapshot()
	if run.State == models.ExecutionStateCancelled {
		t.Error("declined cancel must not force a local cancelled state")
	}
	if run.State != models.ExecutionStateCompleted {
		t.Errorf("State = %q, want completed from the status re-fetch", run.State)
	}

	_, statuses, _ := backend.calls()
	if statuses == 0 {
		t.Error("expected a status re-fetch after the declined cancel")
	}
}

func TestCancelBlockedWhenBackendSaysNotCancellable(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-13", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	backend.mu.Lock()
	backend.statusResp = &models.ExecutionStatus{
		RunID:     "run-13",
		Status:    models.ExecutionStateCompleting,
		CanCancel: false,
	}
	backend.mu.Unlock()
	c.Poll(context.Background())

	_, err := c.RequestCancel(context.Background())
	if !IsStateNoOp(err) {
		t.Fatalf("expected StateError when can_cancel is false, got %v", err)
	}

	_, _, cancels := backend.calls()
	if cancels != 0 {
		t.Errorf("Cancel calls = %d, want 0", cancels)
	}
}

func TestUpdatesChannelCarriesSnapshots(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-14", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyEvent(&models.ProgressEvent{
		EventType:       models.ProgressEventProgress,
		RunID:           "run-14",
		ProgressPercent: floatPtr(10),
	})

	deadline := time.After(2 * time.Second)
	sawQueued := false
	sawRunning := false
	for !sawRunning {
		select {
		case run := <-c.Updates():
			switch run.State {
			case models.ExecutionStateQueued:
				sawQueued = true
			case models.ExecutionStateRunning:
				sawRunning = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for run snapshots on Updates()")
		}
	}
	if !sawQueued {
		t.Error("expected the queued snapshot before the running one")
	}
}

func TestStatusForStaleRunDiscarded(t *testing.T) {
	backend := &fakeBackend{executeResp: queuedResponse("run-15", "momentum", 10)}
	c := NewController(backend, nil, nil, 0)
	submitRun(t, c, "momentum", nil)

	c.ApplyStatus(&models.ExecutionStatus{
		RunID:  "run-ANCIENT",
		Status: models.ExecutionStateError,
	})

	if run := c.Snapshot(); run.State != models.ExecutionStateQueued {
		t.Errorf("State = %q, want queued: stale-run status must be discarded", run.State)
	}
}
