package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

// MaxAttempts bounds how often a stage with a transient failure is run.
const MaxAttempts = 3

const (
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	subscriberBuffer   = 64
)

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrUnknownKind    = errors.New("unknown pipeline kind")
)

var log = logging.For("pipeline")

// Outcome is the per-attempt result of a stage.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetry            Outcome = "retry"
	OutcomePermanentFailure Outcome = "permanent_failure"
	OutcomeCancelled        Outcome = "cancelled"
)

// Progress is one event of a run. Events with an empty Outcome are percent
// updates; the others close a stage attempt.
type Progress struct {
	RunID   string  `json:"runId"`
	Stage   string  `json:"stage"`
	Label   string  `json:"label"`
	Percent int     `json:"percent"`
	Outcome Outcome `json:"outcome,omitempty"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID       string    `json:"runId"`
	Kind        Kind      `json:"kind"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Result      string    `json:"result"`
	FailedStage string    `json:"failedStage,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Status is a snapshot of the orchestrator. After a run ends the stage fields
// keep the last reported state.
type Status struct {
	Active  bool        `json:"active"`
	RunID   string      `json:"runId,omitempty"`
	Kind    Kind        `json:"kind,omitempty"`
	Stage   string      `json:"stage,omitempty"`
	Label   string      `json:"label,omitempty"`
	Percent int         `json:"percent"`
	LastRun *RunSummary `json:"lastRun,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// LockPath, when set, names a lock file held for the duration of a run
	// so that only one process runs the pipeline against a data directory.
	LockPath string

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Orchestrator runs pipeline stages in order, one run at a time.
type Orchestrator struct {
	stages      map[string]Stage
	lock        *flock.Flock
	baseBackoff time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	running atomic.Bool

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[int]chan Progress
	nextSub int
}

// New creates an orchestrator over the given stages. Stages missing from a
// kind's plan are skipped.
func New(stages []Stage, opts Options) *Orchestrator {
	o := &Orchestrator{
		stages:      make(map[string]Stage, len(stages)),
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sleep:       sleepContext,
		subs:        make(map[int]chan Progress),
	}
	if o.baseBackoff <= 0 {
		o.baseBackoff = defaultBaseBackoff
	}
	if o.maxBackoff <= 0 {
		o.maxBackoff = defaultMaxBackoff
	}
	if opts.LockPath != "" {
		o.lock = flock.New(opts.LockPath)
	}
	for _, s := range stages {
		o.stages[s.Name()] = s
	}
	return o
}

// Start launches a run in the background. A request while a run is active
// is dropped and reports started=false.
func (o *Orchestrator) Start(kind Kind) (runID string, started bool) {
	runID, ctx, err := o.begin(context.Background(), kind)
	if err != nil {
		log.Info("Not starting %s: %v", kind, err)
		return "", false
	}
	go func() {
		_, _ = o.execute(ctx, runID, kind)
	}()
	return runID, true
}

// Run executes a run synchronously. It returns ErrAlreadyRunning when
// another run holds the orchestrator or the lock file.
func (o *Orchestrator) Run(ctx context.Context, kind Kind) (RunSummary, error) {
	runID, ctx, err := o.begin(ctx, kind)
	if err != nil {
		return RunSummary{}, err
	}
	return o.execute(ctx, runID, kind)
}

// Cancel cancels the active run. It reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a run is active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Status returns the latest snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Subscribe returns a channel of progress events and a function that
// unsubscribes and closes it. Slow subscribers miss events.
func (o *Orchestrator) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) begin(parent context.Context, kind Kind) (string, context.Context, error) {
	if kind.Stages() == nil {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !o.running.CompareAndSwap(false, true) {
		metrics.PipelineRequestsDropped.WithLabelValues(string(kind)).Inc()
		return "", nil, ErrAlreadyRunning
	}
	if o.lock != nil {
		locked, err := o.lock.TryLock()
		if err != nil || !locked {
			o.running.Store(false)
			metrics.PipelineRequestsDropped.WithLabelValues(string(kind)).Inc()
			if err != nil {
				return "", nil, fmt.Errorf("acquire pipeline lock %s: %w", o.lock.Path(), err)
			}
			return "", nil, fmt.Errorf("%w: lock %s held by another process", ErrAlreadyRunning, o.lock.Path())
		}
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	o.mu.Lock()
	o.cancel = cancel
	o.done = make(chan struct{})
	o.status = Status{Active: true, RunID: runID, Kind: kind, LastRun: o.status.LastRun}
	o.mu.Unlock()

	metrics.PipelineRunning.Set(1)
	return runID, ctx, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, kind Kind) (RunSummary, error) {
	summary := RunSummary{RunID: runID, Kind: kind, StartedAt: time.Now()}
	log.Info("Run %s (%s) started", runID, kind)

	var runErr error
	for _, name := range kind.Stages() {
		stage, ok := o.stages[name]
		if !ok {
			log.Debug("Stage %s not configured, skipping", name)
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			summary.FailedStage = name
			break
		}
		if err := o.runStage(ctx, runID, stage); err != nil {
			runErr = err
			summary.FailedStage = name
			break
		}
	}

	summary.FinishedAt = time.Now()
	switch {
	case runErr == nil:
		summary.Result = "success"
	case ctx.Err() != nil || faults.Classify(runErr) == faults.KindCancelled:
		summary.Result = "cancelled"
		summary.Error = runErr.Error()
	default:
		summary.Result = "failed"
		summary.Error = runErr.Error()
	}
	metrics.PipelineRunsTotal.WithLabelValues(string(kind), summary.Result).Inc()
	log.Info("Run %s (%s) finished: %s in %v", runID, kind, summary.Result, summary.FinishedAt.Sub(summary.StartedAt))

	o.finish(summary)
	return summary, runErr
}

func (o *Orchestrator) runStage(ctx context.Context, runID string, stage Stage) error {
	name, label := stage.Name(), stage.Label()

	o.mu.Lock()
	o.status.Stage, o.status.Label, o.status.Percent = name, label, 0
	o.mu.Unlock()
	metrics.StageProgress.WithLabelValues(name).Set(0)

	report := func(percent int) { o.report(runID, name, label, percent) }

	backoff := o.baseBackoff
	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := stage.Run(ctx, report)
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

		outcome := outcomeOf(ctx, err, attempt)
		metrics.StageOutcomesTotal.WithLabelValues(name, string(outcome)).Inc()
		o.publishOutcome(runID, name, label, outcome)

		switch outcome {
		case OutcomeSuccess:
			log.Info("Stage %s finished in %v", name, time.Since(started))
			return nil
		case OutcomeRetry:
			log.Warn("Stage %s attempt %d/%d failed, retrying in %v: %v", name, attempt, MaxAttempts, backoff, err)
			if serr := o.sleep(ctx, backoff); serr != nil {
				o.publishOutcome(runID, name, label, OutcomeCancelled)
				return serr
			}
			backoff = min(backoff*2, o.maxBackoff)
		case OutcomeCancelled:
			log.Info("Stage %s cancelled", name)
			return err
		default:
			log.Error("Stage %s failed: %v", name, err)
			return err
		}
	}
}

func outcomeOf(ctx context.Context, err error, attempt int) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil || faults.Classify(err) == faults.KindCancelled:
		return OutcomeCancelled
	case faults.Retryable(err) && attempt < MaxAttempts:
		return OutcomeRetry
	}
	return OutcomePermanentFailure
}

// report forwards a stage percentage, dropping regressions and repeats.
func (o *Orchestrator) report(runID, stage, label string, percent int) {
	percent = max(0, min(percent, 100))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.RunID != runID || o.status.Stage != stage || percent <= o.status.Percent {
		return
	}
	o.status.Percent = percent
	metrics.StageProgress.WithLabelValues(stage).Set(float64(percent))
	o.publishLocked(Progress{RunID: runID, Stage: stage, Label: label, Percent: percent})
}

func (o *Orchestrator) publishOutcome(runID, stage, label string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked(Progress{RunID: runID, Stage: stage, Label: label, Percent: o.status.Percent, Outcome: outcome})
}

func (o *Orchestrator) publishLocked(p Progress) {
	for _, ch := range o.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (o *Orchestrator) finish(summary RunSummary) {
	o.mu.Lock()
	o.status.Active = false
	o.status.LastRun = &summary
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	if o.lock != nil {
		if err := o.lock.Unlock(); err != nil {
			log.Warn("Failed to release pipeline lock: %v", err)
		}
	}
	metrics.PipelineRunning.Set(0)
	o.running.Store(false)
	close(done)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
