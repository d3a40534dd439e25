// Package engine executes validated command sequences against the vehicle
// link, one command at a time, enforcing timeout, retry, and failsafe policy
// while keeping execution status observable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/pkg/metrics"
	"github.com/flightdeck-io/flightdeck/pkg/log"
)

// Mode is the submission-time queue admission policy.
type Mode string

const (
	// ModeAppend adds the sequence after all queued and in-flight work.
	ModeAppend Mode = "append"

	// ModeOverride discards queued work and cancels the in-flight command;
	// the new sequence replaces the queue.
	ModeOverride Mode = "override"
)

// ParseMode validates a submission mode string. Empty defaults to append.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAppend, "":
		return ModeAppend, nil
	case ModeOverride:
		return ModeOverride, nil
	default:
		return "", fmt.Errorf("unknown queue mode %q", s)
	}
}

// Request is one raw command descriptor within a submission.
type Request struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Submission is the synchronous result of an admitted submission.
type Submission struct {
	ID          string   `json:"submissionId"`
	InstanceIDs []string `json:"instanceIds"`
}

// StatusView is the externally visible engine state.
type StatusView struct {
	QueueLength int   `json:"queueLength"`
	Current     *View `json:"current,omitempty"`
}

// Config assembles an engine's collaborators and policy knobs.
type Config struct {
	Registry    *command.Registry
	Backend     backend.Backend
	BackendKind string
	Telemetry   command.TelemetryReader

	// QueueDepth bounds the number of pending instances.
	QueueDepth int

	// CancelGrace bounds how long a cancelled or timed-out handler gets to
	// acknowledge before the record is force-finalized.
	CancelGrace time.Duration

	// StopTimeout bounds the failsafe and emergency-stop backend calls.
	StopTimeout time.Duration

	// HistorySize bounds the number of retained finalized records.
	HistorySize int
}

// Engine owns the execution queue, the per-command state machine, and the
// record history for one vehicle.
type Engine struct {
	reg         *command.Registry
	backend     backend.Backend
	backendKind string
	telemetry   command.TelemetryReader
	queue       *Queue
	grace       time.Duration
	stopTimeout time.Duration
	historySize int
	logger      log.Logger

	// subMu serializes check-and-admit across concurrent submissions so the
	// precondition walk sees the queue it will actually be admitted into.
	subMu sync.Mutex

	mu        sync.Mutex
	records   map[string]*Record
	order     []string
	current   *Record
	cancelRun context.CancelFunc
	cancelReq *atomic.Bool
	hooks     []func(View)

	wake chan struct{}
}

// New creates an engine. Run must be called before submissions execute.
func New(cfg Config) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	return &Engine{
		reg:         cfg.Registry,
		backend:     cfg.Backend,
		backendKind: cfg.BackendKind,
		telemetry:   cfg.Telemetry,
		queue:       NewQueue(cfg.QueueDepth),
		grace:       cfg.CancelGrace,
		stopTimeout: cfg.StopTimeout,
		historySize: cfg.HistorySize,
		logger:      log.WithName("engine"),
		records:     make(map[string]*Record),
		wake:        make(chan struct{}, 1),
	}
}

// OnTransition registers a hook called on every record status transition
// (start and finalization). Hooks run on the engine goroutine and must not
// block; slow consumers buffer internally.
func (e *Engine) OnTransition(fn func(View)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Submit validates the sequence, admits it per mode, and returns immediately.
// Validation and admission errors never create execution records.
func (e *Engine) Submit(ctx context.Context, reqs []Request, mode Mode) (*Submission, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("submission must contain at least one command")
	}

	subID := uuid.NewString()
	insts := make([]*command.Instance, 0, len(reqs))
	for i, req := range reqs {
		spec, ok := e.reg.Get(req.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", command.ErrUnknownCommand, req.Name)
		}
		if !spec.SupportsBackend(e.backendKind) {
			return nil, &command.ValidationError{
				Command:    req.Name,
				Field:      "supported_backends",
				Constraint: fmt.Sprintf("does not include backend %q", e.backendKind),
			}
		}

		inst, err := e.reg.Resolve(req.Name, req.Params)
		if err != nil {
			return nil, err
		}
		inst.SubmissionID = subID
		inst.Seq = i
		insts = append(insts, inst)
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()

	if err := e.checkPreconditions(ctx, insts, mode); err != nil {
		return nil, err
	}

	switch mode {
	case ModeAppend:
		if err := e.queue.Append(insts); err != nil {
			return nil, err
		}
	case ModeOverride:
		if err := e.replaceAndCancel(insts); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown queue mode %q", mode)
	}

	e.logger.Info("Submission admitted", "submissionID", subID, "mode", string(mode), "commands", len(insts))
	e.wakeWorker()

	ids := make([]string, len(insts))
	for i, inst := range insts {
		ids[i] = inst.ID
	}
	return &Submission{ID: subID, InstanceIDs: ids}, nil
}

// checkPreconditions walks the sequence against the vehicle state it would
// run in, applying each command's established state so orderings like
// [takeoff, goto] admit even while the vehicle is still on the ground.
func (e *Engine) checkPreconditions(ctx context.Context, insts []*command.Instance, mode Mode) error {
	state := e.admissionState(ctx)

	if mode == ModeAppend {
		// Queued and in-flight work runs first; fold in what it establishes.
		e.mu.Lock()
		cur := e.current
		e.mu.Unlock()
		if cur != nil {
			if spec, ok := e.reg.Get(cur.inst.Name); ok && spec.Establishes != "" {
				state = spec.Establishes
			}
		}
		for _, pending := range e.queue.Pending() {
			if spec, ok := e.reg.Get(pending.Name); ok && spec.Establishes != "" {
				state = spec.Establishes
			}
		}
	}

	for _, inst := range insts {
		spec, ok := e.reg.Get(inst.Name)
		if !ok {
			return fmt.Errorf("%w: %s", command.ErrUnknownCommand, inst.Name)
		}
		if len(spec.Requires) > 0 && !stateIn(state, spec.Requires) {
			return &PreconditionError{Command: inst.Name, State: state}
		}
		if spec.Establishes != "" {
			state = spec.Establishes
		}
	}
	return nil
}

// admissionState reads the cached vehicle state, falling back to one bounded
// backend query before treating the vehicle as disconnected.
func (e *Engine) admissionState(ctx context.Context) backend.VehicleState {
	if snap, _, ok := e.telemetry.Latest(); ok {
		return snap.State
	}

	stCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if state, err := e.backend.VehicleState(stCtx); err == nil {
		return state
	}
	return backend.StateDisconnected
}

func stateIn(state backend.VehicleState, set []backend.VehicleState) bool {
	for _, s := range set {
		if s == state {
			return true
		}
	}
	return false
}

// Cancel requests cancellation of the in-flight command without touching the
// queue. No-op when nothing is executing.
func (e *Engine) Cancel() {
	e.cancelCurrent()
}

func (e *Engine) cancelCurrent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelCurrentLocked()
}

func (e *Engine) cancelCurrentLocked() {
	if e.cancelReq != nil {
		e.cancelReq.Store(true)
	}
	if e.cancelRun != nil {
		e.cancelRun()
	}
}

// replaceAndCancel swaps the queue and cancels whichever command is executing
// at the instant of the swap. Holding mu across both steps keeps the worker
// from installing the replacement's first command before the cancellation
// lands, so an override can never cancel its own commands.
func (e *Engine) replaceAndCancel(insts []*command.Instance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.queue.Replace(insts); err != nil {
		return err
	}
	e.cancelCurrentLocked()
	return nil
}

// EmergencyStop bypasses the queue: pending work is discarded, the in-flight
// command is cancelled, and the backend's safest available stop action is
// invoked immediately.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.logger.Warn("Emergency stop requested")

	e.queue.Clear()
	e.cancelCurrent()

	stopCtx, cancel := context.WithTimeout(ctx, e.stopTimeout)
	defer cancel()

	if err := e.backend.Hold(stopCtx); err != nil {
		e.logger.Error(err, "Emergency hold failed, attempting land")
		if lerr := e.backend.Land(stopCtx); lerr != nil {
			// A vehicle on the ground rejects both maneuvers; the queue is
			// already cleared, so there is nothing left to stop.
			if st := e.admissionState(stopCtx); st != backend.StateFlying && st != backend.StateLanding {
				e.logger.Info("Emergency stop complete, vehicle already grounded", "state", string(st))
				return nil
			}
			return fmt.Errorf("emergency stop: hold failed (%v), land failed: %w", err, lerr)
		}
	}
	return nil
}

// Status returns the queue length and the in-flight record, if any.
func (e *Engine) Status() StatusView {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	st := StatusView{QueueLength: e.queue.Len()}
	if cur != nil {
		v := cur.view()
		st.Current = &v
	}
	return st
}

// Record returns the record with the given instance ID.
func (e *Engine) Record(id string) (View, error) {
	e.mu.Lock()
	rec, ok := e.records[id]
	e.mu.Unlock()
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.view(), nil
}

// Records returns retained records, oldest first.
func (e *Engine) Records() []View {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]View, 0, len(e.order))
	for _, id := range e.order {
		if rec, ok := e.records[id]; ok {
			views = append(views, rec.view())
		}
	}
	return views
}

// Run drains the queue until ctx is done. It is the only goroutine that
// executes commands, which is what guarantees at most one executing record.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Execution engine started", "backend", e.backendKind)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Execution engine stopped")
			return nil
		case <-e.wake:
		}

		for ctx.Err() == nil {
			inst := e.queue.Pop()
			if inst == nil {
				break
			}
			e.execute(ctx, inst)
		}
	}
}

func (e *Engine) wakeWorker() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

type attemptResult struct {
	res *command.Result
	err error
}

// execute runs one instance through the record state machine, applying
// timeout, retry, and failsafe policy.
func (e *Engine) execute(ctx context.Context, inst *command.Instance) {
	rec := newRecord(inst)
	e.track(rec)

	spec, ok := e.reg.Get(inst.Name)
	if !ok {
		// Spec disappeared in a hot reload between admission and dequeue.
		_ = rec.transition(eventStart)
		rec.setError(CodeInternal, fmt.Sprintf("command spec %s no longer registered", inst.Name))
		_ = rec.transition(eventFail)
		e.finalize(rec)
		return
	}

	cancelled := &atomic.Bool{}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	e.mu.Lock()
	e.current = rec
	e.cancelRun = cancelRun
	e.cancelReq = cancelled
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.current = nil
		e.cancelRun = nil
		e.cancelReq = nil
		e.mu.Unlock()
	}()

	if err := rec.transition(eventStart); err != nil {
		e.logger.Error(err, "Record refused start transition", "id", inst.ID)
		return
	}
	e.notify(rec)
	e.logger.Info("Executing command", "command", inst.Name, "id", inst.ID, "submissionID", inst.SubmissionID)

	maxAttempts := spec.MaxRetries + 1
	var finalErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec.markAttempt()

		err := e.runAttempt(runCtx, spec, rec, cancelled)
		if err == nil {
			_ = rec.transition(eventComplete)
			e.finalize(rec)
			return
		}

		if cancelled.Load() || errors.Is(err, ErrCancelled) || (ctx.Err() != nil && runCtx.Err() == context.Canceled) {
			// Retries are never applied to cancellation.
			rec.setError(CodeCancelled, ErrCancelled.Error())
			_ = rec.transition(eventCancel)
			e.finalize(rec)
			return
		}

		finalErr = err
		if spec.Critical && spec.FailsafePolicy == command.FailsafeImmediate {
			break
		}
		if attempt < maxAttempts {
			e.logger.Warn("Command attempt failed, retrying",
				"command", inst.Name, "attempt", attempt, "maxAttempts", maxAttempts, "err", err)
		}
	}

	rec.setError(classify(finalErr), finalErr.Error())

	if spec.Critical && spec.Failsafe != command.FailsafeNone {
		failed := e.runFailsafe(spec)
		rec.markFailsafe(spec.Failsafe, failed)
		if failed {
			// The vehicle may be in an unresolved hazardous state; do not
			// continue into the queued work.
			e.logger.Error(nil, "Failsafe action failed, discarding queued commands",
				"command", inst.Name, "failsafe", string(spec.Failsafe))
			e.queue.Clear()
		}
	}

	_ = rec.transition(eventFail)
	e.finalize(rec)
}

// runAttempt races the handler against its declared timeout. The loser's
// in-flight backend call is not assumed abortable; critical failures go
// through the failsafe path which issues an explicit safe stop.
func (e *Engine) runAttempt(parent context.Context, spec *command.Spec, rec *Record, cancelled *atomic.Bool) error {
	ctx, cancel := context.WithTimeout(parent, spec.Timeout)
	defer cancel()

	env := command.Env{
		Backend:   e.backend,
		Telemetry: e.telemetry,
		Report:    rec.reportProgress,
	}

	done := make(chan attemptResult, 1)
	go func() {
		res, err := spec.Factory().Execute(ctx, env, rec.inst.Params)
		done <- attemptResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		return e.settleAttempt(ctx, rec, cancelled, out)

	case <-ctx.Done():
		// Give the handler a bounded grace period to acknowledge, then
		// force-finalize regardless.
		grace := time.NewTimer(e.grace)
		defer grace.Stop()

		select {
		case out := <-done:
			return e.settleAttempt(ctx, rec, cancelled, out)
		case <-grace.C:
			e.logger.Warn("Handler did not acknowledge within grace period, force-finalizing",
				"command", rec.inst.Name, "grace", e.grace)
		}

		if cancelled.Load() {
			return ErrCancelled
		}
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: no result within %s", ErrTimeout, spec.Timeout)
		}
		return ErrCancelled
	}
}

// settleAttempt interprets a handler return, accounting for a deadline or
// cancellation that fired while the handler was finishing.
func (e *Engine) settleAttempt(ctx context.Context, rec *Record, cancelled *atomic.Bool, out attemptResult) error {
	if out.err != nil {
		if cancelled.Load() {
			return ErrCancelled
		}
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %v", ErrTimeout, out.err)
		}
		return out.err
	}

	if cancelled.Load() {
		return ErrCancelled
	}

	if out.res != nil {
		rec.setResult(out.res)
	} else {
		rec.setResult(&command.Result{Success: true})
	}
	return nil
}

// runFailsafe invokes the spec's failsafe action once, on a fresh context.
// Best effort: a failure is reported but never retried and never cascades
// into a second failsafe. Returns true if the action failed.
func (e *Engine) runFailsafe(spec *command.Spec) bool {
	e.logger.Warn("Triggering failsafe", "command", spec.Name, "action", string(spec.Failsafe))
	metrics.FailsafeTriggered.WithLabelValues(string(spec.Failsafe)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	defer cancel()

	var err error
	switch spec.Failsafe {
	case command.FailsafeLand:
		err = e.backend.Land(ctx)
	case command.FailsafeHold:
		err = e.backend.Hold(ctx)
	case command.FailsafeEmergencyStop:
		if err = e.backend.Hold(ctx); err != nil {
			err = e.backend.Land(ctx)
		}
	default:
		return false
	}

	if err != nil {
		e.logger.Error(err, "Failsafe action failed", "action", string(spec.Failsafe))
		return true
	}
	return false
}

// finalize records metrics and fans out the terminal view.
func (e *Engine) finalize(rec *Record) {
	v := rec.view()

	metrics.CommandsTotal.WithLabelValues(v.Name, string(v.Status)).Inc()
	if v.StartedAt != nil && v.EndedAt != nil {
		metrics.CommandDuration.WithLabelValues(v.Name).Observe(v.EndedAt.Sub(*v.StartedAt).Seconds())
	}

	switch v.Status {
	case StatusCompleted:
		e.logger.Info("Command completed", "command", v.Name, "id", v.ID, "attempts", v.Attempts)
	case StatusCancelled:
		e.logger.Info("Command cancelled", "command", v.Name, "id", v.ID)
	default:
		e.logger.Warn("Command failed", "command", v.Name, "id", v.ID,
			"code", v.Error.Code, "message", v.Error.Message, "attempts", v.Attempts)
	}

	e.notify(rec)
}

// notify runs transition hooks on the engine goroutine.
func (e *Engine) notify(rec *Record) {
	v := rec.view()

	e.mu.Lock()
	hooks := append([]func(View){}, e.hooks...)
	e.mu.Unlock()

	for _, fn := range hooks {
		fn(v)
	}
}

// track registers the record and evicts the oldest beyond capacity.
func (e *Engine) track(rec *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records[rec.inst.ID] = rec
	e.order = append(e.order, rec.inst.ID)
	for len(e.order) > e.historySize {
		evicted := e.order[0]
		e.order = e.order[1:]
		delete(e.records, evicted)
	}
}

// QueueLen returns the number of pending instances.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}
