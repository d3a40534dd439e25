package engine

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/flightdeck-io/flightdeck/internal/command"
	fsmutil "github.com/flightdeck-io/flightdeck/internal/pkg/util/fsm"
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// State machine events. Transitions not listed here are rejected by the FSM,
// which is what keeps a finalized record finalized.
const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
	eventCancel   = "cancel"
)

// Record wraps a command instance with mutable execution state. It is owned
// exclusively by the engine; external observers only ever see View copies.
type Record struct {
	mu sync.Mutex

	inst *command.Instance
	fsm  *fsm.FSM

	progress float64
	attempts int
	started  time.Time
	ended    time.Time

	result  *command.Result
	errCode string
	errMsg  string

	failsafeAction    command.FailsafeAction
	failsafeTriggered bool
	failsafeFailed    bool
}

func newRecord(inst *command.Instance) *Record {
	r := &Record{inst: inst}

	events := fsm.Events{
		{Name: eventStart, Src: []string{string(StatusPending)}, Dst: string(StatusExecuting)},
		{Name: eventComplete, Src: []string{string(StatusExecuting)}, Dst: string(StatusCompleted)},
		{Name: eventFail, Src: []string{string(StatusExecuting)}, Dst: string(StatusFailed)},
		{Name: eventCancel, Src: []string{string(StatusPending), string(StatusExecuting)}, Dst: string(StatusCancelled)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StatusExecuting): fsmutil.WrapEvent(r.actionEnterExecuting),
		"enter_" + string(StatusCompleted): fsmutil.WrapEvent(r.actionEnterTerminal),
		"enter_" + string(StatusFailed):    fsmutil.WrapEvent(r.actionEnterTerminal),
		"enter_" + string(StatusCancelled): fsmutil.WrapEvent(r.actionEnterTerminal),
	}

	r.fsm = fsm.NewFSM(string(StatusPending), events, callbacks)
	return r
}

func (r *Record) actionEnterExecuting(ctx context.Context, e *fsm.Event) error {
	if r.started.IsZero() {
		r.started = time.Now()
	}
	return nil
}

func (r *Record) actionEnterTerminal(ctx context.Context, e *fsm.Event) error {
	r.ended = time.Now()
	return nil
}

// transition fires an FSM event under the record lock.
func (r *Record) transition(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Event(context.Background(), event)
}

func (r *Record) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status(r.fsm.Current())
}

// reportProgress clamps and stores handler-reported progress.
func (r *Record) reportProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
}

func (r *Record) setResult(res *command.Result) {
	r.mu.Lock()
	r.result = res
	r.progress = 1
	r.mu.Unlock()
}

func (r *Record) setError(code, msg string) {
	r.mu.Lock()
	r.errCode = code
	r.errMsg = msg
	r.mu.Unlock()
}

func (r *Record) markAttempt() {
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
}

func (r *Record) markFailsafe(action command.FailsafeAction, failed bool) {
	r.mu.Lock()
	r.failsafeAction = action
	r.failsafeTriggered = true
	r.failsafeFailed = failed
	r.mu.Unlock()
}

// ErrorDetail is the structured error recorded on a failed record.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// View is an immutable snapshot of a record for external observers.
type View struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SubmissionID string          `json:"submissionId"`
	Seq          int             `json:"seq"`
	Params       command.Params  `json:"params"`
	Status       Status          `json:"status"`
	Progress     float64         `json:"progress"`
	Attempts     int             `json:"attempts"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
	Result       *command.Result `json:"result,omitempty"`
	Error        *ErrorDetail    `json:"error,omitempty"`

	FailsafeTriggered bool   `json:"failsafeTriggered,omitempty"`
	FailsafeAction    string `json:"failsafeAction,omitempty"`

	// FailsafeFailed flags a vehicle possibly left in an unresolved
	// hazardous state: the failsafe itself did not complete.
	FailsafeFailed bool `json:"failsafeFailed,omitempty"`
}

// view snapshots the record.
func (r *Record) view() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		ID:           r.inst.ID,
		Name:         r.inst.Name,
		SubmissionID: r.inst.SubmissionID,
		Seq:          r.inst.Seq,
		Params:       r.inst.Params,
		Status:       Status(r.fsm.Current()),
		Progress:     r.progress,
		Attempts:     r.attempts,
		Result:       r.result,
	}
	if !r.started.IsZero() {
		t := r.started
		v.StartedAt = &t
	}
	if !r.ended.IsZero() {
		t := r.ended
		v.EndedAt = &t
	}
	if r.errCode != "" {
		v.Error = &ErrorDetail{Code: r.errCode, Message: r.errMsg}
	}
	if r.failsafeTriggered {
		v.FailsafeTriggered = true
		v.FailsafeAction = string(r.failsafeAction)
		v.FailsafeFailed = r.failsafeFailed
	}
	return v
}
