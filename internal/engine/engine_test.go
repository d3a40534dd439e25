package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/backend/sim"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

// liveTelemetry reads the backend directly so tests see state changes
// without waiting on a poll interval.
type liveTelemetry struct {
	b backend.Backend
}

func (l liveTelemetry) Latest() (backend.TelemetrySnapshot, time.Duration, bool) {
	snap, err := l.b.Telemetry(context.Background())
	if err != nil {
		return backend.TelemetrySnapshot{}, 0, false
	}
	return snap, 0, true
}

// countingBackend wraps a backend and counts safe-stop calls, optionally
// forcing Land to fail.
type countingBackend struct {
	backend.Backend
	landCalls atomic.Int32
	holdCalls atomic.Int32
	landErr   error
}

func (c *countingBackend) Land(ctx context.Context) error {
	c.landCalls.Add(1)
	if c.landErr != nil {
		return c.landErr
	}
	return c.Backend.Land(ctx)
}

func (c *countingBackend) Hold(ctx context.Context) error {
	c.holdCalls.Add(1)
	return c.Backend.Hold(ctx)
}

func fastSim() *sim.Sim {
	return sim.NewWithConfig(sim.Config{
		Tick:         time.Millisecond,
		ClimbRate:    500,
		DefaultSpeed: 500,
	})
}

func startEngine(t *testing.T, reg *command.Registry, be backend.Backend, mutate ...func(*Config)) *Engine {
	t.Helper()

	cfg := Config{
		Registry:    reg,
		Backend:     be,
		BackendKind: "sim",
		Telemetry:   liveTelemetry{be},
		QueueDepth:  16,
		CancelGrace: 100 * time.Millisecond,
		StopTimeout: 2 * time.Second,
		HistorySize: 64,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	eng := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng
}

func handlerSpec(name string, timeout time.Duration, fn func(context.Context, command.Env, command.Params) (*command.Result, error)) *command.Spec {
	return &command.Spec{
		Name:    name,
		Timeout: timeout,
		Factory: func() command.Handler { return command.HandlerFunc(fn) },
	}
}

func instantSpec(name string) *command.Spec {
	return handlerSpec(name, 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		return &command.Result{Success: true}, nil
	})
}

// flightRegistry registers takeoff, wait, land and goto backed by real
// backend maneuvers, with the precondition chain used in production.
func flightRegistry(t *testing.T) *command.Registry {
	t.Helper()
	reg := command.NewRegistry()

	fptr := func(f float64) *float64 { return &f }
	specs := []*command.Spec{
		{
			Name:        "takeoff",
			Timeout:     5 * time.Second,
			Requires:    []backend.VehicleState{backend.StateArmed},
			Establishes: backend.StateFlying,
			Params: map[string]command.ParamSpec{
				"altitude": {Type: command.ParamFloat, Required: true, Min: fptr(1), Max: fptr(50)},
			},
			Factory: func() command.Handler {
				return command.HandlerFunc(func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
					if err := env.Backend.Takeoff(ctx, p.Float("altitude")); err != nil {
						return nil, err
					}
					return &command.Result{Success: true}, nil
				})
			},
		},
		{
			Name:    "wait",
			Timeout: 5 * time.Second,
			Params: map[string]command.ParamSpec{
				"seconds": {Type: command.ParamFloat, Default: 0.001},
			},
			Factory: func() command.Handler {
				return command.HandlerFunc(func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(time.Duration(p.Float("seconds") * float64(time.Second))):
						return &command.Result{Success: true}, nil
					}
				})
			},
		},
		{
			Name:        "land",
			Timeout:     5 * time.Second,
			Requires:    []backend.VehicleState{backend.StateFlying},
			Establishes: backend.StateConnected,
			Factory: func() command.Handler {
				return command.HandlerFunc(func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
					if err := env.Backend.Land(ctx); err != nil {
						return nil, err
					}
					return &command.Result{Success: true}, nil
				})
			},
		},
		{
			Name:        "goto",
			Timeout:     5 * time.Second,
			Requires:    []backend.VehicleState{backend.StateFlying},
			Establishes: backend.StateFlying,
			Params: map[string]command.ParamSpec{
				"north": {Type: command.ParamFloat, Required: true},
				"east":  {Type: command.ParamFloat, Default: 0.0},
			},
			Factory: func() command.Handler {
				return command.HandlerFunc(func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
					target := backend.Position{North: p.Float("north"), East: p.Float("east"), Down: -5}
					if err := env.Backend.Goto(ctx, target, 0, 0.5); err != nil {
						return nil, err
					}
					return &command.Result{Success: true}, nil
				})
			},
		},
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func armedSim(t *testing.T) *sim.Sim {
	t.Helper()
	s := fastSim()
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func waitStatus(t *testing.T, eng *Engine, id string, want Status) View {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v, err := eng.Record(id); err == nil && v.Status == want {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	v, err := eng.Record(id)
	t.Fatalf("record %s never reached %s (last view %+v, err %v)", id, want, v, err)
	return View{}
}

func waitExecuting(t *testing.T, eng *Engine, id string) {
	t.Helper()
	waitStatus(t, eng, id, StatusExecuting)
}

func TestSequenceCompletes(t *testing.T) {
	s := armedSim(t)
	eng := startEngine(t, flightRegistry(t), s)

	sub, err := eng.Submit(context.Background(), []Request{
		{Name: "takeoff", Params: map[string]any{"altitude": 5.0}},
		{Name: "wait"},
		{Name: "land"},
	}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.InstanceIDs) != 3 {
		t.Fatalf("got %d instance IDs, want 3", len(sub.InstanceIDs))
	}

	for _, id := range sub.InstanceIDs {
		v := waitStatus(t, eng, id, StatusCompleted)
		if v.Attempts != 1 {
			t.Errorf("record %s attempts = %d, want 1", v.Name, v.Attempts)
		}
		if v.Progress != 1 {
			t.Errorf("record %s progress = %v, want 1", v.Name, v.Progress)
		}
		if v.Result == nil || !v.Result.Success {
			t.Errorf("record %s result = %+v", v.Name, v.Result)
		}
		if v.SubmissionID != sub.ID {
			t.Errorf("record %s submission = %s, want %s", v.Name, v.SubmissionID, sub.ID)
		}
	}

	state, _ := s.VehicleState(context.Background())
	if state != backend.StateConnected {
		t.Errorf("vehicle state after sequence = %s, want connected", state)
	}
}

func TestValidationCreatesNoRecord(t *testing.T) {
	eng := startEngine(t, flightRegistry(t), armedSim(t))

	_, err := eng.Submit(context.Background(), []Request{
		{Name: "takeoff", Params: map[string]any{"altitude": 500.0}},
	}, ModeAppend)
	if !command.IsValidation(err) {
		t.Fatalf("want ValidationError, got %v", err)
	}

	if got := len(eng.Records()); got != 0 {
		t.Errorf("records after rejected submission = %d, want 0", got)
	}
	if got := eng.QueueLen(); got != 0 {
		t.Errorf("queue length after rejected submission = %d, want 0", got)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	eng := startEngine(t, flightRegistry(t), armedSim(t))

	_, err := eng.Submit(context.Background(), []Request{{Name: "teleport"}}, ModeAppend)
	if !errors.Is(err, command.ErrUnknownCommand) {
		t.Fatalf("want ErrUnknownCommand, got %v", err)
	}
}

func TestPreconditionRejectsGotoWhileGrounded(t *testing.T) {
	s := fastSim()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	eng := startEngine(t, flightRegistry(t), s)

	_, err := eng.Submit(context.Background(), []Request{
		{Name: "goto", Params: map[string]any{"north": 10.0}},
	}, ModeAppend)

	var pe *PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("want PreconditionError, got %v", err)
	}
	if pe.State != backend.StateConnected {
		t.Errorf("precondition state = %s, want connected", pe.State)
	}
	if got := len(eng.Records()); got != 0 {
		t.Errorf("records after rejected submission = %d, want 0", got)
	}
}

func TestPreconditionAdmitsTakeoffThenGoto(t *testing.T) {
	eng := startEngine(t, flightRegistry(t), armedSim(t))

	sub, err := eng.Submit(context.Background(), []Request{
		{Name: "takeoff", Params: map[string]any{"altitude": 5.0}},
		{Name: "goto", Params: map[string]any{"north": 10.0}},
	}, ModeAppend)
	if err != nil {
		t.Fatalf("sequence rejected: %v", err)
	}

	for _, id := range sub.InstanceIDs {
		waitStatus(t, eng, id, StatusCompleted)
	}
}

func TestOverrideCancelsExecuting(t *testing.T) {
	reg := flightRegistry(t)
	block := handlerSpec("block", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := reg.Register(block); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(instantSpec("quick")); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, armedSim(t))

	blockSub, err := eng.Submit(context.Background(), []Request{{Name: "block"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	waitExecuting(t, eng, blockSub.InstanceIDs[0])

	quickSub, err := eng.Submit(context.Background(), []Request{{Name: "quick"}}, ModeOverride)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, blockSub.InstanceIDs[0], StatusCancelled)
	if v.Error == nil || v.Error.Code != CodeCancelled {
		t.Errorf("cancelled record error = %+v, want code %s", v.Error, CodeCancelled)
	}
	if v.Attempts != 1 {
		t.Errorf("cancelled record attempts = %d, want 1 (no retries on cancel)", v.Attempts)
	}

	waitStatus(t, eng, quickSub.InstanceIDs[0], StatusCompleted)
}

func TestAppendDoesNotDisturbExecuting(t *testing.T) {
	reg := flightRegistry(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gated := handlerSpec("gated", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return &command.Result{Success: true}, nil
		}
	})
	if err := reg.Register(gated); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, armedSim(t))

	first, err := eng.Submit(context.Background(), []Request{{Name: "gated"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	second, err := eng.Submit(context.Background(), []Request{{Name: "wait"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	// The executing command must still be running after the append.
	if v, err := eng.Record(first.InstanceIDs[0]); err != nil || v.Status != StatusExecuting {
		t.Fatalf("first record = %+v (err %v), want still executing", v, err)
	}

	close(release)
	waitStatus(t, eng, first.InstanceIDs[0], StatusCompleted)
	waitStatus(t, eng, second.InstanceIDs[0], StatusCompleted)
}

func TestAtMostOneExecuting(t *testing.T) {
	reg := command.NewRegistry()
	var active, maxActive atomic.Int32
	spec := handlerSpec("tracked", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		cur := active.Add(1)
		for {
			m := maxActive.Load()
			if cur <= m || maxActive.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		return &command.Result{Success: true}, nil
	})
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, fastSim())

	reqs := make([]Request, 5)
	for i := range reqs {
		reqs[i] = Request{Name: "tracked"}
	}
	sub, err := eng.Submit(context.Background(), reqs, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range sub.InstanceIDs {
		waitStatus(t, eng, id, StatusCompleted)
	}
	if got := maxActive.Load(); got != 1 {
		t.Errorf("max concurrent executions = %d, want 1", got)
	}
}

func TestTimeoutFailsRecord(t *testing.T) {
	reg := command.NewRegistry()
	spec := handlerSpec("slow", 30*time.Millisecond, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, fastSim())

	sub, err := eng.Submit(context.Background(), []Request{{Name: "slow"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusFailed)
	if v.Error == nil || v.Error.Code != CodeTimeout {
		t.Errorf("error = %+v, want code %s", v.Error, CodeTimeout)
	}
}

func TestUnresponsiveHandlerForceFinalized(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	reg := command.NewRegistry()
	spec := handlerSpec("stuck", 20*time.Millisecond, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		// Ignores ctx entirely.
		<-release
		return &command.Result{Success: true}, nil
	})
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	grace := 50 * time.Millisecond
	eng := startEngine(t, reg, fastSim(), func(cfg *Config) { cfg.CancelGrace = grace })

	start := time.Now()
	sub, err := eng.Submit(context.Background(), []Request{{Name: "stuck"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusFailed)
	if v.Error == nil || v.Error.Code != CodeTimeout {
		t.Errorf("error = %+v, want code %s", v.Error, CodeTimeout)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond+grace+time.Second {
		t.Errorf("force-finalization took %s, want within timeout+grace", elapsed)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	reg := command.NewRegistry()
	var calls atomic.Int32
	spec := handlerSpec("flaky", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient fault")
		}
		return &command.Result{Success: true}, nil
	})
	spec.MaxRetries = 2
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, fastSim())

	sub, err := eng.Submit(context.Background(), []Request{{Name: "flaky"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusCompleted)
	if v.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", v.Attempts)
	}
}

func TestCriticalImmediateFailsafeOnce(t *testing.T) {
	reg := command.NewRegistry()
	spec := handlerSpec("critical-op", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		return nil, errors.New("motor fault")
	})
	spec.Critical = true
	spec.Failsafe = command.FailsafeLand
	spec.FailsafePolicy = command.FailsafeImmediate
	spec.MaxRetries = 3
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	cb := &countingBackend{Backend: armedSim(t)}
	eng := startEngine(t, reg, cb)

	sub, err := eng.Submit(context.Background(), []Request{{Name: "critical-op"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusFailed)
	if v.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (immediate policy skips retries)", v.Attempts)
	}
	if !v.FailsafeTriggered || v.FailsafeAction != string(command.FailsafeLand) {
		t.Errorf("failsafe flags = %v/%s", v.FailsafeTriggered, v.FailsafeAction)
	}
	if v.FailsafeFailed {
		t.Error("failsafe marked failed, want success")
	}
	if got := cb.landCalls.Load(); got != 1 {
		t.Errorf("land calls = %d, want exactly 1", got)
	}
}

func TestCriticalAfterRetriesFailsafe(t *testing.T) {
	reg := command.NewRegistry()
	spec := handlerSpec("critical-op", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		return nil, errors.New("motor fault")
	})
	spec.Critical = true
	spec.Failsafe = command.FailsafeLand
	spec.FailsafePolicy = command.FailsafeAfterRetries
	spec.MaxRetries = 2
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}

	cb := &countingBackend{Backend: armedSim(t)}
	eng := startEngine(t, reg, cb)

	sub, err := eng.Submit(context.Background(), []Request{{Name: "critical-op"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusFailed)
	if v.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (retries exhausted first)", v.Attempts)
	}
	if got := cb.landCalls.Load(); got != 1 {
		t.Errorf("land calls = %d, want exactly 1", got)
	}
}

func TestFailsafeFailureClearsQueue(t *testing.T) {
	reg := command.NewRegistry()
	spec := handlerSpec("critical-op", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		return nil, errors.New("motor fault")
	})
	spec.Critical = true
	spec.Failsafe = command.FailsafeLand
	spec.FailsafePolicy = command.FailsafeImmediate
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(instantSpec("next")); err != nil {
		t.Fatal(err)
	}

	cb := &countingBackend{Backend: armedSim(t), landErr: errors.New("link down")}
	eng := startEngine(t, reg, cb)

	sub, err := eng.Submit(context.Background(), []Request{
		{Name: "critical-op"},
		{Name: "next"},
	}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusFailed)
	if !v.FailsafeFailed {
		t.Error("failsafe failure not recorded")
	}

	// The queued command must be discarded, never executed.
	time.Sleep(50 * time.Millisecond)
	if got := eng.QueueLen(); got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
	if _, err := eng.Record(sub.InstanceIDs[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("discarded instance has a record (err %v), want ErrNotFound", err)
	}
}

func TestEmergencyStop(t *testing.T) {
	reg := flightRegistry(t)
	started := make(chan struct{}, 1)
	block := handlerSpec("block", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := reg.Register(block); err != nil {
		t.Fatal(err)
	}

	s := armedSim(t)
	if err := s.Takeoff(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	cb := &countingBackend{Backend: s}
	eng := startEngine(t, reg, cb)

	sub, err := eng.Submit(context.Background(), []Request{
		{Name: "block"},
		{Name: "land"},
	}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	if err := eng.EmergencyStop(context.Background()); err != nil {
		t.Fatal(err)
	}

	v := waitStatus(t, eng, sub.InstanceIDs[0], StatusCancelled)
	if v.Error == nil || v.Error.Code != CodeCancelled {
		t.Errorf("error = %+v, want code %s", v.Error, CodeCancelled)
	}
	if got := eng.QueueLen(); got != 0 {
		t.Errorf("queue length after emergency stop = %d, want 0", got)
	}
	if got := cb.holdCalls.Load(); got == 0 {
		t.Error("emergency stop did not issue a hold")
	}
}

func TestQueueFullRejectsWholeSubmission(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(instantSpec("quick")); err != nil {
		t.Fatal(err)
	}

	// Worker deliberately not started so nothing drains the queue.
	s := fastSim()
	eng := New(Config{
		Registry:    reg,
		Backend:     s,
		BackendKind: "sim",
		Telemetry:   liveTelemetry{s},
		QueueDepth:  2,
	})

	if _, err := eng.Submit(context.Background(), []Request{{Name: "quick"}, {Name: "quick"}}, ModeAppend); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Submit(context.Background(), []Request{{Name: "quick"}}, ModeAppend)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if got := eng.QueueLen(); got != 2 {
		t.Errorf("queue length = %d after rejected submission, want 2", got)
	}
}

func TestRecordNotFound(t *testing.T) {
	eng := startEngine(t, flightRegistry(t), fastSim())
	if _, err := eng.Record("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHistoryEviction(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(instantSpec("quick")); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, fastSim(), func(cfg *Config) { cfg.HistorySize = 2 })

	var last *Submission
	for i := 0; i < 3; i++ {
		sub, err := eng.Submit(context.Background(), []Request{{Name: "quick"}}, ModeAppend)
		if err != nil {
			t.Fatal(err)
		}
		waitStatus(t, eng, sub.InstanceIDs[0], StatusCompleted)
		last = sub
	}

	views := eng.Records()
	if len(views) != 2 {
		t.Fatalf("retained records = %d, want 2", len(views))
	}
	if views[len(views)-1].ID != last.InstanceIDs[0] {
		t.Error("newest record missing after eviction")
	}
}

func TestTransitionHooksObserveLifecycle(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(instantSpec("quick")); err != nil {
		t.Fatal(err)
	}

	seen := make(chan Status, 8)
	eng := startEngine(t, reg, fastSim())
	eng.OnTransition(func(v View) { seen <- v.Status })

	sub, err := eng.Submit(context.Background(), []Request{{Name: "quick"}}, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, eng, sub.InstanceIDs[0], StatusCompleted)

	var statuses []Status
	timeout := time.After(time.Second)
	for len(statuses) < 2 {
		select {
		case s := <-seen:
			statuses = append(statuses, s)
		case <-timeout:
			t.Fatalf("saw %v, want executing then completed", statuses)
		}
	}
	if statuses[0] != StatusExecuting || statuses[1] != StatusCompleted {
		t.Errorf("transitions = %v, want [executing completed]", statuses)
	}
}

func TestConcurrentAppendsSerializePreconditions(t *testing.T) {
	reg := flightRegistry(t)
	s := armedSim(t)
	// Worker deliberately not started so admission order is the only variable:
	// the second takeoff must see the first already queued and fail its
	// armed requirement against the established flying state.
	eng := New(Config{
		Registry:    reg,
		Backend:     s,
		BackendKind: "sim",
		Telemetry:   liveTelemetry{s},
		QueueDepth:  16,
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := eng.Submit(context.Background(), []Request{
				{Name: "takeoff", Params: map[string]any{"altitude": 5.0}},
			}, ModeAppend)
			errs <- err
		}()
	}

	var admitted, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			admitted++
			continue
		}
		var pe *PreconditionError
		if !errors.As(err, &pe) {
			t.Fatalf("want PreconditionError, got %v", err)
		}
		rejected++
	}
	if admitted != 1 || rejected != 1 {
		t.Errorf("admitted=%d rejected=%d, want exactly one of each", admitted, rejected)
	}
	if got := eng.QueueLen(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestOverrideNeverCancelsOwnCommands(t *testing.T) {
	reg := command.NewRegistry()
	gateCh := make(chan struct{}, 1)
	started := make(chan struct{}, 64)
	gate := handlerSpec("gate", 5*time.Second, func(ctx context.Context, env command.Env, p command.Params) (*command.Result, error) {
		started <- struct{}{}
		select {
		case <-gateCh:
			return &command.Result{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err := reg.Register(gate); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(instantSpec("quick")); err != nil {
		t.Fatal(err)
	}

	eng := startEngine(t, reg, fastSim())

	// The gate completes concurrently with the override, so the queue swap
	// races the worker moving on. The override's own command must still run
	// to completion; only the command executing at the swap may be cancelled.
	for i := 0; i < 50; i++ {
		if _, err := eng.Submit(context.Background(), []Request{{Name: "gate"}}, ModeAppend); err != nil {
			t.Fatal(err)
		}
		<-started

		go func() { gateCh <- struct{}{} }()
		quickSub, err := eng.Submit(context.Background(), []Request{{Name: "quick"}}, ModeOverride)
		if err != nil {
			t.Fatal(err)
		}

		v := waitStatus(t, eng, quickSub.InstanceIDs[0], StatusCompleted)
		if v.Error != nil {
			t.Fatalf("iteration %d: override command errored: %+v", i, v.Error)
		}
	}
}

func TestEmergencyStopOnGroundSucceeds(t *testing.T) {
	s := fastSim()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Disarmed on the ground the sim rejects both hold and land; the stop
	// must still report success once the queue is cleared.
	cb := &countingBackend{Backend: s}
	eng := startEngine(t, flightRegistry(t), cb)

	if err := eng.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("emergency stop on grounded vehicle: %v", err)
	}
	if cb.holdCalls.Load() == 0 {
		t.Error("hold was not attempted")
	}
}
