package handler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/backend/sim"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

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

func testEnv(b backend.Backend) (command.Env, *float64) {
	var progress float64
	return command.Env{
		Backend:   b,
		Telemetry: liveTelemetry{b},
		Report:    func(p float64) { progress = p },
	}, &progress
}

func armedSim(t *testing.T) *sim.Sim {
	t.Helper()
	s := sim.NewWithConfig(sim.Config{Tick: time.Millisecond, ClimbRate: 500, DefaultSpeed: 500})
	ctx := context.Background()
	for _, op := range []func(context.Context) error{s.Connect, s.Arm} {
		if err := op(ctx); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestFactoryCoversAllHandlers(t *testing.T) {
	for _, name := range []string{"connect", "arm", "takeoff", "goto", "wait", "hold", "land", "rtl"} {
		if _, ok := Factory(name); !ok {
			t.Errorf("handler %q not registered", name)
		}
	}
	if _, ok := Factory("teleport"); ok {
		t.Error("unknown handler name resolved")
	}
}

func TestTakeoffReachesAltitude(t *testing.T) {
	s := armedSim(t)
	env, progress := testEnv(s)

	res, err := takeoff(context.Background(), env, command.Params{"altitude": 8.0})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if *progress != 1 {
		t.Errorf("final progress = %v, want 1", *progress)
	}

	snap, _ := s.Telemetry(context.Background())
	if math.Abs(-snap.Position.Down-8) > 0.3 {
		t.Errorf("altitude = %.2f, want ~8", -snap.Position.Down)
	}
}

func TestTakeoffRejectsWhenDisconnected(t *testing.T) {
	s := sim.New()
	env, _ := testEnv(s)

	if _, err := takeoff(context.Background(), env, command.Params{"altitude": 5.0}); err == nil {
		t.Fatal("want error for disconnected vehicle")
	}
}

func TestGotoRejectsWhenNotFlying(t *testing.T) {
	s := armedSim(t)
	env, _ := testEnv(s)

	_, err := gotoPosition(context.Background(), env, command.Params{"north": 10.0})
	if err == nil {
		t.Fatal("want error for grounded vehicle")
	}
}

func TestGotoFliesToTarget(t *testing.T) {
	s := armedSim(t)
	if err := s.Takeoff(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	env, progress := testEnv(s)

	params := command.Params{"north": 15.0, "east": -5.0, "down": -5.0, "speed": 0.0, "tolerance": 0.5}
	res, err := gotoPosition(context.Background(), env, params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if *progress != 1 {
		t.Errorf("final progress = %v, want 1", *progress)
	}
}

func TestWaitCompletes(t *testing.T) {
	env, progress := testEnv(sim.New())

	start := time.Now()
	res, err := wait(context.Background(), env, command.Params{"seconds": 0.02})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("wait returned after %s, want >= 20ms", elapsed)
	}
	if *progress != 1 {
		t.Errorf("final progress = %v, want 1", *progress)
	}
}

func TestWaitCancellable(t *testing.T) {
	env, _ := testEnv(sim.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := wait(ctx, env, command.Params{"seconds": 60.0})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestLandFromFlight(t *testing.T) {
	s := armedSim(t)
	ctx := context.Background()
	if err := s.Takeoff(ctx, 5); err != nil {
		t.Fatal(err)
	}
	env, _ := testEnv(s)

	res, err := land(ctx, env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}

	state, _ := s.VehicleState(ctx)
	if state != backend.StateConnected {
		t.Errorf("state after land = %s, want connected", state)
	}
}

func TestReturnToLaunchComesHome(t *testing.T) {
	s := armedSim(t)
	ctx := context.Background()
	if err := s.Takeoff(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Goto(ctx, backend.Position{North: 20, Down: -5}, 0, 0.5); err != nil {
		t.Fatal(err)
	}
	env, _ := testEnv(s)

	if _, err := returnToLaunch(ctx, env, nil); err != nil {
		t.Fatal(err)
	}

	snap, _ := s.Telemetry(ctx)
	if math.Abs(snap.Position.North) > 0.5 || math.Abs(snap.Position.East) > 0.5 {
		t.Errorf("position after rtl = %+v, want origin", snap.Position)
	}
	state, _ := s.VehicleState(ctx)
	if state != backend.StateConnected {
		t.Errorf("state after rtl = %s, want connected", state)
	}
}

func TestManeuverPropagatesCancellation(t *testing.T) {
	s := sim.NewWithConfig(sim.Config{Tick: time.Millisecond, ClimbRate: 1, DefaultSpeed: 1})
	ctx := context.Background()
	for _, op := range []func(context.Context) error{s.Connect, s.Arm} {
		if err := op(ctx); err != nil {
			t.Fatal(err)
		}
	}
	env, _ := testEnv(s)

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := takeoff(cancelCtx, env, command.Params{"altitude": 50.0})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("takeoff did not unwind after cancellation")
	}
}
