// Package sim provides an in-memory vehicle-link backend. It is the default
// backend for development and the fixture every engine test runs against.
// Movement is integrated in small ticks so telemetry reads interleave with a
// long-running command and cancellation lands within one tick.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
)

// Config tunes the simulated flight dynamics. Tests shrink the tick and raise
// the rates so scenario flights finish in milliseconds.
type Config struct {
	// Tick is the movement integration step.
	Tick time.Duration

	// ClimbRate is the vertical speed in m/s used by Takeoff and Land.
	ClimbRate float64

	// DefaultSpeed is the horizontal speed in m/s used when a Goto caller
	// passes a non-positive speed.
	DefaultSpeed float64
}

// DefaultConfig returns dynamics close to a small multirotor.
func DefaultConfig() Config {
	return Config{
		Tick:         20 * time.Millisecond,
		ClimbRate:    2.0,
		DefaultSpeed: 5.0,
	}
}

// Sim is a simulated vehicle link. All exported methods are safe for
// concurrent use; the internal lock is held per tick, never across a whole
// maneuver.
type Sim struct {
	cfg Config

	mu       sync.Mutex
	state    backend.VehicleState
	pos      backend.Position
	vel      backend.Velocity
	yaw      float64
	battery  float64
	failNext map[string]error
	delays   map[string]time.Duration
}

var _ backend.Backend = (*Sim)(nil)

// New creates a simulator with default dynamics.
func New() *Sim {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a simulator with the given dynamics.
func NewWithConfig(cfg Config) *Sim {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.ClimbRate <= 0 {
		cfg.ClimbRate = DefaultConfig().ClimbRate
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = DefaultConfig().DefaultSpeed
	}
	return &Sim{
		cfg:      cfg,
		state:    backend.StateDisconnected,
		battery:  100,
		failNext: make(map[string]error),
		delays:   make(map[string]time.Duration),
	}
}

// FailNext injects err into the next call of op ("arm", "takeoff", "land",
// "goto", "rtl", "hold", "telemetry"). The injection is consumed by that call.
func (s *Sim) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

// SetOpDelay makes every call of op sleep d (context-aware) before acting.
// Used by tests to provoke timeouts and exercise cancellation.
func (s *Sim) SetOpDelay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
}

func (s *Sim) Connect(ctx context.Context) error {
	if err := s.begin(ctx, "connect"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == backend.StateDisconnected {
		s.state = backend.StateConnected
	}
	return nil
}

func (s *Sim) Arm(ctx context.Context) error {
	if err := s.begin(ctx, "arm"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case backend.StateConnected:
		s.state = backend.StateArmed
		return nil
	case backend.StateArmed:
		return nil
	default:
		return backend.Wrap("arm", fmt.Errorf("cannot arm in state %s", s.state))
	}
}

func (s *Sim) Takeoff(ctx context.Context, altitude float64) error {
	if err := s.begin(ctx, "takeoff"); err != nil {
		return err
	}
	if altitude <= 0 {
		return backend.Wrap("takeoff", fmt.Errorf("altitude must be positive, got %.1f", altitude))
	}

	s.mu.Lock()
	if s.state != backend.StateArmed {
		state := s.state
		s.mu.Unlock()
		return backend.Wrap("takeoff", fmt.Errorf("cannot take off in state %s", state))
	}
	s.state = backend.StateFlying
	target := s.pos
	target.Down = -altitude
	s.mu.Unlock()

	if err := s.travel(ctx, target, s.cfg.ClimbRate); err != nil {
		return backend.Wrap("takeoff", err)
	}
	return nil
}

func (s *Sim) Land(ctx context.Context) error {
	if err := s.begin(ctx, "land"); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case backend.StateFlying, backend.StateLanding:
	case backend.StateArmed:
		// Already on the ground. Disarm and report success.
		s.state = backend.StateConnected
		s.mu.Unlock()
		return nil
	default:
		state := s.state
		s.mu.Unlock()
		return backend.Wrap("land", fmt.Errorf("cannot land in state %s", state))
	}
	s.state = backend.StateLanding
	target := s.pos
	target.Down = 0
	s.mu.Unlock()

	if err := s.travel(ctx, target, s.cfg.ClimbRate); err != nil {
		return backend.Wrap("land", err)
	}

	s.mu.Lock()
	s.state = backend.StateConnected
	s.vel = backend.Velocity{}
	s.mu.Unlock()
	return nil
}

func (s *Sim) Goto(ctx context.Context, pos backend.Position, speed, tolerance float64) error {
	if err := s.begin(ctx, "goto"); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != backend.StateFlying {
		state := s.state
		s.mu.Unlock()
		return backend.Wrap("goto", fmt.Errorf("cannot goto in state %s", state))
	}
	s.mu.Unlock()

	if speed <= 0 {
		speed = s.cfg.DefaultSpeed
	}
	if err := s.travelWithin(ctx, pos, speed, tolerance); err != nil {
		return backend.Wrap("goto", err)
	}
	return nil
}

func (s *Sim) ReturnToLaunch(ctx context.Context) error {
	if err := s.begin(ctx, "rtl"); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != backend.StateFlying {
		state := s.state
		s.mu.Unlock()
		return backend.Wrap("rtl", fmt.Errorf("cannot return to launch in state %s", state))
	}
	above := backend.Position{North: 0, East: 0, Down: s.pos.Down}
	s.mu.Unlock()

	if err := s.travel(ctx, above, s.cfg.DefaultSpeed); err != nil {
		return backend.Wrap("rtl", err)
	}
	return s.Land(ctx)
}

func (s *Sim) Hold(ctx context.Context) error {
	if err := s.begin(ctx, "hold"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != backend.StateFlying && s.state != backend.StateLanding {
		return backend.Wrap("hold", fmt.Errorf("cannot hold in state %s", s.state))
	}
	s.state = backend.StateFlying
	s.vel = backend.Velocity{}
	return nil
}

func (s *Sim) VehicleState(ctx context.Context) (backend.VehicleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *Sim) Telemetry(ctx context.Context) (backend.TelemetrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("telemetry"); err != nil {
		return backend.TelemetrySnapshot{}, backend.Wrap("telemetry", err)
	}

	return backend.TelemetrySnapshot{
		Timestamp:      time.Now(),
		Position:       s.pos,
		Attitude:       backend.Attitude{Yaw: s.yaw},
		Velocity:       s.vel,
		BatteryPercent: s.battery,
		GPSFix:         3,
		Armed:          s.state == backend.StateArmed || s.state == backend.StateFlying || s.state == backend.StateLanding,
		FlightMode:     flightMode(s.state),
		State:          s.state,
		Health: backend.Health{
			GyroOK:     true,
			AccelOK:    true,
			MagOK:      true,
			LocalPosOK: s.state != backend.StateDisconnected,
		},
	}, nil
}

// begin applies the injected delay and failure for op.
func (s *Sim) begin(ctx context.Context, op string) error {
	s.mu.Lock()
	delay := s.delays[op]
	err := s.consumeFailure(op)
	s.mu.Unlock()

	if err != nil {
		return backend.Wrap(op, err)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return backend.Wrap(op, ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// consumeFailure must be called with the lock held.
func (s *Sim) consumeFailure(op string) error {
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	return nil
}

// travel integrates straight-line motion toward target at speed, one tick at
// a time, until the remaining distance is zero or ctx is cancelled.
func (s *Sim) travel(ctx context.Context, target backend.Position, speed float64) error {
	return s.travelWithin(ctx, target, speed, 0.05)
}

func (s *Sim) travelWithin(ctx context.Context, target backend.Position, speed, tolerance float64) error {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.vel = backend.Velocity{}
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}

		s.mu.Lock()
		dn := target.North - s.pos.North
		de := target.East - s.pos.East
		dd := target.Down - s.pos.Down
		dist := math.Sqrt(dn*dn + de*de + dd*dd)
		if dist <= tolerance {
			s.vel = backend.Velocity{}
			s.mu.Unlock()
			return nil
		}

		step := speed * s.cfg.Tick.Seconds()
		if step >= dist {
			s.pos = target
		} else {
			s.pos.North += dn / dist * step
			s.pos.East += de / dist * step
			s.pos.Down += dd / dist * step
		}
		s.vel = backend.Velocity{
			North: dn / dist * speed,
			East:  de / dist * speed,
			Down:  dd / dist * speed,
		}
		s.battery = math.Max(0, s.battery-0.001)
		s.mu.Unlock()
	}
}

func flightMode(state backend.VehicleState) string {
	switch state {
	case backend.StateFlying:
		return "OFFBOARD"
	case backend.StateLanding:
		return "LAND"
	case backend.StateArmed:
		return "READY"
	case backend.StateConnected:
		return "STANDBY"
	default:
		return "UNKNOWN"
	}
}

// ErrLinkDown is a convenience error for tests injecting link loss.
var ErrLinkDown = errors.New("link down")
