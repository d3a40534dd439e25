package handler

import (
	"context"
	"fmt"
	"math"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

func land(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	var start float64
	if snap, _, ok := env.Telemetry.Latest(); ok {
		if snap.State == backend.StateDisconnected {
			return nil, fmt.Errorf("land: vehicle not connected")
		}
		start = math.Abs(snap.Position.Down)
	}

	op := func(ctx context.Context) error {
		return env.Backend.Land(ctx)
	}
	progress := func(snap backend.TelemetrySnapshot) float64 {
		return clampFraction(start-math.Abs(snap.Position.Down), start)
	}
	if err := runManeuver(ctx, env, op, progress); err != nil {
		return nil, err
	}

	return &command.Result{Success: true, Message: "landed"}, nil
}

func returnToLaunch(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	var total float64
	if snap, _, ok := env.Telemetry.Latest(); ok {
		if snap.State != backend.StateFlying {
			return nil, fmt.Errorf("rtl: vehicle not flying (state %s)", snap.State)
		}
		total = distance(snap.Position, backend.Position{})
	}

	op := func(ctx context.Context) error {
		return env.Backend.ReturnToLaunch(ctx)
	}
	progress := func(snap backend.TelemetrySnapshot) float64 {
		return clampFraction(total-distance(snap.Position, backend.Position{}), total)
	}
	if err := runManeuver(ctx, env, op, progress); err != nil {
		return nil, err
	}

	return &command.Result{Success: true, Message: "returned to launch"}, nil
}
