package handler

import (
	"context"
	"fmt"
	"math"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

func takeoff(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	altitude := params.Float("altitude")

	if snap, _, ok := env.Telemetry.Latest(); ok {
		switch snap.State {
		case backend.StateFlying:
			return nil, fmt.Errorf("takeoff: vehicle already flying")
		case backend.StateDisconnected:
			return nil, fmt.Errorf("takeoff: vehicle not connected")
		}
	}

	op := func(ctx context.Context) error {
		return env.Backend.Takeoff(ctx, altitude)
	}
	progress := func(snap backend.TelemetrySnapshot) float64 {
		// NED frame, climbing means Down goes negative.
		return clampFraction(-snap.Position.Down, altitude)
	}
	if err := runManeuver(ctx, env, op, progress); err != nil {
		return nil, err
	}

	reached := altitude
	if snap, _, ok := env.Telemetry.Latest(); ok {
		reached = math.Abs(snap.Position.Down)
	}
	return &command.Result{
		Success: true,
		Message: fmt.Sprintf("takeoff complete at %.1f m", reached),
		Data:    map[string]any{"altitude": reached},
	}, nil
}
