package handler

import (
	"context"
	"fmt"
	"math"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

func gotoPosition(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	target := backend.Position{
		North: params.Float("north"),
		East:  params.Float("east"),
		Down:  params.Float("down"),
	}
	speed := params.Float("speed")
	tolerance := params.Float("tolerance")

	var total float64
	if snap, _, ok := env.Telemetry.Latest(); ok {
		if snap.State != backend.StateFlying {
			return nil, fmt.Errorf("goto: vehicle not flying (state %s)", snap.State)
		}
		total = distance(snap.Position, target)
	}

	op := func(ctx context.Context) error {
		return env.Backend.Goto(ctx, target, speed, tolerance)
	}
	progress := func(snap backend.TelemetrySnapshot) float64 {
		return clampFraction(total-distance(snap.Position, target), total)
	}
	if err := runManeuver(ctx, env, op, progress); err != nil {
		return nil, err
	}

	return &command.Result{
		Success: true,
		Message: fmt.Sprintf("reached (%.1f, %.1f, %.1f)", target.North, target.East, target.Down),
		Data: map[string]any{
			"north": target.North,
			"east":  target.East,
			"down":  target.Down,
		},
	}, nil
}

func distance(a, b backend.Position) float64 {
	dn := a.North - b.North
	de := a.East - b.East
	dd := a.Down - b.Down
	return math.Sqrt(dn*dn + de*de + dd*dd)
}
