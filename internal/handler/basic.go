package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/command"
)

func connect(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	if err := env.Backend.Connect(ctx); err != nil {
		return nil, err
	}
	return &command.Result{Success: true, Message: "link established"}, nil
}

func arm(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	if err := env.Backend.Arm(ctx); err != nil {
		return nil, err
	}
	return &command.Result{Success: true, Message: "armed"}, nil
}

func hold(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	if err := env.Backend.Hold(ctx); err != nil {
		return nil, err
	}
	return &command.Result{Success: true, Message: "holding position"}, nil
}

// wait pauses the sequence for the given duration without touching the
// backend. Progress is reported as elapsed fraction.
func wait(ctx context.Context, env command.Env, params command.Params) (*command.Result, error) {
	seconds := params.Float("seconds")
	total := time.Duration(seconds * float64(time.Second))
	if total <= 0 {
		return &command.Result{Success: true, Message: "wait complete"}, nil
	}

	start := time.Now()
	ticker := time.NewTicker(verifyInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(total)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			env.Report(1)
			return &command.Result{
				Success: true,
				Message: fmt.Sprintf("waited %.1f s", seconds),
			}, nil
		case <-ticker.C:
			env.Report(clampFraction(time.Since(start).Seconds(), total.Seconds()))
		}
	}
}
