// Package handler implements the built-in command handlers and the static
// name-to-factory registry the spec loader binds against. New commands are
// added by registering a new variant here, not by runtime path resolution.
package handler

import (
	"context"
	"time"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
)

var factories = map[string]command.HandlerFactory{
	"connect": func() command.Handler { return command.HandlerFunc(connect) },
	"arm":     func() command.Handler { return command.HandlerFunc(arm) },
	"takeoff": func() command.Handler { return command.HandlerFunc(takeoff) },
	"goto":    func() command.Handler { return command.HandlerFunc(gotoPosition) },
	"wait":    func() command.Handler { return command.HandlerFunc(wait) },
	"hold":    func() command.Handler { return command.HandlerFunc(hold) },
	"land":    func() command.Handler { return command.HandlerFunc(land) },
	"rtl":     func() command.Handler { return command.HandlerFunc(returnToLaunch) },
}

// Factory returns the handler factory registered under name. It is the
// command.Binder used when loading spec documents.
func Factory(name string) (command.HandlerFactory, bool) {
	f, ok := factories[name]
	return f, ok
}

// Names returns the registered handler names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// verifyInterval is how often movement handlers poll the telemetry cache
// while a backend maneuver is in flight.
const verifyInterval = 100 * time.Millisecond

// runManeuver runs op against the backend while polling the telemetry cache
// to report progress. The backend call itself is the long operation; the
// handler never holds it up, it only observes. Returns op's error, or the
// context error if cancellation wins.
func runManeuver(ctx context.Context, env command.Env, op func(context.Context) error, progress func(backend.TelemetrySnapshot) float64) error {
	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	ticker := time.NewTicker(verifyInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err == nil {
				env.Report(1)
			}
			return err

		case <-ctx.Done():
			// The backend call observes the same ctx; wait for it to unwind
			// so the maneuver is not abandoned mid-call.
			return <-done

		case <-ticker.C:
			if progress == nil {
				continue
			}
			if snap, _, ok := env.Telemetry.Latest(); ok {
				env.Report(progress(snap))
			}
		}
	}
}

// clampFraction maps travelled/total to a progress fraction, saturating at
// 0.99 so only actual completion reports 1.0.
func clampFraction(travelled, total float64) float64 {
	if total <= 0 {
		return 0.99
	}
	f := travelled / total
	if f < 0 {
		f = 0
	}
	if f > 0.99 {
		f = 0.99
	}
	return f
}
