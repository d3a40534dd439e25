package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("flightdeck/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", b.Telemetry("fd-001"), "flightdeck/v1/telemetry/fd-001"},
		{"status", b.Status("fd-001"), "flightdeck/v1/status/fd-001"},
		{"online", b.Online("fd-001"), "flightdeck/v1/online/fd-001"},
		{"telemetry wildcard", b.TelemetryWildcard(), "flightdeck/v1/telemetry/+"},
		{"status wildcard", b.StatusWildcard(), "flightdeck/v1/status/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
