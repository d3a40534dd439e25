// flightdeckctl is the operator CLI for a running flightdeck agent.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "flightdeckctl",
		Short:         "Control a running flightdeck agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://localhost:8080", "Agent API address.")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout.")

	root.AddCommand(
		newStatusCommand(),
		newTelemetryCommand(),
		newRecordsCommand(),
		newCommandsCommand(),
		newSubmitCommand(),
		newEmergencyStopCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine queue and current command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status struct {
				QueueLength int `json:"queueLength"`
				Current     *struct {
					ID       string  `json:"id"`
					Name     string  `json:"name"`
					Status   string  `json:"status"`
					Progress float64 `json:"progress"`
					Attempts int     `json:"attempts"`
				} `json:"current"`
			}
			if err := get("/api/v1/status", &status); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("QUEUE LENGTH", status.QueueLength)
			if status.Current != nil {
				table.AddRow("CURRENT", fmt.Sprintf("%s (%s)", status.Current.Name, status.Current.ID))
				table.AddRow("STATUS", status.Current.Status)
				table.AddRow("PROGRESS", fmt.Sprintf("%.0f%%", status.Current.Progress*100))
				table.AddRow("ATTEMPTS", status.Current.Attempts)
			} else {
				table.AddRow("CURRENT", "<idle>")
			}
			fmt.Println(table)
			return nil
		},
	}
}

func newTelemetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry",
		Short: "Show the latest telemetry snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap struct {
				State    string `json:"state"`
				Position struct {
					North, East, Down float64
				} `json:"position"`
				Velocity struct {
					North, East, Down float64
				} `json:"velocity"`
				BatteryPercent float64 `json:"batteryPercent"`
				GPSFix         int     `json:"gpsFix"`
				Armed          bool    `json:"armed"`
				FlightMode     string  `json:"flightMode"`
				AgeMs          int64   `json:"ageMs"`
			}
			if err := get("/api/v1/telemetry", &snap); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("STATE", snap.State)
			table.AddRow("FLIGHT MODE", snap.FlightMode)
			table.AddRow("ARMED", snap.Armed)
			table.AddRow("POSITION (NED)", fmt.Sprintf("%.1f, %.1f, %.1f", snap.Position.North, snap.Position.East, snap.Position.Down))
			table.AddRow("VELOCITY (NED)", fmt.Sprintf("%.1f, %.1f, %.1f", snap.Velocity.North, snap.Velocity.East, snap.Velocity.Down))
			table.AddRow("BATTERY", fmt.Sprintf("%.0f%%", snap.BatteryPercent))
			table.AddRow("GPS FIX", snap.GPSFix)
			table.AddRow("AGE", fmt.Sprintf("%d ms", snap.AgeMs))
			fmt.Println(table)
			return nil
		},
	}
}

func newRecordsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "records [id]",
		Short: "List execution records, or show one in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var raw json.RawMessage
				if err := get("/api/v1/records/"+args[0], &raw); err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, raw, "", "  "); err != nil {
					return err
				}
				fmt.Println(buf.String())
				return nil
			}

			var records []struct {
				ID       string  `json:"id"`
				Name     string  `json:"name"`
				Status   string  `json:"status"`
				Progress float64 `json:"progress"`
				Attempts int     `json:"attempts"`
				Error    *struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := get("/api/v1/records", &records); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("ID", "COMMAND", "STATUS", "PROGRESS", "ATTEMPTS", "ERROR")
			for _, r := range records {
				errCode := ""
				if r.Error != nil {
					errCode = r.Error.Code
				}
				table.AddRow(r.ID, r.Name, r.Status, fmt.Sprintf("%.0f%%", r.Progress*100), r.Attempts, errCode)
			}
			fmt.Println(table)
			return nil
		},
	}
}

func newCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the commands the agent accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			if err := get("/api/v1/commands", &names); err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// submitFile is the YAML/JSON shape accepted by `submit -f`.
type submitFile struct {
	Mode     string `yaml:"mode" json:"mode"`
	Commands []struct {
		Name   string         `yaml:"name" json:"name"`
		Params map[string]any `yaml:"params" json:"params"`
	} `yaml:"commands" json:"commands"`
}

func newSubmitCommand() *cobra.Command {
	var file string
	var mode string

	cmd := &cobra.Command{
		Use:   "submit -f sequence.yaml",
		Short: "Submit a command sequence from a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var seq submitFile
			if err := yaml.Unmarshal(data, &seq); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if mode != "" {
				seq.Mode = mode
			}

			body, err := json.Marshal(seq)
			if err != nil {
				return err
			}

			var sub struct {
				ID          string   `json:"submissionId"`
				InstanceIDs []string `json:"instanceIds"`
			}
			if err := post("/api/v1/commands", body, &sub); err != nil {
				return err
			}

			fmt.Println("Submission:", sub.ID)
			for _, id := range sub.InstanceIDs {
				fmt.Println("  instance:", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Sequence file (YAML or JSON).")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Override the submission mode (append or override).")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newEmergencyStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-stop",
		Short: "Clear the queue, cancel the current command and stop the vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status string `json:"status"`
			}
			if err := post("/api/v1/emergency-stop", nil, &resp); err != nil {
				return err
			}
			fmt.Println("Vehicle", resp.Status)
			return nil
		},
	}
}

func get(path string, out any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(serverAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func post(path string, body []byte, out any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(serverAddr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, resp.Status)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.Unmarshal(data, out)
}
