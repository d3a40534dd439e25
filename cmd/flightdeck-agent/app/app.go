// Package app builds the flightdeck-agent command.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flightdeck-io/flightdeck/cmd/flightdeck-agent/app/options"
	"github.com/flightdeck-io/flightdeck/pkg/log"
)

const (
	commandName = "flightdeck-agent"
	commandDesc = `The flightdeck agent runs next to one vehicle, validating and executing
command sequences against its flight backend while caching telemetry for
handlers and operators.`
)

// NewAgentCommand builds the root cobra command.
func NewAgentCommand() *cobra.Command {
	opts := options.NewAgentOptions()

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Launch a flightdeck vehicle agent",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(cmd.Flags()); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(opts)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

func run(opts *options.AgentOptions) error {
	log.Init(opts.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	agent, err := cfg.NewAgent()
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return agent.Run(ctx)
}
