package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EwanValentine/docker-compose-tester/setup"
)

type rootOptions struct {
	configPath     string
	debug          bool
	composeCommand []string
	apiVersion     string

	logger *zap.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "composetest",
		Short:         "Drive docker compose test environments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.debug {
				opts.logger, err = zap.NewDevelopment()
			} else {
				opts.logger, err = zap.NewProduction()
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "environment.yml", "environment config file")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringSliceVar(&opts.composeCommand, "compose-command", nil, "compose executable, e.g. docker-compose (default \"docker,compose\")")
	flags.StringVar(&opts.apiVersion, "api-version", "", "docker API version to pin, probed from the daemon when empty")

	cmd.AddCommand(
		newUpCommand(opts),
		newDownCommand(opts),
		newServicesCommand(opts),
		newWaitCommand(opts),
		newStatusCommand(opts),
		newReadyCommand(opts),
		newPsCommand(opts),
	)
	cmd.AddCommand(newContainerCommands(opts)...)
	cmd.AddCommand(newMockCommand(opts))
	return cmd
}

func (o *rootOptions) environment(cmd *cobra.Command) (*setup.EnvironmentController, error) {
	return setup.NewEnvironmentControllerFromFile(cmd.Context(), o.configPath, setup.Options{
		APIVersion:     o.apiVersion,
		ComposeCommand: o.composeCommand,
		Logger:         o.logger,
	})
}
