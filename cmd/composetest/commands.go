package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EwanValentine/docker-compose-tester/setup"
	"github.com/EwanValentine/docker-compose-tester/wiremock"
)

func newUpCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Set up the environment and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := env.Setup(ctx); err != nil {
				return err
			}
			defer func() {
				opts.logger.Info("tearing down the environment")
				if err := env.Teardown(context.Background()); err != nil {
					opts.logger.Error("teardown failed", zap.Error(err))
				}
			}()

			if err := env.WaitForServices(ctx, nil, setup.WithTimeout(timeout)); err != nil {
				return err
			}
			opts.logger.Info("environment ready, interrupt to tear it down",
				zap.Strings("services", env.Services()),
				zap.String("logs", env.LogPath()),
			)

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", setup.DefaultTimeout, "how long to wait for services to become ready")
	return cmd
}

func newDownCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Kill and remove the environment containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}
			return env.Cleanup(cmd.Context())
		},
	}
}

func newServicesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the services declared in the compose file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}
			for _, s := range env.Services() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func newWaitCommand(opts *rootOptions) *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait [service...]",
		Short: "Wait for services to become ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}
			return env.WaitForServices(cmd.Context(), args, setup.WithInterval(interval), setup.WithTimeout(timeout))
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", setup.DefaultInterval, "time between checks")
	cmd.Flags().DurationVar(&timeout, "timeout", setup.DefaultTimeout, "how long to wait")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Print the container status of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}
			status, err := env.ContainerStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newReadyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <service>",
		Short: "Exit non-zero unless the service is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}
			if err := env.ValidateServiceName(args[0]); err != nil {
				return err
			}
			if !env.IsContainerReady(cmd.Context(), args[0]) {
				return fmt.Errorf("%s is not ready", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is ready\n", args[0])
			return nil
		},
	}
}

func newPsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ps [service]",
		Short: "List the project's containers with their state and published ports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd)
			if err != nil {
				return err
			}

			var containers []setup.Container
			if len(args) == 1 {
				c, err := env.FindContainer(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				containers = append(containers, *c)
			} else if containers, err = env.Containers(cmd.Context()); err != nil {
				return err
			}
			return writeContainers(cmd.OutOrStdout(), containers)
		},
	}
}

func writeContainers(w io.Writer, containers []setup.Container) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tHEALTH\tPORTS")
	for _, c := range containers {
		var ports []string
		for _, p := range c.Publishers {
			if p.PublishedPort == 0 {
				continue
			}
			ports = append(ports, fmt.Sprintf("%s:%d->%d/%s", p.URL, p.PublishedPort, p.TargetPort, p.Protocol))
		}
		health := c.Health
		if health == "" {
			health = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Service, c.State, health, strings.Join(ports, ","))
	}
	return tw.Flush()
}

func newContainerCommands(opts *rootOptions) []*cobra.Command {
	actions := []struct {
		use   string
		short string
		run   func(*setup.EnvironmentController) func(context.Context, string) error
	}{
		{"kill", "Kill a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.KillContainer }},
		{"restart", "Restart a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.RestartContainer }},
		{"pause", "Pause a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.PauseContainer }},
		{"unpause", "Unpause a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.UnpauseContainer }},
		{"stop", "Stop a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.StopContainer }},
		{"start", "Start a service's container", func(e *setup.EnvironmentController) func(context.Context, string) error { return e.StartContainer }},
	}

	cmds := make([]*cobra.Command, 0, len(actions))
	for _, action := range actions {
		cmds = append(cmds, &cobra.Command{
			Use:   action.use + " <service>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := opts.environment(cmd)
				if err != nil {
					return err
				}
				return action.run(env)(cmd.Context(), args[0])
			},
		})
	}
	return cmds
}

func newMockCommand(opts *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Manage WireMock stub mappings",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			return cmd.Root().PersistentPreRunE(cmd, args)
		},
	}
	cmd.PersistentFlags().StringVar(&url, "url", "", "WireMock base URL, e.g. http://localhost:8080")
	_ = cmd.MarkPersistentFlagRequired("url")

	load := &cobra.Command{
		Use:   "load <dir|file>...",
		Short: "Load stub mappings from JSON files or directories of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := wiremock.NewController(url, wiremock.WithLogger(opts.logger))
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if info.IsDir() {
					err = c.SetMappingFromDir(cmd.Context(), path)
				} else {
					err = c.SetMappingFromFile(cmd.Context(), path)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Remove every stub mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wiremock.NewController(url, wiremock.WithLogger(opts.logger)).ResetMapping(cmd.Context())
		},
	}

	cmd.AddCommand(load, reset)
	return cmd
}
