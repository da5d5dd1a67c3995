package setup

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ContainerDown kills the service's container, runs fn, then restarts the
// container and waits for it to recover. Recovery happens however fn exits,
// including a panic.
//
//	err := env.ContainerDown(ctx, "consul", func() error {
//		// consul is down here
//		return nil
//	})
func (e *EnvironmentController) ContainerDown(ctx context.Context, name string, fn func() error, opts ...WaitOption) error {
	return e.withFault(ctx, name, "down", e.KillContainer, e.RestartContainer, fn, opts)
}

// ContainerPaused pauses the service's container for the duration of fn,
// then unpauses it and waits for it to recover.
func (e *EnvironmentController) ContainerPaused(ctx context.Context, name string, fn func() error, opts ...WaitOption) error {
	return e.withFault(ctx, name, "paused", e.PauseContainer, e.UnpauseContainer, fn, opts)
}

// ContainerStopped stops the service's container for the duration of fn,
// then starts it and waits for it to recover.
func (e *EnvironmentController) ContainerStopped(ctx context.Context, name string, fn func() error, opts ...WaitOption) error {
	return e.withFault(ctx, name, "stopped", e.StopContainer, e.StartContainer, fn, opts)
}

type containerAction func(ctx context.Context, name string) error

func (e *EnvironmentController) withFault(ctx context.Context, name, fault string, disrupt, restore containerAction, fn func() error, opts []WaitOption) (err error) {
	if err := e.ValidateServiceName(name); err != nil {
		return err
	}
	if err := disrupt(ctx, name); err != nil {
		return err
	}
	e.logger.Debug("container fault injected", zap.String("service", name), zap.String("fault", fault))

	defer func() {
		// recovery has to run even when ctx ended the body
		rctx, cancel := cleanupContext(ctx, newWaitConfig(opts).timeout)
		defer cancel()

		var recoveryErr error
		if rErr := restore(rctx, name); rErr != nil {
			recoveryErr = rErr
		} else {
			recoveryErr = e.WaitForHealth(rctx, name, opts...)
		}

		switch {
		case recoveryErr == nil:
		case err == nil:
			err = recoveryErr
		default:
			err = multierror.Append(err, recoveryErr)
		}
	}()

	if fn == nil {
		return nil
	}
	return fn()
}
