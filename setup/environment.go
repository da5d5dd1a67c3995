package setup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// State is the lifecycle stage of an environment
type State int

const (
	StateUninitialized State = iota
	StateSettingUp
	StateRunning
	StateTearingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSettingUp:
		return "setting-up"
	case StateRunning:
		return "running"
	case StateTearingDown:
		return "tearing-down"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options describes an environment. ProjectName and ComposePath are required.
type Options struct {
	ProjectName     string
	ComposePath     string
	LogPath         string
	CollectStats    bool
	ReuseContainers bool

	// APIVersion pins COMPOSE_API_VERSION and DOCKER_API_VERSION for every
	// command. When empty it is probed from the docker daemon.
	APIVersion string

	// ComposeCommand defaults to "docker compose"
	ComposeCommand []string
	// DockerCommand defaults to "docker"
	DockerCommand string
	StatsInterval time.Duration

	// Plugins are started after the built-in collectors
	Plugins []Plugin
	Runner  CommandRunner
	Logger  *zap.Logger
}

// EnvironmentController manages a compose project for the lifetime of a test
// suite: bringing it up, tearing it down and injecting container faults.
type EnvironmentController struct {
	projectName     string
	composePath     string
	logPath         string
	reuseContainers bool
	apiVersion      string

	client   *DockerComposeClient
	services []string
	known    map[string]struct{}
	plugins  []Plugin
	logs     *LogCollector
	logger   *zap.Logger
	state    State
}

// NewEnvironmentController resolves the docker API version, reads the
// service names from the compose file and prepares the plugins.
func NewEnvironmentController(ctx context.Context, opts Options) (*EnvironmentController, error) {
	if opts.ProjectName == "" {
		return nil, errors.New("project name is required")
	}
	if opts.ComposePath == "" {
		return nil, errors.New("compose path is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("project", opts.ProjectName))

	logPath := opts.LogPath
	if logPath == "" {
		logPath = opts.ProjectName + ".log"
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		v, err := ServerAPIVersion(ctx)
		if err != nil {
			return nil, err
		}
		apiVersion = v
	}
	logger.Debug("docker server api version resolved", zap.String("api_version", apiVersion))

	client := NewDockerComposeClient(opts.ComposePath, opts.ProjectName,
		WithComposeCommand(opts.ComposeCommand...),
		WithDockerCommand(opts.DockerCommand),
		WithEnv(commandEnvironment(apiVersion)),
		WithRunner(opts.Runner),
		WithClientLogger(logger),
	)

	logger.Debug("getting environment services", zap.String("compose_path", opts.ComposePath))
	services, err := client.Services(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(services))
	for _, s := range services {
		known[s] = struct{}{}
	}

	logs := NewLogCollector(client, logPath, logger)
	plugins := []Plugin{logs}
	if opts.CollectStats {
		plugins = append(plugins, NewStatsCollector(client, filepath.Dir(logPath), opts.StatsInterval, logger))
	}
	plugins = append(plugins, opts.Plugins...)

	return &EnvironmentController{
		projectName:     opts.ProjectName,
		composePath:     opts.ComposePath,
		logPath:         logPath,
		reuseContainers: opts.ReuseContainers,
		apiVersion:      apiVersion,
		client:          client,
		services:        services,
		known:           known,
		plugins:         plugins,
		logs:            logs,
		logger:          logger,
	}, nil
}

// NewEnvironmentControllerFromFile builds a controller from a config file.
// Fields of base that the file describes are overwritten.
func NewEnvironmentControllerFromFile(ctx context.Context, configPath string, base Options) (*EnvironmentController, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	base.ProjectName = cfg.ProjectName
	base.ComposePath = cfg.DockerComposePath
	base.LogPath = cfg.LogPath
	base.CollectStats = cfg.CollectStats
	base.ReuseContainers = cfg.ReuseContainers
	return NewEnvironmentController(ctx, base)
}

// ProjectName -
func (e *EnvironmentController) ProjectName() string { return e.projectName }

// ComposePath -
func (e *EnvironmentController) ComposePath() string { return e.composePath }

// LogPath -
func (e *EnvironmentController) LogPath() string { return e.logPath }

// APIVersion is the docker API version commands are pinned to
func (e *EnvironmentController) APIVersion() string { return e.apiVersion }

// Client returns the underlying compose client
func (e *EnvironmentController) Client() *DockerComposeClient { return e.client }

// LogCollector returns the built-in log collector
func (e *EnvironmentController) LogCollector() *LogCollector { return e.logs }

// State -
func (e *EnvironmentController) State() State { return e.state }

// Services returns the service names declared in the compose file
func (e *EnvironmentController) Services() []string {
	return append([]string(nil), e.services...)
}

// Plugins returns the environment's plugins in start order
func (e *EnvironmentController) Plugins() []Plugin {
	return append([]Plugin(nil), e.plugins...)
}

// Setup brings the environment up. It should be called once before all the
// tests start. If the containers can't be brought up the environment is torn
// down again before the error is returned.
func (e *EnvironmentController) Setup(ctx context.Context) error {
	if e.state == StateStopped {
		return ErrEnvironmentStopped
	}

	e.state = StateSettingUp
	e.logger.Debug("setting up the environment")

	if err := e.setup(ctx); err != nil {
		e.logger.Error("setup failure, tearing down the test environment", zap.Error(err))
		tdCtx, cancel := cleanupContext(ctx, 0)
		defer cancel()
		if tdErr := e.Teardown(tdCtx); tdErr != nil {
			return multierror.Append(err, tdErr)
		}
		return err
	}

	for _, p := range e.plugins {
		if err := safely(func() error { return p.Start(ctx) }); err != nil {
			e.logger.Warn("failed starting plugin, skipping",
				zap.String("plugin", pluginName(p)),
				zap.Error(err),
			)
		}
	}

	e.state = StateRunning
	return nil
}

func (e *EnvironmentController) setup(ctx context.Context) error {
	if err := e.Cleanup(ctx); err != nil {
		return err
	}

	e.logger.Debug("running environment containers", zap.String("compose_path", e.composePath))
	return e.client.Up(ctx)
}

// cleanupTimeout bounds cleanup that runs after the caller's context is done
const cleanupTimeout = 2 * time.Minute

// cleanupContext keeps the values of ctx but drops its cancellation, giving
// cleanup its own deadline of cleanupTimeout plus extra.
func cleanupContext(ctx context.Context, extra time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout+extra)
}

// Teardown stops the plugins and removes the containers. It should be called
// once after all the tests finish. Plugin failures are logged and never
// prevent the cleanup.
func (e *EnvironmentController) Teardown(ctx context.Context) error {
	e.state = StateTearingDown
	e.logger.Debug("tearing down the environment")
	defer func() { e.state = StateStopped }()

	for _, p := range e.plugins {
		if err := safely(func() error { return p.Stop(ctx) }); err != nil {
			e.logger.Warn("failed stopping plugin, skipping",
				zap.String("plugin", pluginName(p)),
				zap.Error(err),
			)
		}
	}

	return e.Cleanup(ctx)
}

// Cleanup kills and removes the environment containers, unless containers
// are being reused.
func (e *EnvironmentController) Cleanup(ctx context.Context) error {
	if e.reuseContainers {
		e.logger.Warn("container reuse enabled: skipping environment cleanup")
		return nil
	}

	e.logger.Debug("killing environment containers")
	if err := e.client.Kill(ctx); err != nil {
		return err
	}

	e.logger.Debug("removing environment containers")
	return e.client.Remove(ctx)
}

// ValidateServiceName fails with ErrInvalidService when name isn't declared
// in the compose file.
func (e *EnvironmentController) ValidateServiceName(name string) error {
	if _, ok := e.known[name]; !ok {
		return &InvalidServiceError{Name: name, Services: e.Services()}
	}
	return nil
}

func (e *EnvironmentController) containerOp(ctx context.Context, name, action string, op func(context.Context, string) error) error {
	if err := e.ValidateServiceName(name); err != nil {
		return err
	}
	e.logger.Debug(action+" container", zap.String("service", name))
	return op(ctx, name)
}

// KillContainer kills the service's container
func (e *EnvironmentController) KillContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "killing", func(ctx context.Context, name string) error {
		return e.client.Kill(ctx, name)
	})
}

// RestartContainer -
func (e *EnvironmentController) RestartContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "restarting", e.client.Restart)
}

// PauseContainer -
func (e *EnvironmentController) PauseContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "pausing", e.client.Pause)
}

// UnpauseContainer -
func (e *EnvironmentController) UnpauseContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "unpausing", e.client.Unpause)
}

// StopContainer -
func (e *EnvironmentController) StopContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "stopping", e.client.Stop)
}

// StartContainer -
func (e *EnvironmentController) StartContainer(ctx context.Context, name string) error {
	return e.containerOp(ctx, name, "starting", e.client.Start)
}

// ContainerID returns the id of the service's container
func (e *EnvironmentController) ContainerID(ctx context.Context, name string) (string, error) {
	if err := e.ValidateServiceName(name); err != nil {
		return "", err
	}
	return e.client.ContainerID(ctx, name)
}

// Containers lists every container of the project, stopped ones included
func (e *EnvironmentController) Containers(ctx context.Context) ([]Container, error) {
	return e.client.Containers(ctx)
}

// FindContainer returns the compose view of the service's container: its
// state, health and published ports.
func (e *EnvironmentController) FindContainer(ctx context.Context, name string) (*Container, error) {
	if err := e.ValidateServiceName(name); err != nil {
		return nil, err
	}
	return e.client.FindContainer(ctx, name)
}

// ServiceAddress returns the host:port a service's private port is
// published on, e.g. to reach a mock server container.
func (e *EnvironmentController) ServiceAddress(ctx context.Context, name, port string) (string, error) {
	if err := e.ValidateServiceName(name); err != nil {
		return "", err
	}
	return e.client.Port(ctx, name, port)
}

// inspect returns the formatted inspect output of a service's container. A
// failing docker inspect is logged and yields an empty string.
func (e *EnvironmentController) inspect(ctx context.Context, name, format string) (string, error) {
	id, err := e.ContainerID(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		e.logger.Warn("no container found for service", zap.String("service", name))
		return "", nil
	}

	e.logger.Debug("getting container state", zap.String("service", name))
	out, err := e.client.Inspect(ctx, id, format)
	if err != nil {
		e.logger.Warn("failed getting container state", zap.String("service", name), zap.Error(err))
		return "", nil
	}
	return out, nil
}

// ContainerStatus returns the raw status of the service's container, such
// as "running", "paused" or "exited". It is empty when the container can't be
// inspected.
func (e *EnvironmentController) ContainerStatus(ctx context.Context, name string) (string, error) {
	return e.inspect(ctx, name, "{{json .State.Status}}")
}

// ContainerState returns the decoded state of the service's container
func (e *EnvironmentController) ContainerState(ctx context.Context, name string) (ContainerState, error) {
	var state ContainerState

	out, err := e.inspect(ctx, name, "{{json .State}}")
	if err != nil {
		return state, err
	}
	if out == "" {
		return state, fmt.Errorf("state of container %s is unavailable", name)
	}
	if err := decodeState(out, &state); err != nil {
		return state, fmt.Errorf("error decoding state of container %s: %w", name, err)
	}
	return state, nil
}

// IsContainerReady reports whether the service's container is ready. If a
// health check is defined a healthy container is ready, otherwise a running
// one is. Any failure to determine the state means not ready.
func (e *EnvironmentController) IsContainerReady(ctx context.Context, name string) bool {
	state, err := e.ContainerState(ctx, name)
	if err != nil {
		e.logger.Debug("container readiness unknown", zap.String("service", name), zap.Error(err))
		return false
	}

	ready := state.Ready()
	e.logger.Debug("container readiness", zap.String("service", name), zap.Bool("ready", ready))
	return ready
}

// WaitForServices waits until every given service is ready, or every
// service in the compose file when none are given.
func (e *EnvironmentController) WaitForServices(ctx context.Context, services []string, opts ...WaitOption) error {
	if len(services) == 0 {
		services = e.services
	}
	for _, name := range services {
		if err := e.ValidateServiceName(name); err != nil {
			return err
		}
	}

	cfg := newWaitConfig(opts)
	e.logger.Info("waiting for services to reach the required state", zap.Strings("services", services))

	err := Poll(ctx, cfg.interval, cfg.timeout, func(ctx context.Context) bool {
		for _, name := range services {
			if !e.IsContainerReady(ctx, name) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("waiting for services %v: %w", services, err)
	}
	return nil
}

// WaitForHealth waits for a single service, using WithHealthCheck when given
// and the container readiness check otherwise.
func (e *EnvironmentController) WaitForHealth(ctx context.Context, name string, opts ...WaitOption) error {
	if err := e.ValidateServiceName(name); err != nil {
		return err
	}

	cfg := newWaitConfig(opts)
	check := cfg.healthCheck
	if check == nil {
		check = func(ctx context.Context) bool { return e.IsContainerReady(ctx, name) }
	}

	e.logger.Debug("waiting for container to be healthy", zap.String("service", name))
	if err := Poll(ctx, cfg.interval, cfg.timeout, check); err != nil {
		return fmt.Errorf("waiting for %s: %w", name, err)
	}
	return nil
}

// UpdatePlugins forwards message to every plugin
func (e *EnvironmentController) UpdatePlugins(message string) {
	for _, p := range e.plugins {
		p.Update(message)
	}
}
