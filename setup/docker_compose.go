package setup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// DockerComposeClient runs compose subcommands against a single compose
// file and project name.
type DockerComposeClient struct {
	path    string
	project string
	command []string
	docker  string
	env     []string
	runner  CommandRunner
	logger  *zap.Logger
}

// NewDockerComposeClient -
func NewDockerComposeClient(path, project string, opts ...ClientOption) *DockerComposeClient {
	c := &DockerComposeClient{
		path:    path,
		project: project,
		command: []string{"docker", "compose"},
		docker:  "docker",
		runner:  NewExecRunner(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption configures a DockerComposeClient
type ClientOption func(*DockerComposeClient)

// WithComposeCommand overrides the compose executable, e.g. "docker-compose"
func WithComposeCommand(command ...string) ClientOption {
	return func(c *DockerComposeClient) {
		if len(command) > 0 {
			c.command = command
		}
	}
}

// WithDockerCommand overrides the docker executable used for inspect and stats
func WithDockerCommand(docker string) ClientOption {
	return func(c *DockerComposeClient) {
		if docker != "" {
			c.docker = docker
		}
	}
}

// WithEnv sets the environment every command runs with
func WithEnv(env []string) ClientOption {
	return func(c *DockerComposeClient) {
		c.env = env
	}
}

// WithRunner swaps the command runner
func WithRunner(r CommandRunner) ClientOption {
	return func(c *DockerComposeClient) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithClientLogger -
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *DockerComposeClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// Path returns the compose file path
func (c *DockerComposeClient) Path() string {
	return c.path
}

// Project returns the compose project name
func (c *DockerComposeClient) Project() string {
	return c.project
}

func (c *DockerComposeClient) composeArgs(args []string) (string, []string) {
	full := make([]string, 0, len(c.command)+len(args)+3)
	full = append(full, c.command[1:]...)
	full = append(full, "-f", c.path, "-p", c.project)
	full = append(full, args...)
	return c.command[0], full
}

func (c *DockerComposeClient) run(ctx context.Context, args ...string) ([]byte, error) {
	name, full := c.composeArgs(args)
	c.logger.Debug("running compose command",
		zap.String("command", name),
		zap.Strings("args", full),
	)
	return c.exec(ctx, name, full)
}

// Docker runs a plain docker command with the client's environment
func (c *DockerComposeClient) Docker(ctx context.Context, args ...string) ([]byte, error) {
	c.logger.Debug("running docker command", zap.Strings("args", args))
	return c.exec(ctx, c.docker, args)
}

// Stream runs a compose subcommand with its output copied to w
func (c *DockerComposeClient) Stream(ctx context.Context, w io.Writer, args ...string) (func() error, error) {
	name, full := c.composeArgs(args)
	c.logger.Debug("streaming compose command",
		zap.String("command", name),
		zap.Strings("args", full),
	)
	return c.runner.Stream(ctx, c.env, w, name, full...)
}

func (c *DockerComposeClient) exec(ctx context.Context, name string, args []string) ([]byte, error) {
	out, err := c.runner.Run(ctx, c.env, name, args...)
	if err == nil {
		return out, nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return out, err
	}
	return out, &CommandError{
		Command:  strings.Join(append([]string{name}, args...), " "),
		Output:   string(out),
		ExitCode: -1,
		Err:      err,
	}
}

// Services lists the services declared in the compose file
func (c *DockerComposeClient) Services(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "config", "--services")
	if err != nil {
		return nil, fmt.Errorf("failed getting environment services: %w", err)
	}

	var services []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			services = append(services, line)
		}
	}
	return services, nil
}

// Containers lists the project's containers, as reported by
// `compose ps --all --format=json`
func (c *DockerComposeClient) Containers(ctx context.Context) ([]Container, error) {
	out, err := c.run(ctx, "ps", "--all", "--format=json")
	if err != nil {
		return nil, fmt.Errorf("error listing containers: %w", err)
	}

	containers, err := parseContainers(out)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling response: %w", err)
	}
	return containers, nil
}

// FindContainer -
func (c *DockerComposeClient) FindContainer(ctx context.Context, name string) (*Container, error) {
	containers, err := c.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("error finding container by name %s: %w", name, err)
	}

	for _, c := range containers {
		if c.Service == name {
			return &c, nil
		}
	}

	return nil, fmt.Errorf("no container found by the name: %s", name)
}

// parseContainers accepts both the JSON array older compose releases print
// and the one-object-per-line output of newer ones.
func parseContainers(out []byte) ([]Container, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var containers []Container
	if out[0] == '[' {
		err := json.Unmarshal(out, &containers)
		return containers, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var container Container
		if err := json.Unmarshal(line, &container); err != nil {
			return nil, err
		}
		containers = append(containers, container)
	}
	return containers, scanner.Err()
}

// Up builds and starts every container in the background. Use
// EnvironmentController.WaitForServices to wait for them to become ready.
func (c *DockerComposeClient) Up(ctx context.Context) error {
	if _, err := c.run(ctx, "up", "--build", "-d"); err != nil {
		return fmt.Errorf("failed running environment containers: %w", err)
	}
	return nil
}

// Kill kills the named services, or every container of the project when
// no names are given.
func (c *DockerComposeClient) Kill(ctx context.Context, names ...string) error {
	if _, err := c.run(ctx, append([]string{"kill"}, names...)...); err != nil {
		return fmt.Errorf("failed killing containers %v: %w", names, err)
	}
	return nil
}

// Remove force-removes the stopped containers of the project
func (c *DockerComposeClient) Remove(ctx context.Context) error {
	if _, err := c.run(ctx, "rm", "-f"); err != nil {
		return fmt.Errorf("failed removing environment containers: %w", err)
	}
	return nil
}

// Restart -
func (c *DockerComposeClient) Restart(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "restart", name); err != nil {
		return fmt.Errorf("failed restarting container %s: %w", name, err)
	}
	return nil
}

// Pause -
func (c *DockerComposeClient) Pause(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "pause", name); err != nil {
		return fmt.Errorf("failed pausing container %s: %w", name, err)
	}
	return nil
}

// Unpause -
func (c *DockerComposeClient) Unpause(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "unpause", name); err != nil {
		return fmt.Errorf("failed unpausing container %s: %w", name, err)
	}
	return nil
}

// Stop a container by name, note that `name` refers to the name of the key of
// your service/container under the `services` list in your docker-compose. For
// example:
// services:
//   <NAME>:
//     image: redis:alpine
//
// Name does not refer to the generated name, or the `name` field.
func (c *DockerComposeClient) Stop(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "stop", name); err != nil {
		return fmt.Errorf("failed stopping container %s: %w", name, err)
	}
	return nil
}

// Start -
func (c *DockerComposeClient) Start(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "start", name); err != nil {
		return fmt.Errorf("failed starting container %s: %w", name, err)
	}
	return nil
}

// ContainerID returns the id of the service's container, empty when the
// container doesn't exist.
func (c *DockerComposeClient) ContainerID(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "ps", "-q", name)
	if err != nil {
		return "", fmt.Errorf("failed getting container %s id: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ProjectContainerIDs returns the ids of every container in the project
func (c *DockerComposeClient) ProjectContainerIDs(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "ps", "-q")
	if err != nil {
		return nil, fmt.Errorf("failed listing project containers: %w", err)
	}
	return strings.Fields(string(out)), nil
}

// Port returns the host address a service's private port is published on.
// port may carry a protocol, e.g. "8080" or "53/udp".
func (c *DockerComposeClient) Port(ctx context.Context, name, port string) (string, error) {
	proto, portNum := nat.SplitProtoPort(port)
	if n, err := nat.ParsePort(portNum); err != nil || n == 0 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	private, err := nat.NewPort(proto, portNum)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", port, err)
	}

	out, err := c.run(ctx, "port", "--protocol", private.Proto(), name, private.Port())
	if err != nil {
		return "", fmt.Errorf("failed getting published port %s of %s: %w", private, name, err)
	}

	addr := strings.TrimSpace(string(out))
	host, hostPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("unexpected port output %q: %w", addr, err)
	}
	published, err := nat.ParsePort(hostPort)
	if err != nil || published == 0 {
		return "", fmt.Errorf("port %s of %s is not published", private, name)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return net.JoinHostPort(host, strconv.Itoa(published)), nil
}

// Inspect returns `docker inspect --format <format> <id>` with surrounding
// quotes and newlines removed.
func (c *DockerComposeClient) Inspect(ctx context.Context, containerID, format string) (string, error) {
	out, err := c.Docker(ctx, "inspect", "--format", format, containerID)
	if err != nil {
		return "", fmt.Errorf("failed inspecting container %s: %w", containerID, err)
	}
	return strings.Trim(string(out), "\"\n"), nil
}
