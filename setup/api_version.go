package setup

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/client"
)

// ServerAPIVersion asks the docker daemon, located through the usual
// DOCKER_* environment variables, for the API version it speaks.
func ServerAPIVersion(ctx context.Context) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	version, err := cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed getting docker server version: %w", err)
	}
	return version.APIVersion, nil
}

// commandEnvironment copies the process environment and pins both compose and
// docker to apiVersion. The process environment itself is left untouched.
func commandEnvironment(apiVersion string) []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "COMPOSE_API_VERSION=") || strings.HasPrefix(kv, "DOCKER_API_VERSION=") {
			continue
		}
		env = append(env, kv)
	}
	if apiVersion != "" {
		env = append(env, "COMPOSE_API_VERSION="+apiVersion, "DOCKER_API_VERSION="+apiVersion)
	}
	return env
}
