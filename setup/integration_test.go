//go:build integration

package setup

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/matryer/is"
	"go.uber.org/zap/zaptest"

	"github.com/EwanValentine/docker-compose-tester/wiremock"
)

var (
	_, b, _, _ = runtime.Caller(0)
	basepath   = filepath.Dir(b)
	config     = filepath.Join(basepath, "testdata", "docker-compose.yaml")
)

func newIntegrationEnvironment(t *testing.T) *EnvironmentController {
	t.Helper()
	is := is.New(t)

	ctx := context.Background()
	env, err := NewEnvironmentController(ctx, Options{
		ProjectName:  "composetester",
		ComposePath:  config,
		LogPath:      filepath.Join(t.TempDir(), "environment.log"),
		CollectStats: true,
		Logger:       zaptest.NewLogger(t),
	})
	is.NoErr(err)

	is.NoErr(env.Setup(ctx))
	t.Cleanup(func() {
		is.NoErr(env.Teardown(context.Background()))
	})
	is.NoErr(env.WaitForServices(ctx, nil, WithTimeout(2*time.Minute)))
	return env
}

func TestCanKillAndRestartContainer(t *testing.T) {
	is := is.New(t)
	env := newIntegrationEnvironment(t)
	ctx := context.Background()

	is.NoErr(env.KillContainer(ctx, "db"))
	is.True(!env.IsContainerReady(ctx, "db"))

	is.NoErr(env.RestartContainer(ctx, "db"))
	is.NoErr(env.WaitForHealth(ctx, "db"))
}

func TestFaultsAreRecovered(t *testing.T) {
	is := is.New(t)
	env := newIntegrationEnvironment(t)
	ctx := context.Background()

	is.NoErr(env.ContainerPaused(ctx, "web", func() error {
		status, err := env.ContainerStatus(ctx, "web")
		is.NoErr(err)
		is.Equal(status, "paused")
		return nil
	}))
	is.True(env.IsContainerReady(ctx, "web"))

	is.NoErr(env.ContainerStopped(ctx, "db", func() error {
		is.True(!env.IsContainerReady(ctx, "db"))
		return nil
	}))
	is.True(env.IsContainerReady(ctx, "db"))
}

func TestCanConfigureMockService(t *testing.T) {
	is := is.New(t)
	env := newIntegrationEnvironment(t)
	ctx := context.Background()

	addr, err := env.ServiceAddress(ctx, "mock", "8080")
	is.NoErr(err)

	mock := wiremock.NewController("http://" + addr)
	is.NoErr(Poll(ctx, time.Second, time.Minute, func(ctx context.Context) bool {
		return mock.ResetMapping(ctx) == nil
	}))
	is.NoErr(mock.SetMappingFromDir(ctx, filepath.Join(basepath, "testdata", "mappings")))

	resp, err := http.Get("http://" + addr + "/hello")
	is.NoErr(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	is.Equal(string(body), "hello")
}
