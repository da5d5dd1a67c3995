package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"

	"github.com/EwanValentine/docker-compose-tester/setup"
)

func run(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMockCommands(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	paths := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dir := t.TempDir()
	is.NoErr(os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"request":{"url":"/a"}}`), 0o644))
	is.NoErr(os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"request":{"url":"/b"}}`), 0o644))
	single := filepath.Join(t.TempDir(), "c.json")
	is.NoErr(os.WriteFile(single, []byte(`{"request":{"url":"/c"}}`), 0o644))

	_, err := run("mock", "load", "--url", srv.URL, dir, single)
	is.NoErr(err)
	_, err = run("mock", "reset", "--url", srv.URL)
	is.NoErr(err)

	is.Equal(paths["/__admin/mappings"], 3)
	is.Equal(paths["/__admin/mappings/reset"], 1)
}

func TestMockCommandsRequireURL(t *testing.T) {
	is := is.New(t)

	_, err := run("mock", "reset")
	is.True(err != nil)
}

func TestMissingConfigFails(t *testing.T) {
	is := is.New(t)

	_, err := run("--config", filepath.Join(t.TempDir(), "missing.yml"), "--api-version", "1.41", "services")
	is.True(err != nil)
}

func TestContainerCommandsNeedAService(t *testing.T) {
	is := is.New(t)

	for _, action := range []string{"kill", "restart", "pause", "unpause", "stop", "start", "status", "ready"} {
		_, err := run(action)
		is.True(err != nil)
	}
}

func TestWriteContainersListsPublishedPorts(t *testing.T) {
	is := is.New(t)

	var out bytes.Buffer
	is.NoErr(writeContainers(&out, []setup.Container{
		{Service: "web", State: "running", Health: "healthy", Publishers: []setup.Publisher{
			{URL: "0.0.0.0", TargetPort: 80, PublishedPort: 8080, Protocol: "tcp"},
			{URL: "", TargetPort: 443, PublishedPort: 0, Protocol: "tcp"},
		}},
		{Service: "db", State: "exited"},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	is.Equal(len(lines), 3)
	is.True(strings.HasPrefix(lines[0], "SERVICE"))
	is.Equal(strings.Fields(lines[1]), []string{"web", "running", "healthy", "0.0.0.0:8080->80/tcp"})
	is.Equal(strings.Fields(lines[2]), []string{"db", "exited", "-"})
}
