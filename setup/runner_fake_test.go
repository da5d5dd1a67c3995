package setup

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/mock"
)

type response struct {
	out string
	err error
	// do runs while the command executes, e.g. to cancel its context
	do func()
}

// fakeRunner answers commands from a script keyed by the subcommand, e.g.
// "kill db" or "inspect --format {{json .State}} abc". A key with several
// responses hands them out in order and then keeps repeating the last one.
type fakeRunner struct {
	mu        sync.Mutex
	script    map[string][]response
	calls     []string
	envs      [][]string
	streamOut string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{script: map[string][]response{
		"config --services": {{out: "web\ndb\n"}},
	}}
}

func (f *fakeRunner) on(key string, responses ...response) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[key] = responses
	return f
}

func commandKey(args []string) string {
	for i, a := range args {
		if a == "-p" && i+2 <= len(args) {
			return strings.Join(args[i+2:], " ")
		}
	}
	return strings.Join(args, " ")
}

func (f *fakeRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// like exec.CommandContext, a done context refuses to start the command
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := commandKey(args)
	f.calls = append(f.calls, key)
	f.envs = append(f.envs, env)

	responses := f.script[key]
	if len(responses) == 0 {
		return nil, nil
	}
	r := responses[0]
	if len(responses) > 1 {
		f.script[key] = responses[1:]
	}
	if r.do != nil {
		r.do()
	}
	return []byte(r.out), r.err
}

func (f *fakeRunner) Stream(ctx context.Context, env []string, w io.Writer, name string, args ...string) (func() error, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commandKey(args))
	out := f.streamOut
	f.mu.Unlock()

	if out != "" {
		if _, err := io.WriteString(w, out); err != nil {
			return nil, err
		}
	}
	return func() error {
		<-ctx.Done()
		return ctx.Err()
	}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) count(key string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakeRunner) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.envs = nil
}

type mockPlugin struct {
	mock.Mock
}

func (m *mockPlugin) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockPlugin) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockPlugin) Update(message string) {
	m.Called(message)
}

func newTestController(t *testing.T, runner *fakeRunner, opts Options) *EnvironmentController {
	t.Helper()
	is := is.New(t)

	if opts.ProjectName == "" {
		opts.ProjectName = "testproject"
	}
	if opts.ComposePath == "" {
		opts.ComposePath = "docker-compose.yml"
	}
	if opts.LogPath == "" {
		opts.LogPath = t.TempDir() + "/logs/environment.log"
	}
	opts.APIVersion = "1.41"
	opts.Runner = runner

	env, err := NewEnvironmentController(context.Background(), opts)
	is.NoErr(err)
	return env
}
