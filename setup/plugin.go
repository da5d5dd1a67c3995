package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Plugin is an optional collaborator that lives as long as the environment,
// e.g. a log or stats collector. Start and Stop failures never fail the
// environment.
type Plugin interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Update receives test lifecycle messages, such as the name of the test
	// about to run.
	Update(message string)
}

func pluginName(p Plugin) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}

// safely runs a plugin call, turning a panic into an error so a misbehaving
// plugin can't abort setup or teardown.
func safely(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return call()
}

// sink is a file shared between a collector's background writer and Update.
type sink struct {
	mu   sync.Mutex
	file *os.File
}

func (s *sink) open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed creating %s: %w", path, err)
	}

	s.mu.Lock()
	s.file = f
	s.mu.Unlock()
	return nil
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, io.ErrClosedPipe
	}
	return s.file.Write(p)
}

func (s *sink) marker(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	fmt.Fprintf(s.file, "\n=== %s %s ===\n\n", time.Now().UTC().Format(time.RFC3339), message)
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
