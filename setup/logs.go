package setup

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LogCollector follows the logs of every container in the project and writes
// them to a single file.
type LogCollector struct {
	client *DockerComposeClient
	path   string
	logger *zap.Logger

	out    sink
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewLogCollector -
func NewLogCollector(client *DockerComposeClient, path string, logger *zap.Logger) *LogCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogCollector{client: client, path: path, logger: logger}
}

func (l *LogCollector) String() string {
	return fmt.Sprintf("LogCollector(%s)", l.path)
}

// Path is the file logs are written to
func (l *LogCollector) Path() string {
	return l.path
}

// Start opens the log file and starts following the project's logs
func (l *LogCollector) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return fmt.Errorf("log collector already started")
	}

	if err := l.out.open(l.path); err != nil {
		return err
	}

	// the stream outlives the Start call, so it only ends on Stop
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wait, err := l.client.Stream(streamCtx, &l.out, "logs", "--no-color", "--timestamps", "-f")
	if err != nil {
		cancel()
		_ = l.out.close()
		return fmt.Errorf("failed following environment logs: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- wait()
	}()

	l.cancel = cancel
	l.done = done
	l.logger.Debug("collecting environment logs", zap.String("path", l.path))
	return nil
}

// Stop ends the log stream and closes the file
func (l *LogCollector) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return nil
	}

	l.cancel()
	select {
	case err := <-l.done:
		if err != nil {
			l.logger.Debug("log stream ended", zap.Error(err))
		}
	case <-ctx.Done():
		l.logger.Warn("gave up waiting for the log stream to end", zap.Error(ctx.Err()))
	}

	l.cancel = nil
	l.done = nil
	return l.out.close()
}

// Update writes a marker line into the log file
func (l *LogCollector) Update(message string) {
	l.out.marker(message)
}
