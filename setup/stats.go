package setup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// DefaultStatsInterval is how often container stats are sampled
const DefaultStatsInterval = 5 * time.Second

// StatsCollector periodically samples `docker stats` for the project's
// containers into <dir>/<project>_stats.log.
type StatsCollector struct {
	client   *DockerComposeClient
	path     string
	interval time.Duration
	logger   *zap.Logger

	out    sink
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatsCollector -
func NewStatsCollector(client *DockerComposeClient, dir string, interval time.Duration, logger *zap.Logger) *StatsCollector {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsCollector{
		client:   client,
		path:     filepath.Join(dir, client.Project()+"_stats.log"),
		interval: interval,
		logger:   logger,
	}
}

func (s *StatsCollector) String() string {
	return fmt.Sprintf("StatsCollector(%s)", s.path)
}

// Path is the file stats are written to
func (s *StatsCollector) Path() string {
	return s.path
}

// Start opens the stats file and begins sampling
func (s *StatsCollector) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("stats collector already started")
	}

	if err := s.out.open(s.path); err != nil {
		return err
	}

	sampleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := backoff.NewTicker(backoff.NewConstantBackOff(s.interval))
		defer ticker.Stop()
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
				s.sample(sampleCtx)
			}
		}
	}()

	s.cancel = cancel
	s.done = done
	s.logger.Debug("collecting environment stats", zap.String("path", s.path), zap.Duration("interval", s.interval))
	return nil
}

func (s *StatsCollector) sample(ctx context.Context) {
	ids, err := s.client.ProjectContainerIDs(ctx)
	if err != nil || len(ids) == 0 {
		return
	}

	args := append([]string{"stats", "--no-stream", "--format", "{{json .}}"}, ids...)
	out, err := s.client.Docker(ctx, args...)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("failed sampling container stats", zap.Error(err))
		}
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var buf bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%s %s\n", now, line)
	}
	if _, err := s.out.Write(buf.Bytes()); err != nil {
		s.logger.Debug("failed writing container stats", zap.Error(err))
	}
}

// Stop ends sampling and closes the stats file
func (s *StatsCollector) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("gave up waiting for the stats sampler to end", zap.Error(ctx.Err()))
	}

	s.cancel = nil
	s.done = nil
	return s.out.close()
}

// Update writes a marker line into the stats file
func (s *StatsCollector) Update(message string) {
	s.out.marker(message)
}
