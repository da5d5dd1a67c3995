// Package wiremock configures WireMock based mock services through their
// admin API. See http://wiremock.org for the mapping format.
//
//	c := wiremock.NewController("http://localhost:9999")
//	err := c.SetMappingFromDir(ctx, "testdata/mappings")
//	err = c.ResetMapping(ctx)
package wiremock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

// ErrWiremock matches every error returned by the Controller
var ErrWiremock = errors.New("wiremock controller failure")

// Error describes a failed admin API call. Err is the transport error or the
// rejected response.
type Error struct {
	URL string
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed %s on %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrWiremock
}

// StatusError is a non-2xx admin API response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Controller manages the stub mappings of a single WireMock server. It holds
// no mapping state of its own.
type Controller struct {
	url         string
	mappingsURL string
	resetURL    string
	client      *http.Client
	logger      *zap.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithHTTPClient -
func WithHTTPClient(c *http.Client) Option {
	return func(w *Controller) {
		if c != nil {
			w.client = c
		}
	}
}

// WithLogger -
func WithLogger(l *zap.Logger) Option {
	return func(w *Controller) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewController returns a controller for the WireMock server at url
func NewController(url string, opts ...Option) *Controller {
	base := strings.TrimRight(url, "/")
	c := &Controller{
		url:         url,
		mappingsURL: base + "/__admin/mappings",
		resetURL:    base + "/__admin/mappings/reset",
		client:      cleanhttp.DefaultPooledClient(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL -
func (c *Controller) URL() string {
	return c.url
}

// SetMappingFromDir applies every *.json file in dir. Subdirectories are not
// scanned and files are applied in no particular order.
func (c *Controller) SetMappingFromDir(ctx context.Context, dir string) error {
	c.logger.Debug("setting wiremock mapping from directory", zap.String("url", c.url), zap.String("dir", dir))
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return &Error{URL: c.url, Op: "listing mappings in " + dir, Err: err}
	}
	return c.SetMappingFromFiles(ctx, paths)
}

// SetMappingFromFiles applies each JSON stub file, stopping at the first failure
func (c *Controller) SetMappingFromFiles(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := c.SetMappingFromFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// SetMappingFromFile applies a JSON stub file
func (c *Controller) SetMappingFromFile(ctx context.Context, path string) error {
	c.logger.Debug("setting wiremock mapping from file", zap.String("url", c.url), zap.String("file", path))
	data, err := os.ReadFile(path)
	if err == nil && !json.Valid(data) {
		err = errors.New("invalid json")
	}
	if err != nil {
		c.logger.Error("failed reading wiremock mapping",
			zap.String("url", c.url),
			zap.String("file", path),
			zap.Error(err),
		)
		return &Error{URL: c.url, Op: "reading mapping " + path, Err: err}
	}
	return c.SetMappingFromJSON(ctx, json.RawMessage(data))
}

// SetMappingFromJSON posts a stub mapping. mapping is anything encoding/json
// can marshal, raw JSON included.
func (c *Controller) SetMappingFromJSON(ctx context.Context, mapping any) error {
	body, err := json.Marshal(mapping)
	if err != nil {
		return &Error{URL: c.url, Op: "encoding mapping", Err: err}
	}

	c.logger.Debug("setting wiremock mapping", zap.String("url", c.url), zap.ByteString("mapping", body))
	if err := c.post(ctx, c.mappingsURL, body); err != nil {
		c.logger.Error("failed setting wiremock mapping",
			zap.String("url", c.url),
			zap.ByteString("mapping", body),
			zap.Error(err),
		)
		return &Error{URL: c.url, Op: "setting mapping", Err: err}
	}
	return nil
}

// ResetMapping drops every mapping added through the admin API
func (c *Controller) ResetMapping(ctx context.Context) error {
	c.logger.Debug("resetting wiremock mapping", zap.String("url", c.url))
	if err := c.post(ctx, c.resetURL, nil); err != nil {
		c.logger.Error("failed resetting wiremock mapping", zap.String("url", c.url), zap.Error(err))
		return &Error{URL: c.url, Op: "resetting mapping", Err: err}
	}
	return nil
}

func (c *Controller) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
