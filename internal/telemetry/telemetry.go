/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry provides a tiny, privacy‑respecting, opt‑in event sender
// for anonymous usage metrics and optional crash uploads.
//
// Events carry counts and durations only. Script text, shot descriptions and
// project names never leave the machine; sanitize enforces that on every event.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "gostoryboard/internal/log"
	"gostoryboard/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt‑in and disabled by default.
//
// Environment variables (read by FromEnv):
// - GSB_TELEMETRY_OPT_IN: "1", "true", "yes" to enable metrics
// - GSB_TELEMETRY_URL: URL to POST JSON events to
// - GSB_CRASH_UPLOAD_URL: URL to POST crash reports to
// - GSB_TELEMETRY_TIMEOUT_MS: optional request timeout, default 1500ms
// - GSB_TELEMETRY_DEBUG: if set, logs event send attempts
//
// If no URLs are set, events are dropped (no‑ops), even if opt‑in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

// Event names.
const (
	EventSplit     = "script_split"
	EventGenerate  = "storyboard_generated"
	EventPrompts   = "prompts_generated"
	EventExport    = "project_exported"
	EventServe     = "server_started"
	EventPublished = "project_published"
)

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("GSB_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("GSB_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("GSB_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("GSB_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("GSB_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client is a minimal async sender; it drops events silently on errors.
// The queue is bounded and Event never blocks.
type Client struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan any
	once   sync.Once
	closed chan struct{}
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault initializes the package‑level default client from env when first used.
func InitDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
}

// NewDefault creates and installs the default client with cfg, closing the previous one.
func NewDefault(cfg Config) {
	c := New(cfg)
	defaultMu.Lock()
	old := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
}

func current() *Client {
	InitDefault()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultClient
}

// New constructs a client.
func New(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan any, 64),
		closed: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether anonymous telemetry is enabled and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether anonymous telemetry is enabled using the default client.
func Enabled() bool { return current().Enabled() }

// Event queues a small JSON event if enabled. Safe to call from anywhere.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := sanitize(props)
	payload["name"] = name
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["version"] = version.String()
	payload["os"] = runtime.GOOS
	payload["arch"] = runtime.GOARCH
	select {
	case c.q <- payload:
	default:
		// drop if queue full
	}
}

// Event using default client.
func Event(name string, props map[string]any) { current().Event(name, props) }

// Generated reports a finished storyboard run.
func Generated(segments, shots, failed int, took time.Duration) {
	Event(EventGenerate, map[string]any{
		"segments": segments, "shots": shots, "failed_segments": failed, "duration_ms": took.Milliseconds(),
	})
}

// Exported reports an export by format.
func Exported(format string, shots int) {
	Event(EventExport, map[string]any{"format": format, "shots": shots})
}

// maxPropLen bounds string props; anything longer is likely content, not a label.
const maxPropLen = 32

// sanitize keeps numbers, booleans and short single-line strings. Everything else
// is dropped so free text cannot leak through a careless call site.
func sanitize(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+5)
	for k, v := range props {
		switch x := v.(type) {
		case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
			out[k] = x
		case time.Duration:
			out[k] = x.Milliseconds()
		case string:
			if len([]rune(x)) <= maxPropLen && !strings.ContainsAny(x, "\n\r") {
				out[k] = x
			}
		}
	}
	return out
}

// Flush waits briefly for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		if len(c.q) == 0 || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Flush drains the default client.
func Flush(ctx context.Context) { current().Flush(ctx) }

// Close stops background goroutine.
func (c *Client) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.q:
			c.send(item)
		}
	}
}

func (c *Client) send(item any) {
	buf, _ := json.Marshal(item)
	req, err := http.NewRequest(http.MethodPost, c.cfg.EventsURL, bytes.NewReader(buf))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry event sent")
	}
}

// UploadCrash posts an already‑serialized crash report to the configured crash URL if opt‑in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	go func(b []byte) {
		req, err := http.NewRequest(http.MethodPost, c.cfg.CrashURL, bytes.NewReader(b))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp, err := c.cli.Do(req)
		if err != nil {
			if c.cfg.DebugLogging {
				c.log.Debug("crash upload failed", slog.Any("err", err))
			}
			return
		}
		_ = resp.Body.Close()
		if c.cfg.DebugLogging {
			c.log.Debug("crash report uploaded")
		}
	}(append([]byte(nil), report...))
}

// UploadCrash using default client.
func UploadCrash(report []byte) { current().UploadCrash(report) }
