/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package llm talks to OpenAI-compatible chat-completion endpoints: it sends
// one script segment per request and extracts the JSON shot list from the reply.
package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	applog "gostoryboard/internal/log"
	"gostoryboard/internal/vocab"
)

const (
	DefaultTemperature = 0.7
	DefaultTimeout     = 600 * time.Second
	// model listing is interactive, keep it short
	listTimeout = 30 * time.Second
)

// Config selects the provider and request parameters.
type Config struct {
	Brand   string
	Model   string
	BaseURL string // overrides the provider's api base when set
	APIKey  string // optional for local servers

	Temperature   *float64 // nil means DefaultTemperature; zero is honoured
	Timeout       time.Duration
	MaxRetries    int
	SkipTLSVerify bool

	// HTTPClient replaces the transport; tests use it with httptest servers.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	cfg         Config
	base        string
	temperature float64
	api         openai.Client
	cache       Cache
	cat         *vocab.Catalog
	system      string
	log         *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithCache stores replies keyed by request content so re-running a project does
// not pay for unchanged segments.
func WithCache(c Cache) Option { return func(cl *Client) { cl.cache = c } }

// WithCatalog sets the vocabulary used to render the system prompt.
func WithCatalog(cat *vocab.Catalog) Option { return func(cl *Client) { cl.cat = cat } }

// WithSystemPrompt replaces the rendered storyboard instruction.
func WithSystemPrompt(p string) Option { return func(cl *Client) { cl.system = p } }

// New builds a client for cfg. The base URL comes from cfg.BaseURL or the brand's catalog entry.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		p, ok := Lookup(cfg.Brand)
		if !ok {
			return nil, fmt.Errorf("%w: unknown brand %q", ErrNotConfigured, cfg.Brand)
		}
		base = p.APIBase
		if cfg.APIKey == "" && !p.Local {
			return nil, fmt.Errorf("%w for %s", ErrMissingKey, cfg.Brand)
		}
		if cfg.Model == "" {
			cfg.Model = p.DefaultModel()
		}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no model", ErrNotConfigured)
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{cfg: cfg, base: base, temperature: temperature, cache: noCache{}}
	for _, o := range opts {
		o(c)
	}
	if c.system == "" {
		sp, err := SystemPrompt(c.cat)
		if err != nil {
			return nil, err
		}
		c.system = sp
	}
	c.log = applog.WithComponent("llm").With(slog.String("brand", cfg.Brand), slog.String("model", cfg.Model))

	ro := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		ro = append(ro, option.WithAPIKey(cfg.APIKey))
	} else {
		ro = append(ro, option.WithHeaderDel("Authorization"))
	}
	if hc := httpClient(cfg); hc != nil {
		ro = append(ro, option.WithHTTPClient(hc))
	}
	c.api = openai.NewClient(ro...)
	return c, nil
}

func httpClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	if !cfg.SkipTLSVerify {
		return nil
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	return &http.Client{Transport: tr}
}

// BaseURL is the resolved api base.
func (c *Client) BaseURL() string { return c.base }

// Model is the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends one system+user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, c.temperature)
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	key := cacheKey(c.base, c.cfg.Model, temperature, system, user)
	if hit, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("cache get failed", slog.Any("err", err))
	} else if ok {
		c.log.Debug("cache hit", slog.String("key", key[:12]))
		return hit, nil
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", c.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return "", ErrTruncated
	}
	c.log.Debug("completion", slog.Duration("took", time.Since(start)), slog.Int64("tokens", resp.Usage.TotalTokens))

	if err := c.cache.Set(ctx, key, choice.Message.Content); err != nil {
		c.log.Warn("cache set failed", slog.Any("err", err))
	}
	return choice.Message.Content, nil
}

// DivideScript asks the model to storyboard one segment and returns the decoded
// JSON value from its reply. The value is not yet validated.
func (c *Client) DivideScript(ctx context.Context, segment string) (any, error) {
	reply, err := c.Complete(ctx, c.system, UserPrompt(segment))
	if err != nil {
		return nil, err
	}
	v, err := ExtractJSON(reply)
	if err != nil {
		c.log.Warn("no JSON in reply", slog.Int("reply_len", len(reply)))
		return nil, err
	}
	return v, nil
}

// Translate renders Chinese film text in English. Quotes wrapping the whole reply are stripped.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	reply, err := c.complete(ctx, translateSystem, TranslatePrompt(text), translateTemperature)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(reply)
	for _, q := range []string{`"`, "'"} {
		if len(out) >= 2 && strings.HasPrefix(out, q) && strings.HasSuffix(out, q) {
			out = out[1 : len(out)-1]
		}
	}
	if out == "" {
		return text, nil
	}
	return out, nil
}

// ListModels asks the provider for its model ids.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return nil, c.wrap(err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{Status: apiErr.StatusCode, Brand: c.cfg.Brand, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("llm: %s timed out after %s: %w", c.cfg.Brand, c.cfg.Timeout, err)
	}
	return fmt.Errorf("llm: %s request: %w", c.cfg.Brand, err)
}
