/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// Client talks to a storyboard API server.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a client. baseURL may include a trailing slash. A zero
// timeout means 15s; insecure skips TLS verification for self-signed test servers.
func NewClient(baseURL, token string, timeout time.Duration, insecure bool) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout, Transport: tr},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method, Path string
	Code         int
	Message      string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if raw, ok := body.([]byte); ok {
		rd = bytes.NewReader(raw)
	} else if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb) == nil {
			se.Message = eb.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Join(ErrNotFound, se)
		}
		return se
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// IssueToken asks a local server for a token.
func (c *Client) IssueToken(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/token", tokenRequest{Subject: subject, TTLMinutes: int(ttl / time.Minute)}, &out)
	return out.Token, err
}

// ListProjects returns the catalog.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	var list []ProjectSummary
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetProject fetches the latest published manifest.
func (c *Client) GetProject(ctx context.Context, stableID string) (domain.Project, error) {
	var p domain.Project
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(stableID), nil, &p)
	return p, err
}

// Publish uploads p as the next version.
func (c *Client) Publish(ctx context.Context, p domain.Project) (PublishResult, error) {
	var res PublishResult
	err := c.do(ctx, http.MethodPut, "/api/projects/"+url.PathEscape(p.ID), p, &res)
	return res, err
}

// Delete removes a published project.
func (c *Client) Delete(ctx context.Context, stableID string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(stableID), nil, nil)
}

// Search queries a published project's documents.
func (c *Client) Search(ctx context.Context, stableID string, q storage.SearchQuery) ([]storage.SearchResult, error) {
	v := url.Values{}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	if q.Character != "" {
		v.Set("character", q.Character)
	}
	if q.Location != "" {
		v.Set("location", q.Location)
	}
	for _, t := range q.Types {
		v.Add("type", t)
	}
	for k, n := range map[string]int{"from": q.SceneFrom, "to": q.SceneTo, "limit": q.Limit, "offset": q.Offset} {
		if n > 0 {
			v.Set(k, strconv.Itoa(n))
		}
	}
	path := "/api/projects/" + url.PathEscape(stableID) + "/search"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}
	var res []storage.SearchResult
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Validate sends raw model output to the server's validator.
func (c *Client) Validate(ctx context.Context, raw []byte) ([]domain.Shot, error) {
	var shots []domain.Shot
	if err := c.do(ctx, http.MethodPost, "/api/validate", raw, &shots); err != nil {
		return nil, err
	}
	return shots, nil
}
