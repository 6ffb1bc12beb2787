/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastAuth atomic.Value
	lastBody atomic.Value
}

func newFakeServer(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.calls.Add(1)
		fs.lastAuth.Store(r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.lastBody.Store(body)
		h(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func completion(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": finish,
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	})
	return string(b)
}

func testClient(t *testing.T, url, key string, opts ...Option) *Client {
	t.Helper()
	c, err := New(Config{Brand: "test", Model: "test-model", BaseURL: url, APIKey: key}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDivideScriptExtractsFencedJSON(t *testing.T) {
	reply := "好的，分镜如下：\n```json\n[{\"scene_number\":1,\"shot_size\":\"近景\"}]\n```"
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(reply, "stop")))
	})
	c := testClient(t, srv.URL, "sk-test")

	v, err := c.DivideScript(context.Background(), "李雷走进房间。")
	if err != nil {
		t.Fatalf("DivideScript: %v", err)
	}
	list, ok := v.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected value %#v", v)
	}
	if got := srv.lastAuth.Load().(string); got != "Bearer sk-test" {
		t.Fatalf("auth header %q", got)
	}
	body := srv.lastBody.Load().(map[string]any)
	if body["model"] != "test-model" || body["temperature"] != 0.7 {
		t.Fatalf("request body %v", body)
	}
	msgs := body["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].(string)
	if !strings.HasPrefix(user, "请对以下剧本进行分镜头划分：\n\n") || !strings.HasSuffix(user, "李雷走进房间。") {
		t.Fatalf("user prompt %q", user)
	}
}

func TestNoKeySendsNoAuthorization(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("[]", "stop")))
	})
	c := testClient(t, srv.URL, "")
	if _, err := c.Complete(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := srv.lastAuth.Load().(string); got != "" {
		t.Fatalf("expected no auth header, got %q", got)
	}
}

func TestStatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		rateLimit bool
		auth      bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusForbidden, false, true},
		{http.StatusInternalServerError, false, false},
	}
	for _, tc := range cases {
		srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x","code":"y"}}`))
		})
		c := testClient(t, srv.URL, "k")
		_, err := c.Complete(context.Background(), "s", "u")
		var ae *APIError
		if !errors.As(err, &ae) || ae.Status != tc.status {
			t.Fatalf("status %d: got %v", tc.status, err)
		}
		if IsRateLimited(err) != tc.rateLimit || IsAuth(err) != tc.auth {
			t.Fatalf("status %d: rate=%v auth=%v", tc.status, IsRateLimited(err), IsAuth(err))
		}
		if got := srv.calls.Load(); got != 1 {
			t.Fatalf("status %d: expected no retries, got %d calls", tc.status, got)
		}
	}
}

func TestTruncatedReply(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("[{\"scene_num", "length")))
	})
	c := testClient(t, srv.URL, "k")
	if _, err := c.DivideScript(context.Background(), "x"); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestCacheAvoidsSecondCall(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("[]", "stop")))
	})
	cache := NewMemoryCache()
	c := testClient(t, srv.URL, "k", WithCache(cache))
	for i := 0; i < 2; i++ {
		if _, err := c.DivideScript(context.Background(), "same segment"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if srv.calls.Load() != 1 || cache.Len() != 1 {
		t.Fatalf("calls=%d cached=%d", srv.calls.Load(), cache.Len())
	}
	if _, err := c.DivideScript(context.Background(), "other segment"); err != nil {
		t.Fatal(err)
	}
	if srv.calls.Load() != 2 {
		t.Fatalf("different segment should miss the cache")
	}
}

func TestListModels(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"a","object":"model","created":1,"owned_by":"me"},{"id":"b","object":"model","created":1,"owned_by":"me"}]}`))
	})
	c := testClient(t, srv.URL, "")
	ids, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("ids %v", ids)
	}
}

func TestNewResolvesBrand(t *testing.T) {
	if _, err := New(Config{Brand: "Deepseek"}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("hosted brand without key: %v", err)
	}
	if _, err := New(Config{Brand: BrandLMStudio}); err != nil {
		t.Fatalf("local brand needs no key: %v", err)
	}
	c, err := New(Config{Brand: "Deepseek", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseURL() != "https://api.deepseek.com/v1" || c.Model() != "deepseek-chat" {
		t.Fatalf("resolved %s %s", c.BaseURL(), c.Model())
	}
	if _, err := New(Config{Brand: "nobody"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(Config{BaseURL: "http://x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing model should fail, got %v", err)
	}
}

func TestTemperatureZeroIsSent(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("[]", "stop")))
	})
	zero := 0.0
	c, err := New(Config{Brand: "test", Model: "test-model", BaseURL: srv.URL, APIKey: "k", Temperature: &zero})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.DivideScript(context.Background(), "雨夜。"); err != nil {
		t.Fatalf("DivideScript: %v", err)
	}
	body := srv.lastBody.Load().(map[string]any)
	got, ok := body["temperature"]
	if !ok || got != 0.0 {
		t.Fatalf("temperature = %v (present %v), want 0", got, ok)
	}
}

func TestTranslateStripsQuotes(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("\"a man walks into the room\"", "stop")))
	})
	c := testClient(t, srv.URL, "k")
	got, err := c.Translate(context.Background(), "男人走进房间")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a man walks into the room" {
		t.Fatalf("got %q", got)
	}
	body := srv.lastBody.Load().(map[string]any)
	if body["temperature"] != 0.3 {
		t.Fatalf("translation temperature %v", body["temperature"])
	}
	if got, _ := c.Translate(context.Background(), "  "); got != "  " || srv.calls.Load() != 1 {
		t.Fatal("blank text must not call the model")
	}
}
