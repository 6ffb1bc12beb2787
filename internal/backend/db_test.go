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
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"gostoryboard/internal/storage"
)

func TestSnippet(t *testing.T) {
	cases := []struct {
		hay, needle string
		width       int
		want        string
	}{
		{"主角走进房间", "走进", 1, "…角[走进]房…"},
		{"Rain on the Window", "window", 20, "Rain on the [Window]"},
		{"abc", "zzz", 5, ""},
	}
	for _, c := range cases {
		if got := snippet(c.hay, c.needle, c.width); got != c.want {
			t.Errorf("snippet(%q,%q) = %q, want %q", c.hay, c.needle, got, c.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("migrations/0002_documents.sql"); err != nil || v != 2 {
		t.Fatalf("got %d %v", v, err)
	}
	for _, bad := range []string{"nounderscore.sql", "x_name.sql"} {
		if _, err := parseVersion(bad); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil || len(entries) < 2 {
		t.Fatalf("embedded migrations: %d %v", len(entries), err)
	}
}

// openStoreForTest connects to GSB_PG_DSN or DATABASE_URL and skips without one.
func openStoreForTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GSB_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("GSB_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s, err := OpenStore(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorePublishSearchDelete(t *testing.T) {
	s := openStoreForTest(t)
	ctx := context.Background()
	p := sampleProject()
	p.ID = "itest-" + time.Now().Format("150405.000000")
	p.Scenes[0].SceneNumber, p.Scenes[1].SceneNumber = 1, 2
	t.Cleanup(func() { _ = s.Delete(context.Background(), p.ID) })

	r1, err := s.Publish(ctx, p, "tester")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	r2, err := s.Publish(ctx, p, "tester")
	if err != nil || r2.Version != r1.Version+1 || r2.ID != r1.ID {
		t.Fatalf("republish: %+v %+v %v", r1, r2, err)
	}

	got, err := s.Project(ctx, p.ID)
	if err != nil || got.Name != p.Name || len(got.Scenes) != 2 {
		t.Fatalf("project: %+v %v", got, err)
	}
	shots, err := s.Shots(ctx, p.ID)
	if err != nil || len(shots) != 2 || shots[1].DialogueText != "你回来了" {
		t.Fatalf("shots: %+v %v", shots, err)
	}

	hits, err := s.Search(ctx, p.ID, storage.SearchQuery{Text: "抬头"})
	if err != nil || len(hits) != 1 || hits[0].SceneNumber != 2 {
		t.Fatalf("search: %+v %v", hits, err)
	}
	hits, err = s.Search(ctx, p.ID, storage.SearchQuery{Character: "韩梅梅", Types: []string{storage.DocDescription}})
	if err != nil || len(hits) != 1 || hits[0].SceneNumber != 2 {
		t.Fatalf("character search: %+v %v", hits, err)
	}

	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Project(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}
