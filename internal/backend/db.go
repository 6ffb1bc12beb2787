/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend is the shared storyboard catalog: a Postgres store, an HTTP API
// in front of it, and a thin client used by the CLI to publish projects.
package backend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned for unknown project ids.
var ErrNotFound = errors.New("backend: not found")

// ProjectSummary is the catalog listing row.
type ProjectSummary struct {
	ID          int64     `json:"id"`
	StableID    string    `json:"stable_id"`
	Name        string    `json:"name"`
	ShotCount   int       `json:"shot_count"`
	Version     int64     `json:"version"`
	PublishedBy string    `json:"published_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PublishResult identifies the stored version.
type PublishResult struct {
	ID       int64  `json:"id"`
	StableID string `json:"stable_id"`
	Version  int64  `json:"version"`
}

// Store is the Postgres-backed catalog. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenStore connects to dsn, checks connectivity and applies pending migrations.
func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: applog.WithComponent("backend.store")}, nil
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Publish stores p as the next version of the project identified by p.ID.
// Shots and search documents are replaced; earlier manifests are kept.
func (s *Store) Publish(ctx context.Context, p domain.Project, by string) (PublishResult, error) {
	if strings.TrimSpace(p.ID) == "" {
		return PublishResult{}, errors.New("project id is required")
	}
	manifest, err := json.Marshal(p)
	if err != nil {
		return PublishResult{}, fmt.Errorf("encode manifest: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PublishResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := PublishResult{StableID: p.ID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects(stable_id, name, description, shot_count, version, published_by, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, now())
		ON CONFLICT (stable_id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, shot_count = EXCLUDED.shot_count,
			version = projects.version + 1, published_by = EXCLUDED.published_by, updated_at = now()
		RETURNING id, version`,
		p.ID, p.Name, p.Metadata.Notes, len(p.Scenes), by).Scan(&res.ID, &res.Version)
	if err != nil {
		return PublishResult{}, fmt.Errorf("upsert project: %w", err)
	}
	for _, q := range []string{`DELETE FROM shots WHERE project_id = $1`, `DELETE FROM documents WHERE project_id = $1`} {
		if _, err := tx.ExecContext(ctx, q, res.ID); err != nil {
			return PublishResult{}, fmt.Errorf("clear project rows: %w", err)
		}
	}
	for _, sh := range p.Scenes {
		b, err := json.Marshal(sh)
		if err != nil {
			return PublishResult{}, fmt.Errorf("encode shot %d: %w", sh.SceneNumber, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO shots(project_id, scene_number, data) VALUES ($1, $2, $3)`,
			res.ID, sh.SceneNumber, string(b)); err != nil {
			return PublishResult{}, fmt.Errorf("insert shot %d: %w", sh.SceneNumber, err)
		}
	}
	for _, d := range storage.Documents(p) {
		var scene, char any
		if d.SceneNumber > 0 {
			scene = d.SceneNumber
		}
		if d.Character != "" {
			char = d.Character
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents(project_id, doc_type, external_ref, scene_number, character, raw_text) VALUES ($1,$2,$3,$4,$5,$6)`,
			res.ID, d.Type, d.Path, scene, char, d.Text); err != nil {
			return PublishResult{}, fmt.Errorf("insert document: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO index_snapshots(project_id, version, snapshot) VALUES ($1, $2, $3)`,
		res.ID, res.Version, string(manifest)); err != nil {
		return PublishResult{}, fmt.Errorf("insert manifest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PublishResult{}, fmt.Errorf("commit: %w", err)
	}
	s.log.InfoContext(ctx, "project published", slog.String("stable_id", p.ID), slog.Int64("version", res.Version), slog.Int("shots", len(p.Scenes)))
	return res, nil
}

// ListProjects returns catalog entries, most recently updated first.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stable_id, name, shot_count, version, published_by, updated_at FROM projects ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	list := []ProjectSummary{}
	for rows.Next() {
		var p ProjectSummary
		if err := rows.Scan(&p.ID, &p.StableID, &p.Name, &p.ShotCount, &p.Version, &p.PublishedBy, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Project returns the latest published manifest of the project.
func (s *Store) Project(ctx context.Context, stableID string) (domain.Project, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snap.snapshot FROM index_snapshots snap JOIN projects p ON p.id = snap.project_id
		WHERE p.stable_id = $1 ORDER BY snap.version DESC, snap.id DESC LIMIT 1`, stableID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("select manifest: %w", err)
	}
	var p domain.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Project{}, fmt.Errorf("decode manifest: %w", err)
	}
	return p, nil
}

// Shots returns the project's shots in scene order.
func (s *Store) Shots(ctx context.Context, stableID string) ([]domain.Shot, error) {
	id, err := s.internalID(ctx, stableID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM shots WHERE project_id = $1 ORDER BY scene_number`, id)
	if err != nil {
		return nil, fmt.Errorf("select shots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Shot{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan shot: %w", err)
		}
		var sh domain.Shot
		if err := json.Unmarshal(raw, &sh); err != nil {
			return nil, fmt.Errorf("decode shot: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// Search runs q over the project's documents.
func (s *Store) Search(ctx context.Context, stableID string, q storage.SearchQuery) ([]storage.SearchResult, error) {
	id, err := s.internalID(ctx, stableID)
	if err != nil {
		return nil, err
	}
	return SearchPG(ctx, s.db, id, q)
}

// Delete removes the project with all versions.
func (s *Store) Delete(ctx context.Context, stableID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE stable_id = $1`, stableID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) internalID(ctx context.Context, stableID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE stable_id = $1`, stableID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// applyMigrations applies embedded SQL migrations in filename order, each in its
// own transaction together with its schema_migrations row.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	l := applog.WithComponent("backend.migrate")
	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		l.InfoContext(ctx, "applying migration", slog.String("file", fname))
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}
