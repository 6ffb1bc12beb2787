/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName stores all per-project derived data under the project root.
	IndexDirName  = ".gsb"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema for the embedded index.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2
)

// Document types stored in the index.
const (
	DocProjectName = "project_name"
	DocScript      = "script"
	DocDescription = "scene_description"
	DocDialogue    = "dialogue"
	DocVoiceover   = "voiceover"
	DocSound       = "sound_effects"
	DocLocation    = "location"
	DocCharacter   = "character"
	DocMood        = "mood"
	DocPrompt      = "prompt"
)

// IndexPath returns the full path to the project's embedded index database file.
func IndexPath(projectRoot string) string {
	return filepath.Join(projectRoot, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures that the per-project SQLite index exists at .gsb/index.sqlite,
// opens the database, enables WAL mode and brings the schema up to date.
// Callers close the returned *sql.DB.
func InitOrOpenIndex(projectRoot string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", projectRoot),
	)
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	path := IndexPath(projectRoot)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	// Migrations run before the schema check so an old FTS table is replaced, not kept.
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep the stored schema so runMigrations sees it
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		return nil // never downgrade
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 2:
			// v1 used a contentless unicode61 FTS table, which treats a run of CJK text
			// as one token. v2 switches to an external-content trigram table.
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin migration %d: %w", next, err)
			}
			stmts := []string{
				`DROP TRIGGER IF EXISTS documents_ai;`,
				`DROP TRIGGER IF EXISTS documents_ad;`,
				`DROP TRIGGER IF EXISTS documents_au;`,
				`DROP TABLE IF EXISTS fts_documents;`,
				`DELETE FROM documents;`,
			}
			for _, q := range stmts {
				if _, err := tx.ExecContext(ctx, q); err != nil && !strings.Contains(err.Error(), "no such table") {
					_ = tx.Rollback()
					return fmt.Errorf("migration %d stmt failed: %w", next, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d update version: %w", next, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migration %d commit: %w", next, err)
			}
		}
		cur = next
	}
	return nil
}

// ensureIndexSchema creates the documents table, its FTS index and the snapshot table.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		// One row per searchable text: shot fields, script, project name.
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id       INTEGER PRIMARY KEY,
			type         TEXT    NOT NULL,
			path         TEXT    NOT NULL,
			scene_number INTEGER,
			character    TEXT,
			text         TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_scene ON documents(scene_number);`,

		// Trigram FTS over documents.text; matches substrings of 3+ characters in any script.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_documents USING fts5(
			text,
			content='documents',
			content_rowid='doc_id',
			tokenize='trigram'
		);`,

		`CREATE TABLE IF NOT EXISTS script_snapshots (
			id    INTEGER PRIMARY KEY,
			ts    TEXT    NOT NULL,
			text  TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_script_snapshots_ts ON script_snapshots(ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE OF text ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// DetectAndRebuildIndex checks for corruption or missing schema and rebuilds the index if needed.
// It returns true when a rebuild was performed.
func DetectAndRebuildIndex(ctx context.Context, projectRoot string, proj domain.Project) (bool, error) {
	path := IndexPath(projectRoot)
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		backupIndexFile(path)
		removeIndexFiles(path)
		if rbErr := RebuildIndex(ctx, projectRoot, proj); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM documents LIMIT 1;`); err != nil {
			needs = true
		}
	}
	_ = db.Close()
	if !needs {
		return false, nil
	}
	backupIndexFile(path)
	removeIndexFiles(path)
	if err := RebuildIndex(ctx, projectRoot, proj); err != nil {
		return false, err
	}
	return true, nil
}

// backupIndexFile copies the current index file into a timestamped backup in .gsb/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func removeIndexFiles(indexPath string) {
	for _, p := range []string{indexPath, indexPath + "-wal", indexPath + "-shm"} {
		_ = os.Remove(p)
	}
}

// BuildIndexIfEmpty populates the index from the manifest when it holds no documents.
func BuildIndexIfEmpty(ctx context.Context, projectRoot string, proj domain.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents;").Scan(&cnt); err != nil {
		return fmt.Errorf("check documents count: %w", err)
	}
	if cnt > 0 {
		return nil
	}
	return rebuildDocuments(ctx, db, proj)
}

// UpdateIndex replaces the indexed documents with the manifest's current content.
func UpdateIndex(ctx context.Context, projectRoot string, proj domain.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	return rebuildDocuments(ctx, db, proj)
}

// RebuildIndex drops and recreates the documents and FTS tables, then repopulates
// them. Script snapshots and meta/version are preserved.
func RebuildIndex(ctx context.Context, projectRoot string, proj domain.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TRIGGER IF EXISTS documents_ai;",
		"DROP TRIGGER IF EXISTS documents_ad;",
		"DROP TRIGGER IF EXISTS documents_au;",
		"DROP TABLE IF EXISTS fts_documents;",
		"DROP TABLE IF EXISTS documents;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		return err
	}
	return rebuildDocuments(ctx, db, proj)
}

// Document is one searchable piece of a project. SceneNumber is 0 and Character
// empty for project-level text.
type Document struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	SceneNumber int    `json:"scene_number,omitempty"`
	Character   string `json:"character,omitempty"`
	Text        string `json:"text"`
}

// Documents flattens a project into searchable documents. The local index and
// the shared catalog store the same rows.
func Documents(proj domain.Project) []Document {
	docs := make([]Document, 0, 8*len(proj.Scenes)+2)
	add := func(typ, path string, scene int, text string) {
		if s := strings.TrimSpace(text); s != "" {
			docs = append(docs, Document{Type: typ, Path: path, SceneNumber: scene, Text: s})
		}
	}
	add(DocProjectName, "project:name", 0, proj.Name)
	add(DocScript, "script:"+ScriptFileName, 0, proj.Script)
	for _, s := range proj.Scenes {
		base := fmt.Sprintf("scene:%d", s.SceneNumber)
		add(DocDescription, base+"/description", s.SceneNumber, s.SceneDescription)
		add(DocDialogue, base+"/dialogue", s.SceneNumber, s.DialogueText)
		add(DocVoiceover, base+"/voiceover", s.SceneNumber, s.VoiceoverText)
		add(DocSound, base+"/sound", s.SceneNumber, s.SoundEffects)
		add(DocLocation, base+"/location", s.SceneNumber, s.Location)
		add(DocMood, base+"/mood", s.SceneNumber, s.Mood)
		for _, c := range s.Characters {
			if c = strings.TrimSpace(c); c == "" {
				continue
			}
			docs = append(docs, Document{
				Type: DocCharacter, Path: base + "/character:" + c,
				SceneNumber: s.SceneNumber, Character: c, Text: c,
			})
		}
	}
	for _, p := range proj.ImagePrompts {
		add(DocPrompt, fmt.Sprintf("scene:%d/prompt", p.SceneNumber), p.SceneNumber, p.PromptText)
	}
	return docs
}

// nullable maps zero values to SQL NULL.
func (d Document) nullable() (sql.NullInt64, sql.NullString) {
	var scene sql.NullInt64
	var char sql.NullString
	if d.SceneNumber > 0 {
		scene = sql.NullInt64{Int64: int64(d.SceneNumber), Valid: true}
	}
	if d.Character != "" {
		char = sql.NullString{String: d.Character, Valid: true}
	}
	return scene, char
}

// rebuildDocuments replaces the documents table content in one transaction.
func rebuildDocuments(ctx context.Context, db *sql.DB, proj domain.Project) error {
	docs := Documents(proj)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents;"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear documents: %w", err)
	}
	ins, err := tx.PrepareContext(ctx, "INSERT INTO documents(type, path, scene_number, character, text) VALUES(?,?,?,?,?);")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	for _, d := range docs {
		scene, char := d.nullable()
		if _, err := ins.ExecContext(ctx, d.Type, d.Path, scene, char, d.Text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
