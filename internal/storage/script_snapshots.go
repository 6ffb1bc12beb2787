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
	"time"
)

// language=SQL
// dialect=SQLite
const insertScriptSnapshotSQL = `INSERT INTO script_snapshots(ts, text) VALUES (?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestScriptSnapshotSQL = `SELECT ts, text FROM script_snapshots ORDER BY ts DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listScriptSnapshotsSQL = `SELECT ts, text FROM script_snapshots ORDER BY ts DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldScriptSnapshotsSQL = `DELETE FROM script_snapshots WHERE id NOT IN (
	SELECT id FROM script_snapshots ORDER BY ts DESC LIMIT ?
)`

// ScriptSnapshot is one saved version of a project's script.
type ScriptSnapshot struct {
	TS   time.Time
	Text string
}

// SaveScriptSnapshot records the script text as it was sent for splitting, so a
// regenerated storyboard can be compared with the script that produced it.
func SaveScriptSnapshot(ctx context.Context, ph *ProjectHandle, text string, ts time.Time) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, insertScriptSnapshotSQL, ts.UTC().Format(time.RFC3339Nano), text)
	return err
}

// LatestScriptSnapshot returns the newest snapshot; ok is false when none exist.
func LatestScriptSnapshot(ctx context.Context, ph *ProjectHandle) (snap ScriptSnapshot, ok bool, err error) {
	if ph == nil {
		return ScriptSnapshot{}, false, errors.New("nil ProjectHandle")
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return ScriptSnapshot{}, false, err
	}
	defer func() { _ = db.Close() }()
	var tsStr string
	err = db.QueryRowContext(ctx, selectLatestScriptSnapshotSQL).Scan(&tsStr, &snap.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return ScriptSnapshot{}, false, nil
	}
	if err != nil {
		return ScriptSnapshot{}, false, err
	}
	snap.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
	return snap, true, nil
}

// ListScriptSnapshots returns up to limit snapshots, newest first.
func ListScriptSnapshots(ctx context.Context, ph *ProjectHandle, limit int) ([]ScriptSnapshot, error) {
	if ph == nil {
		return nil, errors.New("nil ProjectHandle")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listScriptSnapshotsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []ScriptSnapshot
	for rows.Next() {
		var tsStr string
		var s ScriptSnapshot
		if err := rows.Scan(&tsStr, &s.Text); err != nil {
			return nil, err
		}
		s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneOldScriptSnapshots keeps at most keepLast snapshots and deletes older ones.
func PruneOldScriptSnapshots(ctx context.Context, ph *ProjectHandle, keepLast int) (int64, error) {
	if ph == nil {
		return 0, errors.New("nil ProjectHandle")
	}
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	res, err := db.ExecContext(ctx, pruneOldScriptSnapshotsSQL, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
