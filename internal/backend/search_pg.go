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
	"database/sql"
	"fmt"
	"strings"

	"gostoryboard/internal/storage"
)

// SearchPG executes a search over the Postgres documents table and returns results
// shaped like the local index's, so both stores answer the same queries alike.
//
// Text matches as a literal substring (strpos); the 'simple' tsvector does not
// segment CJK, so it only serves the headline.
func SearchPG(ctx context.Context, db *sql.DB, projectID int64, q storage.SearchQuery) ([]storage.SearchResult, error) {
	var (
		args []any
		b    strings.Builder
	)
	// Helper to add parameter and return placeholder like $n
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	text := strings.TrimSpace(q.Text)
	b.WriteString("SELECT d.id, d.doc_type, d.external_ref, COALESCE(d.scene_number,0), d.raw_text ")
	b.WriteString("FROM documents d WHERE d.project_id = " + place(projectID) + " ")
	if text != "" {
		b.WriteString(" AND strpos(lower(d.raw_text), lower(" + place(text) + ")) > 0 ")
	}
	if len(q.Types) > 0 {
		b.WriteString(" AND d.doc_type = ANY (" + place(q.Types) + ") ")
	}
	switch {
	case q.SceneFrom > 0 && q.SceneTo > 0 && q.SceneTo >= q.SceneFrom:
		b.WriteString(" AND d.scene_number BETWEEN " + place(q.SceneFrom) + " AND " + place(q.SceneTo) + " ")
	case q.SceneFrom > 0:
		b.WriteString(" AND d.scene_number >= " + place(q.SceneFrom) + " ")
	case q.SceneTo > 0:
		b.WriteString(" AND d.scene_number <= " + place(q.SceneTo) + " ")
	}
	// Character and location filters match any document of a scene that has them.
	if s := strings.TrimSpace(q.Character); s != "" {
		b.WriteString(" AND d.scene_number IN (SELECT c.scene_number FROM documents c WHERE c.project_id = d.project_id AND c.doc_type = " +
			place(storage.DocCharacter) + " AND lower(c.character) = lower(" + place(s) + ")) ")
	}
	if s := strings.TrimSpace(q.Location); s != "" {
		b.WriteString(" AND d.scene_number IN (SELECT l.scene_number FROM documents l WHERE l.project_id = d.project_id AND l.doc_type = " +
			place(storage.DocLocation) + " AND strpos(l.raw_text, " + place(s) + ") > 0) ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := max(q.Offset, 0)
	b.WriteString(" ORDER BY d.scene_number NULLS FIRST, d.id ")
	b.WriteString(" LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []storage.SearchResult{}
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.DocID, &r.Type, &r.Path, &r.SceneNumber, &r.Text); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if text != "" {
			r.Snippet = snippet(r.Text, text, 16)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// snippet marks the first match of needle with [ ] and keeps about width runes of
// context on each side.
func snippet(hay, needle string, width int) string {
	h := []rune(hay)
	lh, ln := []rune(strings.ToLower(hay)), []rune(strings.ToLower(needle))
	at := -1
	for i := 0; i+len(ln) <= len(lh); i++ {
		if string(lh[i:i+len(ln)]) == string(ln) {
			at = i
			break
		}
	}
	if at < 0 || len(lh) != len(h) {
		return ""
	}
	start, end := max(at-width, 0), min(at+len(ln)+width, len(h))
	var sb strings.Builder
	if start > 0 {
		sb.WriteString("…")
	}
	sb.WriteString(string(h[start:at]))
	sb.WriteString("[" + string(h[at:at+len(ln)]) + "]")
	sb.WriteString(string(h[at+len(ln) : end]))
	if end < len(h) {
		sb.WriteString("…")
	}
	return sb.String()
}
