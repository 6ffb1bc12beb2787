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
	"strings"
	"unicode/utf8"
)

// minFTSRunes is the shortest query the trigram index can answer; shorter text
// falls back to a LIKE scan.
const minFTSRunes = 3

// SearchQuery describes a shot search.
// Text is matched as a literal substring. Character and Location filter by exact
// name and substring respectively. Types restricts document kinds (Doc* constants).
// SceneFrom/To are inclusive; 0 means unset. Limit defaults to 100.
type SearchQuery struct {
	Text      string
	Character string
	Location  string
	Types     []string
	SceneFrom int
	SceneTo   int
	Limit     int
	Offset    int
}

// SearchResult is a single matching document. SceneNumber is 0 for project-level
// documents. Snippet marks the match with [ ] when the FTS index answered.
type SearchResult struct {
	DocID       int64  `json:"doc_id"`
	Type        string `json:"type"`
	Path        string `json:"path"`
	SceneNumber int    `json:"scene_number"`
	Text        string `json:"text"`
	Snippet     string `json:"snippet,omitempty"`
}

// Search runs q against the project's index.
func Search(ctx context.Context, projectRoot string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

// ScenesMatching returns the distinct scene numbers with at least one hit, in order.
func ScenesMatching(ctx context.Context, projectRoot string, q SearchQuery) ([]int, error) {
	q.Limit, q.Offset = 10000, 0
	res, err := Search(ctx, projectRoot, q)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var out []int
	for _, r := range res {
		if r.SceneNumber > 0 && !seen[r.SceneNumber] {
			seen[r.SceneNumber] = true
			out = append(out, r.SceneNumber)
		}
	}
	return out, nil
}

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	text := strings.TrimSpace(q.Text)
	useFTS := utf8.RuneCountInString(text) >= minFTSRunes
	if useFTS {
		sb.WriteString("SELECT d.doc_id, d.type, d.path, COALESCE(d.scene_number,0), d.text, snippet(fts_documents, 0, '[', ']', '…', 16)\n")
		sb.WriteString("FROM fts_documents JOIN documents d ON fts_documents.rowid = d.doc_id\n")
		sb.WriteString("WHERE fts_documents MATCH ?\n")
		args = append(args, phrase(text))
	} else {
		sb.WriteString("SELECT d.doc_id, d.type, d.path, COALESCE(d.scene_number,0), d.text, ''\n")
		sb.WriteString("FROM documents d\nWHERE 1=1\n")
		if text != "" {
			sb.WriteString(" AND instr(d.text, ?) > 0\n")
			args = append(args, text)
		}
	}
	if len(q.Types) > 0 {
		sb.WriteString(" AND d.type IN (" + placeholders(len(q.Types)) + ")\n")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	switch {
	case q.SceneFrom > 0 && q.SceneTo > 0 && q.SceneTo >= q.SceneFrom:
		sb.WriteString(" AND d.scene_number BETWEEN ? AND ?\n")
		args = append(args, q.SceneFrom, q.SceneTo)
	case q.SceneFrom > 0:
		sb.WriteString(" AND d.scene_number >= ?\n")
		args = append(args, q.SceneFrom)
	case q.SceneTo > 0:
		sb.WriteString(" AND d.scene_number <= ?\n")
		args = append(args, q.SceneTo)
	}
	// Character and location filters match any document of a scene that has them.
	if s := strings.TrimSpace(q.Character); s != "" {
		sb.WriteString(" AND d.scene_number IN (SELECT scene_number FROM documents WHERE type=? AND lower(character)=lower(?))\n")
		args = append(args, DocCharacter, s)
	}
	if s := strings.TrimSpace(q.Location); s != "" {
		sb.WriteString(" AND d.scene_number IN (SELECT scene_number FROM documents WHERE type=? AND instr(text, ?) > 0)\n")
		args = append(args, DocLocation, s)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := max(q.Offset, 0)
	sb.WriteString("ORDER BY d.scene_number NULLS FIRST, d.doc_id\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var txt, sn sql.NullString
		if err := rows.Scan(&r.DocID, &r.Type, &r.Path, &r.SceneNumber, &txt, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Text = txt.String
		r.Snippet = sn.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// phrase quotes s as a single FTS5 string so operators in user input stay literal.
func phrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
