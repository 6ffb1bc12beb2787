/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package edit implements the editing session behind shot-list commands: delete,
// insert, update and move, each followed by revalidation and renumbering, with
// undo/redo backed by a shared History.
package edit

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/scene"
)

// ErrOutOfRange is returned for a scene number outside the current list.
var ErrOutOfRange = errors.New("edit: scene number out of range")

// Session edits one project's shot list. It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	key   string
	v     *scene.Validator
	hist  *History
	shots []domain.Shot
	dirty bool
	now   func() time.Time
}

// NewSession starts a session over a copy of shots. key identifies the project in
// hist; a nil hist gets a private History with default caps, a nil v the default
// validator.
func NewSession(key string, shots []domain.Shot, v *scene.Validator, hist *History) *Session {
	if v == nil {
		v = scene.NewValidator(nil)
	}
	if hist == nil {
		hist = NewHistory(HistoryConfig{})
	}
	s := &Session{key: key, v: v, hist: hist, shots: domain.CloneShots(shots), now: time.Now}
	if s.shots == nil {
		s.shots = []domain.Shot{}
	}
	return s
}

// Shots returns a copy of the current list.
func (s *Session) Shots() []domain.Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneShots(s.shots)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shots)
}

// Dirty reports unsaved edits since the session started or MarkSaved was called.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) MarkSaved() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Delete removes scene n (1-based) and renumbers the rest.
func (s *Session) Delete(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(n, len(s.shots)); err != nil {
		return err
	}
	if err := s.pushLocked(fmt.Sprintf("delete %d", n)); err != nil {
		return err
	}
	s.shots = slices.Delete(s.shots, n-1, n)
	scene.Renumber(s.shots)
	s.dirty = true
	return nil
}

// Insert validates raw and places it at position at (1..Len()+1); later shots move
// down. The stored shot is returned.
func (s *Session) Insert(at int, raw map[string]any) (domain.Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(at, len(s.shots)+1); err != nil {
		return domain.Shot{}, err
	}
	records := s.rawLocked()
	records = slices.Insert(records, at-1, any(maps.Clone(raw)))
	return s.applyLocked(fmt.Sprintf("insert %d", at), records, at)
}

// Update merges patch into scene n and revalidates. Keys in patch replace the
// stored values; scene_number is ignored.
func (s *Session) Update(n int, patch map[string]any) (domain.Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(n, len(s.shots)); err != nil {
		return domain.Shot{}, err
	}
	records := s.rawLocked()
	rec := records[n-1].(map[string]any)
	for k, v := range patch {
		if k == "scene_number" {
			continue
		}
		rec[k] = v
	}
	return s.applyLocked(fmt.Sprintf("update %d", n), records, n)
}

// Move relocates scene from to position to and renumbers.
func (s *Session) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(from, len(s.shots)); err != nil {
		return err
	}
	if err := s.checkLocked(to, len(s.shots)); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err := s.pushLocked(fmt.Sprintf("move %d", from)); err != nil {
		return err
	}
	shot := s.shots[from-1]
	s.shots = slices.Delete(s.shots, from-1, from)
	s.shots = slices.Insert(s.shots, to-1, shot)
	scene.Renumber(s.shots)
	s.dirty = true
	return nil
}

// Undo restores the list as it was before the last edit.
func (s *Session) Undo() bool {
	return s.swap(s.hist.Undo)
}

// Redo reapplies the last undone edit.
func (s *Session) Redo() bool {
	return s.swap(s.hist.Redo)
}

func (s *Session) CanUndo() bool { return s.hist.CanUndo(s.key) }
func (s *Session) CanRedo() bool { return s.hist.CanRedo(s.key) }

// Close releases the session's history.
func (s *Session) Close() { s.hist.Clear(s.key) }

func (s *Session) swap(step func(Snapshot) (Snapshot, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.snapshotLocked("")
	if err != nil {
		return false
	}
	prev, ok := step(cur)
	if !ok {
		return false
	}
	var shots []domain.Shot
	if err := json.Unmarshal(prev.Blob, &shots); err != nil {
		return false
	}
	s.shots = shots
	s.dirty = true
	return true
}

func (s *Session) checkLocked(n, limit int) error {
	if n < 1 || n > limit {
		return fmt.Errorf("%w: %d (have %d)", ErrOutOfRange, n, len(s.shots))
	}
	return nil
}

func (s *Session) rawLocked() []any {
	out := make([]any, len(s.shots))
	for i, sh := range s.shots {
		out[i] = scene.ToRaw(sh)
	}
	return out
}

// applyLocked validates the full record list so numbering and placeholder
// descriptions stay list-wide, then commits it.
func (s *Session) applyLocked(label string, records []any, n int) (domain.Shot, error) {
	shots, err := s.v.Validate(records)
	if err != nil {
		return domain.Shot{}, err
	}
	if err := s.pushLocked(label); err != nil {
		return domain.Shot{}, err
	}
	s.shots = shots
	s.dirty = true
	return shots[n-1].Clone(), nil
}

func (s *Session) pushLocked(label string) error {
	snap, err := s.snapshotLocked(label)
	if err != nil {
		return err
	}
	s.hist.Push(snap)
	return nil
}

func (s *Session) snapshotLocked(label string) (Snapshot, error) {
	b, err := json.Marshal(s.shots)
	if err != nil {
		return Snapshot{}, fmt.Errorf("edit: snapshot: %w", err)
	}
	return Snapshot{Key: s.key, Label: label, Blob: b, TS: s.now()}, nil
}
