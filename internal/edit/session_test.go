/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package edit

import (
	"errors"
	"testing"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/scene"
)

func sampleShots(t *testing.T) []domain.Shot {
	t.Helper()
	shots, err := scene.NewValidator(nil).Validate([]any{
		map[string]any{"scene_description": "开门", "characters": []any{"李雷"}},
		map[string]any{"scene_description": "走进客厅"},
		map[string]any{"scene_description": "坐下"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return shots
}

func descriptions(shots []domain.Shot) []string {
	out := make([]string, len(shots))
	for i, s := range shots {
		out[i] = s.SceneDescription
	}
	return out
}

func assertOrder(t *testing.T, s *Session, want ...string) {
	t.Helper()
	shots := s.Shots()
	got := descriptions(shots)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
		if shots[i].SceneNumber != i+1 {
			t.Fatalf("shot %d numbered %d", i+1, shots[i].SceneNumber)
		}
	}
}

func TestSessionDeleteRenumbers(t *testing.T) {
	s := NewSession("p", sampleShots(t), nil, nil)
	if err := s.Delete(1); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, s, "走进客厅", "坐下")
	if !s.Dirty() {
		t.Fatal("delete should mark the session dirty")
	}
	if err := s.Delete(5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSessionInsertValidates(t *testing.T) {
	s := NewSession("p", sampleShots(t), nil, nil)
	shot, err := s.Insert(2, map[string]any{"shot_size": "bogus", "characters": "韩梅梅"})
	if err != nil {
		t.Fatal(err)
	}
	if shot.SceneNumber != 2 || shot.SceneDescription != "分镜头 2" {
		t.Fatalf("unexpected inserted shot: %+v", shot)
	}
	if shot.ShotSize != "中景" || len(shot.Characters) != 0 {
		t.Fatalf("insert should normalize fields: size=%q chars=%v", shot.ShotSize, shot.Characters)
	}
	assertOrder(t, s, "开门", "分镜头 2", "走进客厅", "坐下")
	if _, err := s.Insert(6, map[string]any{}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := s.Insert(5, map[string]any{"scene_description": "尾"}); err != nil {
		t.Fatalf("append position should be accepted: %v", err)
	}
}

func TestSessionUpdateMergesPatch(t *testing.T) {
	s := NewSession("p", sampleShots(t), nil, nil)
	shot, err := s.Update(1, map[string]any{"mood": "紧张", "scene_number": 9})
	if err != nil {
		t.Fatal(err)
	}
	if shot.SceneNumber != 1 || shot.Mood != "紧张" || shot.SceneDescription != "开门" {
		t.Fatalf("unexpected update result: %+v", shot)
	}
	if len(shot.Characters) != 1 || shot.Characters[0] != "李雷" {
		t.Fatalf("untouched fields must survive: %v", shot.Characters)
	}
}

func TestSessionMoveUndoRedo(t *testing.T) {
	s := NewSession("p", sampleShots(t), nil, nil)
	if err := s.Move(3, 1); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, s, "坐下", "开门", "走进客厅")
	if !s.CanUndo() || !s.Undo() {
		t.Fatal("undo should succeed")
	}
	assertOrder(t, s, "开门", "走进客厅", "坐下")
	if !s.Redo() {
		t.Fatal("redo should succeed")
	}
	assertOrder(t, s, "坐下", "开门", "走进客厅")
	if s.Redo() {
		t.Fatal("nothing left to redo")
	}
}

func TestSessionSharedHistoryIsPerProject(t *testing.T) {
	h := NewHistory(HistoryConfig{})
	a := NewSession("a", sampleShots(t), nil, h)
	b := NewSession("b", sampleShots(t), nil, h)
	if err := a.Delete(1); err != nil {
		t.Fatal(err)
	}
	if b.CanUndo() {
		t.Fatal("edits on a must not be undoable from b")
	}
	a.Close()
	if a.CanUndo() {
		t.Fatal("close should drop history")
	}
	a.MarkSaved()
	if a.Dirty() {
		t.Fatal("MarkSaved should clear dirty")
	}
}
