/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gostoryboard/internal/domain"
)

func sampleProject() domain.Project {
	return domain.Project{
		Name:   "雨夜",
		Script: "李雷走进客厅。\n韩梅梅：你回来了。",
		Scenes: []domain.Shot{
			{SceneNumber: 1, SceneDescription: "李雷推门走进客厅", Characters: []string{"李雷"}, Location: "客厅", Mood: "紧张", ShotSize: "中景"},
			{SceneNumber: 2, SceneDescription: "韩梅梅抬头", Characters: []string{"韩梅梅", "李雷"}, Location: "客厅", DialogueText: "你回来了", Mood: "平静", ShotSize: "特写"},
			{SceneNumber: 3, SceneDescription: "窗外雷雨交加", Location: "窗外街道", SoundEffects: "雷声", Mood: "压抑"},
		},
	}
}

func TestInitProjectCreatesStructureAndManifest(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	b, err := os.ReadFile(ph.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var got domain.Project
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if got.Name != "雨夜" || len(got.Scenes) != 3 {
		t.Fatalf("manifest mismatch: %+v", got)
	}
	if got.ID == "" || got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("id and timestamps should be filled: %+v", got)
	}
	if got.ImagePrompts == nil {
		t.Fatal("image_prompts should be an empty list, not null")
	}
	for _, d := range []string{ScriptDirName, ExportsDirName, BackupsDirName} {
		p := filepath.Join(root, d)
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", p)
		}
	}
	script, err := ReadScript(ph)
	if err != nil || script != got.Script {
		t.Fatalf("script file mismatch: %q err=%v", script, err)
	}
}

func TestInitProjectDefaultsName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "短片")
	ph, err := InitProject(root, domain.Project{})
	if err != nil {
		t.Fatal(err)
	}
	if ph.Project.Name != "短片" {
		t.Fatalf("name should default to the directory, got %q", ph.Project.Name)
	}
}

func TestSaveCreatesTimestampedBackup(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	ph.Project.Metadata.Notes = "changed"
	if err := Save(ph); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	baks, err := ListBackups(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(baks) == 0 {
		t.Fatalf("expected at least one backup file, found 0")
	}
	for _, b := range baks {
		if !strings.HasPrefix(filepath.Base(b), ManifestFileName+".") {
			t.Fatalf("unexpected backup name %s", b)
		}
	}
}

func TestOpenFallsBackToLatestBackupOnCorruption(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	ph.Project.Metadata.Notes = "touch"
	if err := Save(ph); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := os.WriteFile(ph.ManifestPath, []byte("{ this is not json"), 0o644); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}
	opened, err := Open(root)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if opened.Project.Name != "雨夜" || len(opened.Project.Scenes) != 3 {
		t.Fatalf("opened project mismatch: %+v", opened.Project)
	}
}

func TestOpenFallsBackOnSchemaViolation(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(ph); err != nil {
		t.Fatal(err)
	}
	// valid JSON, wrong shape
	if err := os.WriteFile(ph.ManifestPath, []byte(`{"project_name": 5, "scenes": "nope"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	opened, err := Open(root)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if opened.Project.Name != "雨夜" {
		t.Fatalf("expected backup content, got %+v", opened.Project)
	}
}

func TestOpenEmptyDirIsNotProject(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, ErrNotProject) {
		t.Fatalf("expected ErrNotProject, got %v", err)
	}
}

func TestAutosaveCrashSnapshotWritesFile(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	path, err := AutosaveCrashSnapshot(ph)
	if err != nil {
		t.Fatalf("AutosaveCrashSnapshot error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var got domain.Project
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.Name != "雨夜" {
		t.Fatalf("snapshot content mismatch: got %q", got.Name)
	}
	baks, _ := ListBackups(root)
	for _, b := range baks {
		if b == path {
			t.Fatal("crash snapshots must not be listed as manifest backups")
		}
	}
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject())
	if err != nil {
		t.Fatal(err)
	}
	for i := range 4 {
		ph.Project.Metadata.Notes = strings.Repeat("x", i+1)
		if err := Save(ph); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := ListBackups(root)
	if len(before) < 2 {
		t.Fatalf("expected several backups, got %d", len(before))
	}
	n, err := PruneBackups(root, 1)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := ListBackups(root)
	if len(after) != 1 || n != len(before)-1 {
		t.Fatalf("prune kept %d, removed %d (had %d)", len(after), n, len(before))
	}
	if after[0] != before[len(before)-1] {
		t.Fatalf("newest backup should survive: %s", after[0])
	}
}
