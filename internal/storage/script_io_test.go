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
	"os"
	"path/filepath"
	"testing"

	"gostoryboard/internal/domain"
)

func TestSaveAsAndScriptIO(t *testing.T) {
	root := t.TempDir()
	ph, err := InitProject(root, domain.Project{Name: "Orig"})
	if err != nil {
		t.Fatalf("InitProject: %v", err)
	}
	ph.Project.Name = "Renamed"
	newRoot := filepath.Join(root, "newproj")
	if err := SaveAs(ph, newRoot); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	if ph.Root != newRoot || ph.ManifestPath != filepath.Join(newRoot, ManifestFileName) {
		t.Fatalf("ProjectHandle paths not updated: %+v", ph)
	}
	b, err := os.ReadFile(ph.ManifestPath)
	if err != nil {
		t.Fatalf("read new manifest: %v", err)
	}
	var got domain.Project
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal new manifest: %v", err)
	}
	if got.Name != "Renamed" {
		t.Fatalf("unexpected project name in new manifest: %q", got.Name)
	}
	if filepath.Dir(ScriptFilePath(ph)) != filepath.Join(newRoot, ScriptDirName) {
		t.Fatalf("script path dir mismatch: %q", ScriptFilePath(ph))
	}
}

func TestScriptFilePath_NilHandle(t *testing.T) {
	if p := ScriptFilePath(nil); p != "" {
		t.Fatalf("expected empty path for nil handle, got %q", p)
	}
}

func TestReadScript_MissingReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	ph := &ProjectHandle{Root: root, ManifestPath: filepath.Join(root, ManifestFileName)}
	s, err := ReadScript(ph)
	if err != nil {
		t.Fatalf("ReadScript unexpected error for missing file: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for missing script, got %q", s)
	}
}

func TestWriteScript_AndReadBack(t *testing.T) {
	root := t.TempDir()
	ph := &ProjectHandle{Root: root, ManifestPath: filepath.Join(root, ManifestFileName)}
	text := "第一场 客厅 夜\n李雷推门而入。"
	if err := WriteScript(ph, text); err != nil {
		t.Fatalf("WriteScript error: %v", err)
	}
	if _, err := os.Stat(ScriptFilePath(ph)); err != nil {
		t.Fatalf("expected script file: %v", err)
	}
	got, err := ReadScript(ph)
	if err != nil {
		t.Fatalf("ReadScript error: %v", err)
	}
	if got != text || ph.Project.Script != text {
		t.Fatalf("roundtrip mismatch: %q vs %q", got, text)
	}
}
