/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"gostoryboard/internal/storage"
)

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteWorkbook(t *testing.T) {
	p := sampleProject()
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, p.Scenes, nil, p.Script); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := openWorkbook(t, buf.Bytes())
	if got := f.GetSheetList(); len(got) != 2 || got[0] != ShotsSheetName || got[1] != ScriptSheetName {
		t.Fatalf("sheets = %v", got)
	}
	rows, err := f.GetRows(ShotsSheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("want header + 3 rows, got %d", len(rows))
	}
	if len(rows[0]) != len(ShotSheetColumns) || rows[0][0] != "序号" || rows[0][24] != "音效" {
		t.Fatalf("header: %v", rows[0])
	}
	if rows[2][0] != "2" || rows[2][2] != "特写" || rows[2][18] != "韩梅梅, 李雷" {
		t.Fatalf("row 2: %v", rows[2])
	}
	head, _ := f.GetCellValue(ScriptSheetName, "A1")
	script, _ := f.GetCellValue(ScriptSheetName, "A2")
	if head != ScriptSheetName || script != p.Script {
		t.Fatalf("script sheet: %q %q", head, script)
	}
}

func TestWriteWorkbook_WithPrompts(t *testing.T) {
	p := sampleProject()
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, p.Scenes, p.ImagePrompts, p.Script); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := openWorkbook(t, buf.Bytes())
	rows, err := f.GetRows(ShotsSheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	n := len(ShotSheetColumns)
	if len(rows[0]) != n+len(PromptColumns) || rows[0][n] != PromptColumns[0] || rows[0][n+1] != "负面提示词" {
		t.Fatalf("header: %v", rows[0])
	}
	if rows[2][n] != "close-up of a woman looking up" || rows[2][n+1] != "blurry" {
		t.Fatalf("prompt columns: %v", rows[2][n:])
	}
	if !strings.Contains(rows[2][n+2], `"main_character": "韩梅梅"`) {
		t.Fatalf("prompt json: %s", rows[2][n+2])
	}
}

func TestWriteWorkbook_LongScriptSpreadsOverRows(t *testing.T) {
	line := strings.Repeat("雨", 1000)
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = line
	}
	script := strings.Join(lines, "\n")
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, sampleProject().Scenes, nil, script); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := openWorkbook(t, buf.Bytes())
	rows, err := f.GetRows(ScriptSheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1+len(lines) {
		t.Fatalf("want header + %d lines, got %d rows", len(lines), len(rows))
	}
	if rows[40][0] != line {
		t.Fatalf("last line mismatch")
	}
}

func TestExportWorkbook_DefaultsUnderExports(t *testing.T) {
	ph := initSample(t)
	path, err := ExportWorkbook(ph, "", true)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(ph.Root, storage.ExportsDirName) || filepath.Ext(path) != ".xlsx" {
		t.Fatalf("unexpected path: %s", path)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(ShotsSheetName)
	if err != nil || len(rows) != 4 {
		t.Fatalf("rows: %d %v", len(rows), err)
	}
}
