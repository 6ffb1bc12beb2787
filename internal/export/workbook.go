/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// Sheet names of the storyboard workbook.
const (
	ShotsSheetName  = "分镜头"
	ScriptSheetName = "原始剧本"
)

// WriteWorkbook writes an xlsx workbook with the shot sheet on the first tab and
// the original script on the second. Prompt columns are added when prompts is
// non-empty.
func WriteWorkbook(w io.Writer, shots []domain.Shot, prompts []domain.ImagePrompt, script string) error {
	rows, err := sheetRows(shots, prompts)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), ShotsSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := sheetHeader(len(prompts) > 0)
	if err := setRow(f, ShotsSheetName, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, ShotsSheetName, i+2, row); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(ShotsSheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(ShotsSheetName, "B", last, 18); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	if err := f.SetPanes(ShotsSheetName, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(ScriptSheetName); err != nil {
		return fmt.Errorf("script sheet: %w", err)
	}
	if err := setRow(f, ScriptSheetName, 1, []string{ScriptSheetName}); err != nil {
		return err
	}
	for i, chunk := range scriptCells(script) {
		if err := setRow(f, ScriptSheetName, i+2, []string{chunk}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(ScriptSheetName, "A", "A", 100); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

// scriptCells keeps the script in one cell, as spreadsheet users expect, and only
// spreads it over one line per row when it exceeds the cell size limit.
func scriptCells(script string) []string {
	if utf8.RuneCountInString(script) <= excelize.TotalCellChars {
		return []string{script}
	}
	return strings.Split(script, "\n")
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}

// ExportWorkbook writes the project's storyboard workbook to outPath and returns
// the written path.
func ExportWorkbook(ph *storage.ProjectHandle, outPath string, withPrompts bool) (string, error) {
	if ph == nil {
		return "", fmt.Errorf("project handle is nil")
	}
	path, err := resolveOut(ph, outPath, FormatXLSX)
	if err != nil {
		return "", err
	}
	var prompts []domain.ImagePrompt
	if withPrompts {
		prompts = ph.Project.ImagePrompts
	}
	if err := writeFile(path, func(w io.Writer) error {
		return WriteWorkbook(w, ph.Project.Scenes, prompts, ph.Project.Script)
	}); err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}
	return path, nil
}
