/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// utf8BOM makes spreadsheet applications detect the encoding of the CSV.
const utf8BOM = "\uFEFF"

// ShotSheetColumns is the header of the shot sheet, in column order.
var ShotSheetColumns = []string{
	"序号", "分镜描述", "景别", "摄影机角度", "运镜", "摄影机装备",
	"镜头焦段", "相机", "镜头", "光圈",
	"场景类型", "构图张力", "轴线处理", "镜头衔接", "审美技法",
	"主角核心表达", "情绪设计", "表演风格",
	"人物", "地点", "时间", "情绪", "台词", "旁白", "音效",
}

// PromptColumns are appended when prompts are exported with the shots.
var PromptColumns = []string{"提示词（文本）", "负面提示词", "提示词（JSON）"}

// WriteShotSheet writes shots as CSV. Prompt columns are added when prompts is
// non-empty; prompts are matched to shots by scene number.
func WriteShotSheet(w io.Writer, shots []domain.Shot, prompts []domain.ImagePrompt) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(sheetHeader(len(prompts) > 0)); err != nil {
		return err
	}
	rows, err := sheetRows(shots, prompts)
	if err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func sheetHeader(withPrompts bool) []string {
	if !withPrompts {
		return ShotSheetColumns
	}
	return append(append([]string{}, ShotSheetColumns...), PromptColumns...)
}

// sheetRows renders one row per shot in ShotSheetColumns order, followed by the
// prompt columns when prompts is non-empty.
func sheetRows(shots []domain.Shot, prompts []domain.ImagePrompt) ([][]string, error) {
	withPrompts := len(prompts) > 0
	byScene := make(map[int]domain.ImagePrompt, len(prompts))
	for _, p := range prompts {
		byScene[p.SceneNumber] = p
	}
	rows := make([][]string, 0, len(shots))
	for _, s := range shots {
		row := []string{
			strconv.Itoa(s.SceneNumber), s.SceneDescription, s.ShotSize, s.CameraAngle,
			s.CameraMovement, s.CameraEquipment, s.LensFocalLength, s.Camera, s.Lens,
			s.Aperture, s.SceneType, s.CompositionTension, s.AxisCrossing, s.ShotTransition,
			s.AestheticsTechnique, s.ProtagonistType, s.EmotionDesign, s.PerformanceStyle,
			strings.Join(s.Characters, ", "), s.Location, s.Time, s.Mood,
			s.DialogueText, s.VoiceoverText, s.SoundEffects,
		}
		if withPrompts {
			p := byScene[s.SceneNumber]
			js := ""
			if p.PromptJSON != nil {
				b, err := json.MarshalIndent(p.PromptJSON, "", "  ")
				if err != nil {
					return nil, fmt.Errorf("encode prompt %d: %w", s.SceneNumber, err)
				}
				js = string(b)
			}
			row = append(row, p.PromptText, p.NegativePrompt, js)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ExportShotSheet writes the project's shot sheet to outPath and the script next to
// it as <name>_script.txt. Both paths are returned.
func ExportShotSheet(ph *storage.ProjectHandle, outPath string, withPrompts bool) (sheet, script string, err error) {
	if ph == nil {
		return "", "", fmt.Errorf("project handle is nil")
	}
	sheet, err = resolveOut(ph, outPath, "csv")
	if err != nil {
		return "", "", err
	}
	var prompts []domain.ImagePrompt
	if withPrompts {
		prompts = ph.Project.ImagePrompts
	}
	if err := writeFile(sheet, func(w io.Writer) error {
		return WriteShotSheet(w, ph.Project.Scenes, prompts)
	}); err != nil {
		return "", "", fmt.Errorf("write shot sheet: %w", err)
	}
	script = strings.TrimSuffix(sheet, filepath.Ext(sheet)) + "_script.txt"
	if err := os.WriteFile(script, []byte(ph.Project.Script), 0o644); err != nil {
		return "", "", fmt.Errorf("write script: %w", err)
	}
	return sheet, script, nil
}

// resolveOut places relative paths under <project>/exports and fills in a
// timestamped default name when outPath is empty.
func resolveOut(ph *storage.ProjectHandle, outPath, ext string) (string, error) {
	if outPath == "" {
		outPath = fmt.Sprintf("storyboard_%s.%s", time.Now().Format("20060102_150405"), ext)
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(ph.Root, storage.ExportsDirName, outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure out dir: %w", err)
	}
	return outPath, nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
