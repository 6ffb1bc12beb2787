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

	"github.com/jung-kurt/gofpdf"
	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// PDFOptions controls the storyboard PDF.
//
// Page geometry is A4 portrait in millimetres. Each shot is one row: a framing
// thumbnail on the left and the shot card on the right.
//
// FontFile must point to a TrueType font with CJK coverage for Chinese text to
// render. Without it the built-in Helvetica is used, labels switch to English and
// characters outside cp1252 are replaced.
type PDFOptions struct {
	FontFile       string
	FontSize       float64 // default 9
	IncludePrompts bool
}

const (
	pageMargin = 12.0
	frameWidth = 64.0
	rowGap     = 5.0
	colGap     = 5.0
)

type cardLabels struct {
	shot, characters, location, time, mood, dialogue, voiceover, sound, prompt, negative, page string
}

var (
	labelsZH = cardLabels{"镜头", "人物", "地点", "时间", "情绪", "台词", "旁白", "音效", "提示词", "负面提示词", "第 %d 页"}
	labelsEN = cardLabels{"Shot", "Characters", "Location", "Time", "Mood", "Dialogue", "Voiceover", "Sound", "Prompt", "Negative", "Page %d"}
)

// WritePDF renders p as a storyboard PDF to w.
func WritePDF(w io.Writer, p domain.Project, opt PDFOptions) error {
	size := opt.FontSize
	if size <= 0 {
		size = 9
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle(p.Name, true)
	pdf.SetCreator("gostoryboard", true)

	family := "Helvetica"
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	labels := labelsEN
	if opt.FontFile != "" {
		family = "storyboard"
		pdf.AddUTF8Font(family, "", opt.FontFile)
		tr = func(s string) string { return s }
		labels = labelsZH
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("load font: %w", err)
	}

	prompts := make(map[int]domain.ImagePrompt, len(p.ImagePrompts))
	if opt.IncludePrompts {
		for _, ip := range p.ImagePrompts {
			prompts[ip.SceneNumber] = ip
		}
	}

	pageW, pageH := pdf.GetPageSize()
	frameH := frameWidth / FrameAspect
	textX := pageMargin + frameWidth + colGap
	textW := pageW - pageMargin - textX
	lineH := size * 0.45

	pageNo := 0
	var y float64
	newPage := func() {
		pdf.AddPage()
		pageNo++
		pdf.SetFont(family, "", size+3)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetXY(pageMargin, pageMargin)
		pdf.CellFormat(textW+frameWidth+colGap, size*0.6, tr(p.Name), "", 0, "L", false, 0, "")
		pdf.SetFont(family, "", size-1)
		pdf.SetXY(pageMargin, pageMargin)
		pdf.CellFormat(pageW-2*pageMargin, size*0.6, tr(fmt.Sprintf(labels.page, pageNo)), "", 0, "R", false, 0, "")
		pdf.SetDrawColor(0, 0, 0)
		pdf.SetLineWidth(0.3)
		pdf.Line(pageMargin, pageMargin+size*0.7, pageW-pageMargin, pageMargin+size*0.7)
		y = pageMargin + size*0.7 + rowGap
	}
	newPage()

	for _, s := range p.Scenes {
		pdf.SetFont(family, "", size)
		lines := cardLines(s, labels)
		if ip, ok := prompts[s.SceneNumber]; ok && ip.Error == "" {
			if ip.PromptText != "" {
				lines = append(lines, labels.prompt+": "+ip.PromptText)
			}
			if ip.NegativePrompt != "" {
				lines = append(lines, labels.negative+": "+ip.NegativePrompt)
			}
		}
		var wrapped []string
		for _, l := range lines {
			wrapped = append(wrapped, wrapText(pdf, tr, l, textW)...)
		}
		rowH := max(frameH, float64(len(wrapped))*lineH)
		if y+rowH > pageH-pageMargin && y > pageMargin+size*0.7+rowGap {
			newPage()
			pdf.SetFont(family, "", size)
		}

		drawFramePDF(pdf, s, pageMargin, y, frameWidth, frameH)

		ty := y
		for i, l := range wrapped {
			if ty+lineH > pageH-pageMargin {
				newPage()
				pdf.SetFont(family, "", size)
				ty = y
			}
			if i == 0 {
				pdf.SetFont(family, "", size+1)
			} else if i == 1 {
				pdf.SetFont(family, "", size)
			}
			pdf.SetXY(textX, ty)
			pdf.CellFormat(textW, lineH, tr(l), "", 2, "L", false, 0, "")
			ty += lineH
		}
		y = max(y+frameH, ty) + rowGap
	}

	return pdf.Output(w)
}

// ExportPDF writes the project's storyboard PDF to outPath and returns the resolved path.
func ExportPDF(ph *storage.ProjectHandle, outPath string, opt PDFOptions) (string, error) {
	if ph == nil {
		return "", fmt.Errorf("project handle is nil")
	}
	out, err := resolveOut(ph, outPath, "pdf")
	if err != nil {
		return "", err
	}
	if err := writeFile(out, func(w io.Writer) error { return WritePDF(w, ph.Project, opt) }); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return out, nil
}

func cardLines(s domain.Shot, l cardLabels) []string {
	head := fmt.Sprintf("%s %d  %s", l.shot, s.SceneNumber, joinNonEmpty(" / ", s.ShotSize, s.CameraAngle, s.CameraMovement))
	out := []string{head}
	if s.SceneDescription != "" {
		out = append(out, s.SceneDescription)
	}
	if len(s.Characters) > 0 {
		out = append(out, l.characters+": "+strings.Join(s.Characters, ", "))
	}
	meta := joinNonEmpty("  ",
		labeled(l.location, s.Location), labeled(l.time, s.Time), labeled(l.mood, s.Mood))
	if meta != "" {
		out = append(out, meta)
	}
	for _, kv := range [][2]string{{l.dialogue, s.DialogueText}, {l.voiceover, s.VoiceoverText}, {l.sound, s.SoundEffects}} {
		if kv[1] != "" {
			out = append(out, kv[0]+": "+kv[1])
		}
	}
	return out
}

func labeled(label, v string) string {
	if v == "" {
		return ""
	}
	return label + ": " + v
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// wrapText breaks s into lines no wider than width at the current font. CJK text has
// no spaces, so breaks fall between runes.
func wrapText(pdf *gofpdf.Fpdf, tr func(string) string, s string, width float64) []string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		var line []rune
		for _, r := range para {
			next := append(line, r)
			if len(line) > 0 && pdf.GetStringWidth(tr(string(next))) > width {
				out = append(out, string(line))
				line = []rune{r}
				continue
			}
			line = next
		}
		out = append(out, string(line))
	}
	return out
}

func drawFramePDF(pdf *gofpdf.Fpdf, s domain.Shot, x, y, w, h float64) {
	scale := h
	pdf.ClipRect(x, y, w, h, false)
	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(x, y, w, h, "F")
	for _, p := range sketch(s) {
		if p.guide {
			pdf.SetDrawColor(205, 205, 205)
			pdf.SetLineWidth(0.1)
		} else {
			pdf.SetDrawColor(90, 90, 90)
			pdf.SetLineWidth(0.3)
		}
		pdf.SetFillColor(150, 150, 150)
		style := "D"
		if p.fill {
			style = "F"
		}
		switch p.kind {
		case primLine:
			pdf.Line(x+p.x0*scale, y+p.y0*scale, x+p.x1*scale, y+p.y1*scale)
		case primRect:
			pdf.Rect(x+p.x0*scale, y+p.y0*scale, (p.x1-p.x0)*scale, (p.y1-p.y0)*scale, style)
		case primCircle:
			pdf.Circle(x+p.x0*scale, y+p.y0*scale, p.x1*scale, style)
		}
	}
	pdf.ClipEnd()
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.4)
	pdf.Rect(x, y, w, h, "D")
}
