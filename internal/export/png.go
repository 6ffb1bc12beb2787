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
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// PNGOptions controls the contact sheet: a grid of framing thumbnails with a
// two-line caption under each.
type PNGOptions struct {
	FontFile   string  // TrueType/OpenType font or .ttc collection; empty uses a 7x13 bitmap face
	FontSize   float64 // default 14, ignored for the bitmap face
	Columns    int     // default 4
	FrameWidth int     // thumbnail width in pixels, default 320
}

const cellPad = 12

var (
	colBackground = color.RGBA{255, 255, 255, 255}
	colBorder     = color.RGBA{0, 0, 0, 255}
	colGuide      = color.RGBA{215, 215, 215, 255}
	colLine       = color.RGBA{90, 90, 90, 255}
	colFigure     = color.RGBA{150, 150, 150, 255}
	colCaption    = color.RGBA{20, 20, 20, 255}
)

// loadFace opens a font face from path. An empty path yields the bitmap fallback,
// which has no CJK glyphs.
func loadFace(path string, size float64) (font.Face, error) {
	if path == "" {
		return basicfont.Face7x13, nil
	}
	if size <= 0 {
		size = 14
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	var f *opentype.Font
	if strings.HasSuffix(strings.ToLower(path), ".ttc") {
		coll, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse font %s: %w", path, err)
		}
		if f, err = coll.Font(0); err != nil {
			return nil, fmt.Errorf("parse font %s: %w", path, err)
		}
	} else if f, err = opentype.Parse(data); err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// RenderContactSheet draws shots as a grid image.
func RenderContactSheet(shots []domain.Shot, opt PNGOptions) (*image.RGBA, error) {
	face, err := loadFace(opt.FontFile, opt.FontSize)
	if err != nil {
		return nil, err
	}
	cols := opt.Columns
	if cols <= 0 {
		cols = 4
	}
	fw := opt.FrameWidth
	if fw <= 0 {
		fw = 320
	}
	fh := int(math.Round(float64(fw) / FrameAspect))
	lineH := face.Metrics().Height.Ceil()
	cellW := fw + cellPad
	cellH := fh + 2*lineH + cellPad + 4
	if len(shots) < cols && len(shots) > 0 {
		cols = len(shots)
	}
	rows := max(1, (len(shots)+cols-1)/cols)

	img := image.NewRGBA(image.Rect(0, 0, cols*cellW+cellPad, rows*cellH+cellPad))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colBackground}, image.Point{}, draw.Src)

	for i, s := range shots {
		x := cellPad + (i%cols)*cellW
		y := cellPad + (i/cols)*cellH
		frame := image.Rect(x, y, x+fw, y+fh)
		drawFramePNG(img, s, frame)
		strokeRect(img, frame.Min.X, frame.Min.Y, frame.Max.X-1, frame.Max.Y-1, colBorder)

		d := &font.Drawer{Dst: img, Src: image.NewUniform(colCaption), Face: face}
		ascent := face.Metrics().Ascent.Ceil()
		head := fmt.Sprintf("#%d %s", s.SceneNumber, joinNonEmpty(" / ", s.ShotSize, s.CameraAngle, s.CameraMovement))
		d.Dot = fixed.P(x, y+fh+4+ascent)
		d.DrawString(fitText(face, head, fw))
		d.Dot = fixed.P(x, y+fh+4+lineH+ascent)
		d.DrawString(fitText(face, s.SceneDescription, fw))
	}
	return img, nil
}

// WriteContactSheet encodes the contact sheet as PNG.
func WriteContactSheet(w io.Writer, shots []domain.Shot, opt PNGOptions) error {
	img, err := RenderContactSheet(shots, opt)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// ExportContactSheet writes the project's contact sheet to outPath and returns the resolved path.
func ExportContactSheet(ph *storage.ProjectHandle, outPath string, opt PNGOptions) (string, error) {
	if ph == nil {
		return "", fmt.Errorf("project handle is nil")
	}
	out, err := resolveOut(ph, outPath, "png")
	if err != nil {
		return "", err
	}
	if err := writeFile(out, func(w io.Writer) error { return WriteContactSheet(w, ph.Project.Scenes, opt) }); err != nil {
		return "", fmt.Errorf("write png: %w", err)
	}
	return out, nil
}

// fitText truncates s with an ellipsis so it fits in width pixels.
func fitText(face font.Face, s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if font.MeasureString(face, s).Ceil() <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		t := string(r) + "…"
		if font.MeasureString(face, t).Ceil() <= width {
			return t
		}
	}
	return ""
}

func drawFramePNG(img *image.RGBA, s domain.Shot, frame image.Rectangle) {
	fillRect(img, frame.Min.X, frame.Min.Y, frame.Max.X-1, frame.Max.Y-1, colBackground)
	scale := float64(frame.Dy())
	ox, oy := float64(frame.Min.X), float64(frame.Min.Y)
	px := func(v float64) int { return int(math.Round(v * scale)) }
	for _, p := range sketch(s) {
		switch p.kind {
		case primLine:
			c := colLine
			if p.guide {
				c = colGuide
			}
			drawLine(img, frame, ox+p.x0*scale, oy+p.y0*scale, ox+p.x1*scale, oy+p.y1*scale, c)
		case primRect:
			r := image.Rect(frame.Min.X+px(p.x0), frame.Min.Y+px(p.y0), frame.Min.X+px(p.x1), frame.Min.Y+px(p.y1)).Intersect(frame)
			if !r.Empty() {
				draw.Draw(img, r, &image.Uniform{C: colFigure}, image.Point{}, draw.Src)
			}
		case primCircle:
			fillCircle(img, frame, ox+p.x0*scale, oy+p.y0*scale, p.x1*scale, colFigure)
		}
	}
}

func drawLine(img *image.RGBA, clip image.Rectangle, x0, y0, x1, y1 float64, col color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := image.Pt(int(math.Round(x0+(x1-x0)*t)), int(math.Round(y0+(y1-y0)*t)))
		if p.In(clip) {
			img.SetRGBA(p.X, p.Y, col)
		}
	}
}

func fillCircle(img *image.RGBA, clip image.Rectangle, cx, cy, r float64, col color.RGBA) {
	box := image.Rect(int(cx-r), int(cy-r), int(cx+r)+1, int(cy+r)+1).Intersect(clip)
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, col)
			}
		}
	}
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}
