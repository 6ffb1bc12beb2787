/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"gostoryboard/internal/domain"
)

// FrameAspect is the width/height ratio of a storyboard frame.
const FrameAspect = 16.0 / 9.0

type primKind int

const (
	primLine primKind = iota
	primRect
	primCircle
)

// primitive is one element of a thumbnail sketch in frame units: x runs 0..FrameAspect,
// y runs 0..1 from the top. A circle is centered at (x0, y0) with radius x1.
// Shapes may extend past the frame; renderers clip.
type primitive struct {
	kind           primKind
	x0, y0, x1, y1 float64
	fill           bool
	guide          bool // light construction line
}

// figureHeight is the subject's height in frame heights for each shot size.
var figureHeight = map[string]float64{
	"大远景": 0.12,
	"远景":  0.3,
	"全景":  0.8,
	"中景":  1.6,
	"中近景": 2.2,
	"近景":  3.0,
	"特写":  5.5,
	"大特写": 11,
}

// horizonAt places the horizon by camera angle; 0 means no horizon is drawn.
var horizonAt = map[string]float64{
	"视平":   0.5,
	"高位俯拍": 0.2,
	"低位仰拍": 0.8,
	"斜拍":   0.5,
	"越肩":   0.5,
}

// sketch returns a framing thumbnail for s: thirds guides, a horizon and a simple
// head-and-body figure scaled by shot size. Unknown values fall back to a medium shot.
func sketch(s domain.Shot) []primitive {
	w := FrameAspect
	out := []primitive{
		{kind: primLine, x0: w / 3, y0: 0, x1: w / 3, y1: 1, guide: true},
		{kind: primLine, x0: 2 * w / 3, y0: 0, x1: 2 * w / 3, y1: 1, guide: true},
		{kind: primLine, x0: 0, y0: 1.0 / 3, x1: w, y1: 1.0 / 3, guide: true},
		{kind: primLine, x0: 0, y0: 2.0 / 3, x1: w, y1: 2.0 / 3, guide: true},
	}
	if h, ok := horizonAt[s.CameraAngle]; ok {
		out = append(out, primitive{kind: primLine, x0: 0, y0: h, x1: w, y1: h})
	}

	fh, ok := figureHeight[s.ShotSize]
	if !ok {
		fh = figureHeight["中景"]
	}
	head := fh * 0.13
	var top float64
	if fh < 1 {
		top = 0.85 - fh // feet on the ground line
	} else {
		top = 1.0/3 - head/2 // eyes on the upper third
	}
	cx := 2 * w / 3
	if s.ShotSize == "特写" || s.ShotSize == "大特写" {
		cx = w / 2
	}
	bodyW := fh * 0.28
	out = append(out,
		primitive{kind: primCircle, x0: cx, y0: top + head/2, x1: head / 2, fill: true},
		primitive{kind: primRect, x0: cx - bodyW/2, y0: top + head*1.1, x1: cx + bodyW/2, y1: top + fh, fill: true},
	)
	// over-the-shoulder: a foreground shoulder on the left third
	if s.CameraAngle == "越肩" {
		out = append(out, primitive{kind: primCircle, x0: w * 0.12, y0: 1.1, x1: 0.45, fill: true})
	}
	return out
}
