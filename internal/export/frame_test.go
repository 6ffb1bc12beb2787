/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"math"
	"testing"

	"gostoryboard/internal/domain"
)

func figure(ps []primitive) (head, body primitive) {
	for _, p := range ps {
		if p.guide {
			continue
		}
		switch p.kind {
		case primCircle:
			if head.kind != primCircle {
				head = p
			}
		case primRect:
			body = p
		}
	}
	return head, body
}

func countLines(ps []primitive) (guides, solid int) {
	for _, p := range ps {
		if p.kind != primLine {
			continue
		}
		if p.guide {
			guides++
		} else {
			solid++
		}
	}
	return guides, solid
}

func TestSketch_HorizonByAngle(t *testing.T) {
	g, h := countLines(sketch(domain.Shot{ShotSize: "中景", CameraAngle: "视平"}))
	if g != 4 || h != 1 {
		t.Fatalf("eye level: guides=%d horizon=%d", g, h)
	}
	_, h = countLines(sketch(domain.Shot{ShotSize: "中景", CameraAngle: "鸟瞰"}))
	if h != 0 {
		t.Fatal("bird's eye view has no horizon")
	}
	for _, p := range sketch(domain.Shot{CameraAngle: "高位俯拍"}) {
		if p.kind == primLine && !p.guide && p.y0 != 0.2 {
			t.Fatalf("high angle horizon at %v", p.y0)
		}
	}
}

func TestSketch_FigureScalesWithShotSize(t *testing.T) {
	var prev float64
	for _, size := range []string{"大远景", "远景", "全景", "中景", "近景", "特写"} {
		head, _ := figure(sketch(domain.Shot{ShotSize: size}))
		if head.x1 <= prev {
			t.Fatalf("%s head radius %v not larger than %v", size, head.x1, prev)
		}
		prev = head.x1
	}
}

func TestSketch_CloseUpCentered(t *testing.T) {
	head, _ := figure(sketch(domain.Shot{ShotSize: "特写"}))
	if math.Abs(head.x0-FrameAspect/2) > 1e-9 {
		t.Fatalf("close-up head at x=%v", head.x0)
	}
	head, _ = figure(sketch(domain.Shot{ShotSize: "全景"}))
	if math.Abs(head.x0-2*FrameAspect/3) > 1e-9 {
		t.Fatalf("full shot head at x=%v", head.x0)
	}
}

func TestSketch_WideShotStandsOnGround(t *testing.T) {
	_, body := figure(sketch(domain.Shot{ShotSize: "远景"}))
	if math.Abs(body.y1-0.85) > 1e-9 {
		t.Fatalf("feet at %v", body.y1)
	}
}

func TestSketch_UnknownSizeFallsBack(t *testing.T) {
	a := sketch(domain.Shot{ShotSize: "???"})
	b := sketch(domain.Shot{ShotSize: "中景"})
	if len(a) != len(b) {
		t.Fatalf("len %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("primitive %d differs", i)
		}
	}
}

func TestSketch_OverShoulderAddsForeground(t *testing.T) {
	plain := sketch(domain.Shot{ShotSize: "中景", CameraAngle: "视平"})
	ots := sketch(domain.Shot{ShotSize: "中景", CameraAngle: "越肩"})
	if len(ots) != len(plain)+1 || ots[len(ots)-1].kind != primCircle {
		t.Fatal("over-the-shoulder should add a foreground shape")
	}
}
