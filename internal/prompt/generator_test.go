/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/vocab"
)

func sampleShot() domain.Shot {
	return domain.Shot{
		SceneNumber:        3,
		SceneDescription:   "李雷坐在窗边的沙发上，眉头紧锁",
		ShotSize:           "特写",
		CameraAngle:        "视平",
		CameraMovement:     "固定",
		CameraEquipment:    "固定",
		LensFocalLength:    "标准(35-50mm)",
		Camera:             "ARRI Alexa",
		Lens:               "ARRI Master Primes",
		Aperture:           "f/2.8",
		Characters:         []string{"李雷"},
		Location:           "客厅",
		Time:               "夜晚",
		Mood:               "紧张",
		CompositionTension: "饱满",
		ProtagonistType:    "成长弧光型",
	}
}

func mustGenerator(t *testing.T, opts Options) *Generator {
	t.Helper()
	g, err := New(nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGenerateBilingual(t *testing.T) {
	g := mustGenerator(t, DefaultOptions())
	p, err := g.Generate(context.Background(), sampleShot())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ps := p.PromptJSON
	if p.SceneNumber != 3 || p.SceneDescription != sampleShot().SceneDescription || ps == nil {
		t.Fatalf("header: %+v", p)
	}
	checks := map[string][2]string{
		"main character": {ps.Subject.MainCharacter, "李雷 / 李雷"},
		"pose":           {ps.Subject.Pose, "坐 / sitting"},
		"expression":     {ps.Subject.Expression, "眉头紧锁 / frowning"},
		"shot size":      {ps.Composition.ShotSize, "特写，面部表情 / close-up, facial expression"},
		"tension":        {ps.Composition.CompositionTension, "饱满构图，主体占据显著比例 / full composition, subject dominates"},
		"framing":        {ps.Composition.Framing, "固定镜头，稳定构图 / static camera, locked frame"},
		"lighting type":  {ps.Lighting.Type, "夜晚，人工光源 / night, artificial light"},
		"intensity":      {ps.Lighting.Intensity, "紧张氛围，高对比度 / tense atmosphere, high contrast"},
		"time of day":    {ps.Scene.TimeOfDay, "夜晚，人工光源 / night, artificial light"},
		"location":       {ps.Scene.Location, "客厅 / 客厅"},
		"scene desc":     {ps.Scene.FullDescription, sampleShot().SceneDescription},
		"protagonist":    {ps.VisualStyle.ProtagonistType, "成长弧光型"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: got %q want %q", name, c[0], c[1])
		}
	}
	if !strings.HasPrefix(ps.Scene.Environment, "李雷在窗边的沙发上，客厅") {
		t.Errorf("environment %q", ps.Scene.Environment)
	}
	if ps.CameraTechnical == nil || !strings.HasPrefix(ps.CameraTechnical.DepthOfField, "f/2.8") {
		t.Fatalf("camera technical %+v", ps.CameraTechnical)
	}
	if len(ps.SpatialAnchors) != 1 || ps.SpatialAnchors[0].Element != "面部 / face" {
		t.Errorf("anchors %+v", ps.SpatialAnchors)
	}

	neg := vocab.Default().NegativePrompt()
	want := []string{neg.Chinese, neg.English, "白天光线 / daytime lighting"}
	if strings.Join(ps.NegativeConstraints, "|") != strings.Join(want, "|") {
		t.Errorf("negative constraints %q", ps.NegativeConstraints)
	}
	if p.NegativePrompt != strings.Join(want, ", ") {
		t.Errorf("negative prompt %q", p.NegativePrompt)
	}

	if !strings.HasPrefix(p.PromptText, sampleShot().SceneDescription+", 坐 / sitting, ") {
		t.Errorf("prompt text head %q", p.PromptText)
	}
	q := vocab.Default().QualityTags()
	if !strings.HasSuffix(p.PromptText, q.Chinese+" / "+q.English) {
		t.Errorf("prompt text tail %q", p.PromptText)
	}
	if !strings.Contains(p.PromptText, "ARRI Alexa 电影质感 / ARRI Alexa cinematic quality") {
		t.Errorf("technical parameters missing from text")
	}
}

func TestGenerateEnglishAndChinese(t *testing.T) {
	en := mustGenerator(t, Options{Language: English, Technical: true})
	p, _ := en.Generate(context.Background(), sampleShot())
	if p.PromptJSON.Subject.MainCharacter != "李雷" || p.PromptJSON.Subject.Pose != "sitting" {
		t.Errorf("english subject %+v", p.PromptJSON.Subject)
	}
	if p.PromptJSON.Composition.ShotSize != "close-up, facial expression" {
		t.Errorf("english shot size %q", p.PromptJSON.Composition.ShotSize)
	}
	if got := p.PromptJSON.NegativeConstraints; len(got) != 2 || got[1] != "daytime lighting" {
		t.Errorf("english negatives %q", got)
	}

	zh := mustGenerator(t, Options{Language: Chinese})
	p, _ = zh.Generate(context.Background(), sampleShot())
	if p.PromptJSON.CameraTechnical != nil {
		t.Errorf("technical block should be omitted")
	}
	if p.PromptJSON.Composition.CompositionTension != "饱满" || p.PromptJSON.Subject.Pose != "坐" {
		t.Errorf("chinese composition %+v", p.PromptJSON.Composition)
	}
	if strings.Contains(p.PromptText, "ARRI Master Primes") {
		t.Errorf("technical text leaked: %q", p.PromptText)
	}
	raw, _ := json.Marshal(p)
	if strings.Contains(string(raw), "camera_technical") {
		t.Errorf("camera_technical serialized: %s", raw)
	}
}

func TestGenerateEmptyScene(t *testing.T) {
	g := mustGenerator(t, DefaultOptions())
	s := sampleShot()
	s.SceneDescription = "空镜：城市夜景"
	s.Characters = []string{}
	s.ShotSize = "远景"
	p, err := g.Generate(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if p.PromptJSON.Subject.Pose != "" || p.PromptJSON.Subject.MainCharacter != "人物 / 人物" {
		t.Errorf("empty scene subject %+v", p.PromptJSON.Subject)
	}
	if len(p.PromptJSON.SpatialAnchors) != 0 {
		t.Errorf("no face anchor expected")
	}
}

type stubTranslator struct {
	calls []string
	fail  bool
}

func (s *stubTranslator) Translate(_ context.Context, text string) (string, error) {
	s.calls = append(s.calls, text)
	if s.fail {
		return "", errors.New("offline")
	}
	return "EN:" + text, nil
}

func TestGenerateWithTranslator(t *testing.T) {
	tr := &stubTranslator{}
	g := mustGenerator(t, Options{Language: Bilingual, Technical: true, Translator: tr})
	p, _ := g.Generate(context.Background(), sampleShot())
	desc := sampleShot().SceneDescription
	if got := p.PromptJSON.Subject.FullDescription; got != desc+" / EN:"+desc {
		t.Errorf("full description %q", got)
	}
	// short dictionary words stay local
	if p.PromptJSON.Subject.Pose != "坐 / sitting" {
		t.Errorf("pose %q", p.PromptJSON.Subject.Pose)
	}
	for _, c := range tr.calls {
		if c == "坐" || c == "眉头紧锁" {
			t.Errorf("dictionary word %q sent to translator", c)
		}
	}

	failing := &stubTranslator{fail: true}
	g = mustGenerator(t, Options{Language: Bilingual, Translator: failing})
	p, err := g.Generate(context.Background(), sampleShot())
	if err != nil {
		t.Fatalf("translator failure must fall back: %v", err)
	}
	if !strings.HasPrefix(p.PromptJSON.Subject.FullDescription, desc+" / ") || len(failing.calls) == 0 {
		t.Errorf("fallback description %q", p.PromptJSON.Subject.FullDescription)
	}
}

func TestGenerateBatchRecordsErrors(t *testing.T) {
	g := mustGenerator(t, DefaultOptions())
	shots := []domain.Shot{sampleShot(), sampleShot()}
	shots[1].SceneNumber = 4

	out := g.GenerateBatch(context.Background(), shots)
	if len(out) != 2 || out[0].Error != "" || out[1].SceneNumber != 4 {
		t.Fatalf("batch %+v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = g.GenerateBatch(ctx, shots)
	for i, p := range out {
		if p.Error == "" || p.PromptJSON != nil || p.SceneNumber != shots[i].SceneNumber {
			t.Fatalf("cancelled entry %d: %+v", i, p)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	for in, want := range map[string]Language{"": Bilingual, "English": English, " chinese ": Chinese, "bilingual": Bilingual} {
		got, err := ParseLanguage(in)
		if err != nil || got != want {
			t.Errorf("ParseLanguage(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLanguage("klingon"); err == nil {
		t.Error("expected error")
	}
	if _, err := New(nil, Options{Language: "klingon"}); err == nil {
		t.Error("New should reject unknown language")
	}
}
