/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package prompt turns canonical shots into structured text-to-image prompts.
// Generation is rule based: keywords are pulled from the shot description and
// camera fields are rendered through the vocabulary's descriptor tables.
// An optional Translator (the LLM client) improves the English rendering.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/vocab"
)

// Language selects how prompt text is rendered.
type Language string

const (
	Bilingual Language = "bilingual"
	English   Language = "english"
	Chinese   Language = "chinese"
)

// ParseLanguage accepts bilingual, english or chinese; empty means bilingual.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return Bilingual, nil
	case Bilingual, English, Chinese:
		return l, nil
	}
	return "", fmt.Errorf("prompt: unknown language %q (want bilingual, english or chinese)", s)
}

// Translator renders Chinese text in English. *llm.Client implements it.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Options configure a Generator.
type Options struct {
	Language Language
	// Technical adds the camera_technical block and its prompt text.
	Technical  bool
	Translator Translator
	Lexicon    *Lexicon
}

// DefaultOptions is bilingual output with technical parameters.
func DefaultOptions() Options { return Options{Language: Bilingual, Technical: true} }

// Generator is safe for concurrent use.
type Generator struct {
	cat  *vocab.Catalog
	lex  *Lexicon
	opts Options
	log  *slog.Logger
}

// New builds a generator; a nil catalog selects the built-in vocabulary.
func New(cat *vocab.Catalog, opts Options) (*Generator, error) {
	lang, err := ParseLanguage(string(opts.Language))
	if err != nil {
		return nil, err
	}
	opts.Language = lang
	if cat == nil {
		cat = vocab.Default()
	}
	lex := opts.Lexicon
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Generator{cat: cat, lex: lex, opts: opts, log: applog.WithComponent("prompt")}, nil
}

// Language reports the output language.
func (g *Generator) Language() Language { return g.opts.Language }

// GenerateBatch generates a prompt per shot. A shot that fails gets an entry
// carrying Error instead of stopping the batch.
func (g *Generator) GenerateBatch(ctx context.Context, shots []domain.Shot) []domain.ImagePrompt {
	out := make([]domain.ImagePrompt, 0, len(shots))
	for _, s := range shots {
		p, err := g.Generate(ctx, s)
		if err != nil {
			g.log.Warn("prompt failed", slog.Int("scene", s.SceneNumber), slog.Any("err", err))
			p = domain.ImagePrompt{SceneNumber: s.SceneNumber, Error: err.Error()}
		}
		out = append(out, p)
	}
	return out
}

// Generate builds the structured prompt, its flat text and the negative prompt for one shot.
func (g *Generator) Generate(ctx context.Context, s domain.Shot) (domain.ImagePrompt, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImagePrompt{}, err
	}
	desc := s.SceneDescription
	ps := &domain.PromptStructure{
		Subject:             g.subject(ctx, s),
		Scene:               g.setting(ctx, s),
		Composition:         g.composition(s),
		Lighting:            g.lighting(s),
		VisualStyle:         g.visualStyle(s),
		SpatialAnchors:      g.anchors(s),
		NegativeConstraints: g.negatives(s),
	}
	if desc != "" {
		ps.Subject.FullDescription = g.pair(desc, g.translateSentence(ctx, desc))
		ps.Scene.FullDescription = desc
	}
	if g.opts.Technical {
		ps.CameraTechnical = g.technical(s)
	}
	return domain.ImagePrompt{
		SceneNumber:      s.SceneNumber,
		SceneDescription: desc,
		PromptJSON:       ps,
		PromptText:       g.text(ps, desc),
		NegativePrompt:   strings.Join(ps.NegativeConstraints, ", "),
	}, nil
}

// pair renders a Chinese/English pair in the configured language.
func (g *Generator) pair(zh, en string) string {
	switch g.opts.Language {
	case English:
		return en
	case Chinese:
		return zh
	}
	return zh + " / " + en
}

// pairIf is pair for optional values: empty zh stays empty.
func (g *Generator) pairIf(zh, en string) string {
	if zh == "" {
		return ""
	}
	return g.pair(zh, en)
}

func (g *Generator) translateWord(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	// short dictionary words are not worth a model round trip
	if _, known := g.lex.Translations[text]; g.opts.Translator != nil && (runeLen(text) > 5 || !known) {
		en, err := g.opts.Translator.Translate(ctx, text)
		if err == nil {
			return en
		}
		g.log.Debug("translator fallback", slog.Any("err", err))
	}
	return g.lex.word(text)
}

func (g *Generator) translateSentence(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if g.opts.Translator != nil {
		en, err := g.opts.Translator.Translate(ctx, text)
		if err == nil {
			return en
		}
		g.log.Warn("translator failed, using dictionary", slog.Any("err", err))
	}
	return g.lex.sentence(text)
}

// describe looks v up in f's descriptor table, falling back to fallback's entry.
func (g *Generator) describe(f vocab.Field, v, fallback string) vocab.Descriptor {
	if d, ok := g.cat.Describe(f, v); ok {
		return d
	}
	d, _ := g.cat.Describe(f, fallback)
	return d
}

func (g *Generator) subject(ctx context.Context, s domain.Shot) domain.Subject {
	desc := s.SceneDescription
	main := "人物"
	if len(s.Characters) > 0 && s.Characters[0] != "" {
		main = s.Characters[0]
	}
	action := actionDetail(desc, g.lex.action(desc))
	pose := g.lex.pose(desc)
	if pose == "" && !g.lex.emptyScene(desc, s.Characters) {
		pose = g.lex.inferPose(action, s.Mood, s.ShotSize)
	}
	expr := g.lex.expression(desc)
	clothing := g.lex.clothing(desc)
	props := g.lex.props(desc)

	sub := domain.Subject{
		MainCharacter: main,
		Action:        g.pair(action, g.translateWord(ctx, action)),
		Pose:          g.pairIf(pose, g.translateWord(ctx, pose)),
		Expression:    g.pair(expr, g.translateWord(ctx, expr)),
		Clothing:      g.pairIf(clothing, g.translateWord(ctx, clothing)),
		Props:         g.pairIf(props, g.translateWord(ctx, props)),
	}
	if g.opts.Language == Bilingual {
		sub.MainCharacter = main + " / " + main
	}
	return sub
}

func (g *Generator) setting(ctx context.Context, s domain.Shot) domain.Setting {
	desc, loc := s.SceneDescription, s.Location
	var env []string
	if rel := g.lex.characterPlacement(desc, s.Characters, loc); rel != "" {
		env = append(env, rel)
	}
	if d := g.lex.sceneDetails(desc, loc); d != "" {
		env = append(env, d)
	}
	var environment string
	if len(env) > 0 {
		joined := strings.Join(env, "，")
		environment = g.pair(joined, g.translateWord(ctx, joined))
	}
	t := g.describe(vocab.Time, s.Time, "白天")
	weather := g.lex.weather(desc)
	return domain.Setting{
		Location:    g.pairIf(loc, g.translateWord(ctx, loc)),
		Environment: environment,
		Background:  environment,
		TimeOfDay:   g.pair(t.Chinese, t.English),
		Weather:     g.pairIf(weather, g.translateWord(ctx, weather)),
	}
}

func (g *Generator) composition(s domain.Shot) domain.Composition {
	size := g.describe(vocab.ShotSize, s.ShotSize, "中景")
	angle := g.describe(vocab.CameraAngle, s.CameraAngle, "视平")
	var tension string
	if t := s.CompositionTension; t != "" {
		if d, ok := g.cat.Describe(vocab.CompositionTension, t); ok && g.opts.Language != Chinese {
			tension = g.pair(d.Chinese, d.English)
		} else {
			tension = g.pair(t, t)
		}
	}
	var framing string
	if mv, ok := g.cat.Describe(vocab.CameraMovement, s.CameraMovement); ok {
		framing = g.pair(mv.Chinese, mv.English)
	}
	return domain.Composition{
		ShotSize:           g.pair(size.Chinese, size.English),
		CameraAngle:        g.pair(angle.Chinese, angle.English),
		Framing:            framing,
		CompositionTension: tension,
		RuleOfThirds:       g.pair("遵循三分法则", "rule of thirds"),
	}
}

func (g *Generator) lighting(s domain.Shot) domain.Lighting {
	t := g.describe(vocab.Time, s.Time, "白天")
	timeLight := g.pair(t.Chinese, t.English)
	var moodLight string
	if m, ok := g.cat.Describe(vocab.Mood, s.Mood); ok {
		moodLight = g.pair(m.Chinese, m.English)
	}
	intensity := moodLight
	if intensity == "" {
		intensity = g.pair("自然", "natural")
	}
	return domain.Lighting{
		Type:             timeLight,
		Intensity:        intensity,
		ColorTemperature: timeLight,
		Mood:             moodLight,
	}
}

func (g *Generator) technical(s domain.Shot) *domain.CameraTech {
	cam := g.describe(vocab.Camera, s.Camera, "ARRI Alexa")
	lens := g.describe(vocab.Lens, s.Lens, "ARRI Master Primes")
	ap := g.describe(vocab.Aperture, s.Aperture, "f/2.8")
	focal := s.LensFocalLength
	if focal == "" {
		focal = g.cat.MustSet(vocab.LensFocalLength).Default
	}
	focalEN := focal
	if d, ok := g.cat.Describe(vocab.LensFocalLength, focal); ok {
		focalEN = d.English
	}
	return &domain.CameraTech{
		CameraModel:  g.pair(cam.Chinese, cam.English),
		Lens:         g.pair(lens.Chinese, lens.English),
		Aperture:     g.pair(ap.Chinese, ap.English),
		FocalLength:  g.pair(focal, focalEN),
		DepthOfField: ap.Visual,
	}
}

func (g *Generator) visualStyle(s domain.Shot) domain.VisualStyle {
	cam := g.describe(vocab.Camera, s.Camera, "ARRI Alexa")
	atmosphere := g.pair("电影感氛围", "cinematic atmosphere")
	if m, ok := g.cat.Describe(vocab.Mood, s.Mood); ok && m.Visual != "" {
		atmosphere = m.Visual
	}
	return domain.VisualStyle{
		CinematicStyle:   cam.Visual,
		ColorGrading:     g.pair("电影级调色", "cinematic color grading"),
		Texture:          g.pair("电影质感", "film texture"),
		Atmosphere:       atmosphere,
		ProtagonistType:  s.ProtagonistType,
		EmotionDesign:    s.EmotionDesign,
		PerformanceStyle: s.PerformanceStyle,
	}
}

func (g *Generator) anchors(s domain.Shot) []domain.SpatialAnchor {
	anchors := []domain.SpatialAnchor{}
	if strings.Contains(s.ShotSize, "特写") {
		anchors = append(anchors, domain.SpatialAnchor{
			Element:  g.pair("面部", "face"),
			Position: g.pair("画面中心", "center"),
			Priority: "high",
		})
	}
	return anchors
}

func (g *Generator) negatives(s domain.Shot) []string {
	neg := g.cat.NegativePrompt()
	var out []string
	switch g.opts.Language {
	case English:
		out = append(out, neg.English)
	case Chinese:
		out = append(out, neg.Chinese)
	default:
		out = append(out, neg.Chinese, neg.English)
	}
	switch s.Time {
	case "夜晚":
		out = append(out, g.pair("白天光线", "daytime lighting"))
	case "白天":
		out = append(out, g.pair("夜晚黑暗", "nighttime darkness"))
	}
	return out
}

// text flattens the structure into one comma-separated prompt. The shot
// description leads; extracted details are added only when the description
// does not already say them.
func (g *Generator) text(ps *domain.PromptStructure, desc string) string {
	var parts []string
	if desc != "" {
		parts = append(parts, strings.TrimSpace(reWhitespace.ReplaceAllString(desc, " ")))
	}
	if p := ps.Subject.Pose; p != "" && !strings.Contains(desc, p) {
		parts = append(parts, p)
	}
	if p := ps.Subject.Props; p != "" && !strings.Contains(desc, p) {
		parts = append(parts, p)
	}
	if env := ps.Scene.Environment; env != "" {
		words := strings.Fields(env)
		if !containsAny(desc, words[:min(3, len(words))]) {
			parts = append(parts, env)
		}
	}
	if c := ps.Composition; c.ShotSize != "" {
		parts = appendJoined(parts, c.ShotSize, c.CameraAngle, c.CompositionTension)
	}
	if t := ps.CameraTechnical; t != nil {
		parts = appendJoined(parts, t.CameraModel, t.Lens, t.Aperture, t.DepthOfField)
	}
	if v := ps.VisualStyle; v.CinematicStyle != "" {
		parts = appendJoined(parts, v.CinematicStyle, v.ColorGrading)
	}
	q := g.cat.QualityTags()
	parts = append(parts, g.pair(q.Chinese, q.English))
	return strings.Join(parts, ", ")
}

func appendJoined(parts []string, vals ...string) []string {
	var keep []string
	for _, v := range vals {
		if v != "" {
			keep = append(keep, v)
		}
	}
	if len(keep) == 0 {
		return parts
	}
	return append(parts, strings.Join(keep, ", "))
}
