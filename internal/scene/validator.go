/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package scene turns untrusted shot records, typically decoded from a language
// model reply, into canonical domain.Shot values.
//
// Field-level problems are repaired, never reported: unknown or missing values fall
// back to defaults, legacy camera encodings are migrated and characters is coerced to
// a list. The only error is a top-level shape mismatch (SchemaError).
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/vocab"
)

// ErrSchema matches every SchemaError via errors.Is.
var ErrSchema = errors.New("scene: schema error")

// SchemaError reports input that is not a list of mappings.
type SchemaError struct {
	Index  int    // offending element, or -1 for the top-level value
	Got    string // Go/JSON kind that was found
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("scene: %s (got %s)", e.Reason, e.Got)
	}
	return fmt.Sprintf("scene: element %d: %s (got %s)", e.Index, e.Reason, e.Got)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Validator normalizes shot records against a vocabulary catalog.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	cat *vocab.Catalog
}

// NewValidator returns a validator over cat; nil selects vocab.Default().
func NewValidator(cat *vocab.Catalog) *Validator {
	if cat == nil {
		cat = vocab.Default()
	}
	return &Validator{cat: cat}
}

// Catalog returns the vocabulary in use.
func (v *Validator) Catalog() *vocab.Catalog { return v.cat }

// Validate canonicalizes raw, which must be a list of mappings as produced by
// encoding/json ([]any of map[string]any) or a []map[string]any.
// scene_number is reassigned 1..N by position.
func (v *Validator) Validate(raw any) ([]domain.Shot, error) {
	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case []map[string]any:
		items = make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
	default:
		return nil, &SchemaError{Index: -1, Got: kindOf(raw), Reason: "shot data is not list-shaped"}
	}
	out := make([]domain.Shot, 0, len(items))
	for i, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			return nil, &SchemaError{Index: i, Got: kindOf(it), Reason: "shot record is not a mapping"}
		}
		out = append(out, v.shot(i, rec))
	}
	return out, nil
}

// ValidateJSON decodes data and validates it. Malformed JSON is a SchemaError.
func (v *Validator) ValidateJSON(data []byte) ([]domain.Shot, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &SchemaError{Index: -1, Got: "invalid JSON", Reason: err.Error()}
	}
	return v.Validate(raw)
}

// Revalidate runs already-typed shots through the validator again, e.g. after an
// edit. Canonical input comes back unchanged apart from scene_number.
func (v *Validator) Revalidate(shots []domain.Shot) []domain.Shot {
	out := make([]domain.Shot, len(shots))
	for i, s := range shots {
		out[i] = v.shot(i, ToRaw(s))
	}
	return out
}

// Renumber assigns scene_number 1..N in place.
func Renumber(shots []domain.Shot) {
	for i := range shots {
		shots[i].SceneNumber = i + 1
	}
}

// record is the typed intermediate of one shot: every enumerated field is a Choice.
type record struct {
	camera      CameraSetup
	model       vocab.Choice
	lens        vocab.Choice
	aperture    vocab.Choice
	time        vocab.Choice
	sceneType   vocab.Choice
	tension     vocab.Choice
	axis        vocab.Choice
	transition  vocab.Choice
	aesthetics  string // comma-joined members of the aesthetics set
	protagonist vocab.Choice
	emotion     vocab.Choice
	performance vocab.Choice
}

func (v *Validator) shot(i int, rec map[string]any) domain.Shot {
	c := v.cat
	str := func(key string) string { return enumString(rec[key]) }

	r := record{
		camera: CameraSetup{
			ShotSize:        choose(c, vocab.ShotSize, str("shot_size")),
			CameraAngle:     choose(c, vocab.CameraAngle, str("camera_angle")),
			CameraMovement:  choose(c, vocab.CameraMovement, str("camera_movement")),
			CameraEquipment: choose(c, vocab.CameraEquipment, str("camera_equipment")),
			LensFocalLength: choose(c, vocab.LensFocalLength, str("lens_focal_length")),
		},
		model:       choose(c, vocab.Camera, str("camera")),
		lens:        choose(c, vocab.Lens, str("lens")),
		aperture:    choose(c, vocab.Aperture, str("aperture")),
		time:        choose(c, vocab.Time, str("time")),
		sceneType:   choose(c, vocab.SceneType, str("scene_type")),
		tension:     choose(c, vocab.CompositionTension, str("composition_tension")),
		axis:        choose(c, vocab.AxisCrossing, str("axis_crossing")),
		transition:  choose(c, vocab.ShotTransition, str("shot_transition")),
		protagonist: choose(c, vocab.ProtagonistType, str("protagonist_type")),
		emotion:     choose(c, vocab.EmotionDesign, str("emotion_design")),
		performance: choose(c, vocab.PerformanceStyle, str("performance_style")),
	}
	if setup, kind := MigrateLegacy(c, str("camera_angle")); kind != NotLegacy {
		r.camera = setup
	}
	aes := c.MustSet(vocab.AestheticsTechnique)
	if s, ok := rec["aesthetics_technique"].(string); ok {
		r.aesthetics = FilterMulti(s, aes.Options, aes.Default)
	} else {
		r.aesthetics = aes.Default
	}

	ph := c.Placeholders()
	shot := domain.Shot{
		SceneNumber:         i + 1,
		SceneDescription:    text(rec, "scene_description", fmt.Sprintf(ph.Description, i+1)),
		ShotSize:            r.camera.ShotSize.String(),
		CameraAngle:         r.camera.CameraAngle.String(),
		CameraMovement:      r.camera.CameraMovement.String(),
		CameraEquipment:     r.camera.CameraEquipment.String(),
		LensFocalLength:     r.camera.LensFocalLength.String(),
		Camera:              r.model.String(),
		Lens:                r.lens.String(),
		Aperture:            r.aperture.String(),
		Characters:          characters(rec["characters"]),
		Location:            text(rec, "location", ph.Location),
		Time:                r.time.String(),
		Mood:                text(rec, "mood", ph.Mood),
		DialogueText:        text(rec, "dialogue_text", ""),
		VoiceoverText:       text(rec, "voiceover_text", ""),
		SoundEffects:        text(rec, "sound_effects", ""),
		SceneType:           r.sceneType.String(),
		CompositionTension:  r.tension.String(),
		AxisCrossing:        r.axis.String(),
		ShotTransition:      r.transition.String(),
		AestheticsTechnique: r.aesthetics,
		ProtagonistType:     r.protagonist.String(),
		EmotionDesign:       r.emotion.String(),
		PerformanceStyle:    r.performance.String(),
	}
	for k, val := range rec {
		if domain.IsShotKey(k) {
			continue
		}
		if shot.Extras == nil {
			shot.Extras = map[string]any{}
		}
		shot.Extras[k] = val
	}
	return shot
}

// enumString returns the string form of an enumerated raw value. Non-strings
// normalize like a missing value.
func enumString(v any) string {
	s, _ := v.(string)
	return s
}

// text returns a free-text field, substituting def when the key is absent or null.
// Scalars of other types are formatted; composite values are JSON-encoded.
func text(rec map[string]any, key, def string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return def
	}
	return string(b)
}

// characters keeps list input and drops anything else. Elements become strings.
func characters(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			switch s := e.(type) {
			case nil:
			case string:
				out = append(out, s)
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
	case []string:
		out = append(out, t...)
	}
	return out
}

// ToRaw converts a typed shot back into the loosely-typed record shape.
func ToRaw(s domain.Shot) map[string]any {
	chars := make([]any, len(s.Characters))
	for i, c := range s.Characters {
		chars[i] = c
	}
	m := map[string]any{
		"scene_number":         s.SceneNumber,
		"scene_description":    s.SceneDescription,
		"shot_size":            s.ShotSize,
		"camera_angle":         s.CameraAngle,
		"camera_movement":      s.CameraMovement,
		"camera_equipment":     s.CameraEquipment,
		"lens_focal_length":    s.LensFocalLength,
		"camera":               s.Camera,
		"lens":                 s.Lens,
		"aperture":             s.Aperture,
		"characters":           chars,
		"location":             s.Location,
		"time":                 s.Time,
		"mood":                 s.Mood,
		"dialogue_text":        s.DialogueText,
		"voiceover_text":       s.VoiceoverText,
		"sound_effects":        s.SoundEffects,
		"scene_type":           s.SceneType,
		"composition_tension":  s.CompositionTension,
		"axis_crossing":        s.AxisCrossing,
		"shot_transition":      s.ShotTransition,
		"aesthetics_technique": s.AestheticsTechnique,
		"protagonist_type":     s.ProtagonistType,
		"emotion_design":       s.EmotionDesign,
		"performance_style":    s.PerformanceStyle,
	}
	for k, v := range s.Extras {
		if !domain.IsShotKey(k) {
			m[k] = v
		}
	}
	return m
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number, int:
		return "number"
	case bool:
		return "bool"
	}
	return fmt.Sprintf("%T", v)
}
