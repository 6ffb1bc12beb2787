/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"time"
)

// This file defines the data model shared by the splitter, validator, prompt generator,
// exporters and storage layers. Everything here serializes to the human-readable JSON
// project document; closed-vocabulary fields are plain strings at this boundary.

// Segment is a contiguous slice of a script. Start and End are rune offsets into the
// script, End exclusive.
type Segment struct {
	Index int    `json:"index"` // 1-based
	Text  string `json:"text"`
	Start int    `json:"start_pos"`
	End   int    `json:"end_pos"`
}

// Len returns the segment length in runes.
func (s Segment) Len() int { return s.End - s.Start }

// Shot is one canonical storyboard entry.
// Field order matches the key order of the persisted JSON record.
type Shot struct {
	SceneNumber         int      `json:"scene_number"`
	SceneDescription    string   `json:"scene_description"`
	ShotSize            string   `json:"shot_size"`
	CameraAngle         string   `json:"camera_angle"`
	CameraMovement      string   `json:"camera_movement"`
	CameraEquipment     string   `json:"camera_equipment"`
	LensFocalLength     string   `json:"lens_focal_length"`
	Camera              string   `json:"camera"`
	Lens                string   `json:"lens"`
	Aperture            string   `json:"aperture"`
	Characters          []string `json:"characters"`
	Location            string   `json:"location"`
	Time                string   `json:"time"`
	Mood                string   `json:"mood"`
	DialogueText        string   `json:"dialogue_text"`
	VoiceoverText       string   `json:"voiceover_text"`
	SoundEffects        string   `json:"sound_effects"`
	SceneType           string   `json:"scene_type"`
	CompositionTension  string   `json:"composition_tension"`
	AxisCrossing        string   `json:"axis_crossing"`
	ShotTransition      string   `json:"shot_transition"`
	AestheticsTechnique string   `json:"aesthetics_technique"`
	ProtagonistType     string   `json:"protagonist_type"`
	EmotionDesign       string   `json:"emotion_design"`
	PerformanceStyle    string   `json:"performance_style"`

	// Extras holds keys outside the canonical set, copied through verbatim.
	// They are written after the canonical keys in sorted order.
	Extras map[string]any `json:"-"`
}

// ShotKeys lists the canonical JSON keys of a Shot in record order.
var ShotKeys = []string{
	"scene_number", "scene_description", "shot_size", "camera_angle", "camera_movement",
	"camera_equipment", "lens_focal_length", "camera", "lens", "aperture", "characters",
	"location", "time", "mood", "dialogue_text", "voiceover_text", "sound_effects",
	"scene_type", "composition_tension", "axis_crossing", "shot_transition",
	"aesthetics_technique", "protagonist_type", "emotion_design", "performance_style",
}

// IsShotKey reports whether k is one of the canonical keys.
func IsShotKey(k string) bool { return slices.Contains(ShotKeys, k) }

type shotAlias Shot

// MarshalJSON writes canonical keys first, then extras.
func (s Shot) MarshalJSON() ([]byte, error) {
	a := shotAlias(s)
	if a.Characters == nil {
		a.Characters = []string{}
	}
	b, err := json.Marshal(a)
	if err != nil || len(s.Extras) == 0 {
		return b, err
	}
	keys := make([]string, 0, len(s.Extras))
	for k := range s.Extras {
		if !IsShotKey(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return b, nil
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(s.Extras[k])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads canonical keys into fields and everything else into Extras.
// It is strict about types; untrusted records go through the scene validator instead.
func (s *Shot) UnmarshalJSON(data []byte) error {
	var a shotAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, raw := range all {
		if IsShotKey(k) {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if a.Extras == nil {
			a.Extras = map[string]any{}
		}
		a.Extras[k] = v
	}
	*s = Shot(a)
	return nil
}

// Clone returns a deep copy of the shot.
func (s Shot) Clone() Shot {
	c := s
	c.Characters = slices.Clone(s.Characters)
	if s.Extras != nil {
		c.Extras = make(map[string]any, len(s.Extras))
		for k, v := range s.Extras {
			c.Extras[k] = v
		}
	}
	return c
}

// CloneShots deep-copies a shot list.
func CloneShots(in []Shot) []Shot {
	if in == nil {
		return nil
	}
	out := make([]Shot, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// ImagePrompt is the generated text-to-image prompt for one shot.
// A failed generation carries Error and an empty prompt.
type ImagePrompt struct {
	SceneNumber      int              `json:"scene_number"`
	SceneDescription string           `json:"scene_description,omitempty"`
	PromptJSON       *PromptStructure `json:"prompt_json"`
	PromptText       string           `json:"prompt_text"`
	NegativePrompt   string           `json:"negative_prompt"`
	Error            string           `json:"error,omitempty"`
}

// PromptStructure is the structured image prompt.
type PromptStructure struct {
	Subject             Subject         `json:"subject"`
	Scene               Setting         `json:"scene"`
	Composition         Composition     `json:"composition"`
	Lighting            Lighting        `json:"lighting"`
	CameraTechnical     *CameraTech     `json:"camera_technical,omitempty"`
	VisualStyle         VisualStyle     `json:"visual_style"`
	SpatialAnchors      []SpatialAnchor `json:"spatial_anchors"`
	NegativeConstraints []string        `json:"negative_constraints"`
}

type Subject struct {
	MainCharacter   string `json:"main_character"`
	Action          string `json:"action"`
	Pose            string `json:"pose"`
	Expression      string `json:"expression"`
	Clothing        string `json:"clothing"`
	Props           string `json:"props"`
	FullDescription string `json:"full_description,omitempty"`
}

type Setting struct {
	Location        string `json:"location"`
	Environment     string `json:"environment"`
	Background      string `json:"background"`
	TimeOfDay       string `json:"time_of_day"`
	Weather         string `json:"weather"`
	FullDescription string `json:"full_description,omitempty"`
}

type Composition struct {
	ShotSize           string `json:"shot_size"`
	CameraAngle        string `json:"camera_angle"`
	Framing            string `json:"framing"`
	CompositionTension string `json:"composition_tension"`
	RuleOfThirds       string `json:"rule_of_thirds"`
	LeadingLines       string `json:"leading_lines"`
}

type Lighting struct {
	Type             string `json:"type"`
	Direction        string `json:"direction"`
	Intensity        string `json:"intensity"`
	ColorTemperature string `json:"color_temperature"`
	Mood             string `json:"mood"`
}

type CameraTech struct {
	CameraModel  string `json:"camera_model"`
	Lens         string `json:"lens"`
	Aperture     string `json:"aperture"`
	FocalLength  string `json:"focal_length"`
	DepthOfField string `json:"depth_of_field"`
}

type VisualStyle struct {
	CinematicStyle   string `json:"cinematic_style"`
	ColorGrading     string `json:"color_grading"`
	Texture          string `json:"texture"`
	Atmosphere       string `json:"atmosphere"`
	ProtagonistType  string `json:"protagonist_type,omitempty"`
	EmotionDesign    string `json:"emotion_design,omitempty"`
	PerformanceStyle string `json:"performance_style,omitempty"`
}

type SpatialAnchor struct {
	Element  string `json:"element"`
	Position string `json:"position"`
	Priority string `json:"priority"`
}

// Project is the persisted storyboard project. It serializes to the JSON manifest.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"project_name"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Script       string        `json:"script"`
	Scenes       []Shot        `json:"scenes"`
	ImagePrompts []ImagePrompt `json:"image_prompts"`
	Metadata     Metadata      `json:"metadata"`
}

// Metadata contains optional descriptive metadata for a project.
type Metadata struct {
	LLMBrand     string `json:"llm_brand,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
	MaxChars     int    `json:"max_chars,omitempty"`
	OverlapChars int    `json:"overlap_chars,omitempty"`
	Language     string `json:"prompt_language,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Stats summarizes a project.
type Stats struct {
	Name        string    `json:"project_name"`
	SceneCount  int       `json:"scene_count"`
	PromptCount int       `json:"prompt_count"`
	ScriptChars int       `json:"script_length"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stats computes the project summary. Script length counts runes.
func (p Project) Stats() Stats {
	return Stats{
		Name:        p.Name,
		SceneCount:  len(p.Scenes),
		PromptCount: len(p.ImagePrompts),
		ScriptChars: len([]rune(p.Script)),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
