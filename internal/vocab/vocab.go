/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package vocab holds the closed vocabularies that canonical shot records are
// normalized against, plus the descriptor tables used to render them as prompts.
//
// A Catalog is immutable once parsed and safe for concurrent use. Callers receive
// it by reference; Default returns the catalog embedded in the binary.
package vocab

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocab.yaml
var builtin []byte

// Field names an enumerated shot field. The value equals the JSON key of the field.
type Field string

const (
	ShotSize            Field = "shot_size"
	CameraAngle         Field = "camera_angle"
	CameraMovement      Field = "camera_movement"
	CameraEquipment     Field = "camera_equipment"
	LensFocalLength     Field = "lens_focal_length"
	Camera              Field = "camera"
	Lens                Field = "lens"
	Aperture            Field = "aperture"
	Time                Field = "time"
	SceneType           Field = "scene_type"
	CompositionTension  Field = "composition_tension"
	AxisCrossing        Field = "axis_crossing"
	ShotTransition      Field = "shot_transition"
	AestheticsTechnique Field = "aesthetics_technique"
	ProtagonistType     Field = "protagonist_type"
	EmotionDesign       Field = "emotion_design"
	PerformanceStyle    Field = "performance_style"

	// Mood is free text on a shot but has a descriptor table.
	Mood Field = "mood"
)

// Fields lists every enumerated field in canonical record order.
var Fields = []Field{
	ShotSize, CameraAngle, CameraMovement, CameraEquipment, LensFocalLength,
	Camera, Lens, Aperture, Time, SceneType, CompositionTension, AxisCrossing,
	ShotTransition, AestheticsTechnique, ProtagonistType, EmotionDesign, PerformanceStyle,
}

// CameraFields are the five fields carried by the legacy slash-delimited camera_angle value, in order.
var CameraFields = []Field{ShotSize, CameraAngle, CameraMovement, CameraEquipment, LensFocalLength}

// OptionSet is the ordered list of valid values for one field.
// Order is significant: it is the tie-break when several options match a decorated value.
type OptionSet struct {
	Field   Field
	Options []string
	Default string
	// Multi marks comma-joined multi-valued fields.
	Multi bool
}

// Contains reports whether v is exactly one of the options.
func (s OptionSet) Contains(v string) bool { return slices.Contains(s.Options, v) }

// AllowsEmpty reports whether the empty string is the field's valid blank value.
func (s OptionSet) AllowsEmpty() bool { return s.Default == "" }

// Choice returns v as a validated Choice. It fails for values outside the set,
// except for the empty default of fields that allow blanks.
func (s OptionSet) Choice(v string) (Choice, bool) {
	if s.Contains(v) || (v == "" && s.AllowsEmpty()) {
		return Choice{field: s.Field, value: v}, true
	}
	return Choice{}, false
}

// DefaultChoice returns the default as a Choice.
func (s OptionSet) DefaultChoice() Choice { return Choice{field: s.Field, value: s.Default} }

// Choice is a value known to belong to its field's option set.
// The zero Choice belongs to no field and renders as "".
type Choice struct {
	field Field
	value string
}

func (c Choice) Field() Field   { return c.field }
func (c Choice) String() string { return c.value }
func (c Choice) IsZero() bool   { return c.field == "" }
func (c Choice) Blank() bool    { return c.value == "" }

// Descriptor renders one option in the three prompt registers.
type Descriptor struct {
	Chinese string `yaml:"chinese" json:"chinese"`
	English string `yaml:"english" json:"english"`
	Visual  string `yaml:"visual,omitempty" json:"visual,omitempty"`
}

// Placeholders are the defaults for free-text fields.
type Placeholders struct {
	Location    string `yaml:"location"`
	Mood        string `yaml:"mood"`
	Description string `yaml:"description"` // fmt pattern taking the 1-based shot number
}

// Catalog is the full vocabulary: option sets, legacy mappings and descriptor tables.
type Catalog struct {
	version         int
	sets            map[Field]OptionSet
	legacyAngles    []string
	legacyShotSizes map[string]string
	placeholders    Placeholders
	descriptors     map[Field]map[string]Descriptor
	negative        Descriptor
	quality         Descriptor
}

type fieldDoc struct {
	Default string   `yaml:"default"`
	Multi   bool     `yaml:"multi"`
	Options []string `yaml:"options"`
}

type catalogDoc struct {
	ConfigVersion int                 `yaml:"config_version"`
	Fields        map[string]fieldDoc `yaml:"fields"`
	Legacy        struct {
		Angles    []string          `yaml:"angles"`
		ShotSizes map[string]string `yaml:"shot_sizes"`
	} `yaml:"legacy"`
	Placeholders   Placeholders                     `yaml:"placeholders"`
	Descriptors    map[string]map[string]Descriptor `yaml:"descriptors"`
	NegativePrompt Descriptor                       `yaml:"negative_prompt"`
	QualityTags    Descriptor                       `yaml:"quality_tags"`
}

// ErrInvalidCatalog is returned by Parse for structurally broken vocabularies.
var ErrInvalidCatalog = errors.New("vocab: invalid catalog")

// Parse decodes and checks a YAML vocabulary document.
// Every enumerated field must be present, options must be unique, and a non-empty
// default must be one of the options.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	c := &Catalog{
		version:         doc.ConfigVersion,
		sets:            make(map[Field]OptionSet, len(Fields)),
		legacyAngles:    doc.Legacy.Angles,
		legacyShotSizes: doc.Legacy.ShotSizes,
		placeholders:    doc.Placeholders,
		descriptors:     make(map[Field]map[string]Descriptor, len(doc.Descriptors)),
		negative:        doc.NegativePrompt,
		quality:         doc.QualityTags,
	}
	for _, f := range Fields {
		fd, ok := doc.Fields[string(f)]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidCatalog, f)
		}
		if len(fd.Options) == 0 {
			return nil, fmt.Errorf("%w: field %q has no options", ErrInvalidCatalog, f)
		}
		seen := make(map[string]struct{}, len(fd.Options))
		for _, o := range fd.Options {
			if o == "" {
				return nil, fmt.Errorf("%w: field %q has an empty option", ErrInvalidCatalog, f)
			}
			if _, dup := seen[o]; dup {
				return nil, fmt.Errorf("%w: field %q repeats option %q", ErrInvalidCatalog, f, o)
			}
			seen[o] = struct{}{}
		}
		if fd.Default != "" && !slices.Contains(fd.Options, fd.Default) {
			return nil, fmt.Errorf("%w: field %q default %q is not an option", ErrInvalidCatalog, f, fd.Default)
		}
		c.sets[f] = OptionSet{Field: f, Options: fd.Options, Default: fd.Default, Multi: fd.Multi}
	}
	ss := c.sets[ShotSize]
	for old, mapped := range c.legacyShotSizes {
		if !ss.Contains(mapped) {
			return nil, fmt.Errorf("%w: legacy shot size %q maps to unknown %q", ErrInvalidCatalog, old, mapped)
		}
	}
	if c.placeholders.Location == "" {
		c.placeholders.Location = "未知"
	}
	if c.placeholders.Mood == "" {
		c.placeholders.Mood = "中性"
	}
	if c.placeholders.Description == "" {
		c.placeholders.Description = "分镜头 %d"
	}
	for name, table := range doc.Descriptors {
		c.descriptors[Field(name)] = table
	}
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics if the embedded document is broken,
// which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(builtin)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// Version returns the catalog's config_version.
func (c *Catalog) Version() int { return c.version }

// Set returns the option set of f. Unknown fields yield ok=false.
func (c *Catalog) Set(f Field) (OptionSet, bool) {
	s, ok := c.sets[f]
	return s, ok
}

// MustSet is Set for fields known at compile time.
func (c *Catalog) MustSet(f Field) OptionSet {
	s, ok := c.sets[f]
	if !ok {
		panic("vocab: unknown field " + string(f))
	}
	return s
}

// IsLegacyAngle reports whether v belongs to the old single-value camera_angle vocabulary.
func (c *Catalog) IsLegacyAngle(v string) bool { return slices.Contains(c.legacyAngles, v) }

// LegacyShotSize maps an old single-value camera_angle to a shot size.
// Values without a mapping fall back to the shot size default.
func (c *Catalog) LegacyShotSize(v string) string {
	if m, ok := c.legacyShotSizes[v]; ok {
		return m
	}
	return c.sets[ShotSize].Default
}

// Placeholders returns the free-text defaults.
func (c *Catalog) Placeholders() Placeholders { return c.placeholders }

// Describe looks up the descriptor of value v in field f's table.
func (c *Catalog) Describe(f Field, v string) (Descriptor, bool) {
	d, ok := c.descriptors[f][v]
	return d, ok
}

// NegativePrompt returns the default negative prompt.
func (c *Catalog) NegativePrompt() Descriptor { return c.negative }

// QualityTags returns the quality tags appended to flat prompts.
func (c *Catalog) QualityTags() Descriptor { return c.quality }
