/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package scene

import (
	"strings"

	"gostoryboard/internal/vocab"
)

// LegacyKind tells which old camera_angle encoding a raw value uses.
type LegacyKind int

const (
	NotLegacy LegacyKind = iota
	// LegacySlash is "shot_size/camera_angle/camera_movement/camera_equipment/lens_focal_length".
	LegacySlash
	// LegacySingle is one value from the old five-level shot vocabulary, e.g. "特写" or "俯视".
	LegacySingle
)

func (k LegacyKind) String() string {
	switch k {
	case LegacySlash:
		return "slash"
	case LegacySingle:
		return "single"
	default:
		return "none"
	}
}

// CameraSetup holds the five camera fields carried by the legacy encodings.
type CameraSetup struct {
	ShotSize        vocab.Choice
	CameraAngle     vocab.Choice
	CameraMovement  vocab.Choice
	CameraEquipment vocab.Choice
	LensFocalLength vocab.Choice
}

// DetectLegacy classifies a raw camera_angle value without normalizing it.
func DetectLegacy(cat *vocab.Catalog, rawAngle string) LegacyKind {
	if strings.Contains(rawAngle, "/") && len(strings.Split(rawAngle, "/")) == len(vocab.CameraFields) {
		return LegacySlash
	}
	if rawAngle != "" && !cat.MustSet(vocab.CameraAngle).Contains(rawAngle) && cat.IsLegacyAngle(rawAngle) {
		return LegacySingle
	}
	return NotLegacy
}

// MigrateLegacy expands a legacy camera_angle into the five discrete camera fields.
// For NotLegacy the returned setup is zero and must not be used.
func MigrateLegacy(cat *vocab.Catalog, rawAngle string) (CameraSetup, LegacyKind) {
	kind := DetectLegacy(cat, rawAngle)
	switch kind {
	case LegacySlash:
		parts := strings.Split(rawAngle, "/")
		ch := make([]vocab.Choice, len(parts))
		for i, f := range vocab.CameraFields {
			ch[i] = choose(cat, f, strings.TrimSpace(parts[i]))
		}
		return CameraSetup{ch[0], ch[1], ch[2], ch[3], ch[4]}, kind
	case LegacySingle:
		return CameraSetup{
			ShotSize:        choose(cat, vocab.ShotSize, cat.LegacyShotSize(rawAngle)),
			CameraAngle:     cat.MustSet(vocab.CameraAngle).DefaultChoice(),
			CameraMovement:  cat.MustSet(vocab.CameraMovement).DefaultChoice(),
			CameraEquipment: cat.MustSet(vocab.CameraEquipment).DefaultChoice(),
			LensFocalLength: cat.MustSet(vocab.LensFocalLength).DefaultChoice(),
		}, kind
	}
	return CameraSetup{}, NotLegacy
}

// choose normalizes raw against f's option set. The result is always a member.
func choose(cat *vocab.Catalog, f vocab.Field, raw string) vocab.Choice {
	set := cat.MustSet(f)
	ch, ok := set.Choice(Normalize(raw, set.Options, set.Default))
	if !ok {
		return set.DefaultChoice()
	}
	return ch
}
