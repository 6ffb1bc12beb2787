/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var builtinLexicon []byte

type poseRule struct {
	Match []string `yaml:"match"`
	Pose  string   `yaml:"pose"`
}

// Lexicon holds the keyword tables used by rule-based extraction and the
// word-level Chinese to English dictionary.
type Lexicon struct {
	Actions           []string `yaml:"actions"`
	DefaultAction     string   `yaml:"default_action"`
	Poses             []string `yaml:"poses"`
	Expressions       []string `yaml:"expressions"`
	DefaultExpression string   `yaml:"default_expression"`
	Clothing          []string `yaml:"clothing"`
	Props             []string `yaml:"props"`
	Weather           []string `yaml:"weather"`
	SceneFeatures     []string `yaml:"scene_features"`
	Positions         []string `yaml:"positions"`

	EmptyScene struct {
		Person      []string `yaml:"person"`
		Action      []string `yaml:"action"`
		Environment []string `yaml:"environment"`
		Explicit    []string `yaml:"explicit"`
		ShortRunes  int      `yaml:"short_runes"`
	} `yaml:"empty_scene"`

	PoseRules struct {
		Action   []poseRule `yaml:"action"`
		Mood     []poseRule `yaml:"mood"`
		ShotSize []poseRule `yaml:"shot_size"`
		Default  string     `yaml:"default"`
	} `yaml:"pose_rules"`

	Translations map[string]string `yaml:"translations"`

	// translation keys, longest first
	keysByLen []string
}

var errLexicon = errors.New("prompt: invalid lexicon")

// ParseLexicon decodes a lexicon document and prepares its lookup order.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lx Lexicon
	if err := yaml.Unmarshal(data, &lx); err != nil {
		return nil, fmt.Errorf("%w: %v", errLexicon, err)
	}
	if lx.DefaultAction == "" || lx.DefaultExpression == "" || lx.PoseRules.Default == "" {
		return nil, fmt.Errorf("%w: missing defaults", errLexicon)
	}
	if len(lx.Translations) == 0 {
		return nil, fmt.Errorf("%w: empty translations", errLexicon)
	}
	lx.Actions = byRuneLenDesc(lx.Actions)
	lx.Poses = byRuneLenDesc(lx.Poses)
	lx.Expressions = byRuneLenDesc(lx.Expressions)
	lx.Positions = byRuneLenDesc(lx.Positions)

	keys := make([]string, 0, len(lx.Translations))
	for k := range lx.Translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lx.keysByLen = byRuneLenDesc(keys)
	return &lx, nil
}

var (
	defaultLexOnce sync.Once
	defaultLex     *Lexicon
)

// DefaultLexicon returns the embedded lexicon.
func DefaultLexicon() *Lexicon {
	defaultLexOnce.Do(func() {
		lx, err := ParseLexicon(builtinLexicon)
		if err != nil {
			panic(err)
		}
		defaultLex = lx
	})
	return defaultLex
}

// byRuneLenDesc returns a copy ordered by rune length, longest first; ties keep input order.
func byRuneLenDesc(in []string) []string {
	out := append([]string(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}
