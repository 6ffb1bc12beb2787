/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package prompt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reVerbAux    = regexp.MustCompile(`([^，。！？\s]+(?:着|了|过|在))`)
	reVerbOngo   = regexp.MustCompile(`([^，。！？\s]+(?:中|时))`)
	rePunct      = regexp.MustCompile(`[，。！？、]`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

func firstIn(desc string, words []string) string {
	for _, w := range words {
		if w != "" && strings.Contains(desc, w) {
			return w
		}
	}
	return ""
}

func containsAny(s string, words []string) bool { return firstIn(s, words) != "" }

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// runeSlice returns s[from:to] measured in runes, clamped to the string.
func runeSlice(s string, from, to int) string {
	r := []rune(s)
	from = max(from, 0)
	to = min(to, len(r))
	if from >= to {
		return ""
	}
	return string(r[from:to])
}

func runeIndex(s, sub string) int {
	i := strings.Index(s, sub)
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:i])
}

func (lx *Lexicon) action(desc string) string {
	if a := firstIn(desc, lx.Actions); a != "" {
		return a
	}
	for _, re := range []*regexp.Regexp{reVerbAux, reVerbOngo} {
		if m := re.FindStringSubmatch(desc); m != nil {
			return m[1]
		}
	}
	return lx.DefaultAction
}

// actionDetail widens the action keyword to up to 12 runes of context either side.
func actionDetail(desc, base string) string {
	idx := runeIndex(desc, base)
	if idx < 0 {
		return base
	}
	ctx := runeSlice(desc, idx-12, idx+runeLen(base)+12)
	ctx = strings.TrimSpace(reWhitespace.ReplaceAllString(rePunct.ReplaceAllString(ctx, " "), " "))
	if n := runeLen(ctx); n > runeLen(base) && n <= 30 {
		return ctx
	}
	words := strings.Fields(ctx)
	for i, w := range words {
		if w == base && len(words) > 1 {
			return strings.Join(words[max(0, i-1):min(len(words), i+2)], " ")
		}
	}
	return base
}

func (lx *Lexicon) pose(desc string) string { return firstIn(desc, lx.Poses) }

func (lx *Lexicon) expression(desc string) string {
	if e := firstIn(desc, lx.Expressions); e != "" {
		return e
	}
	return lx.DefaultExpression
}

func (lx *Lexicon) clothing(desc string) string { return firstIn(desc, lx.Clothing) }
func (lx *Lexicon) props(desc string) string    { return firstIn(desc, lx.Props) }
func (lx *Lexicon) weather(desc string) string  { return firstIn(desc, lx.Weather) }

func (lx *Lexicon) sceneDetails(desc, location string) string {
	var feats []string
	for _, f := range lx.SceneFeatures {
		if strings.Contains(desc, f) {
			feats = append(feats, f)
		}
	}
	details := strings.Join(feats, "")
	switch {
	case details != "" && location != "":
		return location + "，" + details
	case details != "":
		return details
	default:
		return location
	}
}

var relationHints = []string{"窗", "桌", "门", "角", "中", "旁", "边"}

// characterPlacement describes where the first character sits relative to the
// set, e.g. "李雷在窗边的沙发上".
func (lx *Lexicon) characterPlacement(desc string, characters []string, location string) string {
	if len(characters) == 0 || desc == "" || characters[0] == "" {
		return ""
	}
	main := characters[0]
	q := regexp.QuoteMeta(main)
	patterns := []*regexp.Regexp{
		regexp.MustCompile(q + `(?:坐在|站在|躺在|靠在|倚在)([^，。！？]+?)(?:，|。|$)`),
		regexp.MustCompile(q + `[^，。！？]*(?:在|位于)([^，。！？]+?)(?:，|。|$)`),
		regexp.MustCompile(q + `([^，。！？]*(?:窗边|桌边|门口|角落|中央|中间|旁边))`),
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		cleaned := strings.TrimSpace(rePunct.ReplaceAllString(m[1], ""))
		if runeLen(cleaned) <= 1 {
			continue
		}
		if containsAny(cleaned, relationHints) ||
			(location != "" && strings.Contains(cleaned, location)) ||
			runeLen(cleaned) <= 15 {
			return main + "在" + cleaned
		}
	}

	for _, kw := range lx.Positions {
		idx := runeIndex(desc, kw)
		if idx < 0 {
			continue
		}
		if !strings.Contains(runeSlice(desc, idx-10, idx), main) {
			continue
		}
		snippet := runeSlice(desc, idx, idx+runeLen(kw)+15)
		cleaned := strings.TrimSpace(rePunct.ReplaceAllString(snippet, ""))
		if cleaned != "" && runeLen(cleaned) <= 20 {
			return cleaned
		}
	}
	return ""
}

// emptyScene reports a shot with no people in it, e.g. an establishing landscape.
func (lx *Lexicon) emptyScene(desc string, characters []string) bool {
	if len(characters) > 0 {
		return false
	}
	if strings.TrimSpace(desc) == "" {
		return true
	}
	es := lx.EmptyScene
	if containsAny(desc, es.Person) || containsAny(desc, es.Action) {
		return false
	}
	if containsAny(desc, es.Explicit) {
		return true
	}
	return containsAny(desc, es.Environment) && runeLen(strings.TrimSpace(desc)) < es.ShortRunes
}

func matchRule(rules []poseRule, s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	for _, r := range rules {
		for _, m := range r.Match {
			if strings.Contains(s, m) || strings.Contains(lower, m) {
				return r.Pose
			}
		}
	}
	return ""
}

// inferPose guesses a pose from the action, then the mood, then the framing.
func (lx *Lexicon) inferPose(action, mood, shotSize string) string {
	pr := lx.PoseRules
	for _, try := range []struct {
		rules []poseRule
		s     string
	}{{pr.Action, action}, {pr.Mood, mood}, {pr.ShotSize, shotSize}} {
		if p := matchRule(try.rules, try.s); p != "" {
			return p
		}
	}
	return pr.Default
}

// word translates an exact dictionary entry, otherwise returns text unchanged.
func (lx *Lexicon) word(text string) string {
	if en, ok := lx.Translations[text]; ok {
		return en
	}
	return text
}

// sentence replaces every dictionary term inside text, longest terms first.
// With no substring hit it falls back to translating whitespace-separated words.
func (lx *Lexicon) sentence(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out := text
	for _, k := range lx.keysByLen {
		if strings.Contains(out, k) {
			out = strings.ReplaceAll(out, k, lx.Translations[k])
		}
	}
	if out != text {
		return out
	}
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = lx.word(w)
	}
	return strings.Join(words, " ")
}
