/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"bufio"
	"regexp"
	"strings"
	"unicode"
)

// Stats describes a script before it is split.
type Stats struct {
	Chars         int      `json:"chars"`
	NonSpaceChars int      `json:"non_space_chars"`
	Lines         int      `json:"lines"`
	Paragraphs    int      `json:"paragraphs"`
	DialogueLines int      `json:"dialogue_lines"`
	Speakers      []string `json:"speakers"`
	MinShots      int      `json:"estimated_min_shots"`
	MaxShots      int      `json:"estimated_max_shots"`
}

// Speaker lines look like "NAME: text" or "名字：台词". Headings such as "场景：" with
// nothing after the colon are not dialogue.
var reSpeaker = regexp.MustCompile(`^([\p{Han}A-Za-z0-9_\-· ]{1,24})\s*[:：]\s*(\S.*)$`)

// Names that introduce scene notes rather than dialogue.
var nonSpeakers = map[string]struct{}{
	"场景": {}, "地点": {}, "时间": {}, "旁白": {}, "画外音": {}, "字幕": {},
	"SCENE": {}, "CAPTION": {}, "NARRATION": {}, "INT": {}, "EXT": {},
}

// Analyze computes script statistics. The shot estimate is one shot per 100 to 200
// characters.
func Analyze(text string) Stats {
	st := Stats{Speakers: []string{}}
	for _, r := range text {
		st.Chars++
		if !unicode.IsSpace(r) {
			st.NonSpaceChars++
		}
	}
	st.Lines = strings.Count(text, "\n") + 1
	st.MinShots = st.Chars/200 + 1
	st.MaxShots = st.Chars/100 + 1

	seen := map[string]struct{}{}
	inPara := false
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), len(text)+1)
	for scanner.Scan() {
		trim := strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r"))
		if trim == "" {
			inPara = false
			continue
		}
		if !inPara {
			st.Paragraphs++
			inPara = true
		}
		m := reSpeaker.FindStringSubmatch(trim)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if _, skip := nonSpeakers[strings.ToUpper(name)]; skip {
			continue
		}
		st.DialogueLines++
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			st.Speakers = append(st.Speakers, name)
		}
	}
	return st
}
