/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package script splits prose scripts into bounded segments for per-segment shot
// generation and computes simple script statistics.
//
// All offsets and lengths are counted in runes.
package script

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gostoryboard/internal/domain"
)

// Defaults used when the configuration does not say otherwise.
const (
	DefaultMaxChars     = 500
	DefaultOverlapChars = 100
)

// ErrInvalidArgument reports a splitter constructed with unusable limits.
var ErrInvalidArgument = errors.New("script: invalid argument")

// Cut thresholds as fractions of the candidate window length.
const (
	shortWindow    = 0.5 // of max chars: windows shorter than this are emitted whole
	paragraphZone  = 0.5
	newlineZone    = 0.6
	sentenceZone   = 0.7
	sentenceFloor  = 0.5
	dialogueZone   = 0.6
	pauseZone      = 0.8
	spaceZone      = 0.8
	fallbackCutPct = 0.9
)

// Splitter cuts a script into contiguous segments of at most MaxChars runes,
// preferring paragraph, sentence and dialogue boundaries near the end of each window.
//
// OverlapChars is accepted and reported but segments never overlap: every segment
// starts where the previous one ended.
type Splitter struct {
	maxChars     int
	overlapChars int
}

// NewSplitter returns a splitter. maxChars must be positive and overlapChars
// must not be negative.
func NewSplitter(maxChars, overlapChars int) (*Splitter, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: max_chars must be > 0, got %d", ErrInvalidArgument, maxChars)
	}
	if overlapChars < 0 {
		return nil, fmt.Errorf("%w: overlap_chars must be >= 0, got %d", ErrInvalidArgument, overlapChars)
	}
	return &Splitter{maxChars: maxChars, overlapChars: overlapChars}, nil
}

// Split is a convenience wrapper around NewSplitter and Splitter.Split.
func Split(text string, maxChars, overlapChars int) ([]domain.Segment, error) {
	s, err := NewSplitter(maxChars, overlapChars)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

func (s *Splitter) MaxChars() int     { return s.maxChars }
func (s *Splitter) OverlapChars() int { return s.overlapChars }

// Split returns the ordered segments of text. Empty or whitespace-only input yields
// no segments; input of at most MaxChars runes yields exactly one.
// Concatenating the segment texts reproduces text exactly.
func (s *Splitter) Split(text string) []domain.Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= s.maxChars {
		return []domain.Segment{{Index: 1, Text: text, Start: 0, End: n}}
	}

	var segs []domain.Segment
	emit := func(start, end int) {
		segs = append(segs, domain.Segment{
			Index: len(segs) + 1,
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
	}
	pos := 0
	for pos < n {
		end := min(pos+s.maxChars, n)
		if end == n {
			emit(pos, n)
			break
		}
		cut := pos + s.bestCut(runes[pos:end])
		if cut <= pos {
			cut = end
		}
		emit(pos, cut)
		pos = cut
	}
	return segs
}

// bestCut returns the cut offset inside window, relative to its start.
func (s *Splitter) bestCut(window []rune) int {
	n := len(window)
	size := float64(n)
	if size < float64(s.maxChars)*shortWindow {
		return n
	}

	if i := lastIndex(window, "\n\n"); i >= 0 && float64(i) > size*paragraphZone {
		return i + 2
	}

	// Only the last newline is considered, and only when a sentence mark follows it.
	if i := lastIndex(window, "\n"); i >= 0 && float64(i) > size*newlineZone {
		if i+1 < n && isSentenceEnd(window[i+1]) {
			return i + 1
		}
	}

	// The last sentence mark is preferred inside the final 30% of the window and
	// still accepted anywhere past the midpoint.
	if end := lastMatchEnd(window, sentenceEndAt); end > 0 {
		if float64(end) >= size*sentenceZone {
			return end
		}
		if float64(end) > size*sentenceFloor {
			return end
		}
	}

	if end := lastMatchEnd(window, dialogueEndAt); end > 0 && float64(end) >= size*dialogueZone {
		return end
	}

	if end := lastMatchEnd(window, pauseEndAt); end > 0 && float64(end) >= size*pauseZone {
		return end
	}

	if i := lastIndex(window, " "); i >= 0 && float64(i) > size*spaceZone {
		return i + 1
	}

	return int(size * fallbackCutPct)
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isPause(r rune) bool {
	switch r {
	case '，', '；', ',', ';':
		return true
	}
	return false
}

// A matcher reports the end offset of a boundary match starting at i, or -1.
type matcher func(w []rune, i int) int

func sentenceEndAt(w []rune, i int) int {
	if isSentenceEnd(w[i]) {
		return i + 1
	}
	return -1
}

// dialogueEndAt matches a colon followed by optional whitespace and a newline.
// The match extends to the last newline of the whitespace run.
func dialogueEndAt(w []rune, i int) int {
	if w[i] != '：' && w[i] != ':' {
		return -1
	}
	end := -1
	for j := i + 1; j < len(w) && unicode.IsSpace(w[j]); j++ {
		if w[j] == '\n' {
			end = j + 1
		}
	}
	return end
}

// pauseEndAt matches a pause mark and any whitespace after it.
func pauseEndAt(w []rune, i int) int {
	if !isPause(w[i]) {
		return -1
	}
	j := i + 1
	for j < len(w) && unicode.IsSpace(w[j]) {
		j++
	}
	return j
}

// lastMatchEnd scans w left to right for non-overlapping matches and returns the
// end offset of the last one, or -1.
func lastMatchEnd(w []rune, m matcher) int {
	last := -1
	for i := 0; i < len(w); {
		if end := m(w, i); end > 0 {
			last = end
			i = end
			continue
		}
		i++
	}
	return last
}

func lastIndex(w []rune, sub string) int {
	needle := []rune(sub)
	for i := len(w) - len(needle); i >= 0; i-- {
		match := true
		for k, r := range needle {
			if w[i+k] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// SegmentInfo describes one segment for display.
type SegmentInfo struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Start     int    `json:"start_pos"`
	End       int    `json:"end_pos"`
	CharCount int    `json:"char_count"`
}

// Info summarizes a split.
type Info struct {
	TotalChars   int           `json:"total_chars"`
	SegmentCount int           `json:"segment_count"`
	MaxChars     int           `json:"max_chars"`
	OverlapChars int           `json:"overlap_chars"`
	Segments     []SegmentInfo `json:"segments"`
}

// Info splits text and reports per-segment statistics.
func (s *Splitter) Info(text string) Info {
	segs := s.Split(text)
	info := Info{
		TotalChars:   len([]rune(text)),
		SegmentCount: len(segs),
		MaxChars:     s.maxChars,
		OverlapChars: s.overlapChars,
		Segments:     make([]SegmentInfo, 0, len(segs)),
	}
	for _, sg := range segs {
		info.Segments = append(info.Segments, SegmentInfo{
			Index:     sg.Index,
			Text:      sg.Text,
			Start:     sg.Start,
			End:       sg.End,
			CharCount: sg.Len(),
		})
	}
	return info
}
