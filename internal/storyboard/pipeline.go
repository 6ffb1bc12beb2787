/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storyboard runs the generation pipeline: split the script, ask the
// model to storyboard each segment, validate each segment's shots as they
// arrive and join them into one renumbered list.
package storyboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/scene"
	"gostoryboard/internal/script"
)

// Divider turns one script segment into raw, unvalidated shot records.
// *llm.Client implements it.
type Divider interface {
	DivideScript(ctx context.Context, segment string) (any, error)
}

// DividerFunc adapts a function to Divider.
type DividerFunc func(ctx context.Context, segment string) (any, error)

func (f DividerFunc) DivideScript(ctx context.Context, segment string) (any, error) {
	return f(ctx, segment)
}

// EventKind tags progress events.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventSegmentStart  EventKind = "segment_start"
	EventSegmentDone   EventKind = "segment_done"
	EventSegmentFailed EventKind = "segment_failed"
	EventFinished      EventKind = "finished"
)

// Event reports pipeline progress. Segment is 1-based; zero for run-level events.
type Event struct {
	RunID    string    `json:"run_id"`
	Kind     EventKind `json:"kind"`
	Segment  int       `json:"segment,omitempty"`
	Segments int       `json:"segments"`
	Shots    int       `json:"shots"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Options configure a Pipeline.
type Options struct {
	MaxChars     int
	OverlapChars int
	// Concurrency bounds in-flight model calls; values below 1 mean sequential.
	Concurrency int
	// KeepGoing records failed segments in the result instead of aborting the run.
	KeepGoing bool
	// Progress receives events; calls are serialized.
	Progress func(Event)
}

// SegmentError is one failed segment in a KeepGoing run.
type SegmentError struct {
	Segment int
	Err     error
}

func (e SegmentError) Error() string { return fmt.Sprintf("segment %d: %v", e.Segment, e.Err) }

// Result is the outcome of a run.
type Result struct {
	RunID    string
	Segments []domain.Segment
	Shots    []domain.Shot
	Failed   []SegmentError
}

// Pipeline is reusable and safe for concurrent Runs.
type Pipeline struct {
	splitter  *script.Splitter
	validator *scene.Validator
	div       Divider
	opts      Options
}

// New wires a pipeline. A nil validator uses the built-in vocabulary.
func New(div Divider, v *scene.Validator, opts Options) (*Pipeline, error) {
	if div == nil {
		return nil, errors.New("storyboard: nil divider")
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = script.DefaultMaxChars
	}
	sp, err := script.NewSplitter(opts.MaxChars, opts.OverlapChars)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = scene.NewValidator(nil)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{splitter: sp, validator: v, div: div, opts: opts}, nil
}

// Segments exposes the split without calling the model.
func (p *Pipeline) Segments(text string) []domain.Segment { return p.splitter.Split(text) }

// Run storyboards text. Shots keep segment order regardless of completion
// order and are renumbered 1..N across the whole script.
func (p *Pipeline) Run(ctx context.Context, text string) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Segments: p.splitter.Split(text)}
	ctx = applog.ContextWithRun(ctx, res.RunID)
	l := applog.WithOperation(applog.WithComponent("storyboard"), "run")
	total := len(res.Segments)

	var mu sync.Mutex
	emit := func(e Event) {
		if p.opts.Progress == nil {
			return
		}
		e.RunID, e.Segments, e.At = res.RunID, total, time.Now()
		mu.Lock()
		defer mu.Unlock()
		p.opts.Progress(e)
	}

	l.InfoContext(ctx, "storyboard start", slog.Int("segments", total), slog.Int("concurrency", p.opts.Concurrency))
	emit(Event{Kind: EventStarted})

	perSeg := make([][]any, total)
	var failed []SegmentError
	var failMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, seg := range res.Segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			emit(Event{Kind: EventSegmentStart, Segment: seg.Index})
			items, err := p.segment(gctx, seg)
			if err != nil {
				l.WarnContext(ctx, "segment failed", slog.Int("segment", seg.Index), slog.Any("err", err))
				emit(Event{Kind: EventSegmentFailed, Segment: seg.Index, Error: err.Error()})
				if !p.opts.KeepGoing {
					return SegmentError{Segment: seg.Index, Err: err}
				}
				failMu.Lock()
				failed = append(failed, SegmentError{Segment: seg.Index, Err: err})
				failMu.Unlock()
				return nil
			}
			perSeg[i] = items
			emit(Event{Kind: EventSegmentDone, Segment: seg.Index, Shots: len(items)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The final pass over the concatenation numbers shots 1..N and gives
	// placeholder descriptions their script-wide number.
	var all []any
	for _, items := range perSeg {
		all = append(all, items...)
	}
	shots, err := p.validator.Validate(all)
	if err != nil {
		return nil, err
	}
	if shots == nil {
		shots = []domain.Shot{}
	}
	res.Shots = shots
	slices.SortFunc(failed, func(a, b SegmentError) int { return cmp.Compare(a.Segment, b.Segment) })
	res.Failed = failed

	l.InfoContext(ctx, "storyboard done", slog.Int("shots", len(res.Shots)), slog.Int("failed", len(failed)))
	emit(Event{Kind: EventFinished, Shots: len(res.Shots)})
	return res, nil
}

// segment returns the segment's raw records once they pass the validator's shape check.
func (p *Pipeline) segment(ctx context.Context, seg domain.Segment) ([]any, error) {
	raw, err := p.div.DivideScript(ctx, seg.Text)
	if err != nil {
		return nil, err
	}
	raw = unwrapScenes(raw)
	if _, err := p.validator.Validate(raw); err != nil {
		return nil, err
	}
	switch t := raw.(type) {
	case []map[string]any:
		items := make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
		return items, nil
	default:
		return raw.([]any), nil
	}
}

// unwrapScenes accepts {"scenes": [...]} and {"shots": [...]} wrappers some
// models produce instead of a bare array.
func unwrapScenes(raw any) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	for _, k := range []string{"scenes", "shots", "storyboard"} {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return raw
}
