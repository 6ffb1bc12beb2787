/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package edit

import (
	"sync"
	"time"
)

// Snapshot is an encoded shot list captured before or after an edit.
type Snapshot struct {
	Key   string // project the snapshot belongs to
	Label string // edit that produced it, e.g. "update 3"
	Blob  []byte
	TS    time.Time
}

// HistoryConfig caps memory and depth.
type HistoryConfig struct {
	// MaxBytes is a soft cap across all projects; the oldest entries are pruned first.
	MaxBytes int
	// MaxDepth limits undo entries per project. Zero selects 100, negative means unlimited.
	MaxDepth int
	// MinInterval coalesces consecutive edits with the same label on the same
	// project: the earlier snapshot is kept so one undo reverts the whole burst.
	// Zero disables coalescing.
	MinInterval time.Duration
}

// History keeps undo/redo stacks per project. It is safe for concurrent use and
// may be shared by every open session.
type History struct {
	cfg        HistoryConfig
	mu         sync.Mutex
	undo       map[string][]Snapshot
	redo       map[string][]Snapshot
	totalBytes int
}

func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 100
	}
	return &History{cfg: cfg, undo: map[string][]Snapshot{}, redo: map[string][]Snapshot{}}
}

// Push records the state before an edit and clears the project's redo stack.
func (h *History) Push(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropRedoLocked(s.Key)
	stack := h.undo[s.Key]
	if n := len(stack); n > 0 && h.cfg.MinInterval > 0 && s.Label != "" {
		last := stack[n-1]
		if last.Label == s.Label && s.TS.Sub(last.TS) < h.cfg.MinInterval {
			stack[n-1].TS = s.TS
			return
		}
	}
	h.undo[s.Key] = append(stack, s)
	h.totalBytes += len(s.Blob)
	h.enforceCapsLocked(s.Key)
}

// Undo swaps current for the most recent snapshot of its project. current goes
// onto the redo stack.
func (h *History) Undo(current Snapshot) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stack := h.undo[current.Key]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	h.undo[current.Key] = stack[:len(stack)-1]
	h.totalBytes -= len(s.Blob)
	h.redo[current.Key] = append(h.redo[current.Key], current)
	h.totalBytes += len(current.Blob)
	return s, true
}

// Redo reverses the last Undo.
func (h *History) Redo(current Snapshot) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.redo[current.Key]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	h.redo[current.Key] = r[:len(r)-1]
	h.totalBytes -= len(s.Blob)
	h.undo[current.Key] = append(h.undo[current.Key], current)
	h.totalBytes += len(current.Blob)
	h.enforceCapsLocked(current.Key)
	return s, true
}

// CanUndo and CanRedo report stack availability for key.
func (h *History) CanUndo(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo[key]) > 0
}

func (h *History) CanRedo(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo[key]) > 0
}

// Clear drops both stacks for key, e.g. when a project is closed.
func (h *History) Clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.undo[key] {
		h.totalBytes -= len(s.Blob)
	}
	h.dropRedoLocked(key)
	delete(h.undo, key)
	h.totalBytes = max(h.totalBytes, 0)
}

// Stats returns current sizes for diagnostics.
func (h *History) Stats() (totalBytes, projects, undoEntries int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.undo {
		undoEntries += len(v)
	}
	return h.totalBytes, len(h.undo), undoEntries
}

func (h *History) dropRedoLocked(key string) {
	for _, s := range h.redo[key] {
		h.totalBytes -= len(s.Blob)
	}
	delete(h.redo, key)
}

func (h *History) enforceCapsLocked(key string) {
	if h.cfg.MaxDepth > 0 {
		stack := h.undo[key]
		if extra := len(stack) - h.cfg.MaxDepth; extra > 0 {
			for _, s := range stack[:extra] {
				h.totalBytes -= len(s.Blob)
			}
			h.undo[key] = append([]Snapshot{}, stack[extra:]...)
		}
	}
	// prune the globally oldest undo entries until under the byte cap
	for h.totalBytes > h.cfg.MaxBytes {
		oldestKey, found := "", false
		var oldestTS time.Time
		for k, stack := range h.undo {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldestKey, oldestTS, found = k, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := h.undo[oldestKey]
		h.totalBytes -= len(stack[0].Blob)
		h.undo[oldestKey] = stack[1:]
		if len(h.undo[oldestKey]) == 0 {
			delete(h.undo, oldestKey)
		}
	}
}
