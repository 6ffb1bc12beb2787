/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/storyboard"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	jobsRetain            = 30 * time.Minute
	wsWriteWait           = 10 * time.Second
	wsPingEvery           = 30 * time.Second
)

// Job is a server-side storyboard run. Events are kept so late subscribers can
// replay progress from the start.
type Job struct {
	ID        string             `json:"id"`
	Status    JobStatus          `json:"status"`
	Events    []storyboard.Event `json:"events"`
	Shots     []domain.Shot      `json:"shots,omitempty"`
	Failed    []int              `json:"failed_segments,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
}

type jobEntry struct {
	job  Job
	subs map[chan storyboard.Event]struct{}
}

// jobHub tracks running and recently finished jobs.
type jobHub struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry
}

func newJobHub() *jobHub { return &jobHub{jobs: map[string]*jobEntry{}} }

// start runs fn in the background and records its events under a new job id.
func (h *jobHub) start(fn func(ctx context.Context, progress func(storyboard.Event)) (*storyboard.Result, error)) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.gcLocked()
	h.jobs[id] = &jobEntry{job: Job{ID: id, Status: JobRunning, StartedAt: time.Now().UTC()}, subs: map[chan storyboard.Event]struct{}{}}
	h.mu.Unlock()

	go func() {
		res, err := fn(context.Background(), func(ev storyboard.Event) { h.publish(id, ev) })
		h.finish(id, res, err)
	}()
	return id
}

func (h *jobHub) publish(id string, ev storyboard.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.jobs[id]
	if !ok {
		return
	}
	e.job.Events = append(e.job.Events, ev)
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; it can re-read the job
		}
	}
}

func (h *jobHub) finish(id string, res *storyboard.Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.jobs[id]
	if !ok {
		return
	}
	e.job.EndedAt = time.Now().UTC()
	if err != nil {
		e.job.Status = JobFailed
		e.job.Error = err.Error()
	} else {
		e.job.Status = JobDone
	}
	if res != nil {
		e.job.Shots = res.Shots
		for _, f := range res.Failed {
			e.job.Failed = append(e.job.Failed, f.Segment)
		}
	}
	for ch := range e.subs {
		close(ch)
	}
	e.subs = map[chan storyboard.Event]struct{}{}
}

// get returns a copy of the job.
func (h *jobHub) get(id string) (Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.jobs[id]
	if !ok {
		return Job{}, false
	}
	j := e.job
	j.Events = append([]storyboard.Event(nil), e.job.Events...)
	return j, true
}

// subscribe returns the events so far and, for running jobs, a channel of the
// rest that is closed when the job ends. The returned func unsubscribes.
func (h *jobHub) subscribe(id string) ([]storyboard.Event, <-chan storyboard.Event, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.jobs[id]
	if !ok {
		return nil, nil, func() {}, false
	}
	past := append([]storyboard.Event(nil), e.job.Events...)
	if e.job.Status != JobRunning {
		return past, nil, func() {}, true
	}
	ch := make(chan storyboard.Event, 64)
	e.subs[ch] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return past, ch, cancel, true
}

func (h *jobHub) gcLocked() {
	cutoff := time.Now().Add(-jobsRetain)
	for id, e := range h.jobs {
		if e.job.Status != JobRunning && e.job.EndedAt.Before(cutoff) {
			delete(h.jobs, id)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tokens are checked before the upgrade; browsers on other origins still need one.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamJob replays past events then forwards live ones until the job ends or the
// peer goes away.
func streamJob(w http.ResponseWriter, r *http.Request, past []storyboard.Event, live <-chan storyboard.Event, final func() (Job, bool)) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Reader drains control frames so pongs and close are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	for _, ev := range past {
		if err := write(ev); err != nil {
			return nil
		}
	}
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for live != nil {
		select {
		case ev, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if err := write(ev); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
	if j, ok := final(); ok {
		_ = write(map[string]any{"kind": "job", "job": j})
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	return nil
}
