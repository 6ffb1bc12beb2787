/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


// Package crash turns a panic into a report file plus a crash snapshot of the open
// project, so unsaved shot edits survive a failed run.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/storage"
	"gostoryboard/internal/telemetry"
	"gostoryboard/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Guard describes what to rescue when a panic reaches the top of a command.
type Guard struct {
	Project *storage.ProjectHandle
	// Pending returns the in-memory shot list when it may differ from the manifest.
	Pending func() []domain.Shot
	RunID   string
}

// Recover captures a panic for ph.
//
// Usage: defer crash.Recover(ph)
func Recover(ph *storage.ProjectHandle) {
	if r := recover(); r != nil {
		Guard{Project: ph}.handle(r)
	}
}

// Recover captures a panic, logs it with the stack, writes a crash report and a
// crash snapshot of the project including pending edits, then exits with code 2.
//
// Usage: defer guard.Recover()
func (g Guard) Recover() {
	if r := recover(); r != nil {
		g.handle(r)
	}
}

func (g Guard) handle(r any) {
	l := applog.WithComponent("crash")
	if g.RunID != "" {
		l = l.With(slog.String("run", g.RunID))
	}
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, _ := writeReport(g, r, stack)
	if ph := g.Project; ph != nil {
		if g.Pending != nil {
			if shots := safePending(g.Pending); shots != nil {
				ph.Project.Scenes = shots
			}
		}
		if path, err := storage.AutosaveCrashSnapshot(ph); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	// Exit with a non-zero code to indicate failure in CLI context.
	exitFn(2)
}

// safePending reads pending edits; a second panic there must not hide the first.
func safePending(fn func() []domain.Shot) (shots []domain.Shot) {
	defer func() {
		if recover() != nil {
			shots = nil
		}
	}()
	return fn()
}

func writeReport(g Guard, panicVal any, stack []byte) (string, error) {
	ph := g.Project
	dir := os.TempDir()
	if ph != nil && ph.Root != "" {
		dir = filepath.Join(ph.Root, storage.BackupsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "GoStoryboard Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if g.RunID != "" {
		_, _ = fmt.Fprintf(&buf, "Run: %s\n", g.RunID)
	}
	if ph != nil {
		// ids and counts only; the report may be uploaded
		_, _ = fmt.Fprintf(&buf, "ProjectID: %s\n", ph.Project.ID)
		_, _ = fmt.Fprintf(&buf, "Shots: %d Prompts: %d\n", len(ph.Project.Scenes), len(ph.Project.ImagePrompts))
		_, _ = fmt.Fprintf(&buf, "Manifest: %s\n", ph.ManifestPath)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// optionally upload the crash report (opt-in via env)
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
