/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"errors"
	"testing"
)

func TestPrunerRunOnce(t *testing.T) {
	ws, err := OpenWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ph, err := ws.Create(sampleProject())
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := Save(ph); err != nil {
			t.Fatal(err)
		}
	}
	p := &Pruner{Roots: ws.Roots, KeepBackups: 1, KeepSnapshots: 5}
	if n := p.RunOnce(context.Background()); n != 2 {
		t.Fatalf("expected 2 backups removed, got %d", n)
	}
	if baks, _ := ListBackups(ph.Root); len(baks) != 1 {
		t.Fatalf("expected 1 backup left, got %d", len(baks))
	}
}

func TestPrunerScheduleValidation(t *testing.T) {
	p := &Pruner{Roots: func() ([]string, error) { return nil, errors.New("boom") }}
	if err := p.Start("not a schedule"); err == nil {
		t.Fatal("expected an invalid cron spec to be rejected")
	}
	if err := p.Start("@every 1h"); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	if n := p.RunOnce(context.Background()); n != 0 {
		t.Fatalf("failing Roots should prune nothing, got %d", n)
	}
}
