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
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	applog "gostoryboard/internal/log"
)

// DefaultPruneSchedule runs backup pruning once a night.
const DefaultPruneSchedule = "@daily"

// Pruner periodically trims manifest backups and script snapshots of every project
// returned by Roots.
type Pruner struct {
	Roots         func() ([]string, error)
	KeepBackups   int
	KeepSnapshots int

	c *cron.Cron
}

// Start schedules pruning on spec (standard cron syntax or descriptors such as
// "@every 1h"). It returns immediately; call Stop to end it.
func (p *Pruner) Start(spec string) error {
	if spec == "" {
		spec = DefaultPruneSchedule
	}
	p.c = cron.New()
	if _, err := p.c.AddFunc(spec, func() { p.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	p.c.Start()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	if p.c != nil {
		<-p.c.Stop().Done()
	}
}

// RunOnce prunes every project now and returns the number of backups removed.
// Failures are logged per project and do not stop the run.
func (p *Pruner) RunOnce(ctx context.Context) int {
	l := applog.WithOperation(applog.WithComponent("storage"), "prune")
	roots, err := p.Roots()
	if err != nil {
		l.Warn("list projects failed", slog.Any("err", err))
		return 0
	}
	removed := 0
	for _, root := range roots {
		n, err := PruneBackups(root, p.KeepBackups)
		removed += n
		if err != nil {
			l.Warn("prune backups failed", slog.String("root", root), slog.Any("err", err))
		}
		if p.KeepSnapshots > 0 {
			if _, err := PruneOldScriptSnapshots(ctx, &ProjectHandle{Root: root}, p.KeepSnapshots); err != nil {
				l.Warn("prune snapshots failed", slog.String("root", root), slog.Any("err", err))
			}
		}
	}
	l.Debug("prune done", slog.Int("projects", len(roots)), slog.Int("removed", removed))
	return removed
}
