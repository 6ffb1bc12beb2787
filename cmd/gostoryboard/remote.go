/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gostoryboard/internal/backend"
	"gostoryboard/internal/config"
	"gostoryboard/internal/llm"
	"gostoryboard/internal/storage"
	"gostoryboard/internal/telemetry"
)

const (
	keepBackups   = 20
	keepSnapshots = 50
)

// signingSecret returns the stored JWT secret, creating and storing one on first use.
func (a *app) signingSecret() []byte {
	if s, err := config.JWTSecret(); err == nil && s != "" {
		return []byte(s)
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	s := hex.EncodeToString(buf)
	if err := config.SetJWTSecret(s); err != nil {
		a.log.Warn("keychain unavailable; tokens will not survive a restart", slog.Any("err", err))
	}
	return []byte(s)
}

func cmdServe(a *app, args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", a.cfg.Backend.Addr, "listen address")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return usageErr("serve takes no arguments")
	}
	if !strings.EqualFold(a.cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := backend.ServerConfig{Secret: a.signingSecret(), Concurrency: a.cfg.LLM.Concurrency}
	if dsn := a.cfg.Backend.DatabaseURL; dsn != "" {
		store, err := backend.OpenStore(ctx, dsn)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		sc.Catalog = store
	} else {
		a.log.Warn("no database configured; catalog routes are disabled")
	}
	if cl, closeLLM, err := a.newLLM(ctx); err != nil {
		a.log.Warn("generation disabled", slog.Any("err", err))
	} else {
		defer closeLLM()
		sc.Divider = cl
	}

	if dir, err := a.workspaceDir(""); err == nil {
		if ws, err := storage.OpenWorkspace(dir); err == nil {
			pr := &storage.Pruner{Roots: ws.Roots, KeepBackups: keepBackups, KeepSnapshots: keepSnapshots}
			if err := pr.Start(a.cfg.Backend.PruneSchedule); err != nil {
				return err
			}
			defer pr.Stop()
		}
	}

	srv, err := backend.NewServer(sc)
	if err != nil {
		return err
	}
	telemetry.Event(telemetry.EventServe, map[string]any{"catalog": sc.Catalog != nil, "generate": sc.Divider != nil})
	fmt.Fprintf(a.out, "Serving on %s\n", *addr)
	return srv.ListenAndServe(ctx, *addr)
}

func cmdPublish(a *app, args []string) error {
	pos, err := parseArgs(a.flags("publish"), args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("publish requires <dir>")
	}
	bc := a.cfg.Backend
	if bc.BaseURL == "" {
		return errors.New("backend base url is not configured (set " + config.EnvBackendURL + ")")
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*bc.EffectiveTimeout())
	defer cancel()
	client := backend.NewClient(bc.BaseURL, a.token, bc.EffectiveTimeout(), bc.TLSInsecure)
	if client.Token == "" {
		// a server on this machine hands out tokens to loopback callers
		tok, err := client.IssueToken(ctx, "cli", time.Hour)
		if err != nil {
			return fmt.Errorf("no backend token (set %s): %w", config.EnvBackendToken, err)
		}
		client.Token = tok
	}
	res, err := client.Publish(ctx, ph.Project)
	if err != nil {
		return err
	}
	telemetry.Event(telemetry.EventPublished, map[string]any{"shots": len(ph.Project.Scenes), "version": res.Version})
	fmt.Fprintf(a.out, "Published %s as version %d\n", res.StableID, res.Version)
	return nil
}

func cmdSetKey(a *app, args []string) error {
	pos, err := parseArgs(a.flags("set-key"), args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return usageErr("set-key requires <brand> and <key>")
	}
	brand, key := pos[0], strings.TrimSpace(pos[1])
	if _, ok := llm.Lookup(brand); !ok {
		return usageErr("unknown brand %q; known brands: %s", brand, strings.Join(llm.Brands(), ", "))
	}
	if err := config.SetAPIKey(brand, key); err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintln(a.out, "Removed API key for", brand)
	} else {
		fmt.Fprintln(a.out, "Stored API key for", brand)
	}
	return nil
}
