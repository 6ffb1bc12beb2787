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
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gostoryboard/internal/config"
	"gostoryboard/internal/crash"
	"gostoryboard/internal/domain"
	"gostoryboard/internal/edit"
	"gostoryboard/internal/export"
	"gostoryboard/internal/llm"
	"gostoryboard/internal/prompt"
	"gostoryboard/internal/scene"
	"gostoryboard/internal/script"
	"gostoryboard/internal/storage"
	"gostoryboard/internal/storyboard"
	"gostoryboard/internal/telemetry"
)

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func cmdSplit(a *app, args []string) error {
	fs := a.flags("split")
	maxChars := fs.Int("max", a.cfg.Splitter.MaxChars, "maximum characters per segment")
	overlap := fs.Int("overlap", a.cfg.Splitter.OverlapChars, "overlap characters (recorded only)")
	asJSON := fs.Bool("json", false, "print the split as JSON")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("split requires <script-file>")
	}
	data, err := readInput(pos[0])
	if err != nil {
		return err
	}
	sp, err := script.NewSplitter(*maxChars, *overlap)
	if err != nil {
		return err
	}
	text := string(data)
	info := sp.Info(text)
	telemetry.Event(telemetry.EventSplit, map[string]any{"segments": info.SegmentCount, "chars": info.TotalChars})
	if *asJSON {
		return a.printJSON(info)
	}
	st := script.Analyze(text)
	fmt.Fprintf(a.out, "Characters: %d  Lines: %d  Dialogue lines: %d  Estimated shots: %d-%d\n",
		info.TotalChars, st.Lines, st.DialogueLines, st.MinShots, st.MaxShots)
	fmt.Fprintf(a.out, "Segments: %d (max %d, overlap %d)\n", info.SegmentCount, info.MaxChars, info.OverlapChars)
	for _, s := range info.Segments {
		fmt.Fprintf(a.out, "  #%d [%d,%d) %d chars  %s\n", s.Index, s.Start, s.End, s.CharCount, preview(s.Text, 40))
	}
	return nil
}

func cmdValidate(a *app, args []string) error {
	fs := a.flags("validate")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("validate requires <shots.json>")
	}
	data, err := readInput(pos[0])
	if err != nil {
		return err
	}
	shots, err := scene.NewValidator(nil).ValidateJSON(data)
	if err != nil {
		return err
	}
	return a.printJSON(shots)
}

func cmdInit(a *app, args []string) error {
	pos, err := parseArgs(a.flags("init"), args)
	if err != nil {
		return err
	}
	if len(pos) < 2 || len(pos) > 3 {
		return usageErr("init requires <dir> and <name>")
	}
	abs, _ := filepath.Abs(pos[0])
	p := domain.Project{
		Name:   pos[1],
		Scenes: []domain.Shot{},
		Metadata: domain.Metadata{
			MaxChars:     a.cfg.Splitter.MaxChars,
			OverlapChars: a.cfg.Splitter.OverlapChars,
			Language:     a.cfg.Prompt.Language,
		},
	}
	if len(pos) == 3 {
		data, err := readInput(pos[2])
		if err != nil {
			return err
		}
		p.Script = string(data)
	}
	a.log.Info("init project", slog.String("root", abs), slog.String("name", p.Name))
	ph, err := storage.InitProject(abs, p)
	if err != nil {
		return err
	}
	a.reindex(context.Background(), ph)
	fmt.Fprintln(a.out, "Created project at", abs)
	return nil
}

func openProject(dir string) (*storage.ProjectHandle, error) {
	abs, _ := filepath.Abs(dir)
	return storage.Open(abs)
}

// save writes the manifest and refreshes the search index. Index failures are
// logged; the manifest is the source of truth.
func (a *app) save(ctx context.Context, ph *storage.ProjectHandle) error {
	if err := storage.Save(ph); err != nil {
		return err
	}
	a.reindex(ctx, ph)
	return nil
}

func (a *app) reindex(ctx context.Context, ph *storage.ProjectHandle) {
	if err := storage.UpdateIndex(ctx, ph.Root, ph.Project); err != nil {
		a.log.Warn("index update failed", slog.String("root", ph.Root), slog.Any("err", err))
	}
}

// newLLM builds the model client from config. The returned func releases the cache.
func (a *app) newLLM(ctx context.Context) (*llm.Client, func(), error) {
	lc := a.cfg.LLM
	key, err := config.APIKey(lc.Brand)
	if err != nil {
		a.log.Warn("keychain unavailable", slog.Any("err", err))
	}
	closer := func() {}
	var opts []llm.Option
	if lc.CacheURL != "" {
		rc, err := llm.NewRedisCache(ctx, lc.CacheURL, lc.CacheTTL())
		if err != nil {
			a.log.Warn("reply cache disabled", slog.Any("err", err))
		} else {
			opts = append(opts, llm.WithCache(rc))
			closer = func() { _ = rc.Close() }
		}
	}
	cl, err := llm.New(llm.Config{
		Brand:         lc.Brand,
		Model:         lc.Model,
		BaseURL:       lc.BaseURL,
		APIKey:        key,
		Temperature:   &lc.Temperature,
		Timeout:       lc.Timeout(),
		MaxRetries:    lc.MaxRetries,
		SkipTLSVerify: lc.SkipTLSVerify,
	}, opts...)
	if err != nil {
		closer()
		return nil, func() {}, err
	}
	return cl, closer, nil
}

func cmdGenerate(a *app, args []string) error {
	fs := a.flags("generate")
	keepGoing := fs.Bool("keep-going", false, "keep shots of successful segments when others fail")
	conc := fs.Int("concurrency", a.cfg.LLM.Concurrency, "parallel model calls")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("generate requires <dir>")
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	var pending []domain.Shot
	defer crash.Guard{Project: ph, Pending: func() []domain.Shot { return pending }}.Recover()

	text := ph.Project.Script
	if strings.TrimSpace(text) == "" {
		if text, err = storage.ReadScript(ph); err != nil {
			return err
		}
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("project has no script")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cl, closeLLM, err := a.newLLM(ctx)
	if err != nil {
		return err
	}
	defer closeLLM()

	md := ph.Project.Metadata
	maxChars, overlap := md.MaxChars, md.OverlapChars
	if maxChars == 0 {
		maxChars, overlap = a.cfg.Splitter.MaxChars, a.cfg.Splitter.OverlapChars
	}
	p, err := storyboard.New(cl, scene.NewValidator(nil), storyboard.Options{
		MaxChars:     maxChars,
		OverlapChars: overlap,
		Concurrency:  *conc,
		KeepGoing:    *keepGoing,
		Progress: func(ev storyboard.Event) {
			switch ev.Kind {
			case storyboard.EventSegmentDone:
				fmt.Fprintf(a.errOut, "segment %d/%d: %d shots\n", ev.Segment, ev.Segments, ev.Shots)
			case storyboard.EventSegmentFailed:
				fmt.Fprintf(a.errOut, "segment %d/%d failed: %s\n", ev.Segment, ev.Segments, ev.Error)
			}
		},
	})
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := p.Run(ctx, text)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	pending = res.Shots

	ph.Project.Script = text
	ph.Project.Scenes = res.Shots
	// prompts describe the previous shot list
	ph.Project.ImagePrompts = nil
	ph.Project.Metadata.LLMBrand = a.cfg.LLM.Brand
	ph.Project.Metadata.LLMModel = cl.Model()
	ph.Project.Metadata.MaxChars, ph.Project.Metadata.OverlapChars = maxChars, overlap
	if err := a.save(ctx, ph); err != nil {
		return err
	}
	if err := storage.SaveScriptSnapshot(ctx, ph, text, time.Now()); err != nil {
		a.log.Warn("script snapshot failed", slog.Any("err", err))
	}
	telemetry.Generated(len(res.Segments), len(res.Shots), len(res.Failed), time.Since(start))

	fmt.Fprintf(a.out, "Generated %d shots from %d segments\n", len(res.Shots), len(res.Segments))
	for _, f := range res.Failed {
		fmt.Fprintf(a.out, "  segment %d failed: %v\n", f.Segment, f.Err)
	}
	if len(res.Segments) > 0 && len(res.Failed) == len(res.Segments) {
		return errors.New("every segment failed")
	}
	return nil
}

func cmdPrompts(a *app, args []string) error {
	fs := a.flags("prompts")
	lang := fs.String("lang", a.cfg.Prompt.Language, "bilingual, english or chinese")
	noTech := fs.Bool("no-technical", false, "omit camera technical parameters")
	translate := fs.Bool("translate", false, "translate Chinese text with the LLM for English prompts")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("prompts requires <dir>")
	}
	l, err := prompt.ParseLanguage(*lang)
	if err != nil {
		return usageErr("%v", err)
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	if len(ph.Project.Scenes) == 0 {
		return errors.New("project has no shots; run generate first")
	}
	ctx := context.Background()
	opts := prompt.Options{Language: l, Technical: a.cfg.Prompt.IncludeTechnical && !*noTech}
	if *translate {
		cl, closeLLM, err := a.newLLM(ctx)
		if err != nil {
			return err
		}
		defer closeLLM()
		opts.Translator = cl
	}
	g, err := prompt.New(nil, opts)
	if err != nil {
		return err
	}
	prompts := g.GenerateBatch(ctx, ph.Project.Scenes)
	failed := 0
	for _, p := range prompts {
		if p.Error != "" {
			failed++
		}
	}
	ph.Project.ImagePrompts = prompts
	ph.Project.Metadata.Language = string(l)
	if err := a.save(ctx, ph); err != nil {
		return err
	}
	telemetry.Event(telemetry.EventPrompts, map[string]any{"prompts": len(prompts), "failed": failed, "language": string(l)})
	fmt.Fprintf(a.out, "Generated %d prompts (%d failed)\n", len(prompts), failed)
	return nil
}

// dropPrompt removes the prompt of scene n and shifts later prompts down to match
// the renumbered shots.
func dropPrompt(prompts []domain.ImagePrompt, n int) []domain.ImagePrompt {
	out := make([]domain.ImagePrompt, 0, len(prompts))
	for _, p := range prompts {
		switch {
		case p.SceneNumber == n:
			continue
		case p.SceneNumber > n:
			p.SceneNumber--
		}
		out = append(out, p)
	}
	return out
}

func cmdDeleteShot(a *app, args []string) error {
	pos, err := parseArgs(a.flags("delete-shot"), args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return usageErr("delete-shot requires <dir> and <n>")
	}
	n, err := strconv.Atoi(pos[1])
	if err != nil {
		return usageErr("invalid scene number %q", pos[1])
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	sess := edit.NewSession(ph.Project.ID, ph.Project.Scenes, nil, nil)
	defer sess.Close()
	defer crash.Guard{Project: ph, Pending: sess.Shots}.Recover()
	if err := sess.Delete(n); err != nil {
		return err
	}
	ph.Project.Scenes = sess.Shots()
	ph.Project.ImagePrompts = dropPrompt(ph.Project.ImagePrompts, n)
	if err := a.save(context.Background(), ph); err != nil {
		return err
	}
	sess.MarkSaved()
	fmt.Fprintf(a.out, "Deleted shot %d; %d shots remain\n", n, sess.Len())
	return nil
}

func (a *app) workspaceDir(arg string) (string, error) {
	if arg != "" {
		return filepath.Abs(arg)
	}
	if a.cfg.General.WorkspaceDir != "" {
		return a.cfg.General.WorkspaceDir, nil
	}
	return config.DefaultWorkspace()
}

func cmdList(a *app, args []string) error {
	pos, err := parseArgs(a.flags("list"), args)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return usageErr("list takes at most one <workspace>")
	}
	dir, err := a.workspaceDir(strings.Join(pos, ""))
	if err != nil {
		return err
	}
	ws, err := storage.OpenWorkspace(dir)
	if err != nil {
		return err
	}
	list, err := ws.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No projects in", ws.Dir)
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHOTS\tPROMPTS\tCHARS\tMODIFIED\tDIR")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", p.Name, p.SceneCount, p.PromptCount, p.ScriptChars,
			p.Modified.Local().Format("2006-01-02 15:04"), p.Dir)
	}
	return tw.Flush()
}

func cmdSearch(a *app, args []string) error {
	fs := a.flags("search")
	types := fs.String("type", "", "comma-separated document types")
	character := fs.String("character", "", "only scenes featuring this character")
	location := fs.String("location", "", "only scenes at this location")
	from := fs.Int("from", 0, "first scene number")
	to := fs.Int("to", 0, "last scene number")
	limit := fs.Int("limit", 50, "maximum results")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 1 || len(pos) > 2 {
		return usageErr("search requires <dir> and <query>")
	}
	q := storage.SearchQuery{Character: *character, Location: *location, SceneFrom: *from, SceneTo: *to, Limit: *limit}
	if len(pos) == 2 {
		q.Text = pos[1]
	}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			q.Types = append(q.Types, t)
		}
	}
	if q.Text == "" && q.Character == "" && q.Location == "" && len(q.Types) == 0 {
		return usageErr("search needs a query or a filter")
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := storage.DetectAndRebuildIndex(ctx, ph.Root, ph.Project); err != nil {
		a.log.Warn("index check failed", slog.Any("err", err))
	}
	res, err := storage.Search(ctx, ph.Root, q)
	if err != nil {
		return err
	}
	if len(res) == 0 {
		fmt.Fprintln(a.out, "No matches")
		return nil
	}
	for _, r := range res {
		text := r.Snippet
		if text == "" {
			text = preview(r.Text, 60)
		}
		if r.SceneNumber > 0 {
			fmt.Fprintf(a.out, "scene %-4d %-12s %s\n", r.SceneNumber, r.Type, text)
		} else {
			fmt.Fprintf(a.out, "%-10s %-12s %s\n", "project", r.Type, text)
		}
	}
	return nil
}

func cmdExport(a *app, args []string) error {
	fs := a.flags("export")
	font := fs.String("font", a.cfg.Export.FontFile, "TTF/OTF/TTC font for CJK text")
	noPrompts := fs.Bool("no-prompts", false, "leave image prompts out")
	preset := fs.String("preset", a.cfg.Export.Preset, "batch preset: web, print or share")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 2 || len(pos) > 3 {
		return usageErr("export requires <dir> and a format")
	}
	var out string
	if len(pos) == 3 {
		out = pos[2]
	}
	ph, err := openProject(pos[0])
	if err != nil {
		return err
	}
	format := strings.ToLower(pos[1])
	var paths []string
	switch format {
	case export.FormatXLSX:
		p, err := export.ExportWorkbook(ph, out, !*noPrompts)
		if err != nil {
			return err
		}
		paths = []string{p}
	case export.FormatCSV:
		sheet, scriptPath, err := export.ExportShotSheet(ph, out, !*noPrompts)
		if err != nil {
			return err
		}
		paths = []string{sheet, scriptPath}
	case export.FormatPDF:
		p, err := export.ExportPDF(ph, out, export.PDFOptions{FontFile: *font, IncludePrompts: !*noPrompts})
		if err != nil {
			return err
		}
		paths = []string{p}
	case export.FormatPNG:
		p, err := export.ExportContactSheet(ph, out, export.PNGOptions{FontFile: *font})
		if err != nil {
			return err
		}
		paths = []string{p}
	case export.FormatZip:
		p, err := export.ExportBundle(ph, out, export.BundleOptions{
			PDF:       &export.PDFOptions{FontFile: *font, IncludePrompts: !*noPrompts},
			PNG:       &export.PNGOptions{FontFile: *font},
			NoPrompts: *noPrompts,
		})
		if err != nil {
			return err
		}
		paths = []string{p}
	case "batch":
		opt := export.BatchOptions{Preset: export.PresetName(*preset), FontFile: *font, OutDir: out}
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "no-prompts" {
				include := !*noPrompts
				opt.IncludePrompts = &include
			}
		})
		if paths, err = export.BatchExport(ph, opt); err != nil {
			return err
		}
	default:
		return usageErr("unknown export format %q", pos[1])
	}
	telemetry.Exported(format, len(ph.Project.Scenes))
	for _, p := range paths {
		fmt.Fprintln(a.out, p)
	}
	return nil
}
