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
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gostoryboard/internal/config"
	"gostoryboard/internal/crash"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/telemetry"
	"gostoryboard/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "GoStoryboard: script to storyboard shots")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  gostoryboard version                                   Show version")
	fmt.Fprintln(w, "  gostoryboard split <script-file> [-max N] [-overlap N] [-json]")
	fmt.Fprintln(w, "                                                         Split a script into segments")
	fmt.Fprintln(w, "  gostoryboard validate <shots.json>                     Print canonical shots")
	fmt.Fprintln(w, "  gostoryboard init <dir> <name> [<script-file>]         Create a project")
	fmt.Fprintln(w, "  gostoryboard generate <dir> [-keep-going] [-concurrency N]")
	fmt.Fprintln(w, "                                                         Storyboard the project's script with the LLM")
	fmt.Fprintln(w, "  gostoryboard prompts <dir> [-lang bilingual|english|chinese] [-no-technical] [-translate]")
	fmt.Fprintln(w, "  gostoryboard delete-shot <dir> <n>                     Remove shot n and renumber")
	fmt.Fprintln(w, "  gostoryboard list [<workspace>]                        List projects")
	fmt.Fprintln(w, "  gostoryboard search <dir> <query> [-type T] [-character C] [-location L] [-limit N]")
	fmt.Fprintln(w, "  gostoryboard export <dir> xlsx|csv|pdf|png|zip|batch [out] [-font F] [-no-prompts] [-preset web|print|share]")
	fmt.Fprintln(w, "  gostoryboard serve [-addr :8080]                       Run the API server")
	fmt.Fprintln(w, "  gostoryboard publish <dir>                             Publish to the shared catalog")
	fmt.Fprintln(w, "  gostoryboard set-key <brand> <key>                     Store an LLM API key in the keychain")
}

func main() {
	defer crash.Recover(nil)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage marks argument errors; they exit with code 2.
var errUsage = errors.New("usage")

type command func(a *app, args []string) error

var commands = map[string]command{
	"split":       cmdSplit,
	"validate":    cmdValidate,
	"init":        cmdInit,
	"generate":    cmdGenerate,
	"prompts":     cmdPrompts,
	"delete-shot": cmdDeleteShot,
	"list":        cmdList,
	"search":      cmdSearch,
	"export":      cmdExport,
	"serve":       cmdServe,
	"publish":     cmdPublish,
	"set-key":     cmdSetKey,
}

// app carries what every command needs.
type app struct {
	cfg    config.AppConfig
	token  string
	out    io.Writer
	errOut io.Writer
	log    *slog.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stdout)
		return 2
	}
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, "GoStoryboard")
		fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(stderr, "Warning:", err)
	}
	cfg, token, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Warning: config:", err)
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   stderr,
	})
	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	telemetry.NewDefault(tcfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Flush(ctx)
	}()

	a := &app{cfg: cfg, token: token, out: stdout, errOut: stderr, log: applog.WithComponent("cli").With(slog.String("cmd", args[0]))}
	a.log.Debug("start", slog.Int("args", len(args)-1))
	if err := cmd(a, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			usage(stderr)
			return 2
		}
		a.log.Error("command failed", slog.Any("err", err))
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// parseArgs lets flags appear before, between or after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}
