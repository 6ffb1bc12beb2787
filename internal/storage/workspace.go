/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
)

const (
	dirStamp    = "20060102_150405"
	maxNameLen  = 100
	invalidName = `<>:"/\|?*`
)

var reDirStamp = regexp.MustCompile(`_(\d{8}_\d{6})$`)

// ErrOutsideWorkspace guards delete and rename against paths the workspace does not own.
var ErrOutsideWorkspace = errors.New("storage: project is not inside the workspace")

// Workspace is a directory of projects, one subdirectory each, named
// <sanitized name>_<YYYYMMDD_HHMMSS>.
type Workspace struct {
	Dir string
}

// ProjectInfo is one entry of a workspace listing.
type ProjectInfo struct {
	domain.Stats
	ID       string    `json:"id"`
	Dir      string    `json:"dir"`
	FileSize int64     `json:"file_size"`
	Modified time.Time `json:"modified_time"`
}

// OpenWorkspace ensures dir exists.
func OpenWorkspace(dir string) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("workspace dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// SanitizeName replaces characters that are unsafe in file names with '_' and
// caps the result at 100 runes.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidName, r) {
			return '_'
		}
		return r
	}, name)
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "untitled"
	}
	return name
}

// Create saves a new project under the workspace.
func (w *Workspace) Create(proj domain.Project) (*ProjectHandle, error) {
	dir := filepath.Join(w.Dir, SanitizeName(proj.Name)+"_"+time.Now().Format(dirStamp))
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("project directory already exists: %s", dir)
	}
	return InitProject(dir, proj)
}

// Open loads a project by directory path or by directory name inside the workspace.
func (w *Workspace) Open(dirOrName string) (*ProjectHandle, error) {
	return Open(w.resolve(dirOrName))
}

// List returns every loadable project, most recently modified first.
// Directories that are not projects or fail to load are skipped.
func (w *Workspace) List() ([]ProjectInfo, error) {
	ents, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	l := applog.WithComponent("storage")
	out := make([]ProjectInfo, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.Dir, e.Name())
		info, err := w.info(dir)
		if err != nil {
			if !errors.Is(err, ErrNotProject) {
				l.Warn("skipping unreadable project", slog.String("dir", dir), slog.Any("err", err))
			}
			continue
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}

// Stats summarizes one project.
func (w *Workspace) Stats(dirOrName string) (ProjectInfo, error) {
	return w.info(w.resolve(dirOrName))
}

// Rename changes the project name and moves its directory, keeping the timestamp
// suffix. The new directory path is returned.
func (w *Workspace) Rename(dirOrName, newName string) (string, error) {
	dir, err := w.owned(dirOrName)
	if err != nil {
		return "", err
	}
	ph, err := Open(dir)
	if err != nil {
		return "", err
	}
	stamp := time.Now().Format(dirStamp)
	if m := reDirStamp.FindStringSubmatch(filepath.Base(dir)); m != nil {
		stamp = m[1]
	}
	target := filepath.Join(w.Dir, SanitizeName(newName)+"_"+stamp)
	if target != dir {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("project directory already exists: %s", target)
		}
		if err := os.Rename(dir, target); err != nil {
			return "", fmt.Errorf("rename project dir: %w", err)
		}
	}
	ph.Root = target
	ph.ManifestPath = filepath.Join(target, ManifestFileName)
	ph.Project.Name = newName
	if err := Save(ph); err != nil {
		return "", err
	}
	return target, nil
}

// Delete removes a project directory.
func (w *Workspace) Delete(dirOrName string) error {
	dir, err := w.owned(dirOrName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil && !hasBackups(dir) {
		return fmt.Errorf("%w: %s", ErrNotProject, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	applog.WithComponent("storage").Info("project deleted", slog.String("dir", dir))
	return nil
}

// ProjectUpdate carries the fields to replace; nil leaves a field as it is.
// Metadata is merged: only its non-zero fields are applied.
type ProjectUpdate struct {
	Script       *string
	Scenes       []domain.Shot
	ImagePrompts []domain.ImagePrompt
	Metadata     *domain.Metadata
}

// Update applies u to the project and saves it.
func (w *Workspace) Update(dirOrName string, u ProjectUpdate) (*ProjectHandle, error) {
	ph, err := w.Open(dirOrName)
	if err != nil {
		return nil, err
	}
	if u.Script != nil {
		ph.Project.Script = *u.Script
	}
	if u.Scenes != nil {
		ph.Project.Scenes = u.Scenes
	}
	if u.ImagePrompts != nil {
		ph.Project.ImagePrompts = u.ImagePrompts
	}
	if m := u.Metadata; m != nil {
		md := &ph.Project.Metadata
		if m.LLMBrand != "" {
			md.LLMBrand = m.LLMBrand
		}
		if m.LLMModel != "" {
			md.LLMModel = m.LLMModel
		}
		if m.MaxChars != 0 {
			md.MaxChars = m.MaxChars
		}
		if m.OverlapChars != 0 {
			md.OverlapChars = m.OverlapChars
		}
		if m.Language != "" {
			md.Language = m.Language
		}
		if m.Notes != "" {
			md.Notes = m.Notes
		}
	}
	if err := Save(ph); err != nil {
		return nil, err
	}
	return ph, nil
}

// Roots returns the directories of all projects in the workspace.
func (w *Workspace) Roots() ([]string, error) {
	infos, err := w.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(infos))
	for i, in := range infos {
		out[i] = in.Dir
	}
	return out, nil
}

func (w *Workspace) info(dir string) (ProjectInfo, error) {
	ph, err := Open(dir)
	if err != nil {
		return ProjectInfo{}, err
	}
	info := ProjectInfo{Stats: ph.Project.Stats(), ID: ph.Project.ID, Dir: dir}
	if st, err := os.Stat(ph.ManifestPath); err == nil {
		info.FileSize = st.Size()
		info.Modified = st.ModTime()
	}
	return info, nil
}

func (w *Workspace) resolve(dirOrName string) string {
	if filepath.IsAbs(dirOrName) || strings.ContainsRune(dirOrName, os.PathSeparator) {
		return filepath.Clean(dirOrName)
	}
	return filepath.Join(w.Dir, dirOrName)
}

// owned resolves dirOrName and checks it is a direct child of the workspace.
func (w *Workspace) owned(dirOrName string) (string, error) {
	dir := w.resolve(dirOrName)
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absWS, err := filepath.Abs(w.Dir)
	if err != nil {
		return "", err
	}
	if filepath.Dir(absDir) != absWS {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, dir)
	}
	return dir, nil
}
