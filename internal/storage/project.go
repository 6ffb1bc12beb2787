/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
)

const (
	ManifestFileName = "storyboard.json"
	BackupsDirName   = "backups"
	ScriptDirName    = "script"
	ScriptFileName   = "script.txt"
	ExportsDirName   = "exports"

	backupStamp = "20060102-150405.000000"
)

// ErrNotProject is returned when a directory holds neither a manifest nor a backup.
var ErrNotProject = errors.New("storage: not a storyboard project")

var standardSubDirs = []string{
	ScriptDirName,
	ExportsDirName,
	BackupsDirName,
}

// ProjectHandle ties a loaded manifest to its directory.
type ProjectHandle struct {
	Root         string
	ManifestPath string
	Project      domain.Project
}

// InitProject creates root if needed, scaffolds the standard subfolders and writes
// the manifest. A missing id, name or timestamp is filled in.
func InitProject(root string, proj domain.Project) (*ProjectHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := scaffold(root); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if proj.ID == "" {
		proj.ID = uuid.NewString()
	}
	if strings.TrimSpace(proj.Name) == "" {
		proj.Name = filepath.Base(root)
	}
	if proj.CreatedAt.IsZero() {
		proj.CreatedAt = now
	}
	ph := &ProjectHandle{
		Root:         root,
		ManifestPath: filepath.Join(root, ManifestFileName),
		Project:      proj,
	}
	if err := Save(ph); err != nil {
		return nil, err
	}
	applog.WithOperation(applog.WithComponent("storage"), "init").Info("project created",
		slog.String("root", root), slog.String("id", proj.ID))
	return ph, nil
}

// Open loads the project at root. A manifest that is missing, unparsable or fails
// the schema is replaced by the newest backup that passes.
func Open(root string) (*ProjectHandle, error) {
	l := applog.WithProject(applog.WithComponent("storage"), root)
	mpath := filepath.Join(root, ManifestFileName)
	p, err := readManifest(mpath)
	if err == nil {
		return &ProjectHandle{Root: root, ManifestPath: mpath, Project: *p}, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !hasBackups(root) {
		return nil, fmt.Errorf("%w: %s", ErrNotProject, root)
	}
	proj, berr := openFromLatestBackup(root)
	if berr != nil {
		return nil, fmt.Errorf("open manifest: %w; backup attempt: %v", err, berr)
	}
	l.Warn("manifest unreadable, opened from backup", slog.Any("err", err))
	return &ProjectHandle{Root: root, ManifestPath: mpath, Project: *proj}, nil
}

// Save writes the manifest transactionally after copying the previous one into a
// timestamped backup. The script text is mirrored to script/script.txt.
func Save(ph *ProjectHandle) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	if ph.Root == "" || ph.ManifestPath == "" {
		return errors.New("invalid ProjectHandle: missing paths")
	}
	normalize(&ph.Project)
	ph.Project.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(ph.Project, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := ValidateManifest(data); err != nil {
		return err
	}

	bdir := filepath.Join(ph.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(ph.ManifestPath); statErr == nil {
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", ManifestFileName, time.Now().Format(backupStamp)))
		if cerr := copyFile(ph.ManifestPath, bpath); cerr != nil {
			return fmt.Errorf("backup current manifest: %w", cerr)
		}
	}

	if err := replaceFile(ph.ManifestPath, data); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return WriteScript(ph, ph.Project.Script)
}

// SaveAs writes the manifest to a new root folder and updates the handle.
func SaveAs(ph *ProjectHandle, newRoot string) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	if err := scaffold(newRoot); err != nil {
		return err
	}
	ph.Root = newRoot
	ph.ManifestPath = filepath.Join(newRoot, ManifestFileName)
	return Save(ph)
}

// ScriptFilePath returns the location of the project's plain-text script.
func ScriptFilePath(ph *ProjectHandle) string {
	if ph == nil {
		return ""
	}
	return filepath.Join(ph.Root, ScriptDirName, ScriptFileName)
}

// ReadScript returns the script file contents, or "" when it does not exist.
func ReadScript(ph *ProjectHandle) (string, error) {
	if ph == nil {
		return "", errors.New("nil ProjectHandle")
	}
	b, err := os.ReadFile(ScriptFilePath(ph))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

// WriteScript replaces the script file and the manifest's in-memory copy.
func WriteScript(ph *ProjectHandle, text string) error {
	if ph == nil {
		return errors.New("nil ProjectHandle")
	}
	ph.Project.Script = text
	path := ScriptFilePath(ph)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure script dir: %w", err)
	}
	if err := replaceFile(path, []byte(text)); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

// AutosaveCrashSnapshot writes the in-memory project next to the backups without
// touching the manifest, so a crash never replaces good data with half-edited state.
func AutosaveCrashSnapshot(ph *ProjectHandle) (string, error) {
	if ph == nil {
		return "", errors.New("nil ProjectHandle")
	}
	data, err := json.MarshalIndent(ph.Project, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	bdir := filepath.Join(ph.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	path := filepath.Join(bdir, fmt.Sprintf("%s.%s.crash", ManifestFileName, time.Now().Format(backupStamp)))
	if err := writeFileSync(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ListBackups returns manifest backup paths, oldest first.
func ListBackups(root string) ([]string, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ManifestFileName+".") && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(bdir, name))
		}
	}
	sort.Strings(out) // timestamp in name yields lexicographic order
	return out, nil
}

// PruneBackups deletes all but the newest keep backups and reports how many went.
func PruneBackups(root string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	all, err := ListBackups(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}
	n := 0
	for _, p := range all[:len(all)-keep] {
		if err := os.Remove(p); err != nil {
			return n, fmt.Errorf("remove backup: %w", err)
		}
		n++
	}
	return n, nil
}

func scaffold(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create project root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	return nil
}

// normalize replaces nil slices so the manifest never carries null lists.
func normalize(p *domain.Project) {
	if p.Scenes == nil {
		p.Scenes = []domain.Shot{}
	}
	if p.ImagePrompts == nil {
		p.ImagePrompts = []domain.ImagePrompt{}
	}
}

func readManifest(path string) (*domain.Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateManifest(b); err != nil {
		return nil, err
	}
	var p domain.Project
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	normalize(&p)
	return &p, nil
}

func hasBackups(root string) bool {
	all, err := ListBackups(root)
	return err == nil && len(all) > 0
}

// openFromLatestBackup walks backups newest first and returns the first that loads.
func openFromLatestBackup(root string) (*domain.Project, error) {
	all, err := ListBackups(root)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.New("no backups found")
	}
	var lastErr error
	for i := len(all) - 1; i >= 0; i-- {
		p, err := readManifest(all[i])
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no usable backup: %w", lastErr)
}

// replaceFile writes data to a temp file in the target's directory, then renames it
// over path.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		return err
	}
	// Windows cannot rename over an existing file
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return err
	}
	return nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
