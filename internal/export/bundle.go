/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gostoryboard/internal/domain"
	"gostoryboard/internal/storage"
)

// Bundle entry names.
const (
	BundleManifest     = storage.ManifestFileName
	BundleScript       = "script.txt"
	BundleShotSheet    = "shots.csv"
	BundleWorkbook     = "storyboard.xlsx"
	BundlePDF          = "storyboard.pdf"
	BundleContactSheet = "contact_sheet.png"
)

// BundleOptions selects the renderers packed into a share bundle. The manifest,
// script, shot sheet and workbook are always included.
type BundleOptions struct {
	PDF       *PDFOptions
	PNG       *PNGOptions
	NoPrompts bool
}

// WriteBundle writes a zip archive holding the project manifest and its renderings.
func WriteBundle(w io.Writer, p domain.Project, opt BundleOptions) error {
	zw := zip.NewWriter(w)

	manifest, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := addZipFile(zw, BundleManifest, manifest); err != nil {
		return fmt.Errorf("zip add manifest: %w", err)
	}
	if err := addZipFile(zw, BundleScript, []byte(p.Script)); err != nil {
		return fmt.Errorf("zip add script: %w", err)
	}

	buf := &bytes.Buffer{}
	prompts := p.ImagePrompts
	if opt.NoPrompts {
		prompts = nil
	}
	if err := WriteShotSheet(buf, p.Scenes, prompts); err != nil {
		return fmt.Errorf("shot sheet: %w", err)
	}
	if err := addZipFile(zw, BundleShotSheet, buf.Bytes()); err != nil {
		return fmt.Errorf("zip add shot sheet: %w", err)
	}
	buf.Reset()
	if err := WriteWorkbook(buf, p.Scenes, prompts, p.Script); err != nil {
		return fmt.Errorf("workbook: %w", err)
	}
	if err := addZipFile(zw, BundleWorkbook, buf.Bytes()); err != nil {
		return fmt.Errorf("zip add workbook: %w", err)
	}

	if opt.PDF != nil {
		buf.Reset()
		if err := WritePDF(buf, p, *opt.PDF); err != nil {
			return fmt.Errorf("pdf: %w", err)
		}
		if err := addZipFile(zw, BundlePDF, buf.Bytes()); err != nil {
			return fmt.Errorf("zip add pdf: %w", err)
		}
	}
	if opt.PNG != nil {
		buf.Reset()
		if err := WriteContactSheet(buf, p.Scenes, *opt.PNG); err != nil {
			return fmt.Errorf("contact sheet: %w", err)
		}
		if err := addZipFile(zw, BundleContactSheet, buf.Bytes()); err != nil {
			return fmt.Errorf("zip add contact sheet: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

// ExportBundle writes the project's share bundle to outPath and returns the resolved path.
func ExportBundle(ph *storage.ProjectHandle, outPath string, opt BundleOptions) (string, error) {
	if ph == nil {
		return "", fmt.Errorf("project handle is nil")
	}
	out, err := resolveOut(ph, outPath, FormatZip)
	if err != nil {
		return "", err
	}
	if err := writeFile(out, func(w io.Writer) error { return WriteBundle(w, ph.Project, opt) }); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	return out, nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
