/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0
 */

package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"gostoryboard/internal/storage"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
	PresetShare PresetName = "share"
)

// Formats accepted by BatchExport.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
	FormatPNG  = "png"
	FormatZip  = "zip"
)

// BatchOptions controls batch export across multiple formats.
//
// Path semantics:
//   - If OutDir is empty or relative, it is created under <project>/exports/<preset>/.
//   - Files are named storyboard.<ext>; the CSV gets a storyboard_script.txt companion,
//     the workbook carries the script on its second sheet.
//
//nolint:revive // keep fields explicit for clarity
type BatchOptions struct {
	Preset         PresetName
	Formats        []string // allowed: xlsx, csv, pdf, png, zip; empty means preset defaults
	IncludePrompts *bool    // when set, overrides the preset's default
	FontFile       string   // passed to the PDF and PNG renderers
	OutDir         string
}

// BatchExport runs exports according to the given preset and returns the written paths.
func BatchExport(ph *storage.ProjectHandle, opt BatchOptions) ([]string, error) {
	if ph == nil {
		return nil, fmt.Errorf("project handle is nil")
	}

	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	prompts := presetIncludePrompts(opt.Preset)
	if opt.IncludePrompts != nil {
		prompts = *opt.IncludePrompts
	}

	baseOut := opt.OutDir
	if baseOut == "" {
		baseOut = string(opt.Preset)
		if baseOut == "" {
			baseOut = "batch"
		}
	}
	if !filepath.IsAbs(baseOut) {
		baseOut = filepath.Join(ph.Root, storage.ExportsDirName, baseOut)
	}
	pdfOpt := PDFOptions{FontFile: opt.FontFile, IncludePrompts: prompts}
	pngOpt := PNGOptions{FontFile: opt.FontFile}

	var written []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		out := filepath.Join(baseOut, "storyboard."+f)
		switch f {
		case FormatXLSX:
			p, err := ExportWorkbook(ph, out, prompts)
			if err != nil {
				return written, fmt.Errorf("xlsx: %w", err)
			}
			written = append(written, p)
		case FormatCSV:
			sheet, script, err := ExportShotSheet(ph, out, prompts)
			if err != nil {
				return written, fmt.Errorf("csv: %w", err)
			}
			written = append(written, sheet, script)
		case FormatPDF:
			p, err := ExportPDF(ph, out, pdfOpt)
			if err != nil {
				return written, fmt.Errorf("pdf: %w", err)
			}
			written = append(written, p)
		case FormatPNG:
			p, err := ExportContactSheet(ph, out, pngOpt)
			if err != nil {
				return written, fmt.Errorf("png: %w", err)
			}
			written = append(written, p)
		case FormatZip:
			p, err := ExportBundle(ph, out, BundleOptions{PDF: &pdfOpt, PNG: &pngOpt, NoPrompts: !prompts})
			if err != nil {
				return written, fmt.Errorf("zip: %w", err)
			}
			written = append(written, p)
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
	}
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{FormatPNG, FormatXLSX}
	case PresetPrint:
		return []string{FormatPDF, FormatXLSX}
	case PresetShare:
		return []string{FormatZip}
	default:
		return []string{FormatXLSX}
	}
}

func presetIncludePrompts(p PresetName) bool {
	switch p {
	case PresetPrint:
		return false
	default:
		return true
	}
}
