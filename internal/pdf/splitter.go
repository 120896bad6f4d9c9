package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/mcp-patient-splitter/internal/segment"
)

// Splitter materializes patient groups as standalone PDF files
type Splitter struct {
	conf *model.Configuration
}

// NewSplitter creates a splitter using relaxed pdfcpu validation, which
// tolerates the slightly broken files scanners tend to produce
func NewSplitter() *Splitter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Splitter{conf: conf}
}

// OutputName returns the file name used for the group at reportIndex
func OutputName(src string, reportIndex int) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return fmt.Sprintf("%s_patient_%d.pdf", stem, reportIndex+1)
}

// PageSelection converts zero-based page indexes into pdfcpu page
// selectors, which are one-based
func PageSelection(indexes []int) []string {
	sel := make([]string, len(indexes))
	for i, idx := range indexes {
		sel[i] = strconv.Itoa(idx + 1)
	}
	return sel
}

// Split writes one PDF per group into outDir. Either every group file is
// written or, on error, none are left behind.
func (s *Splitter) Split(ctx context.Context, src, outDir string, groups []segment.PatientGroup) ([]SplitOutput, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("no groups to split")
	}

	pageCount, err := api.PageCountFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages in %s: %w", src, err)
	}

	if err := os.MkdirAll(outDir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("cannot create output directory %s: %w", outDir, err)
	}

	outputs := make([]SplitOutput, 0, len(groups))
	cleanup := func() {
		for _, o := range outputs {
			_ = os.Remove(o.Path)
		}
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}

		indexes := g.PageIndexes()
		for _, idx := range indexes {
			if idx < 0 || idx >= pageCount {
				cleanup()
				return nil, fmt.Errorf("group %d references page %d but %s has %d pages",
					g.ReportIndex, idx, filepath.Base(src), pageCount)
			}
		}

		out := filepath.Join(outDir, OutputName(src, g.ReportIndex))
		if err := s.trim(src, out, PageSelection(indexes)); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to write group %d: %w", g.ReportIndex, err)
		}
		outputs = append(outputs, SplitOutput{
			ReportIndex: g.ReportIndex,
			Path:        out,
			Pages:       indexes,
		})
	}

	return outputs, nil
}

// trim writes the selected pages to a temporary file and renames it into
// place so readers never observe a half-written PDF
func (s *Splitter) trim(src, out string, selection []string) error {
	tmp := out + ".part"
	if err := api.TrimFile(src, tmp, selection, s.conf); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
