// Package service runs segmentation for one or many documents: it loads
// pages, snapshots the current segmentation settings, splits source PDFs
// and writes a metadata sidecar next to every per-patient file.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-patient-splitter/internal/pages"
	"github.com/a3tai/mcp-patient-splitter/internal/pdf"
	"github.com/a3tai/mcp-patient-splitter/internal/segment"
)

const (
	// DefaultWorkers bounds how many documents ProcessBatch handles at once
	DefaultWorkers = 4
	// DefaultMaxFileSize applies when Options leaves MaxFileSize unset
	DefaultMaxFileSize = 200 * 1024 * 1024

	sidecarPerm = 0o600
)

// Options configures a Service
type Options struct {
	Directory   string // working directory; all paths must stay inside it
	OutputDir   string // default output directory, relative to Directory
	MaxFileSize int64
	Workers     int
}

// Service orchestrates page loading, segmentation and PDF splitting
type Service struct {
	cfg atomic.Pointer[segment.Config]

	paths     *PathValidator
	validator *pdf.Validator
	splitter  *pdf.Splitter
	textLayer *pages.TextLayerReader
	outputDir string
	workers   int
	logger    *zap.Logger
}

// SegmentRequest asks for the patient groups of one page stream. Pages, when
// set, are used as-is; otherwise they are loaded from InputPath.
type SegmentRequest struct {
	InputPath string
	Pages     []segment.PageRecord
}

// SplitRequest asks for a source PDF to be split into per-patient files.
// Without InputPath the pages are read from the PDF's own text layer.
type SplitRequest struct {
	PDFPath   string `json:"pdf_path,omitempty"`
	InputPath string `json:"input_path,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// Report is the outcome of one segmentation run
type Report struct {
	RunID          string                 `json:"run_id"`
	Source         string                 `json:"source"`
	TotalPages     int                    `json:"total_pages"`
	MappingVersion int                    `json:"mapping_version"`
	Groups         []segment.PatientGroup `json:"groups"`
	Decisions      []segment.Decision     `json:"decisions,omitempty"`
	Skipped        []pages.SkippedPage    `json:"skipped,omitempty"`
	Outputs        []GroupOutput          `json:"outputs,omitempty"`
}

// GroupOutput locates the files written for one group
type GroupOutput struct {
	ReportIndex int    `json:"report_index"`
	PDFPath     string `json:"pdf_path"`
	SidecarPath string `json:"sidecar_path"`
	Pages       []int  `json:"pages"`
}

// Sidecar is the metadata document written beside each group PDF
type Sidecar struct {
	RunID          string                      `json:"run_id"`
	Source         string                      `json:"source"`
	ReportIndex    int                         `json:"report_index"`
	FirstPageIndex int                         `json:"first_page_index"`
	LastPageIndex  int                         `json:"last_page_index"`
	PageCount      int                         `json:"page_count"`
	Pages          []int                       `json:"pages"`
	HasPatientData bool                        `json:"has_patient_data"`
	ForcedSplit    bool                        `json:"forced_split"`
	Identity       *segment.IdentityCandidate  `json:"identity,omitempty"`
	Completeness   segment.CompletenessSummary `json:"completeness"`
	MappingVersion int                         `json:"mapping_version"`
}

// BatchResult pairs a request with its report or error
type BatchResult struct {
	Request SplitRequest
	Report  *Report
	Err     error
}

// New creates a service with the given segmentation settings
func New(cfg segment.Config, opts Options, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmentation config: %w", err)
	}

	paths, err := NewPathValidator(opts.Directory)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	s := &Service{
		paths:     paths,
		validator: pdf.NewValidator(opts.MaxFileSize),
		splitter:  pdf.NewSplitter(),
		textLayer: pages.NewTextLayerReader(),
		outputDir: opts.OutputDir,
		workers:   opts.Workers,
		logger:    logger,
	}
	s.cfg.Store(&cfg)

	return s, nil
}

// Config returns the segmentation settings new runs will use
func (s *Service) Config() segment.Config {
	return *s.cfg.Load()
}

// FieldMapping returns the alias table new runs will use
func (s *Service) FieldMapping() segment.FieldMapping {
	return s.cfg.Load().Mapping
}

// SetFieldMapping replaces the alias table wholesale
func (s *Service) SetFieldMapping(all map[segment.Field][]string) (segment.FieldMapping, error) {
	return s.updateMapping(func(m segment.FieldMapping) (segment.FieldMapping, error) {
		return m.Replace(all)
	})
}

// MergeFieldMapping appends aliases to the current table
func (s *Service) MergeFieldMapping(extra map[segment.Field][]string) (segment.FieldMapping, error) {
	return s.updateMapping(func(m segment.FieldMapping) (segment.FieldMapping, error) {
		return m.Merge(extra)
	})
}

// AddAlias appends aliases for a single field
func (s *Service) AddAlias(field segment.Field, aliases ...string) (segment.FieldMapping, error) {
	return s.MergeFieldMapping(map[segment.Field][]string{field: aliases})
}

// SetAliases replaces the alias list of a single field
func (s *Service) SetAliases(field segment.Field, aliases ...string) (segment.FieldMapping, error) {
	return s.updateMapping(func(m segment.FieldMapping) (segment.FieldMapping, error) {
		return m.WithAliases(field, aliases...)
	})
}

// updateMapping swaps in a derived config. Runs already in flight keep the
// snapshot they started with.
func (s *Service) updateMapping(fn func(segment.FieldMapping) (segment.FieldMapping, error)) (segment.FieldMapping, error) {
	for {
		cur := s.cfg.Load()
		next, err := fn(cur.Mapping)
		if err != nil {
			return segment.FieldMapping{}, err
		}

		updated := *cur
		updated.Mapping = next
		if s.cfg.CompareAndSwap(cur, &updated) {
			s.logger.Info("field mapping updated", zap.Int("version", next.Version()))
			return next, nil
		}
	}
}

// SegmentPages groups a page stream by patient without touching any PDF
func (s *Service) SegmentPages(ctx context.Context, req SegmentRequest) (*Report, error) {
	if req.Pages != nil {
		return s.segment(ctx, "inline", &pages.LoadResult{Pages: req.Pages})
	}

	path, err := s.paths.Resolve(req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	loaded, err := pages.LoadJSONFile(path)
	if err != nil {
		return nil, err
	}

	return s.segment(ctx, path, loaded)
}

// SplitPDF segments a document and writes one PDF plus sidecar per group
func (s *Service) SplitPDF(ctx context.Context, req SplitRequest) (*Report, error) {
	src, err := s.paths.Resolve(req.PDFPath)
	if err != nil {
		return nil, fmt.Errorf("invalid pdf path: %w", err)
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.outputDir
	}
	if outDir == "" {
		outDir = filepath.Dir(src)
	}
	outDir, err = s.paths.Resolve(outDir)
	if err != nil {
		return nil, fmt.Errorf("invalid output directory: %w", err)
	}

	validation, err := s.validator.ValidateFile(src)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, fmt.Errorf("pdf validation failed for %s: %s", src, validation.Message)
	}

	var loaded *pages.LoadResult
	if req.InputPath != "" {
		input, err := s.paths.Resolve(req.InputPath)
		if err != nil {
			return nil, fmt.Errorf("invalid input path: %w", err)
		}
		loaded, err = pages.LoadJSONFile(input)
		if err != nil {
			return nil, err
		}
	} else {
		loaded, err = s.textLayer.Read(src)
		if err != nil {
			return nil, err
		}
	}

	report, err := s.segment(ctx, src, loaded)
	if err != nil {
		return nil, err
	}

	written, err := s.splitter.Split(ctx, src, outDir, report.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", filepath.Base(src), err)
	}

	outputs, err := s.writeSidecars(report, written)
	if err != nil {
		for _, w := range written {
			_ = os.Remove(w.Path)
		}
		return nil, err
	}
	report.Outputs = outputs

	s.logger.Info("pdf split",
		zap.String("run_id", report.RunID),
		zap.String("source", src),
		zap.String("output_dir", outDir),
		zap.Int("files", len(outputs)))

	return report, nil
}

// ProcessBatch handles independent documents concurrently. Requests without
// a PDFPath are segmented only. Every request gets a result; the returned
// error combines the failures.
func (s *Service) ProcessBatch(ctx context.Context, reqs []SplitRequest) ([]BatchResult, error) {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, req := range reqs {
		g.Go(func() error {
			var report *Report
			var err error
			if req.PDFPath != "" {
				report, err = s.SplitPDF(ctx, req)
			} else {
				report, err = s.SegmentPages(ctx, SegmentRequest{InputPath: req.InputPath})
			}
			results[i] = BatchResult{Request: req, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, r := range results {
		if r.Err != nil {
			name := r.Request.PDFPath
			if name == "" {
				name = r.Request.InputPath
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, r.Err))
		}
	}
	return results, errs
}

func (s *Service) segment(ctx context.Context, source string, loaded *pages.LoadResult) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// one snapshot per run
	cfg := s.cfg.Load()
	segmenter, err := segment.NewSegmenter(*cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID), zap.String("source", source))

	for _, skipped := range loaded.Skipped {
		log.Warn("page skipped", zap.Int("position", skipped.Position), zap.String("reason", skipped.Reason))
	}

	result, err := segmenter.Segment(loaded.Pages)
	if err != nil {
		log.Warn("segmentation failed", zap.Stringer("kind", segment.KindOf(err)), zap.Error(err))
		return nil, fmt.Errorf("failed to segment %s: %w", source, err)
	}

	if log.Core().Enabled(zapcore.DebugLevel) {
		for _, d := range result.Decisions {
			log.Debug("decision",
				zap.Int("page", d.PageIndex),
				zap.String("action", string(d.Action)),
				zap.String("reason", string(d.Reason)),
				zap.Int("group", d.GroupIndex),
				zap.Int("group_size", d.GroupSize))
		}
	}

	log.Info("document segmented",
		zap.Int("pages", result.TotalPages()),
		zap.Int("groups", len(result.Groups)),
		zap.Int("skipped", len(loaded.Skipped)),
		zap.Int("mapping_version", result.MappingVersion))

	return &Report{
		RunID:          runID,
		Source:         source,
		TotalPages:     result.TotalPages(),
		MappingVersion: result.MappingVersion,
		Groups:         result.Groups,
		Decisions:      result.Decisions,
		Skipped:        loaded.Skipped,
	}, nil
}

func (s *Service) writeSidecars(report *Report, written []pdf.SplitOutput) ([]GroupOutput, error) {
	outputs := make([]GroupOutput, 0, len(written))
	for i, w := range written {
		g := report.Groups[i]
		sidecar := Sidecar{
			RunID:          report.RunID,
			Source:         report.Source,
			ReportIndex:    g.ReportIndex,
			FirstPageIndex: g.FirstPageIndex,
			LastPageIndex:  g.LastPageIndex,
			PageCount:      g.PageCount,
			Pages:          w.Pages,
			HasPatientData: g.HasPatientData,
			ForcedSplit:    g.ForcedSplit,
			Identity:       g.Identity,
			Completeness:   g.Completeness,
			MappingVersion: report.MappingVersion,
		}

		path := SidecarPath(w.Path)
		data, err := json.MarshalIndent(sidecar, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode sidecar for group %d: %w", g.ReportIndex, err)
		}
		if err := os.WriteFile(path, data, sidecarPerm); err != nil {
			for _, o := range outputs {
				_ = os.Remove(o.SidecarPath)
			}
			return nil, fmt.Errorf("failed to write sidecar %s: %w", path, err)
		}

		outputs = append(outputs, GroupOutput{
			ReportIndex: g.ReportIndex,
			PDFPath:     w.Path,
			SidecarPath: path,
			Pages:       w.Pages,
		})
	}
	return outputs, nil
}

// SidecarPath returns the metadata path for a group PDF
func SidecarPath(pdfPath string) string {
	return strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".json"
}
