package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-patient-splitter/internal/config"
	"github.com/a3tai/mcp-patient-splitter/internal/segment"
	"github.com/a3tai/mcp-patient-splitter/internal/service"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *service.Service
	mcpServer *server.MCPServer
	logger    *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, svc *service.Service, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		service:   svc,
		mcpServer: mcpServer,
		logger:    logger,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	segmentPagesTool := mcp.NewTool(
		"segment_pages",
		mcp.WithDescription("Group the pages of an OCR result document by patient. "+
			"Returns one entry per patient with its page range and identity completeness."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the OCR pages JSON file, relative to the working directory"),
		),
		mcp.WithBoolean("decisions",
			mcp.Description("Include the per-page segmentation decisions"),
		),
	)
	s.mcpServer.AddTool(segmentPagesTool, s.handleSegmentPages)

	splitPDFTool := mcp.NewTool(
		"split_pdf",
		mcp.WithDescription("Split a multi-patient PDF into one PDF per patient, "+
			"each with a JSON metadata sidecar"),
		mcp.WithString("pdf",
			mcp.Required(),
			mcp.Description("Path to the source PDF"),
		),
		mcp.WithString("pages",
			mcp.Description("OCR pages JSON for the PDF (reads the PDF text layer if empty)"),
		),
		mcp.WithString("output",
			mcp.Description("Output directory (uses the configured default if empty)"),
		),
	)
	s.mcpServer.AddTool(splitPDFTool, s.handleSplitPDF)

	fieldMappingsTool := mcp.NewTool(
		"field_mappings",
		mcp.WithDescription("Show the labels recognized for each identity field"),
	)
	s.mcpServer.AddTool(fieldMappingsTool, s.handleFieldMappings)

	addAliasTool := mcp.NewTool(
		"add_field_alias",
		mcp.WithDescription("Teach the splitter another label for an identity field. "+
			"Applies to documents processed afterwards."),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Identity field: name, dob or patientId"),
		),
		mcp.WithString("alias",
			mcp.Required(),
			mcp.Description("Label text; separate several labels with commas"),
		),
		mcp.WithBoolean("replace",
			mcp.Description("Replace the field's labels instead of appending"),
		),
	)
	s.mcpServer.AddTool(addAliasTool, s.handleAddFieldAlias)
}

// Handler functions
func (s *Server) handleSegmentPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	showDecisions := false
	if d, ok := request.GetArguments()["decisions"].(bool); ok {
		showDecisions = d
	}

	report, err := s.service.SegmentPages(ctx, service.SegmentRequest{InputPath: path})
	if err != nil {
		return mcp.NewToolResultError(s.describeError(err)), nil
	}

	responseText := s.formatReport(report)
	if showDecisions {
		responseText += "\nDecisions:\n"
		for _, d := range report.Decisions {
			responseText += "  " + d.String() + "\n"
		}
	}

	return mcp.NewToolResultText(responseText), nil
}

func (s *Server) handleSplitPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pdfPath, err := request.RequireString("pdf")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	req := service.SplitRequest{PDFPath: pdfPath}
	if p, ok := args["pages"].(string); ok {
		req.InputPath = p
	}
	if o, ok := args["output"].(string); ok {
		req.OutputDir = o
	}

	report, err := s.service.SplitPDF(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(s.describeError(err)), nil
	}

	responseText := s.formatReport(report)
	responseText += fmt.Sprintf("\nWrote %d file(s):\n", len(report.Outputs))
	for _, out := range report.Outputs {
		responseText += fmt.Sprintf("  %s\n", out.PDFPath)
		responseText += fmt.Sprintf("  %s\n", out.SidecarPath)
	}

	return mcp.NewToolResultText(responseText), nil
}

func (s *Server) handleFieldMappings(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatFieldMapping(s.service.FieldMapping())), nil
}

func (s *Server) handleAddFieldAlias(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fieldName, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	aliasText, err := request.RequireString("alias")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	field, err := config.ParseField(fieldName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var aliases []string
	for _, a := range strings.Split(aliasText, ",") {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	if len(aliases) == 0 {
		return mcp.NewToolResultError("alias cannot be empty"), nil
	}

	replace := false
	if r, ok := request.GetArguments()["replace"].(bool); ok {
		replace = r
	}

	var mapping segment.FieldMapping
	if replace {
		mapping, err = s.service.SetAliases(field, aliases...)
	} else {
		mapping, err = s.service.AddAlias(field, aliases...)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	responseText := fmt.Sprintf("Updated %s labels.\n\n", field)
	responseText += s.formatFieldMapping(mapping)
	return mcp.NewToolResultText(responseText), nil
}

// describeError prefixes segmentation failures with their kind so callers
// can tell bad input apart from documents without usable groups
func (s *Server) describeError(err error) string {
	if kind := segment.KindOf(err); kind != segment.ErrorKindUnknown {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return err.Error()
}

// Formatting methods
func (s *Server) formatReport(report *service.Report) string {
	text := fmt.Sprintf("Segmented %d page(s) into %d patient group(s)\n", report.TotalPages, len(report.Groups))
	text += fmt.Sprintf("Source: %s\n", report.Source)
	text += fmt.Sprintf("Run: %s\n", report.RunID)
	text += fmt.Sprintf("Field mapping version: %d\n", report.MappingVersion)
	if len(report.Skipped) > 0 {
		text += fmt.Sprintf("Skipped %d undecodable page(s)\n", len(report.Skipped))
	}

	text += "\nGroups:\n"
	for _, g := range report.Groups {
		text += fmt.Sprintf("%d. Pages %d-%d (%d page(s))", g.ReportIndex+1, g.FirstPageIndex, g.LastPageIndex, g.PageCount)
		if g.ForcedSplit {
			text += " [forced split]"
		}
		text += "\n"

		if !g.HasPatientData {
			text += "   No patient identity found\n"
		} else if g.Identity != nil {
			text += formatIdentity(g.Identity)
		}

		confidence := "low"
		if g.Completeness.IsHighConfidence {
			confidence = "high"
		}
		text += fmt.Sprintf("   Completeness: %.0f%%, OCR confidence: %.1f (%s)\n",
			g.Completeness.Completeness*100, g.Completeness.OCRConfidence, confidence)
	}

	return text
}

func formatIdentity(c *segment.IdentityCandidate) string {
	text := ""
	for _, f := range segment.Fields {
		if v := c.Get(f); v != nil {
			text += fmt.Sprintf("   %s: %s\n", f, *v)
		}
	}
	return text
}

func (s *Server) formatFieldMapping(m segment.FieldMapping) string {
	text := fmt.Sprintf("Field mapping version %d\n", m.Version())
	all := m.All()
	fields := make([]string, 0, len(all))
	for f := range all {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	for _, f := range fields {
		aliases := all[segment.Field(f)]
		if len(aliases) == 0 {
			text += fmt.Sprintf("%s: (none)\n", f)
			continue
		}
		text += fmt.Sprintf("%s: %s\n", f, strings.Join(aliases, ", "))
	}
	return text
}

// Run serves MCP over the process's stdin and stdout until ctx is done or
// stdin closes
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over the given streams
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server",
		zap.String("name", s.config.ServerName),
		zap.String("directory", s.config.Directory))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
