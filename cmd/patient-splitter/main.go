package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"github.com/a3tai/mcp-patient-splitter/internal/config"
	"github.com/a3tai/mcp-patient-splitter/internal/logging"
	"github.com/a3tai/mcp-patient-splitter/internal/mcp"
	"github.com/a3tai/mcp-patient-splitter/internal/segment"
	"github.com/a3tai/mcp-patient-splitter/internal/service"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// Exit codes for batch mode
const (
	exitOK             = 0
	exitFailure        = 1
	exitInputError     = 2
	exitNoViableGroups = 3
)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion(os.Stdout)
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(exitFailure)
	}

	if version != "dev" {
		cfg.Version = version
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.ServerName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(exitFailure)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", zap.Error(err))
		os.Exit(exitFailure)
	}

	// Set up context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsBatchMode() {
		code := runBatchMode(ctx, cfg, svc, os.Stdout)
		stop()
		_ = logger.Sync()
		os.Exit(code)
	}

	runStdioMode(ctx, cfg, svc, logger)
}

// newService builds the segmentation service described by cfg
func newService(cfg *config.Config, logger *zap.Logger) (*service.Service, error) {
	segCfg, err := cfg.SegmentConfig()
	if err != nil {
		return nil, err
	}
	return service.New(segCfg, service.Options{
		Directory:   cfg.Directory,
		OutputDir:   cfg.OutputDir,
		MaxFileSize: cfg.MaxFileSize,
	}, logger)
}

// runStdioMode handles stdio mode execution
func runStdioMode(ctx context.Context, cfg *config.Config, svc *service.Service, logger *zap.Logger) {
	// The parent process controls our lifecycle; stdout belongs to the protocol
	server, err := mcp.NewServer(cfg, svc, logger)
	if err != nil {
		logger.Error("failed to create MCP server", zap.Error(err))
		os.Exit(exitFailure)
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(exitFailure)
	}
}

// runBatchMode processes the configured document, prints a summary to out
// and returns the process exit code
func runBatchMode(ctx context.Context, cfg *config.Config, svc *service.Service, out io.Writer) int {
	req := service.SplitRequest{
		InputPath: cfg.InputFile,
		PDFPath:   cfg.PDFFile,
		OutputDir: cfg.OutputDir,
	}

	results, err := svc.ProcessBatch(ctx, []service.SplitRequest{req})
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return exitCode(err)
	}

	for _, r := range results {
		writeSummary(out, r.Report)
	}
	return exitOK
}

// exitCode maps a failure to the batch mode exit status
func exitCode(err error) int {
	switch segment.KindOf(err) {
	case segment.ErrorKindInput:
		return exitInputError
	case segment.ErrorKindNoViableGroups:
		return exitNoViableGroups
	default:
		return exitFailure
	}
}

func writeSummary(w io.Writer, report *service.Report) {
	fmt.Fprintf(w, "Source: %s\n", report.Source)
	fmt.Fprintf(w, "Run: %s\n", report.RunID)
	fmt.Fprintf(w, "Pages: %d, patient groups: %d\n", report.TotalPages, len(report.Groups))
	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped pages: %d\n", len(report.Skipped))
	}

	for _, g := range report.Groups {
		fmt.Fprintf(w, "  #%d pages %d-%d (%d) completeness=%.2f confidence=%.1f high=%t\n",
			g.ReportIndex+1, g.FirstPageIndex, g.LastPageIndex, g.PageCount,
			g.Completeness.Completeness, g.Completeness.OCRConfidence, g.Completeness.IsHighConfidence)
	}

	for _, o := range report.Outputs {
		fmt.Fprintf(w, "  wrote %s\n", o.PDFPath)
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Patient Splitter\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
