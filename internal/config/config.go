package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-patient-splitter/internal/segment"
)

const (
	// Mode constants
	ModeStdio = "stdio"
	ModeBatch = "batch"

	// Default values
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMaxFileSize = 200 * 1024 * 1024 // 200MB, scanned batches are large
	DefaultOutputDir   = "split"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "PATIENT_SPLIT"
)

// Config holds all configuration for the patient splitter
type Config struct {
	Mode string // "stdio" or "batch"

	// Working directory; every input and output path must resolve inside it
	Directory string

	// Batch mode inputs
	InputFile  string // OCR pages JSON
	PDFFile    string // source PDF to split
	OutputDir  string
	ConfigFile string

	// Segmentation settings
	MaxPagesPerPatient  int
	ConfidenceThreshold float64
	ForcedSplitPolicy   string
	FieldMappings       map[string][]string // merged over the default aliases

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	LogFormat   string
	MaxFileSize int64 // Maximum PDF file size in bytes
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:                ModeStdio,
		Directory:           currentDir,
		OutputDir:           DefaultOutputDir,
		MaxPagesPerPatient:  segment.DefaultMaxPagesPerPatient,
		ConfidenceThreshold: segment.DefaultConfidenceThreshold,
		ForcedSplitPolicy:   string(segment.ForcedSplitReset),
		Version:             "1.0.0",
		ServerName:          "patient-splitter",
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		MaxFileSize:         DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if err := readConfigFile(); err != nil {
		return nil, err
	}

	populateConfigFromViper(cfg)

	if cfg.Directory != "" {
		if expandedPath, err := filepath.Abs(cfg.Directory); err == nil {
			cfg.Directory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("dir", cfg.Directory)
	viper.SetDefault("input", cfg.InputFile)
	viper.SetDefault("pdf", cfg.PDFFile)
	viper.SetDefault("output", cfg.OutputDir)
	viper.SetDefault("config", cfg.ConfigFile)
	viper.SetDefault("maxpages", cfg.MaxPagesPerPatient)
	viper.SetDefault("threshold", cfg.ConfidenceThreshold)
	viper.SetDefault("forcedsplit", cfg.ForcedSplitPolicy)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("logformat", cfg.LogFormat)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'stdio' for MCP standard I/O, 'batch' to process one document and exit")
	pflag.String("dir", cfg.Directory, "Working directory; inputs and outputs must be inside it")
	pflag.String("input", cfg.InputFile, "OCR pages JSON file (batch mode)")
	pflag.String("pdf", cfg.PDFFile, "Source PDF to split into per-patient files (batch mode)")
	pflag.String("output", cfg.OutputDir, "Output directory for split PDFs, relative to --dir")
	pflag.String("config", cfg.ConfigFile, "Optional config file (yaml, json or toml) with field_mappings")
	pflag.Int("maxpages", cfg.MaxPagesPerPatient, "Maximum pages per patient before a forced split")
	pflag.Float64("threshold", cfg.ConfidenceThreshold, "OCR confidence (0-100) required for a high confidence group")
	pflag.String("forcedsplit", cfg.ForcedSplitPolicy, "Anchor handling at a forced split: 'reset' or 'carry'")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.String("logformat", cfg.LogFormat, "Log format (json, console)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "dir", "input", "pdf", "output", "config",
		"maxpages", "threshold", "forcedsplit",
		"loglevel", "logformat", "maxfilesize",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPatient Splitter - split multi-patient scans into per-patient records\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                              "+
			"# MCP stdio server, current directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=batch --input=scan.json               "+
			"# print patient groups\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=batch --input=scan.json --pdf=scan.pdf "+
			"# also write one PDF per patient\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_MODE         Run mode\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_DIR          Working directory\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_MAXPAGES     Maximum pages per patient\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_THRESHOLD    Confidence threshold\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_FORCEDSPLIT  Forced split policy\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_LOGLEVEL     Log level\n")
		fmt.Fprintf(os.Stderr, "  PATIENT_SPLIT_MAXFILESIZE  Maximum file size\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// readConfigFile merges the optional config file into viper
func readConfigFile() error {
	path := viper.GetString("config")
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Directory = viper.GetString("dir")
	cfg.InputFile = viper.GetString("input")
	cfg.PDFFile = viper.GetString("pdf")
	cfg.OutputDir = viper.GetString("output")
	cfg.ConfigFile = viper.GetString("config")
	cfg.MaxPagesPerPatient = viper.GetInt("maxpages")
	cfg.ConfidenceThreshold = viper.GetFloat64("threshold")
	cfg.ForcedSplitPolicy = viper.GetString("forcedsplit")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.LogFormat = viper.GetString("logformat")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")

	if viper.IsSet("field_mappings") {
		cfg.FieldMappings = viper.GetStringMapStringSlice("field_mappings")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeBatch {
		return errors.New("mode must be either 'stdio' or 'batch'")
	}

	if c.Directory == "" {
		return errors.New("working directory cannot be empty")
	}

	if _, err := os.Stat(c.Directory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.Directory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create working directory %s: %w", c.Directory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access working directory %s: %w", c.Directory, err)
	}

	if c.Mode == ModeBatch && c.InputFile == "" && c.PDFFile == "" {
		return errors.New("batch mode requires --input or --pdf")
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if _, err := c.SegmentConfig(); err != nil {
		return err
	}

	return nil
}

// SegmentConfig builds the segmentation settings described by c
func (c *Config) SegmentConfig() (segment.Config, error) {
	sc := segment.DefaultConfig()
	sc.MaxPagesPerPatient = c.MaxPagesPerPatient
	sc.ConfidenceThreshold = c.ConfidenceThreshold
	sc.ForcedSplit = segment.ForcedSplitPolicy(strings.ToLower(c.ForcedSplitPolicy))

	if len(c.FieldMappings) > 0 {
		extra := make(map[segment.Field][]string, len(c.FieldMappings))
		for key, aliases := range c.FieldMappings {
			field, err := ParseField(key)
			if err != nil {
				return segment.Config{}, err
			}
			extra[field] = append(extra[field], aliases...)
		}
		mapping, err := sc.Mapping.Merge(extra)
		if err != nil {
			return segment.Config{}, err
		}
		sc.Mapping = mapping
	}

	if err := sc.Validate(); err != nil {
		return segment.Config{}, err
	}
	return sc, nil
}

// ParseField accepts the field names used in config files and tool
// arguments. Viper lowercases map keys, so "patientid" and "patient_id" are
// accepted for the patient id field.
func ParseField(name string) (segment.Field, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "name":
		return segment.FieldName, nil
	case "dob":
		return segment.FieldDOB, nil
	case "patientid", "patient_id", "id":
		return segment.FieldPatientID, nil
	default:
		return "", fmt.Errorf("unknown field %q (must be name, dob or patientId)", name)
	}
}

// ResolvePath makes p absolute, relative to the working directory
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Directory, p)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Directory: %s, MaxPages: %d, Threshold: %.1f, ForcedSplit: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Directory, c.MaxPagesPerPatient, c.ConfidenceThreshold, c.ForcedSplitPolicy, c.LogLevel, c.MaxFileSize)
}

// IsBatchMode returns true if a single document is processed and the process exits
func (c *Config) IsBatchMode() bool {
	return c.Mode == ModeBatch
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
