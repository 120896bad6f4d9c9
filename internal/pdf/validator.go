package pdf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Validator checks that a scanned batch can be opened and split
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a Validator that rejects sources above maxFileSize bytes
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{maxFileSize: maxFileSize}
}

// ValidateFile reports whether path names a splittable PDF. A rejected file
// is described in the result; the error is reserved for failures of the
// check itself.
func (v *Validator) ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{Path: path}

	if err := v.checkSource(path); err != nil {
		result.Message = err.Error()
		return result, nil //nolint:nilerr // rejection is reported in the result
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		result.Message = fmt.Sprintf("invalid PDF file: %v", err)
		return result, nil //nolint:nilerr // rejection is reported in the result
	}
	defer f.Close()

	result.Pages = reader.NumPage()
	if result.Pages == 0 {
		result.Message = fmt.Sprintf("PDF has no pages: %s", filepath.Base(path))
		return result, nil
	}

	result.Valid = true
	return result, nil
}

// checkSource rejects anything that is not a non-empty .pdf file within the
// size limit, without opening it
func (v *Validator) checkSource(path string) error {
	if path == "" {
		return errors.New("path cannot be empty")
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fmt.Errorf("file is not a PDF: %s", path)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("file does not exist: %s", path)
	case err != nil:
		return fmt.Errorf("cannot access file: %w", err)
	case info.IsDir():
		return fmt.Errorf("path is a directory, not a file: %s", path)
	case info.Size() == 0:
		return fmt.Errorf("file is empty: %s", path)
	case v.maxFileSize > 0 && info.Size() > v.maxFileSize:
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), v.maxFileSize)
	}
	return nil
}
