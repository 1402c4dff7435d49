package common

import (
	"fmt"
	"io"
	"os"

	"jobpilot/internal/errors"
	"jobpilot/internal/render"
)

// CommandConfig holds the output flags shared by commands
type CommandConfig struct {
	OutputFile   string
	OutputFormat string
}

// binaryFormats are never written to a terminal.
var binaryFormats = map[string]bool{render.FormatDOCX: true, render.FormatPDF: true, render.FormatXLSX: true}

// OutputHandler handles formatting and writing output
type OutputHandler struct {
	fileProcessor *FileProcessor
	registry      *render.Registry
	logger        *errors.Logger
	stdout        io.Writer
}

// NewOutputHandler creates a new output handler
func NewOutputHandler(logger *errors.Logger) *OutputHandler {
	fp := NewFileProcessor(logger)
	return &OutputHandler{
		fileProcessor: fp,
		registry:      render.NewRegistry(),
		logger:        fp.logger,
		stdout:        os.Stdout,
	}
}

// ValidateOutputFormat checks that data can be rendered in cfg's format and
// that binary formats go to a file.
func (oh *OutputHandler) ValidateOutputFormat(data any, cfg CommandConfig) error {
	format := render.Normalize(cfg.OutputFormat)
	if !oh.registry.Supports(data, format) {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported output format '%s'", cfg.OutputFormat), nil).
			WithContext("supported", oh.registry.SupportedFormats())
	}
	if binaryFormats[format] && cfg.OutputFile == "" {
		return errors.NewValidationError(errors.ErrCodeMissingField,
			fmt.Sprintf("format %s needs --output", format), nil)
	}
	return nil
}

// HandleOutput formats data and writes it to the configured output
func (oh *OutputHandler) HandleOutput(data any, cfg CommandConfig) error {
	if err := oh.ValidateOutputFormat(data, cfg); err != nil {
		return err
	}
	output, err := oh.registry.Format(data, cfg.OutputFormat)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeRenderFailed,
			fmt.Sprintf("failed to format output as %s", cfg.OutputFormat), err)
	}

	if cfg.OutputFile == "" {
		_, err = oh.stdout.Write(append(output, '\n'))
		return err
	}
	if err := oh.fileProcessor.WriteFile(cfg.OutputFile, output); err != nil {
		return err
	}
	oh.logger.Info("Output written successfully", "file", cfg.OutputFile, "format", render.Normalize(cfg.OutputFormat))
	return nil
}

// SupportedFormats returns all supported output formats
func (oh *OutputHandler) SupportedFormats() []string {
	return oh.registry.SupportedFormats()
}
