package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"jobpilot/internal/errors"
)

// FileProcessor reads command inputs and writes command outputs.
type FileProcessor struct {
	logger *errors.Logger
}

// NewFileProcessor creates a new file processor instance
func NewFileProcessor(logger *errors.Logger) *FileProcessor {
	if logger == nil {
		logger = errors.NewNop()
	}
	return &FileProcessor{logger: logger}
}

// ValidateInputFile checks that filename names a readable regular file.
func ValidateInputFile(filename string) error {
	if filename == "" {
		return errors.NewValidationError(errors.ErrCodeMissingField, "filename cannot be empty", nil)
	}
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, fmt.Sprintf("file not found: %s", filename), err)
		}
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, fmt.Sprintf("cannot access file: %s", filename), err)
	}
	if info.IsDir() {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, fmt.Sprintf("path is a directory, not a file: %s", filename), nil)
	}
	return nil
}

// ReadFile reads content from a file with proper error handling
func (fp *FileProcessor) ReadFile(filename string) ([]byte, error) {
	if err := ValidateInputFile(filename); err != nil {
		return nil, err
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest, fmt.Sprintf("cannot read file: %s", filename), err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			fp.logger.Warn("Failed to close file", "filename", filename, "error", err.Error())
		}
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest, fmt.Sprintf("failed to read file content: %s", filename), err)
	}
	return content, nil
}

// ReadText reads a plain-text input such as a job description.
func (fp *FileProcessor) ReadText(filename string) (string, error) {
	data, err := fp.ReadFile(filename)
	if err != nil {
		return "", err
	}
	switch filepath.Ext(filename) {
	case ".txt", ".md", ".markdown", ".text", "":
	default:
		fp.logger.Warn("File may not be a text file", "filename", filename)
	}
	return string(data), nil
}

// ReadJSON decodes a JSON input file into v.
func (fp *FileProcessor) ReadJSON(filename string, v any) error {
	data, err := fp.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, fmt.Sprintf("invalid JSON in %s", filename), err)
	}
	return nil
}

// WriteFile writes content to a file, creating its directory.
func (fp *FileProcessor) WriteFile(filename string, content []byte) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
				fmt.Sprintf("cannot create directory: %s", dir), err)
		}
	}
	if err := os.WriteFile(filename, content, 0600); err != nil {
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot write file: %s", filename), err)
	}
	return nil
}
