// Package errors provides typed errors for the backup engine.
// This enables callers to use errors.Is() and errors.As() for specific error handling.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is(err, errors.ErrCancelled) to check for specific errors.
var (
	// Control-flow errors
	ErrCancelled  = errors.New("operation cancelled")
	ErrUsageOrder = errors.New("operation used out of order")

	// Input validation errors
	ErrArgInvalid       = errors.New("invalid argument")
	ErrUnknownAlgorithm = errors.New("unknown digest or cipher algorithm")
	ErrInvalidFormat    = errors.New("invalid on-disk format")

	// File errors
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")

	// I/O errors
	ErrIOIn  = errors.New("input I/O error")
	ErrIOOut = errors.New("output I/O error")

	// Resource errors
	ErrOutOfMemory = errors.New("out of memory")

	// Cipher errors
	ErrCipherInit   = errors.New("cipher initialization failed")
	ErrCipherUpdate = errors.New("cipher update failed")
	ErrCipherFinal  = errors.New("cipher finalization failed")
)

// CryptoError represents an error during a cryptographic operation.
// It wraps the underlying error with operation context.
type CryptoError struct {
	Op  string // Operation name: "derive_keys", "encrypt", "decrypt", "rand"
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// FileError represents an error during file operations.
type FileError struct {
	Op   string // Operation: "open", "read", "write", "stat", "create", "rename", "unlink"
	Path string // File path
	Err  error  // Underlying error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StageError represents a non-fatal failure in one driver pipeline stage
// (spec.md §7, "Per-stage errors"). The driver does not construct
// StageErrors; its non-fatal stages log the underlying error directly.
type StageError struct {
	Stage string // "load_previous_manifest", "sort", "removed_diff", "core_limit"
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed", e.Stage)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Is checks if target matches any of our sentinel errors.
// This is a convenience function for common error checks.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCancelled checks if the error indicates a cancelled operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
