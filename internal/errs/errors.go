package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soundscape-lab/soundscape/pkg/log"
)

type ErrorType int

const (
	ErrNotFound ErrorType = iota
	ErrInference
	ErrCorruption
	ErrModelLoad
	ErrConfig
	ErrFileWrite
	ErrValidation
	ErrUnknown
)

// Error is the typed error shared across the pipeline packages.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrInference:
		return "Inference"
	case ErrCorruption:
		return "Corruption"
	case ErrModelLoad:
		return "ModelLoad"
	case ErrConfig:
		return "Config"
	case ErrFileWrite:
		return "FileWrite"
	case ErrValidation:
		return "Validation"
	default:
		return "Unknown"
	}
}

// Is reports whether err carries an *Error of the given type anywhere in its chain.
func Is(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// Recoverable errors are handled per file and never abort a run.
func Recoverable(err error) bool {
	return Is(err, ErrInference) || Is(err, ErrValidation)
}

type Handler interface {
	Handle(err error) bool
	GetAdvice(err *Error) string
}

type DefaultHandler struct{}

func NewDefaultHandler() Handler {
	return &DefaultHandler{}
}

func (h *DefaultHandler) Handle(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		log.Error("Unknown error: %v", err)
		return false
	}

	log.Error("Error detail: %v\n advice: %s", err, h.GetAdvice(e))
	return true
}

func (h *DefaultHandler) GetAdvice(err *Error) string {
	switch err.Type {
	case ErrNotFound:
		return "Check that the input directory exists and is readable"
	case ErrInference:
		return "The recording could not be decoded or classified; it is skipped for this model and retried on the next run"
	case ErrCorruption:
		return "The checkpoint file is malformed; move partial_predictions.json aside to restart from scratch"
	case ErrModelLoad:
		return "Check <models-dir>/<model>/network_opts.yaml and the weights file next to it"
	case ErrConfig:
		return "Check the command-line flags and SOUNDSCAPE_* environment variables"
	case ErrFileWrite:
		return "Ensure the output directory exists and is writable"
	case ErrValidation:
		return "The path is not a regular audio file with a supported extension"
	default:
		return "Review the detailed error and the relevant configuration and files"
	}
}
