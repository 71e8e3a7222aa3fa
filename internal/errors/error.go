package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// contextSize is the number of source lines shown around a location.
const contextSize = 5

// Category represents the type of error.
type Category string

const (
	CategoryNotFound   Category = "notfound"
	CategoryReference  Category = "reference"
	CategoryTransport  Category = "transport"
	CategorySubprocess Category = "subprocess"
	CategoryProtocol   Category = "protocol"
	CategoryConfig     Category = "config"
	CategoryCLI        Category = "cli"
)

// Sentinels for errors.Is comparisons. They match any AssetError that carries
// the same code.
var (
	ErrNotFound      = New("A100")
	ErrEntryNotFound = New("A101")
	ErrOffline       = New("A120")
	ErrRemote        = New("A121")
	ErrMalformed     = New("A122")
	ErrPathEscape    = New("A160")
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// AssetError is a structured error with an optional source location.
type AssetError struct {
	// Code is a unique error identifier (e.g., "A100").
	Code string

	// Category is the error type (notfound, transport, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation, usually naming the file or operation.
	Detail string

	// Location is the source location where the error occurred.
	Location *Location

	// Context contains surrounding source lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *AssetError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *AssetError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an AssetError with the same code.
func (e *AssetError) Is(target error) bool {
	t, ok := target.(*AssetError)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithLocation adds source location to the error.
func (e *AssetError) WithLocation(file string, line, column int) *AssetError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, contextSize)
	return e
}

// WithSource adds a source location and takes the context lines from src
// instead of reading file.
func (e *AssetError) WithSource(file string, line, column int, src string) *AssetError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = contextLines(strings.NewReader(src), line, contextSize)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *AssetError) WithSuggestion(s string) *AssetError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *AssetError) WithDetail(d string) *AssetError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detail to the error.
func (e *AssetError) WithDetailf(format string, args ...any) *AssetError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *AssetError) Wrap(err error) *AssetError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()
	return contextLines(file, targetLine, contextSize)
}

func contextLines(r io.Reader, targetLine, contextSize int) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates an AssetError from a registered error code.
func New(code string) *AssetError {
	template, ok := registry[code]
	if !ok {
		return &AssetError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &AssetError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new AssetError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *AssetError {
	return &AssetError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in an AssetError. Errors that already are
// AssetErrors are returned unchanged.
func FromError(err error, code string) *AssetError {
	if err == nil {
		return nil
	}
	var ae *AssetError
	if stderrors.As(err, &ae) {
		return ae
	}
	return New(code).Wrap(err)
}

// IsCode reports whether err is, or wraps, an AssetError with the given code.
func IsCode(err error, code string) bool {
	var ae *AssetError
	for err != nil {
		if stderrors.As(err, &ae) {
			if ae.Code == code {
				return true
			}
			err = ae.Wrapped
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the code of the outermost AssetError in err's chain.
func CodeOf(err error) string {
	var ae *AssetError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
