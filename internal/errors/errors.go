package errors

import "fmt"

// ErrorCode classifies a dockflow error.
type ErrorCode string

const (
	ErrFatalInput        ErrorCode = "FATAL_INPUT"        // missing or empty input set
	ErrCheckpointMissing ErrorCode = "CHECKPOINT_MISSING" // progress cache not found
	ErrExtraction        ErrorCode = "EXTRACTION_FAILED"  // pose splitting failed or produced nothing
	ErrScoreParse        ErrorCode = "SCORE_PARSE"        // log present but score token missing/non-numeric
	ErrToolMissing       ErrorCode = "TOOL_MISSING"       // external executable not found
	ErrToolFailed        ErrorCode = "TOOL_FAILED"        // external tool ran but broke its contract
	ErrInternal          ErrorCode = "INTERNAL"
)

// Error is a structured error with a code and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal reports whether the error must abort the whole run.
// Score-parse failures are recorded and skipped; everything else
// in this package aborts.
func (e *Error) Fatal() bool {
	return e.Code != ErrScoreParse
}

// NewFatalInput creates an error for a missing or empty input set.
func NewFatalInput(msg string) *Error {
	return &Error{Code: ErrFatalInput, Message: msg}
}

// NewCheckpointMissing creates an error for an absent progress cache.
func NewCheckpointMissing(path string) *Error {
	return &Error{
		Code:    ErrCheckpointMissing,
		Message: fmt.Sprintf("progress cache not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewExtraction creates an error for a failed or empty pose extraction.
func NewExtraction(ligand string, err error) *Error {
	msg := fmt.Sprintf("failed to extract poses for %s", ligand)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{
		Code:    ErrExtraction,
		Message: msg,
		Details: map[string]any{"ligand": ligand},
	}
}

// NewScoreParse creates the non-fatal error recorded when no valid
// score token can be extracted from a completed task's log.
func NewScoreParse(name, target, logPath string) *Error {
	return &Error{
		Code:    ErrScoreParse,
		Message: fmt.Sprintf("no valid score for %s against %s in %s", name, target, logPath),
		Details: map[string]any{"name": name, "target": target, "log": logPath},
	}
}

// NewToolMissing creates an error for an external executable that is
// not installed or not on PATH. Distinct from a normal tool failure.
func NewToolMissing(tool string) *Error {
	return &Error{
		Code:    ErrToolMissing,
		Message: fmt.Sprintf("external tool %q not found; is it installed and on PATH?", tool),
		Details: map[string]any{"tool": tool},
	}
}

// NewToolFailed creates an error for an external tool that ran but
// violated its contract (e.g. exited without producing its log).
func NewToolFailed(tool, msg string) *Error {
	return &Error{
		Code:    ErrToolFailed,
		Message: fmt.Sprintf("%s: %s", tool, msg),
		Details: map[string]any{"tool": tool},
	}
}

// NewInternal wraps an unexpected internal error.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: ErrInternal, Message: msg}
}

// Is checks if an error is a dockflow Error with the given code.
func Is(err error, code ErrorCode) bool {
	if dErr, ok := err.(*Error); ok {
		return dErr.Code == code
	}
	return false
}
