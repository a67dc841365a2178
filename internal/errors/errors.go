package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigurationError indicates an invalid taxonomy or config file
	ConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// BackendUnavailable indicates the search backend is missing or failed
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// RevisionResolutionFailure indicates a temporal precondition failed
	RevisionResolutionFailure ErrorCode = "REVISION_RESOLUTION_FAILURE"
	// RestoreFailure indicates a working tree could not be restored
	RestoreFailure ErrorCode = "RESTORE_FAILURE"
	// LinkUnavailable indicates no external link could be generated
	LinkUnavailable ErrorCode = "LINK_UNAVAILABLE"
	// Timeout indicates an external command timed out
	Timeout ErrorCode = "TIMEOUT"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
	// InstallTool suggests installing a tool
	InstallTool FixActionType = "install-tool"
)

// InstallMethod represents methods for installing tools
type InstallMethod string

const (
	// Brew installation via Homebrew
	Brew InstallMethod = "brew"
	// Cargo installation via cargo
	Cargo InstallMethod = "cargo"
	// Apt installation via apt
	Apt InstallMethod = "apt"
	// Manual installation
	Manual InstallMethod = "manual"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType   `json:"type"`
	Command     string          `json:"command,omitempty"`
	Safe        bool            `json:"safe,omitempty"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Methods     []InstallMethod `json:"methods,omitempty"`
}

// CodetaxError represents an error with code, message, and suggestions
type CodetaxError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewError creates a new CodetaxError. When fixes is nil the default
// actions registered for code are used.
func NewError(code ErrorCode, message string, cause error, fixes []FixAction) *CodetaxError {
	if fixes == nil {
		fixes = GetSuggestedFixes(code)
	}
	return &CodetaxError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: fixes,
	}
}

// Error implements the error interface
func (e *CodetaxError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CodetaxError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *CodetaxError) WithDetails(details interface{}) *CodetaxError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first CodetaxError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var ce *CodetaxError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	BackendUnavailable: {
		{
			Type:        InstallTool,
			Tool:        "rg",
			Description: "Install ripgrep or set search.backend to \"native\"",
			URL:         "https://github.com/BurntSushi/ripgrep#installation",
			Methods:     []InstallMethod{Brew, Apt, Cargo},
		},
	},
	RevisionResolutionFailure: {
		{
			Type:        RunCommand,
			Command:     "git status",
			Safe:        true,
			Description: "Check every search path is a clean git checkout on a branch",
		},
		{
			Type:        RunCommand,
			Command:     "git stash",
			Safe:        false,
			Description: "Stash local changes before running a history",
		},
	},
	RestoreFailure: {
		{
			Type:        RunCommand,
			Command:     "git checkout -",
			Safe:        true,
			Description: "Return the repository to its previous branch",
		},
	},
	ConfigurationError: {
		{
			Type:        RunCommand,
			Command:     "codetax explain <rule>",
			Safe:        true,
			Description: "Show how a rule's pattern is resolved",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
