// Package mcp exposes vault retrieval to AI clients over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotFound indicates the vault has not been indexed.
	ErrCodeIndexNotFound = -32001

	// ErrCodeUnavailable indicates a provider or backend is down.
	ErrCodeUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeNoteNotFound indicates a note no longer exists.
	ErrCodeNoteNotFound = -32004

	// ErrCodeNoteTooLarge indicates a note exceeds MaxResourceSize.
	ErrCodeNoteTooLarge = -32005

	// ErrCodeBusy indicates an indexing job is already running.
	ErrCodeBusy = -32006

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var ve *vrerrors.VaultError
	if errors.As(err, &ve) {
		return mapVaultError(ve)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapVaultError(ve *vrerrors.VaultError) *MCPError {
	message := ve.Message
	if ve.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ve.Message, ve.Suggestion)
	}

	switch ve.Code {
	case vrerrors.ErrCodeIndexLocked:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	case vrerrors.ErrCodeCorruptIndex, vrerrors.ErrCodeStoreOpen:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case vrerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch ve.Category {
	case vrerrors.CategoryAvailability:
		return &MCPError{Code: ErrCodeUnavailable, Message: message}
	case vrerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
