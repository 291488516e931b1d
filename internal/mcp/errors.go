// Package mcp exposes indexing, search, reconciliation and health over the
// Model Context Protocol so agents can drive coderecall directly.
package mcp

import (
	"context"
	"errors"
	"fmt"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotFound indicates the collection has not been created yet.
	ErrCodeIndexNotFound = -32001

	// ErrCodeBusy indicates another run holds the repository lock.
	ErrCodeBusy = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeUnavailable indicates an external dependency is unreachable.
	ErrCodeUnavailable = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
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
	if re, ok := crerrors.As(err); ok {
		return mapRecallError(re)
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

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapRecallError(re *crerrors.RecallError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", re.Message, re.Suggestion)
	}

	switch re.Code {
	case crerrors.ErrCodeBusy:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	case crerrors.ErrCodeRunTimeout, crerrors.ErrCodeRunCanceled:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case crerrors.ErrCodeCollectionNotFound:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	}

	switch re.Category {
	case crerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case crerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
