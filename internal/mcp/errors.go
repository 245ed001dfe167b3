// Package mcp implements the Model Context Protocol (MCP) server for docrag.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

// Custom MCP error codes for docrag.
const (
	// ErrCodeNamespaceNotPrepared indicates no indices exist for the namespace.
	ErrCodeNamespaceNotPrepared = -32001

	// ErrCodeUpstreamFailed indicates the LLM or embedding service failed.
	ErrCodeUpstreamFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBuildBusy indicates another namespace build is running.
	ErrCodeBuildBusy = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
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

	var re *ragerr.RagError
	if errors.As(err, &re) {
		return mapRagError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapRagError converts a RagError to an MCPError. The suggestion, when
// present, rides along in the message so MCP clients can surface it.
func mapRagError(re *ragerr.RagError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}

	switch re.Category {
	case ragerr.CategoryValidation:
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: message,
		}
	case ragerr.CategoryUpstream:
		return &MCPError{
			Code:    ErrCodeUpstreamFailed,
			Message: message,
		}
	case ragerr.CategoryIO:
		switch re.Code {
		case ragerr.ErrCodeIndexLoad, ragerr.ErrCodeIndexCorrupt, ragerr.ErrCodeFileNotFound:
			return &MCPError{
				Code:    ErrCodeNamespaceNotPrepared,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	default:
		switch re.Code {
		case ragerr.ErrCodeDeadline:
			return &MCPError{
				Code:    ErrCodeTimeout,
				Message: message,
			}
		case ragerr.ErrCodeNamespaceUnknown:
			return &MCPError{
				Code:    ErrCodeNamespaceNotPrepared,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	}
}
