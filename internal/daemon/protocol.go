package daemon

import (
	"fmt"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// JSON-RPC 2.0 method names.
const (
	MethodAsk     = "ask"
	MethodPrepare = "prepare"
	MethodStatus  = "status"
	MethodPing    = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeAskFailed     = -32001
	ErrCodePrepareFailed = -32002
	ErrCodeBuildBusy     = -32003
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// AskParams are the parameters for the ask method. The answer record
// produced by the pipeline is returned as the result, unchanged.
type AskParams struct {
	// Tenant and Scenario select the namespace (required).
	Tenant   string `json:"tenant"`
	Scenario string `json:"scenario"`

	// Question is the user question (required).
	Question string `json:"question"`

	// QuestionType optionally pins the question type, bypassing the
	// analyzer's own classification: fact, guidance or analysis.
	QuestionType string `json:"question_type,omitempty"`
}

// Validate checks that required fields are present.
func (p *AskParams) Validate() error {
	if p.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if p.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	if p.Question == "" {
		return fmt.Errorf("question is required")
	}
	return nil
}

// PrepareParams are the parameters for the prepare method. The build
// runs in the background; poll status until it leaves "building".
type PrepareParams struct {
	// Tenant and Scenario select the namespace (required).
	Tenant   string `json:"tenant"`
	Scenario string `json:"scenario"`

	// Force rebuilds the indices even when they already exist.
	Force bool `json:"force,omitempty"`
}

// Validate checks that required fields are present.
func (p *PrepareParams) Validate() error {
	if p.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if p.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	return nil
}

// StatusParams are the parameters for the status method. Both fields
// are optional; when set, the response includes that namespace's report.
type StatusParams struct {
	Tenant   string `json:"tenant,omitempty"`
	Scenario string `json:"scenario,omitempty"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	Uptime     string `json:"uptime"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`

	// LoadedNamespaces lists the namespaces resident in memory.
	LoadedNamespaces []string `json:"loaded_namespaces"`

	// Building is the progress of the running background build, if any.
	Building *async.BuildSnapshot `json:"building,omitempty"`

	// Namespace is the per-namespace report when StatusParams named one.
	Namespace *rag.StatusReport `json:"namespace,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
