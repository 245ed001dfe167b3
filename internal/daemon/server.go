package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/DocQA-Labs/docrag/internal/async"
	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	HandleAsk(ctx context.Context, params AskParams) (*rag.AnswerRecord, error)
	HandlePrepare(ctx context.Context, params PrepareParams) (*async.BuildSnapshot, error)
	HandleStatus(ctx context.Context, params StatusParams) (StatusResult, error)
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path. The timeout
// bounds one request on the wire, including answer generation.
func NewServer(socketPath string, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until the context is
// canceled. A stale socket from a previous run is removed first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Let in-flight questions finish before returning.
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single client connection: one request,
// one response.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("failed to set connection deadline", "error", err)
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return s.handleStatus(ctx, req)

	case MethodAsk:
		return s.handleAsk(ctx, req)

	case MethodPrepare:
		return s.handlePrepare(ctx, req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleAsk processes an ask request.
func (s *Server) handleAsk(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	params, err := decodeParams[AskParams](req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	record, err := s.handler.HandleAsk(ctx, params)
	if err != nil {
		if errors.Is(err, ragerr.ErrValidation) {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return NewErrorResponse(req.ID, ErrCodeAskFailed, err.Error())
	}

	return NewSuccessResponse(req.ID, record)
}

// handlePrepare processes a prepare request.
func (s *Server) handlePrepare(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	params, err := decodeParams[PrepareParams](req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	snap, err := s.handler.HandlePrepare(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, async.ErrBuildInProgress):
			return NewErrorResponse(req.ID, ErrCodeBuildBusy, err.Error())
		case errors.Is(err, ragerr.ErrValidation):
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		default:
			return NewErrorResponse(req.ID, ErrCodePrepareFailed, err.Error())
		}
	}

	return NewSuccessResponse(req.ID, snap)
}

// handleStatus processes a status request. The server fills in the
// liveness fields; the handler contributes the domain state.
func (s *Server) handleStatus(ctx context.Context, req Request) Response {
	params, err := decodeParams[StatusParams](req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}

	status := StatusResult{}
	if s.handler != nil {
		status, err = s.handler.HandleStatus(ctx, params)
		if err != nil {
			if errors.Is(err, ragerr.ErrValidation) {
				return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
			}
			return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
		}
	}

	status.Running = true
	status.PID = os.Getpid()
	status.Uptime = time.Since(s.started).Round(time.Second).String()

	return NewSuccessResponse(req.ID, status)
}

// decodeParams re-marshals loosely typed params into their real shape.
func decodeParams[T any](raw any) (T, error) {
	var params T
	data, err := json.Marshal(raw)
	if err != nil {
		return params, err
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, err
	}
	return params, nil
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
