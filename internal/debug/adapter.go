package debug

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/render"
)

// Adapter implements the Debug Adapter Protocol surface of the inspector.
// Evaluate requests render tagged values; function breakpoints and stepping
// are forwarded to the backend.
type Adapter struct {
	conn     io.ReadWriteCloser
	registry *layout.Registry
	logger   *zap.Logger

	// launch creates a backend for a DAP launch request. Overridable so the
	// adapter can run against a fake in tests.
	launch func(delvePath, program string) (Backend, error)

	backend  Backend
	renderer *render.Renderer

	seq      int
	seqMutex sync.Mutex
}

// LaunchArguments is the launch request payload.
type LaunchArguments struct {
	Program string `json:"program"`
	Delve   string `json:"delve,omitempty"`
}

// NewAdapter creates a DAP adapter that launches targets under Delve.
func NewAdapter(conn io.ReadWriteCloser, registry *layout.Registry, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Adapter{
		conn:     conn,
		registry: registry,
		logger:   logger,
	}
	a.launch = func(delvePath, program string) (Backend, error) {
		dc := NewDelveClient(logger)
		if err := dc.Launch(delvePath, program); err != nil {
			return nil, err
		}
		return dc, nil
	}
	return a
}

// SetBackend attaches a pre-connected backend, bypassing launch.
func (a *Adapter) SetBackend(backend Backend) {
	a.backend = backend
	a.renderer = render.New(a.registry, backend.Memory(), render.Options{})
}

// Start processes DAP messages until the connection closes.
func (a *Adapter) Start() error {
	reader := bufio.NewReader(a.conn)

	for {
		msg, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		if err := a.handleMessage(msg); err != nil {
			if isFatalError(err) {
				a.logger.Error("fatal error handling message", zap.Error(err))
				return fmt.Errorf("fatal protocol error: %w", err)
			}
			a.logger.Warn("recoverable error handling message", zap.Error(err))
		}
	}
}

// isFatalError determines whether an error should end the adapter session.
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "protocol error") ||
		strings.Contains(errStr, "connection closed") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") {
		return true
	}

	return false
}

func (a *Adapter) nextSeq() int {
	a.seqMutex.Lock()
	defer a.seqMutex.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) handleMessage(msg dap.Message) error {
	switch m := msg.(type) {
	case *dap.InitializeRequest:
		return a.handleInitialize(m)
	case *dap.LaunchRequest:
		return a.handleLaunch(m)
	case *dap.SetFunctionBreakpointsRequest:
		return a.handleSetFunctionBreakpoints(m)
	case *dap.ConfigurationDoneRequest:
		return a.handleConfigurationDone(m)
	case *dap.ContinueRequest:
		return a.handleContinue(m)
	case *dap.NextRequest:
		return a.handleNext(m)
	case *dap.ThreadsRequest:
		return a.handleThreads(m)
	case *dap.EvaluateRequest:
		return a.handleEvaluate(m)
	case *dap.DisconnectRequest:
		return a.handleDisconnect(m)
	default:
		a.logger.Debug("unsupported message type", zap.String("type", fmt.Sprintf("%T", msg)))
		return nil
	}
}

func (a *Adapter) newResponse(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  a.nextSeq(),
			Type: "response",
		},
		RequestSeq: requestSeq,
		Success:    true,
		Command:    command,
	}
}

func (a *Adapter) sendErrorResponse(request dap.Request, message string) error {
	resp := &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  a.nextSeq(),
				Type: "response",
			},
			RequestSeq: request.Seq,
			Success:    false,
			Command:    request.Command,
			Message:    message,
		},
	}
	return dap.WriteProtocolMessage(a.conn, resp)
}

func (a *Adapter) handleInitialize(request *dap.InitializeRequest) error {
	response := &dap.InitializeResponse{
		Response: a.newResponse(request.Seq, request.Command),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest:  true,
			SupportsEvaluateForHovers:         true,
			SupportsConditionalBreakpoints:    true,
			SupportsFunctionBreakpoints:       true,
			SupportsHitConditionalBreakpoints: false,
			SupportsSetVariable:               false,
			SupportsRestartFrame:              false,
		},
	}

	if err := dap.WriteProtocolMessage(a.conn, response); err != nil {
		return err
	}

	event := &dap.InitializedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  a.nextSeq(),
				Type: "event",
			},
			Event: "initialized",
		},
	}
	return dap.WriteProtocolMessage(a.conn, event)
}

func (a *Adapter) handleLaunch(request *dap.LaunchRequest) error {
	var args LaunchArguments
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		return a.sendErrorResponse(request.Request, fmt.Sprintf("Invalid launch arguments: %v", err))
	}

	backend, err := a.launch(args.Delve, args.Program)
	if err != nil {
		return a.sendErrorResponse(request.Request, fmt.Sprintf("Failed to launch: %v", err))
	}
	a.SetBackend(backend)

	response := &dap.LaunchResponse{
		Response: a.newResponse(request.Seq, request.Command),
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleSetFunctionBreakpoints(request *dap.SetFunctionBreakpointsRequest) error {
	if a.backend == nil {
		return a.sendErrorResponse(request.Request, "No target launched")
	}

	breakpoints := make([]dap.Breakpoint, 0, len(request.Arguments.Breakpoints))
	for _, fb := range request.Arguments.Breakpoints {
		id, err := a.backend.CreateFunctionBreakpoint(fb.Name, fb.Condition)
		if err != nil {
			a.logger.Warn("failed to set function breakpoint",
				zap.String("function", fb.Name), zap.Error(err))
			breakpoints = append(breakpoints, dap.Breakpoint{
				Verified: false,
				Message:  fmt.Sprintf("Failed to set breakpoint: %v", err),
			})
			continue
		}

		breakpoints = append(breakpoints, dap.Breakpoint{
			Id:       id,
			Verified: true,
		})
	}

	response := &dap.SetFunctionBreakpointsResponse{
		Response: a.newResponse(request.Seq, request.Command),
		Body: dap.SetFunctionBreakpointsResponseBody{
			Breakpoints: breakpoints,
		},
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleConfigurationDone(request *dap.ConfigurationDoneRequest) error {
	response := &dap.ConfigurationDoneResponse{
		Response: a.newResponse(request.Seq, request.Command),
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleContinue(request *dap.ContinueRequest) error {
	if a.backend == nil {
		return a.sendErrorResponse(request.Request, "No target launched")
	}

	if err := a.backend.Continue(); err != nil {
		return a.sendErrorResponse(request.Request, fmt.Sprintf("Continue failed: %v", err))
	}

	response := &dap.ContinueResponse{
		Response: a.newResponse(request.Seq, request.Command),
		Body: dap.ContinueResponseBody{
			AllThreadsContinued: true,
		},
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleNext(request *dap.NextRequest) error {
	if a.backend == nil {
		return a.sendErrorResponse(request.Request, "No target launched")
	}

	if err := a.backend.Next(); err != nil {
		return a.sendErrorResponse(request.Request, fmt.Sprintf("Next failed: %v", err))
	}

	response := &dap.NextResponse{
		Response: a.newResponse(request.Seq, request.Command),
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleThreads(request *dap.ThreadsRequest) error {
	response := &dap.ThreadsResponse{
		Response: a.newResponse(request.Seq, request.Command),
		Body: dap.ThreadsResponseBody{
			Threads: []dap.Thread{{Id: 1, Name: "main"}},
		},
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

// handleEvaluate renders the tagged value an expression denotes. Address
// literals render directly; anything else is resolved in the stopped frame.
func (a *Adapter) handleEvaluate(request *dap.EvaluateRequest) error {
	if a.backend == nil {
		return a.sendErrorResponse(request.Request, "No target launched")
	}

	expr := request.Arguments.Expression

	addr, ok := ParseAddress(expr)
	if !ok {
		resolved, err := a.backend.ResolveAddress(expr)
		if err != nil {
			return a.sendErrorResponse(request.Request, fmt.Sprintf("Failed to resolve %q: %v", expr, err))
		}
		addr = resolved
	}

	out, err := a.renderer.Render(addr, render.DefaultDepthBudget)
	if err != nil {
		return a.sendErrorResponse(request.Request, fmt.Sprintf("Failed to render 0x%x: %v", addr, err))
	}

	response := &dap.EvaluateResponse{
		Response: a.newResponse(request.Seq, request.Command),
		Body: dap.EvaluateResponseBody{
			Result: out,
		},
	}
	return dap.WriteProtocolMessage(a.conn, response)
}

func (a *Adapter) handleDisconnect(request *dap.DisconnectRequest) error {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("failed to close backend", zap.Error(err))
		}
		a.backend = nil
	}

	response := &dap.DisconnectResponse{
		Response: a.newResponse(request.Seq, request.Command),
	}
	return dap.WriteProtocolMessage(a.conn, response)
}
