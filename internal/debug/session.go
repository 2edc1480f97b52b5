package debug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/memory"
	"github.com/valscope/valscope/internal/render"
)

// Backend is the process-control surface a session consumes. DelveClient is
// the live implementation; tests substitute a fake.
type Backend interface {
	CreateFunctionBreakpoint(fn, condition string) (int, error)
	Continue() error
	Next() error
	ResolveAddress(expr string) (uint64, error)
	Memory() memory.Source
	Close() error
}

// InspectRequest describes one inspection run: stop in a function when a
// condition holds, step a fixed number of source lines, then render the value
// an expression denotes.
type InspectRequest struct {
	// Function is the runtime name of the function to break in.
	Function string

	// Condition optionally guards the breakpoint.
	Condition string

	// Steps is the number of source lines to step once stopped.
	Steps int

	// Expr is the expression (or 0x address literal) to render.
	Expr string

	// Depth overrides the default depth budget when positive.
	Depth int

	// Tag forces a layout instead of dispatching on the header tag. Zero
	// means dispatch normally.
	Tag layout.TypeTag
}

// Session owns one debugging run against a backend.
type Session struct {
	// ID uniquely identifies the session in logs.
	ID string

	backend  Backend
	renderer *render.Renderer
	logger   *zap.Logger
}

// NewSession creates a session over a backend, rendering through the given
// registry. The registry must be fully populated before the first render.
func NewSession(backend Backend, registry *layout.Registry, opts render.Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Session{
		ID:       id,
		backend:  backend,
		renderer: render.New(registry, backend.Memory(), opts),
		logger:   logger.With(zap.String("session", id)),
	}
}

// Renderer exposes the session's renderer for surfaces that drive stepping
// themselves.
func (s *Session) Renderer() *render.Renderer {
	return s.renderer
}

// Inspect runs one full inspection: breakpoint, continue, step, resolve,
// render.
func (s *Session) Inspect(req InspectRequest) (string, error) {
	if req.Expr == "" {
		return "", fmt.Errorf("no expression to render")
	}

	if req.Function != "" {
		id, err := s.backend.CreateFunctionBreakpoint(req.Function, req.Condition)
		if err != nil {
			return "", fmt.Errorf("failed to set breakpoint on %s: %w", req.Function, err)
		}
		s.logger.Info("breakpoint set", zap.Int("id", id), zap.String("function", req.Function))

		if err := s.backend.Continue(); err != nil {
			return "", err
		}
	}

	for i := 0; i < req.Steps; i++ {
		if err := s.backend.Next(); err != nil {
			return "", fmt.Errorf("step %d of %d failed: %w", i+1, req.Steps, err)
		}
	}

	addr, err := s.resolve(req.Expr)
	if err != nil {
		return "", err
	}

	s.logger.Info("rendering value", zap.String("expr", req.Expr), zap.Uint64("addr", addr))

	if req.Tag != 0 {
		return s.renderer.RenderAs(addr, req.Tag, req.Depth)
	}
	return s.renderer.Render(addr, req.Depth)
}

// resolve turns an expression into a target address. Numeric literals bypass
// the backend so rendering works without a stopped frame.
func (s *Session) resolve(expr string) (uint64, error) {
	if addr, ok := ParseAddress(expr); ok {
		return addr, nil
	}
	return s.backend.ResolveAddress(expr)
}

// ParseAddress parses an address literal like 0x140008000 or a decimal
// address. The ok result is false for anything that needs evaluation.
func ParseAddress(expr string) (uint64, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, false
	}

	addr, err := strconv.ParseUint(expr, 0, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}
