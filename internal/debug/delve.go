package debug

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/memory"
)

// Timeouts for RPC calls against the backend. Continue may legitimately run
// until a conditional breakpoint fires, so it gets a longer leash than a
// single-line step.
const (
	continueTimeout = 2 * time.Minute
	stepTimeout     = 30 * time.Second
)

// delveLoadConfig bounds how much delve loads when resolving an expression.
// Only the address matters here; the rendering reads memory itself.
var delveLoadConfig = api.LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 1,
	MaxStringLen:       64,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}

// DelveClient drives a headless Delve server over its JSON-RPC API and
// exposes the stopped target's memory as a memory.Source.
type DelveClient struct {
	client      *rpc2.RPCClient
	serverCmd   *exec.Cmd
	logger      *zap.Logger
	mutex       sync.Mutex
	breakpoints map[int]*api.Breakpoint
}

// NewDelveClient creates a disconnected client. Call Launch or Connect before
// issuing commands.
func NewDelveClient(logger *zap.Logger) *DelveClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelveClient{
		logger:      logger,
		breakpoints: make(map[int]*api.Breakpoint),
	}
}

// Launch starts targetPath under a headless Delve server on a random port and
// connects to it.
func (dc *DelveClient) Launch(delvePath, targetPath string) error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if delvePath == "" {
		delvePath = "dlv"
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("target not found: %s", targetPath)
		}
		return fmt.Errorf("failed to stat target: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("target path is a directory: %s", targetPath)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("target is not executable: %s", targetPath)
	}

	cmd := exec.Command(delvePath, "exec", targetPath, "--headless", "--listen=:0", "--api-version=2", "--accept-multiclient")

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Tee stderr through for visibility while parsing it for the port.
	teeReader := io.TeeReader(stderrPipe, os.Stderr)
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start delve: %w", err)
	}
	dc.serverCmd = cmd

	var launchErr error
	defer func() {
		if launchErr != nil {
			dc.killServerLocked()
		}
	}()

	port, parseErr := parsePortFromPipe(teeReader, 5*time.Second)
	if parseErr != nil {
		launchErr = fmt.Errorf("failed to get delve port: %w", parseErr)
		return launchErr
	}

	dc.logger.Info("connected to delve", zap.Int("port", port), zap.String("target", targetPath))
	dc.client = rpc2.NewClient(fmt.Sprintf("localhost:%d", port))
	return nil
}

// Connect attaches to an already-running headless Delve server.
func (dc *DelveClient) Connect(addr string) error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if addr == "" {
		return fmt.Errorf("backend address not specified")
	}

	dc.client = rpc2.NewClient(addr)
	dc.logger.Info("connected to delve", zap.String("addr", addr))
	return nil
}

// parsePortFromPipe extracts the listening port from Delve's startup output.
func parsePortFromPipe(pipe io.Reader, timeout time.Duration) (int, error) {
	// Delve prints: "API server listening at: 127.0.0.1:PORT"
	portRegex := regexp.MustCompile(`API server listening at: .*:(\d+)`)

	portChan := make(chan int, 1)
	errChan := make(chan error, 1)

	go func() {
		reader := bufio.NewReader(pipe)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					errChan <- fmt.Errorf("error reading delve output: %w", err)
				}
				return
			}

			matches := portRegex.FindStringSubmatch(line)
			if len(matches) >= 2 {
				port, err := strconv.Atoi(matches[1])
				if err != nil {
					errChan <- fmt.Errorf("invalid port number: %w", err)
					return
				}
				portChan <- port
				return
			}
		}
	}()

	select {
	case port := <-portChan:
		return port, nil
	case err := <-errChan:
		return 0, err
	case <-time.After(timeout):
		return 0, fmt.Errorf("timeout waiting for delve to report listening port")
	}
}

// CreateFunctionBreakpoint sets a breakpoint on a function's runtime name,
// optionally guarded by a condition evaluated in the stopped frame.
func (dc *DelveClient) CreateFunctionBreakpoint(fn, condition string) (int, error) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return 0, fmt.Errorf("not connected to delve")
	}
	if fn == "" {
		return 0, fmt.Errorf("function name not specified")
	}

	bp := &api.Breakpoint{
		FunctionName: fn,
	}
	if condition != "" {
		bp.Cond = condition
	}

	created, err := dc.client.CreateBreakpoint(bp)
	if err != nil {
		return 0, fmt.Errorf("failed to create breakpoint: %w", err)
	}

	dc.breakpoints[created.ID] = created
	dc.logger.Debug("breakpoint set",
		zap.Int("id", created.ID),
		zap.String("function", fn),
		zap.String("condition", condition))
	return created.ID, nil
}

// ClearBreakpoint removes a breakpoint by ID.
func (dc *DelveClient) ClearBreakpoint(id int) error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return fmt.Errorf("not connected to delve")
	}

	bp, ok := dc.breakpoints[id]
	if !ok {
		return fmt.Errorf("breakpoint %d not found", id)
	}

	if _, err := dc.client.ClearBreakpoint(bp.ID); err != nil {
		return fmt.Errorf("failed to clear breakpoint: %w", err)
	}

	delete(dc.breakpoints, id)
	return nil
}

// Continue resumes the target until the next breakpoint hit.
func (dc *DelveClient) Continue() error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return fmt.Errorf("not connected to delve")
	}

	ctx, cancel := context.WithTimeout(context.Background(), continueTimeout)
	defer cancel()

	stateChan := dc.client.Continue()
	select {
	case state := <-stateChan:
		if state.Err != nil {
			return fmt.Errorf("continue failed: %w", state.Err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("continue operation timed out")
	}
}

// Next steps the stopped target over one source line.
func (dc *DelveClient) Next() error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return fmt.Errorf("not connected to delve")
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	type result struct {
		state *api.DebuggerState
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		state, err := dc.client.Next()
		resultChan <- result{state, err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return fmt.Errorf("next failed: %w", res.err)
		}
		if res.state.Err != nil {
			return fmt.Errorf("next failed: %w", res.state.Err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("next operation timed out")
	}
}

// ResolveAddress evaluates an expression in the stopped frame and returns the
// address of the value it denotes. A pointer expression resolves to the
// pointee's address, matching a debugger's dereferencing print.
func (dc *DelveClient) ResolveAddress(expr string) (uint64, error) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return 0, fmt.Errorf("not connected to delve")
	}

	scope := api.EvalScope{
		GoroutineID: -1,
		Frame:       0,
	}

	v, err := dc.client.EvalVariable(scope, expr, delveLoadConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", expr, err)
	}

	if v.Kind == reflect.Ptr || v.Kind == reflect.UnsafePointer {
		if len(v.Children) > 0 && v.Children[0].Addr != 0 {
			return v.Children[0].Addr, nil
		}
		// Fall back to the pointer's own value.
		if ptr, perr := strconv.ParseUint(v.Value, 0, 64); perr == nil {
			return ptr, nil
		}
	}

	if v.Addr == 0 {
		return 0, fmt.Errorf("expression %q has no address", expr)
	}
	return v.Addr, nil
}

// ReadAt implements memory.Source over Delve's memory-examine call.
func (dc *DelveClient) ReadAt(addr uint64, n int) ([]byte, error) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client == nil {
		return nil, &memory.UnreadableError{Addr: addr, Len: n, Err: fmt.Errorf("not connected to delve")}
	}

	data, _, err := dc.client.ExamineMemory(addr, n)
	if err != nil {
		return nil, &memory.UnreadableError{Addr: addr, Len: n, Err: err}
	}
	if len(data) < n {
		return nil, &memory.UnreadableError{Addr: addr + uint64(len(data)), Len: n - len(data)}
	}

	return data, nil
}

// Memory returns the stopped target's address space as a read capability.
func (dc *DelveClient) Memory() memory.Source {
	return dc
}

// Detach detaches from the target and reaps the Delve server if this client
// launched it.
func (dc *DelveClient) Detach() error {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if dc.client != nil {
		if err := dc.client.Detach(true); err != nil {
			return fmt.Errorf("failed to detach: %w", err)
		}
		dc.client = nil
	}

	dc.killServerLocked()
	return nil
}

// killServerLocked kills a launched Delve server and waits briefly for it to
// exit. Callers must hold dc.mutex.
func (dc *DelveClient) killServerLocked() {
	if dc.serverCmd == nil || dc.serverCmd.Process == nil {
		return
	}

	dc.serverCmd.Process.Kill()

	done := make(chan error, 1)
	go func() {
		done <- dc.serverCmd.Wait()
	}()

	select {
	case <-done:
		// Process reaped.
	case <-time.After(5 * time.Second):
		dc.logger.Warn("delve process did not exit cleanly")
	}

	dc.serverCmd = nil
}

// Close closes the client.
func (dc *DelveClient) Close() error {
	return dc.Detach()
}
