package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/mcpgate/mcpgate/internal/model"
)

// ErrNoInstances is returned when a template has no healthy instance to
// serve a request.
var ErrNoInstances = errors.New("no instances available")

// MCP methods the proxy forwards.
const (
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Proxy forwards MCP requests to registered backend instances. A transport
// failure marks the instance unhealthy and the request is retried on the next
// one; an application-level RPC error is returned as-is without failover,
// since the backend is alive and answered.
type Proxy struct {
	registry *Registry
	client   *http.Client
	timeout  time.Duration
	retries  int
	logger   *slog.Logger

	nextID   atomic.Int64
	requests atomic.Int64
}

func NewProxy(registry *Registry, timeout time.Duration, retries int, logger *slog.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		retries:  retries,
		logger:   logger,
	}
}

// Requests reports how many calls the proxy has served.
func (p *Proxy) Requests() int64 {
	return p.requests.Load()
}

// Call routes one MCP request to a healthy instance of the template and
// returns the raw JSON-RPC result.
func (p *Proxy) Call(ctx context.Context, template, method string, params any) (json.RawMessage, error) {
	p.requests.Add(1)

	var lastErr error
	for attempt := 0; attempt < p.retries; attempt++ {
		inst, ok := p.registry.NextHealthy(template)
		if !ok {
			if lastErr != nil {
				return nil, fmt.Errorf("all instances failed for template %q: %w", template, lastErr)
			}
			return nil, fmt.Errorf("template %q: %w", template, ErrNoInstances)
		}

		result, err := p.dispatch(ctx, inst, method, params)
		if err == nil {
			return result, nil
		}

		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			// The backend answered; its error is the answer.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		p.logger.Warn("instance request failed",
			"template", template, "instance_id", inst.ID, "method", method,
			"attempt", attempt+1, "error", err)
		if markErr := p.registry.MarkHealth(ctx, template, inst.ID, false); markErr != nil {
			p.logger.Debug("mark unhealthy failed", "instance_id", inst.ID, "error", markErr)
		}
	}

	return nil, fmt.Errorf("all instances failed for template %q: %w", template, lastErr)
}

func (p *Proxy) dispatch(ctx context.Context, inst model.BackendInstance, method string, params any) (json.RawMessage, error) {
	switch inst.Transport {
	case model.TransportHTTP:
		return p.forwardHTTP(ctx, inst, method, params)
	case model.TransportStdio:
		return p.forwardStdio(ctx, inst, method, params)
	default:
		return nil, fmt.Errorf("unsupported transport %q", inst.Transport)
	}
}

// forwardHTTP posts a JSON-RPC request to the instance endpoint.
func (p *Proxy) forwardHTTP(ctx context.Context, inst model.BackendInstance, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// forwardStdio spawns the instance command, writes one JSON-RPC request to
// its stdin, and reads one response line from stdout. The process lives for
// the duration of the call.
func (p *Proxy) forwardStdio(ctx context.Context, inst model.BackendInstance, method string, params any) (json.RawMessage, error) {
	if len(inst.Command) == 0 {
		return nil, errors.New("stdio instance has no command")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, inst.Command[0], inst.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", inst.Command[0], err)
	}
	defer func() {
		stdin.Close()
		cmd.Wait()
	}()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := stdin.Write(append(body, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, errors.New("backend closed stdout without responding")
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(scanner.Bytes(), &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
