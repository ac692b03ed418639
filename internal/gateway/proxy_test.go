package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newRPCBackend returns a test server speaking just enough JSON-RPC for the
// proxy, answering every method with the given result.
func newRPCBackend(t *testing.T, result any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  json.RawMessage(raw),
		})
	}))
}

func TestProxyCallHTTP(t *testing.T) {
	backend := newRPCBackend(t, map[string]any{"tools": []any{map[string]any{"name": "execute_query"}}})
	defer backend.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, httpInstance("a", "snowflake", backend.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p := NewProxy(r, 5*time.Second, 3, nil)
	result, err := p.Call(ctx, "snowflake", MethodToolsList, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	var parsed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(parsed.Tools) != 1 || parsed.Tools[0].Name != "execute_query" {
		t.Errorf("unexpected result: %s", result)
	}
	if p.Requests() != 1 {
		t.Errorf("request count = %d, want 1", p.Requests())
	}
}

func TestProxyFailover(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close() // connection refused from here on

	alive := newRPCBackend(t, map[string]any{"ok": true})
	defer alive.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	// Registration order matters: round robin tries "a" first.
	if _, err := r.Register(ctx, httpInstance("a", "snowflake", dead.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(ctx, httpInstance("b", "snowflake", alive.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p := NewProxy(r, 5*time.Second, 3, nil)
	if _, err := p.Call(ctx, "snowflake", MethodToolsList, nil); err != nil {
		t.Fatalf("Call with failover: %v", err)
	}

	// The dead instance was marked unhealthy along the way.
	tmpl, _ := r.Template("snowflake")
	for _, inst := range tmpl.Instances {
		if inst.ID == "a" && inst.Healthy {
			t.Error("failed instance still marked healthy")
		}
		if inst.ID == "b" && !inst.Healthy {
			t.Error("serving instance marked unhealthy")
		}
	}
}

func TestProxyRPCErrorIsFinal(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer backend.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, httpInstance("a", "snowflake", backend.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p := NewProxy(r, 5*time.Second, 3, nil)
	_, err := p.Call(ctx, "snowflake", "no/such/method", nil)
	if err == nil {
		t.Fatal("expected an rpc error")
	}

	// An answered error is not a transport failure: no failover, no health
	// penalty.
	tmpl, _ := r.Template("snowflake")
	if !tmpl.Instances[0].Healthy {
		t.Error("rpc error cost the instance its health")
	}
	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected code -32601, got %v", err)
	}
}

func TestProxyNoInstances(t *testing.T) {
	p := NewProxy(newTestRegistry(t), 5*time.Second, 3, nil)
	_, err := p.Call(context.Background(), "ghost", MethodToolsList, nil)
	if !errors.Is(err, ErrNoInstances) {
		t.Errorf("expected ErrNoInstances, got %v", err)
	}
}

func TestProxyAllInstancesFail(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, httpInstance("a", "snowflake", dead.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p := NewProxy(r, 2*time.Second, 3, nil)
	_, err := p.Call(ctx, "snowflake", MethodToolsCall, map[string]any{"name": "x"})
	if err == nil {
		t.Fatal("expected failure with no reachable instance")
	}
	if errors.Is(err, ErrNoInstances) {
		t.Errorf("attempted request should report the transport failure, got %v", err)
	}
}
