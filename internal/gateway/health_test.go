package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/model"
)

func TestCheckerMarksHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, httpInstance("up", "snowflake", healthy.URL))
	r.Register(ctx, httpInstance("down", "snowflake", dead.URL))

	c := NewChecker(r, time.Minute, 0, nil)
	c.CheckAll(ctx)

	tmpl, _ := r.Template("snowflake")
	for _, inst := range tmpl.Instances {
		switch inst.ID {
		case "up":
			if !inst.Healthy || inst.LastSeen == nil {
				t.Errorf("reachable instance not marked healthy: %+v", inst)
			}
		case "down":
			if inst.Healthy || inst.FailureCount != 1 {
				t.Errorf("unreachable instance not marked unhealthy: %+v", inst)
			}
		}
	}
	if c.Checks() != 2 {
		t.Errorf("check count = %d, want 2", c.Checks())
	}
}

func TestCheckerEvictsAfterMaxFailures(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, httpInstance("down", "snowflake", dead.URL))

	c := NewChecker(r, time.Minute, 3, nil)
	for i := 0; i < 2; i++ {
		c.CheckAll(ctx)
	}
	if _, ok := r.Template("snowflake"); !ok {
		t.Fatal("instance evicted before reaching the failure limit")
	}

	c.CheckAll(ctx)
	if _, ok := r.Template("snowflake"); ok {
		t.Error("instance not evicted at the failure limit")
	}
}

func TestCheckerStdioCountsAsHealthy(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, model.BackendInstance{
		ID: "s", Template: "sqlite", Transport: model.TransportStdio,
		Command: []string{"mcpgate", "adapter", "--stdio"},
	})

	c := NewChecker(r, time.Minute, 3, nil)
	c.CheckAll(ctx)

	tmpl, _ := r.Template("sqlite")
	if !tmpl.Instances[0].Healthy {
		t.Error("stdio instance marked unhealthy")
	}
}

func TestCheckerHealthEndpointPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(newTestRegistry(t), time.Minute, 0, nil)
	inst := httpInstance("a", "snowflake", srv.URL+"/mcp/")
	if !c.CheckInstance(context.Background(), inst) {
		t.Fatal("expected healthy")
	}
	if gotPath != "/mcp/health" {
		t.Errorf("probe path = %q, want /mcp/health", gotPath)
	}
}
