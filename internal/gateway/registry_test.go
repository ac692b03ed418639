package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/mcpgate/mcpgate/internal/model"
	"github.com/mcpgate/mcpgate/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(nil, nil)
}

func httpInstance(id, template, endpoint string) model.BackendInstance {
	return model.BackendInstance{
		ID:        id,
		Template:  template,
		Transport: model.TransportHTTP,
		Endpoint:  endpoint,
	}
}

func TestRegisterAndRoundRobin(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := r.Register(ctx, httpInstance(id, "snowflake", "http://"+id+":9000")); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	var order []string
	for i := 0; i < 4; i++ {
		inst, ok := r.NextHealthy("snowflake")
		if !ok {
			t.Fatal("expected a healthy instance")
		}
		order = append(order, inst.ID)
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("round robin order = %v, want %v", order, want)
		}
	}

	if _, ok := r.NextHealthy("databricks"); ok {
		t.Error("unknown template yielded an instance")
	}
}

func TestRegisterValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name string
		inst model.BackendInstance
	}{
		{"missing template", model.BackendInstance{Transport: model.TransportHTTP, Endpoint: "http://x"}},
		{"http without endpoint", model.BackendInstance{Template: "t", Transport: model.TransportHTTP}},
		{"stdio without command", model.BackendInstance{Template: "t", Transport: model.TransportStdio}},
		{"unknown transport", model.BackendInstance{Template: "t", Transport: "smoke-signal", Endpoint: "http://x"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Register(ctx, tt.inst); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	// Missing id and transport get defaults.
	inst, err := r.Register(ctx, model.BackendInstance{Template: "t", Endpoint: "http://x:1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if inst.ID == "" || inst.Transport != model.TransportHTTP || !inst.Healthy {
		t.Errorf("defaults not applied: %+v", inst)
	}
}

func TestRegisterReplacesSameID(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, httpInstance("a", "snowflake", "http://old:9000")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(ctx, httpInstance("a", "snowflake", "http://new:9000")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tmpl, ok := r.Template("snowflake")
	if !ok || len(tmpl.Instances) != 1 {
		t.Fatalf("expected one instance, got %+v", tmpl)
	}
	if tmpl.Instances[0].Endpoint != "http://new:9000" {
		t.Errorf("endpoint not replaced: %q", tmpl.Instances[0].Endpoint)
	}
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, httpInstance("a", "snowflake", "http://a:9000")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Deregister(ctx, "snowflake", "a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	// Last instance gone: template disappears with it.
	if _, ok := r.Template("snowflake"); ok {
		t.Error("empty template was not dropped")
	}

	if err := r.Deregister(ctx, "snowflake", "a"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMarkHealthAndEviction(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, httpInstance("a", "snowflake", "http://a:9000")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.MarkHealth(ctx, "snowflake", "a", false); err != nil {
			t.Fatalf("MarkHealth: %v", err)
		}
	}
	if _, ok := r.NextHealthy("snowflake"); ok {
		t.Error("unhealthy instance was still selectable")
	}

	// Below the limit nothing is evicted; a recovery resets the count.
	if n := r.ClearUnhealthy(ctx, 5); n != 0 {
		t.Errorf("ClearUnhealthy evicted %d below the limit", n)
	}
	if err := r.MarkHealth(ctx, "snowflake", "a", true); err != nil {
		t.Fatalf("MarkHealth: %v", err)
	}
	tmpl, _ := r.Template("snowflake")
	if got := tmpl.Instances[0]; got.FailureCount != 0 || !got.Healthy || got.LastSeen == nil {
		t.Errorf("recovery did not reset health state: %+v", got)
	}

	for i := 0; i < 5; i++ {
		r.MarkHealth(ctx, "snowflake", "a", false)
	}
	if n := r.ClearUnhealthy(ctx, 5); n != 1 {
		t.Errorf("ClearUnhealthy = %d, want 1", n)
	}
	if _, ok := r.Template("snowflake"); ok {
		t.Error("template with only evicted instances survived")
	}

	if err := r.MarkHealth(ctx, "snowflake", "ghost", false); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestRegistryPersistence(t *testing.T) {
	s, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	r1 := NewRegistry(s, nil)
	if _, err := r1.Register(ctx, httpInstance("a", "snowflake", "http://a:9000")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r1.Register(ctx, model.BackendInstance{
		ID: "b", Template: "sqlite", Transport: model.TransportStdio,
		Command: []string{"mcpgate", "adapter", "--stdio"},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A fresh registry over the same store sees both instances.
	r2 := NewRegistry(s, nil)
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	stats := r2.Stats()
	if stats.Templates != 2 || stats.TotalInstances != 2 {
		t.Errorf("stats after reload = %+v", stats)
	}
	tmpl, ok := r2.Template("sqlite")
	if !ok || len(tmpl.Instances) != 1 {
		t.Fatalf("stdio template missing after reload: %+v", tmpl)
	}
	if got := tmpl.Instances[0].Command; len(got) != 3 || got[0] != "mcpgate" {
		t.Errorf("command did not survive persistence: %v", got)
	}

	// Deregistration writes through.
	if err := r1.Deregister(ctx, "snowflake", "a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	left, err := s.ListBackendInstances(ctx)
	if err != nil {
		t.Fatalf("ListBackendInstances: %v", err)
	}
	if len(left) != 1 || left[0].ID != "b" {
		t.Errorf("store after deregister = %+v", left)
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Register(ctx, httpInstance("a", "snowflake", "http://a:9000"))
	r.Register(ctx, httpInstance("b", "snowflake", "http://b:9000"))
	r.Register(ctx, httpInstance("c", "databricks", "http://c:9000"))
	r.MarkHealth(ctx, "snowflake", "b", false)

	stats := r.Stats()
	if stats.Templates != 2 || stats.TotalInstances != 3 || stats.HealthyInstances != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByTemplate["snowflake"] != 2 || stats.ByTemplate["databricks"] != 1 {
		t.Errorf("per-template counts = %v", stats.ByTemplate)
	}
}
