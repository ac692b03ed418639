package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/model"
)

// ErrInstanceNotFound is returned when a template/instance pair is not
// registered.
var ErrInstanceNotFound = errors.New("instance not found")

// RegistryStore persists registered instances across gateway restarts.
// A nil store runs the registry in-memory only.
type RegistryStore interface {
	CreateBackendInstance(ctx context.Context, inst *model.BackendInstance) error
	ListBackendInstances(ctx context.Context) ([]model.BackendInstance, error)
	DeleteBackendInstance(ctx context.Context, id string) error
	UpdateBackendHealth(ctx context.Context, id string, healthy bool, failureCount int) error
}

// Registry tracks backend MCP server instances grouped by template name and
// hands them out round-robin to the proxy. All reads serve from memory;
// mutations write through to the store when one is configured.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*model.BackendTemplate
	cursors   map[string]int

	store  RegistryStore
	logger *slog.Logger
}

func NewRegistry(store RegistryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		templates: make(map[string]*model.BackendTemplate),
		cursors:   make(map[string]int),
		store:     store,
		logger:    logger,
	}
}

// Load hydrates the registry from the store. Instances come back with their
// persisted health state; the checker revises it on its next pass.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	instances, err := r.store.ListBackendInstances(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range instances {
		r.addLocked(inst)
	}
	r.logger.Info("registry loaded", "templates", len(r.templates), "instances", len(instances))
	return nil
}

// Register adds an instance under its template, replacing any previous
// registration with the same id. A missing id is generated; a missing
// transport defaults to http. New registrations start healthy and earn their
// unhealthy status from the checker.
func (r *Registry) Register(ctx context.Context, inst model.BackendInstance) (*model.BackendInstance, error) {
	if inst.Template == "" {
		return nil, errors.New("register: template is required")
	}
	if inst.Transport == "" {
		inst.Transport = model.TransportHTTP
	}
	switch inst.Transport {
	case model.TransportHTTP:
		if inst.Endpoint == "" {
			return nil, errors.New("register: http instance requires an endpoint")
		}
	case model.TransportStdio:
		if len(inst.Command) == 0 {
			return nil, errors.New("register: stdio instance requires a command")
		}
	default:
		return nil, fmt.Errorf("register: unsupported transport %q", inst.Transport)
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	inst.Healthy = true
	inst.FailureCount = 0
	inst.RegisteredAt = time.Now().UTC()

	if r.store != nil {
		if err := r.store.CreateBackendInstance(ctx, &inst); err != nil {
			return nil, fmt.Errorf("persist instance: %w", err)
		}
	}

	r.mu.Lock()
	r.addLocked(inst)
	r.mu.Unlock()

	r.logger.Info("instance registered", "template", inst.Template, "instance_id", inst.ID, "transport", inst.Transport)
	return &inst, nil
}

// addLocked inserts an instance, replacing one with the same id. Caller holds
// r.mu.
func (r *Registry) addLocked(inst model.BackendInstance) {
	tmpl, ok := r.templates[inst.Template]
	if !ok {
		tmpl = &model.BackendTemplate{Name: inst.Template}
		r.templates[inst.Template] = tmpl
	}
	for i := range tmpl.Instances {
		if tmpl.Instances[i].ID == inst.ID {
			tmpl.Instances[i] = inst
			return
		}
	}
	tmpl.Instances = append(tmpl.Instances, inst)
}

// Deregister removes an instance. Empty templates are dropped.
func (r *Registry) Deregister(ctx context.Context, template, id string) error {
	r.mu.Lock()
	removed := false
	if tmpl, ok := r.templates[template]; ok {
		kept := tmpl.Instances[:0]
		for _, inst := range tmpl.Instances {
			if inst.ID == id {
				removed = true
				continue
			}
			kept = append(kept, inst)
		}
		tmpl.Instances = kept
		if len(tmpl.Instances) == 0 {
			delete(r.templates, template)
			delete(r.cursors, template)
		}
	}
	r.mu.Unlock()

	if !removed {
		return ErrInstanceNotFound
	}
	if r.store != nil {
		if err := r.store.DeleteBackendInstance(ctx, id); err != nil {
			r.logger.Error("instance delete failed", "instance_id", id, "error", err)
		}
	}
	r.logger.Info("instance deregistered", "template", template, "instance_id", id)
	return nil
}

// Template returns a copy of the named template.
func (r *Registry) Template(name string) (model.BackendTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[name]
	if !ok {
		return model.BackendTemplate{}, false
	}
	return copyTemplate(tmpl), true
}

// Templates returns copies of all templates, sorted by name.
func (r *Registry) Templates() []model.BackendTemplate {
	r.mu.RLock()
	out := make([]model.BackendTemplate, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, copyTemplate(tmpl))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyTemplate(tmpl *model.BackendTemplate) model.BackendTemplate {
	cp := model.BackendTemplate{Name: tmpl.Name}
	cp.Instances = append(cp.Instances, tmpl.Instances...)
	return cp
}

// NextHealthy selects the next healthy instance for a template round-robin.
func (r *Registry) NextHealthy(template string) (model.BackendInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, ok := r.templates[template]
	if !ok {
		return model.BackendInstance{}, false
	}
	healthy := tmpl.HealthyInstances()
	if len(healthy) == 0 {
		return model.BackendInstance{}, false
	}
	inst := healthy[r.cursors[template]%len(healthy)]
	r.cursors[template]++
	return inst, true
}

// MarkHealth records a health observation for an instance. A healthy
// observation resets the failure count; an unhealthy one increments it.
func (r *Registry) MarkHealth(ctx context.Context, template, id string, healthy bool) error {
	now := time.Now().UTC()

	r.mu.Lock()
	var updated *model.BackendInstance
	if tmpl, ok := r.templates[template]; ok {
		for i := range tmpl.Instances {
			if tmpl.Instances[i].ID != id {
				continue
			}
			inst := &tmpl.Instances[i]
			inst.Healthy = healthy
			if healthy {
				inst.FailureCount = 0
				inst.LastSeen = &now
			} else {
				inst.FailureCount++
			}
			updated = inst
			break
		}
	}
	var failureCount int
	if updated != nil {
		failureCount = updated.FailureCount
	}
	r.mu.Unlock()

	if updated == nil {
		return ErrInstanceNotFound
	}
	if r.store != nil {
		if err := r.store.UpdateBackendHealth(ctx, id, healthy, failureCount); err != nil {
			r.logger.Error("health update failed", "instance_id", id, "error", err)
		}
	}
	return nil
}

// ClearUnhealthy drops instances whose failure count has reached maxFailures
// and returns how many were removed.
func (r *Registry) ClearUnhealthy(ctx context.Context, maxFailures int) int {
	if maxFailures <= 0 {
		return 0
	}

	r.mu.Lock()
	var dropped []model.BackendInstance
	for name, tmpl := range r.templates {
		kept := tmpl.Instances[:0]
		for _, inst := range tmpl.Instances {
			if inst.FailureCount >= maxFailures {
				dropped = append(dropped, inst)
				continue
			}
			kept = append(kept, inst)
		}
		tmpl.Instances = kept
		if len(tmpl.Instances) == 0 {
			delete(r.templates, name)
			delete(r.cursors, name)
		}
	}
	r.mu.Unlock()

	for _, inst := range dropped {
		if r.store != nil {
			if err := r.store.DeleteBackendInstance(ctx, inst.ID); err != nil {
				r.logger.Error("instance delete failed", "instance_id", inst.ID, "error", err)
			}
		}
		r.logger.Info("unhealthy instance evicted", "template", inst.Template, "instance_id", inst.ID, "failures", inst.FailureCount)
	}
	return len(dropped)
}

// Stats summarizes the registry.
func (r *Registry) Stats() model.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.RegistryStats{
		Templates:  len(r.templates),
		ByTemplate: make(map[string]int, len(r.templates)),
	}
	for name, tmpl := range r.templates {
		stats.TotalInstances += len(tmpl.Instances)
		stats.HealthyInstances += len(tmpl.HealthyInstances())
		stats.ByTemplate[name] = len(tmpl.Instances)
	}
	return stats
}
