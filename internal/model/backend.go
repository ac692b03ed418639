package model

import "time"

// Transport identifies how the gateway reaches a backend MCP server.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// BackendInstance is a single running MCP server registered under a template
// name. HTTP instances are reached at Endpoint; stdio instances are spawned
// from Command on demand.
type BackendInstance struct {
	ID           string     `json:"id" db:"id"`
	Template     string     `json:"template" db:"template"`
	Transport    string     `json:"transport" db:"transport"`
	Endpoint     string     `json:"endpoint,omitempty" db:"endpoint"`
	Command      []string   `json:"command,omitempty"`
	Healthy      bool       `json:"healthy" db:"healthy"`
	FailureCount int        `json:"failure_count" db:"failure_count"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty" db:"last_seen"`
}

// BackendTemplate groups the instances serving one adapter type, e.g.
// "snowflake" or "databricks".
type BackendTemplate struct {
	Name      string            `json:"name"`
	Instances []BackendInstance `json:"instances"`
}

// HealthyInstances returns the instances currently marked healthy.
func (t *BackendTemplate) HealthyInstances() []BackendInstance {
	out := make([]BackendInstance, 0, len(t.Instances))
	for _, inst := range t.Instances {
		if inst.Healthy {
			out = append(out, inst)
		}
	}
	return out
}

// RegistryStats summarizes the registry for the stats endpoint.
type RegistryStats struct {
	Templates        int            `json:"templates"`
	TotalInstances   int            `json:"total_instances"`
	HealthyInstances int            `json:"healthy_instances"`
	ByTemplate       map[string]int `json:"by_template"`
}
