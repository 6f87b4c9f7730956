package component

import "time"

// Discoverable is implemented by the bridge parts that report in status
// queries and health aggregation
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
}

// Metadata identifies a bridge part and the subjects it serves
type Metadata struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "publisher" or "transport"
	Description string   `json:"description"`
	Subjects    []string `json:"subjects,omitempty"`
}

// HealthStatus is a point-in-time health sample. ErrorCount counts runtime
// failures since start; LastError is the most recent one.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}
