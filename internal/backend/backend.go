// Package backend defines the computation backend contract: text generation
// plus a cheap resource probe used by the telemetry monitor.
package backend

import (
	"context"

	"github.com/kyujaq/hearth/internal/model"
)

// Descriptor is the static configuration of one backend. It is never mutated
// at runtime.
type Descriptor struct {
	Name  string
	Class model.BackendClass

	BaseURL   string
	Model     string
	MaxTokens int

	// IdleUtilization is the rolling-average bound under which the backend
	// accepts new heavy work. HardFallbackUtilization is the overload bound
	// above which the router never selects it, affinity included.
	IdleUtilization         float64
	HardFallbackUtilization float64
	MinFreeResourceMB       float64
}

// Stats is one probe sample. Utilization is a fraction in [0,1].
type Stats struct {
	Utilization    float64 `json:"utilization_pct"`
	FreeResourceMB float64 `json:"free_resource_mb"`
}

// Client executes requests against a single backend.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	StatsProbe(ctx context.Context) (Stats, error)
}
