package shared

import (
	"context"
	"time"

	"github.com/profitlens/exsync/internal/schema"
)

// HealthLatencyThreshold separates healthy from degraded probes. The same
// constant applies to every adapter so dashboards compare like with like.
const HealthLatencyThreshold = 3000 * time.Millisecond

// MeasureHealth times one availability probe and classifies the result.
func MeasureHealth(ctx context.Context, probe func(ctx context.Context) error) schema.Health {
	start := time.Now()
	err := probe(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return schema.Health{
			Status:    schema.HealthDown,
			Latency:   elapsed,
			LastError: err.Error(),
		}
	}
	status := schema.HealthHealthy
	if elapsed > HealthLatencyThreshold {
		status = schema.HealthDegraded
	}
	return schema.Health{Status: status, Latency: elapsed}
}
