package ratelimit

import "time"

// Policy names a quota profile. All policies share the same counter
// primitive and differ only in key construction and limits.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Named policies for the three operation classes.
var (
	// PerApplication throttles a single application across all its
	// requests to one endpoint.
	PerApplication = Policy{Name: "per_application", Limit: 100, Window: time.Minute}

	// PerTenant throttles operations targeting a single tenant.
	PerTenant = Policy{Name: "per_tenant", Limit: 20, Window: time.Minute}

	// BulkOperation throttles expensive batch endpoints.
	BulkOperation = Policy{Name: "bulk_operation", Limit: 10, Window: time.Minute}
)
