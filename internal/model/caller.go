package model

// Caller identifies an application authenticated by API key.
// Lookup is performed by the external application registry.
type Caller struct {
	AppID          string   `db:"app_id" json:"app_id"`
	IsActive       bool     `db:"is_active" json:"is_active"`
	AllowedTenants []string `db:"-" json:"allowed_tenants,omitempty"`
}

// MayAccess reports whether the caller may act on the tenant. An empty
// allow-list means unrestricted.
func (c *Caller) MayAccess(tenantID string) bool {
	if len(c.AllowedTenants) == 0 {
		return true
	}
	for _, t := range c.AllowedTenants {
		if t == tenantID {
			return true
		}
	}
	return false
}
