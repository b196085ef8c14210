package storage

import "context"

type tenantKey struct{}

// SetTenant marks ctx as belonging to the given tenant. Storage
// adapters scope every query to it.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant carried by ctx. Empty means
// single-tenant mode: queries run unscoped.
func GetTenant(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	return tenant
}
