// Package tenancy carries the organization a request is scoped to.
package tenancy

import "context"

type ctxKey string

const orgKey ctxKey = "clinic.org_id"

// WithOrgID stores the org id in context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgIDFromContext extracts the org id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	orgID, ok := ctx.Value(orgKey).(string)
	return orgID, ok && orgID != ""
}

// ValidOrgID accepts UUIDs and slugs: 1 to 64 ASCII letters, digits, '-' or '_'.
func ValidOrgID(orgID string) bool {
	if orgID == "" || len(orgID) > 64 {
		return false
	}
	for _, r := range orgID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
