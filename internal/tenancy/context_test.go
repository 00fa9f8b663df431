package tenancy

import (
	"context"
	"strings"
	"testing"
)

func TestWithOrgIDAndOrgIDFromContext(t *testing.T) {
	ctx := WithOrgID(context.Background(), "org-123")

	got, ok := OrgIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected org id to be present")
	}
	if got != "org-123" {
		t.Fatalf("expected org-123, got %s", got)
	}
}

func TestOrgIDFromContext_EmptyOrMissing(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected missing org id to return false")
	}

	ctx := context.WithValue(context.Background(), orgKey, 42)
	if _, ok := OrgIDFromContext(ctx); ok {
		t.Fatalf("expected non-string org id to return false")
	}

	ctx = WithOrgID(context.Background(), "")
	if _, ok := OrgIDFromContext(ctx); ok {
		t.Fatalf("expected empty org id to return false")
	}
}

func TestValidOrgID(t *testing.T) {
	valid := []string{"org-1", "6f1c2a4e-9a7b-4d0e-8f57-1b2c3d4e5f60", "glow_spa"}
	for _, id := range valid {
		if !ValidOrgID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "org 1", "org/1", "org;drop", strings.Repeat("a", 65)}
	for _, id := range invalid {
		if ValidOrgID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}
