package tenant

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that tenant identifiers are checked fail-closed before any data access.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
// Expected: Empty and whitespace-only identifiers are rejected with ErrTenantIDRequired; real identifiers pass.
// Test Case ID: TEN-01
func TestTenant_ValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"empty", "", true},
		{"spaces", "   ", true},
		{"tabs and newline", "\t\n", true},
		{"shop domain", "acme.myshopify.com", false},
		{"uuid", "0190a7c4-3c1e-7b5a-9e0f-1d2c3b4a5968", false},
		{"padded", " shop-1 ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTenantIDRequired)
				assert.Contains(t, err.Error(), "tenantId is required")
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestPurpose: Validates that wrapped security errors are still recognised by callers mapping errors to responses.
// Scope: Unit Test
// Expected: IsSecurityError sees through fmt.Errorf wrapping and ignores unrelated errors.
// Test Case ID: TEN-02
func TestTenant_IsSecurityError(t *testing.T) {
	wrapped := fmt.Errorf("get tenant client: %w", ErrTenantIDRequired)

	assert.True(t, IsSecurityError(ErrTenantIDRequired))
	assert.True(t, IsSecurityError(wrapped))
	assert.True(t, errors.Is(wrapped, ErrTenantIDRequired))
	assert.False(t, IsSecurityError(errors.New("connection refused")))
	assert.False(t, IsSecurityError(nil))
}
