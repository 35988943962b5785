// Copyright 2026 The Thunder Text Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tenant holds the tenant identity rules shared by every
// tenant-scoped data path. A tenant is a single merchant shop.
package tenant

import (
	"errors"
	"strings"
)

// SecurityError reports a tenant-scoped operation that was refused because
// the caller's tenant identity is unusable. It is always fail-closed.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "security error: " + e.Reason
}

// ErrTenantIDRequired is returned when no tenant identifier was supplied.
var ErrTenantIDRequired = &SecurityError{Reason: "tenantId is required"}

// ValidateID checks that id names a tenant.
// Blank identifiers are treated the same as missing ones.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrTenantIDRequired
	}
	return nil
}

// IsSecurityError reports whether err is, or wraps, a SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}
