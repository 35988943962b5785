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

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// WithTenant borrows a client for tenantID, runs fn and releases the client
// whatever fn does, including panicking.
func (g *Gateway) WithTenant(ctx context.Context, tenantID string, fn func(c *TenantClient) error) error {
	client, err := g.GetTenantClient(ctx, tenantID)
	if err != nil {
		return err
	}
	defer client.Release()

	return fn(client)
}

// QueryWithTenant executes one statement on behalf of tenantID and returns its rows.
// The connection is always returned to the pool; driver errors are passed through unchanged.
func (g *Gateway) QueryWithTenant(ctx context.Context, tenantID, sql string, args ...any) (*Result, error) {
	return g.QueryStatementWithTenant(ctx, tenantID, Statement{SQL: sql, Args: args})
}

// QueryStatementWithTenant is QueryWithTenant with explicit statement metadata
func (g *Gateway) QueryStatementWithTenant(ctx context.Context, tenantID string, stmt Statement) (*Result, error) {
	var res *Result
	err := g.WithTenant(ctx, tenantID, func(c *TenantClient) error {
		var err error
		res, err = c.QueryStatement(ctx, stmt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecWithTenant executes one statement that returns no rows on behalf of tenantID
func (g *Gateway) ExecWithTenant(ctx context.Context, tenantID, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := g.WithTenant(ctx, tenantID, func(c *TenantClient) error {
		var err error
		tag, err = c.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}
