// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// TxQuerier is the subset of *sql.Tx and *sql.DB used by helpers that run inside a transaction.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier is implemented by the database handle handed to stores.
type Querier interface {
	TxQuerier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BuildQueryWithPlaceholders expands the single %s in template into rows groups of
// paramsPerRow placeholders, e.g. "(?,?),(?,?)".
func BuildQueryWithPlaceholders(template string, paramsPerRow, rows int) string {
	if rows <= 0 || paramsPerRow <= 0 {
		return strings.Replace(template, "%s", "", 1)
	}

	var group strings.Builder
	group.Grow(paramsPerRow*2 + 1)
	group.WriteByte('(')
	for i := 0; i < paramsPerRow; i++ {
		if i > 0 {
			group.WriteByte(',')
		}
		group.WriteByte('?')
	}
	group.WriteByte(')')
	g := group.String()

	var sb strings.Builder
	sb.Grow(rows * (len(g) + 1))
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g)
	}

	return strings.Replace(template, "%s", sb.String(), 1)
}

// InClause returns "?,?,?" for n parameters.
func InClause(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
