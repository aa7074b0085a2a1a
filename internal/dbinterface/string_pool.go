// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLite caps bound variables per statement (SQLITE_MAX_VARIABLE_NUMBER, default 999).
const maxParams = 900

// InternStrings interns the given non-empty values in string_pool and returns their IDs
// in input order. Duplicate inputs map to the same ID.
func InternStrings(ctx context.Context, tx TxQuerier, values ...string) ([]int64, error) {
	if len(values) == 0 {
		return []int64{}, nil
	}

	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("value at index %d is empty", i)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}

	const queryTemplate = "INSERT OR IGNORE INTO string_pool (value) VALUES %s"
	for i := 0; i < len(unique); i += maxParams {
		end := min(i+maxParams, len(unique))
		chunk := unique[i:end]

		args := make([]any, len(chunk))
		for j, v := range chunk {
			args[j] = v
		}

		if _, err := tx.ExecContext(ctx, BuildQueryWithPlaceholders(queryTemplate, 1, len(chunk)), args...); err != nil {
			return nil, fmt.Errorf("failed to batch insert strings: %w", err)
		}
	}

	ids, err := GetStringID(ctx, tx, values...)
	if err != nil {
		return nil, err
	}

	result := make([]int64, len(ids))
	for i, id := range ids {
		if !id.Valid {
			return nil, fmt.Errorf("failed to get ID for interned string %q", values[i])
		}
		result[i] = id.Int64
	}
	return result, nil
}

// GetStringID looks up IDs without creating them. Missing or empty values
// yield sql.NullInt64{Valid: false}.
func GetStringID(ctx context.Context, tx TxQuerier, values ...string) ([]sql.NullInt64, error) {
	results := make([]sql.NullInt64, len(values))
	if len(values) == 0 {
		return results, nil
	}

	lookup := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		lookup = append(lookup, v)
	}

	valueToID := make(map[string]int64, len(lookup))
	for i := 0; i < len(lookup); i += maxParams {
		end := min(i+maxParams, len(lookup))
		chunk := lookup[i:end]

		args := make([]any, len(chunk))
		for j, v := range chunk {
			args[j] = v
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE value IN ("+InClause(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			valueToID[value] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
		rows.Close()
	}

	for i, v := range values {
		if id, ok := valueToID[v]; ok {
			results[i] = sql.NullInt64{Int64: id, Valid: true}
		}
	}
	return results, nil
}
