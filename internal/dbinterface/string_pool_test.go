// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openPool(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE string_pool (id INTEGER PRIMARY KEY AUTOINCREMENT, value TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	return db
}

func TestInternStringsBatch(t *testing.T) {
	db := openPool(t)
	ctx := context.Background()

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	values := []string{"alpha", "beta", "alpha", "gamma", "beta"}
	ids, err := InternStrings(ctx, tx, values...)
	require.NoError(t, err)
	require.Len(t, ids, len(values))

	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, ids[1], ids[4])
	assert.NotEqual(t, ids[0], ids[1])

	again, err := InternStrings(ctx, tx, values...)
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	empty, err := InternStrings(ctx, tx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = InternStrings(ctx, tx, "ok", "")
	require.Error(t, err)

	require.NoError(t, tx.Commit())
}

func TestInternStringsLargeBatch(t *testing.T) {
	db := openPool(t)
	ctx := context.Background()

	values := make([]string, 0, maxParams*2+10)
	for i := 0; i < cap(values); i++ {
		values = append(values, fmt.Sprintf("site-%d", i))
	}

	ids, err := InternStrings(ctx, db, values...)
	require.NoError(t, err)
	require.Len(t, ids, len(values))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM string_pool").Scan(&count))
	assert.Equal(t, len(values), count)
}

func TestGetStringID(t *testing.T) {
	db := openPool(t)
	ctx := context.Background()

	_, err := InternStrings(ctx, db, "known")
	require.NoError(t, err)

	ids, err := GetStringID(ctx, db, "known", "unknown", "")
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.True(t, ids[0].Valid)
	assert.False(t, ids[1].Valid)
	assert.False(t, ids[2].Valid)
}

func TestBuildQueryWithPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		perRow   int
		rows     int
		expected string
	}{
		{name: "single_column", perRow: 1, rows: 3, expected: "INSERT INTO t VALUES (?),(?),(?)"},
		{name: "multi_column", perRow: 2, rows: 2, expected: "INSERT INTO t VALUES (?,?),(?,?)"},
		{name: "no_rows", perRow: 2, rows: 0, expected: "INSERT INTO t VALUES "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildQueryWithPlaceholders("INSERT INTO t VALUES %s", tt.perRow, tt.rows))
		})
	}

	assert.Equal(t, "?,?,?", InClause(3))
	assert.Equal(t, "", InClause(0))
}
