// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity checks the SQLite database for structural corruption and
// dangling foreign keys. Mode is "quick" (PRAGMA quick_check) or "full"
// (PRAGMA integrity_check). It returns the diagnostic rows, or nil when healthy.
func VerifyIntegrity(ctx context.Context, path string, mode string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for verification: %w", err)
	}
	defer db.Close()

	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}

	results, err := queryStrings(ctx, db, pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma failed: %w", err)
	}

	var issues []string
	switch {
	case len(results) == 0:
		issues = append(issues, "no results returned from integrity check")
	case len(results) == 1 && strings.EqualFold(results[0], "ok"):
	default:
		issues = append(issues, results...)
	}

	// foreign_key_check yields one row per violation: table, rowid, parent, fkid.
	rows, err := db.QueryContext(ctx, "PRAGMA foreign_key_check;")
	if err != nil {
		// A damaged file can fail here after integrity_check already reported it.
		if len(issues) > 0 {
			return issues, nil
		}
		return nil, fmt.Errorf("foreign key check failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, parent string
		var rowid sql.NullInt64
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		issues = append(issues, fmt.Sprintf("foreign key violation: %s row %d references missing %s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(issues) == 0 {
		return nil, nil
	}
	return issues, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
