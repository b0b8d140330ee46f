package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ImportOptions controls a CSV import.
type ImportOptions struct {
	Driver string // sqlite or postgres
	Table  string
	// Progress is called after each stored row with the running count.
	Progress func(rows int)
}

// ImportAssessments replaces the assessment table with the rows of r.
// The first five CSV columns are read as state, district, block, extraction
// and category whatever the header says. District and block names are
// lowercased.
func ImportAssessments(ctx context.Context, db *sql.DB, r io.Reader, opts ImportOptions) (int, error) {
	if opts.Table == "" {
		opts.Table = "assessments"
	}
	ph := placeholders(opts.Driver, 5)
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		state TEXT,
		district_name TEXT,
		block_name TEXT,
		extraction DOUBLE PRECISION,
		category TEXT
	)`, quoteIdent(opts.Table))
	insert := fmt.Sprintf("INSERT INTO %s (state, district_name, block_name, extraction, category) VALUES (%s)",
		quoteIdent(opts.Table), ph)

	return importRows(ctx, db, r, opts, ddl, insert, func(header []string, rec []string) ([][]any, error) {
		if len(rec) < 5 {
			return nil, fmt.Errorf("expected 5 columns, got %d", len(rec))
		}
		return [][]any{{
			strings.TrimSpace(rec[0]),
			strings.ToLower(strings.TrimSpace(rec[1])),
			strings.ToLower(strings.TrimSpace(rec[2])),
			parseNullFloat(rec[3]),
			strings.TrimSpace(rec[4]),
		}}, nil
	})
}

// ImportTrends replaces the trend table. It accepts a long layout
// (state, year, extraction) or a wide one with one column per year.
func ImportTrends(ctx context.Context, db *sql.DB, r io.Reader, opts ImportOptions) (int, error) {
	if opts.Table == "" {
		opts.Table = "state_trends"
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (state TEXT, year INTEGER, extraction DOUBLE PRECISION)`, quoteIdent(opts.Table))
	insert := fmt.Sprintf("INSERT INTO %s (state, year, extraction) VALUES (%s)",
		quoteIdent(opts.Table), placeholders(opts.Driver, 3))

	return importRows(ctx, db, r, opts, ddl, insert, func(header []string, rec []string) ([][]any, error) {
		if len(rec) < 2 {
			return nil, fmt.Errorf("expected at least 2 columns, got %d", len(rec))
		}
		state := strings.ToLower(strings.TrimSpace(rec[0]))

		if len(header) == 3 && strings.Contains(strings.ToLower(header[1]), "year") {
			year, err := strconv.Atoi(strings.TrimSpace(rec[1]))
			if err != nil {
				return nil, fmt.Errorf("bad year %q", rec[1])
			}
			v := parseNullFloat(rec[2])
			if !v.Valid {
				return nil, nil
			}
			return [][]any{{state, year, v.Float64}}, nil
		}

		var out [][]any
		for i := 1; i < len(rec) && i < len(header); i++ {
			year, err := strconv.Atoi(strings.TrimSpace(header[i]))
			if err != nil {
				continue
			}
			v := parseNullFloat(rec[i])
			if !v.Valid {
				continue
			}
			out = append(out, []any{state, year, v.Float64})
		}
		return out, nil
	})
}

type rowMapper func(header []string, rec []string) ([][]any, error)

func importRows(ctx context.Context, db *sql.DB, r io.Reader, opts ImportOptions, ddl, insert string, mapRow rowMapper) (int, error) {
	if !identRe.MatchString(opts.Table) {
		return 0, fmt.Errorf("invalid table name %q", opts.Table)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(opts.Table)); err != nil {
		return 0, fmt.Errorf("drop %s: %w", opts.Table, err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return 0, fmt.Errorf("create %s: %w", opts.Table, err)
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("read line %d: %w", line, err)
		}

		rows, err := mapRow(header, rec)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		for _, args := range rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("insert line %d: %w", line, err)
			}
			count++
			if opts.Progress != nil {
				opts.Progress(count)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return count, nil
}

func placeholders(driver string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		if driver == "postgres" {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func parseNullFloat(s string) sql.NullFloat64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
