// Package storage provides read access to the groundwater assessment dataset
// and the CSV import that populates it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrSchema   = errors.New("dataset schema not recognised")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Level is the administrative level of a place.
type Level string

const (
	LevelState    Level = "state"
	LevelDistrict Level = "district"
	LevelBlock    Level = "block"
)

// Record is the extraction figure for one place. State and district records
// are averages over their blocks.
type Record struct {
	Name       string  `json:"name"`
	Level      Level   `json:"level"`
	Extraction float64 `json:"extraction"`
	Category   string  `json:"category"`
	Rows       int     `json:"rows"`
}

// ColumnMap is the physical column for each logical role. Empty means the
// table has no such column.
type ColumnMap struct {
	State      string
	District   string
	Block      string
	Extraction string
	Category   string
}

// Column returns the column holding names at level.
func (m ColumnMap) Column(level Level) string {
	switch level {
	case LevelState:
		return m.State
	case LevelDistrict:
		return m.District
	case LevelBlock:
		return m.Block
	}
	return ""
}

// Dataset queries the assessment table through a ColumnMap resolved once.
type Dataset struct {
	logger  *observability.Logger
	db      DB
	driver  string
	cfg     config.DatabaseConfig
	columns ColumnMap
	closer  func() error

	hasTrends bool
}

// Open connects using cfg and resolves the column map.
func Open(ctx context.Context, logger *observability.Logger, cfg config.DatabaseConfig) (*Dataset, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	ds, err := NewDataset(ctx, logger, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	ds.closer = db.Close
	return ds, nil
}

// OpenDB opens and pings the configured database without touching any table.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		driverName string
		dsn        string
	)
	switch cfg.Driver {
	case "sqlite", "":
		driverName, dsn = "sqlite3", cfg.SQLite.Path
	case "postgres":
		driverName, dsn = "postgres", cfg.Postgres.DSN
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driverName == "sqlite3" {
		if cfg.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	} else {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewDataset wraps an open connection and resolves the column map.
func NewDataset(ctx context.Context, logger *observability.Logger, db DB, cfg config.DatabaseConfig) (*Dataset, error) {
	if cfg.Table == "" {
		cfg.Table = "assessments"
	}
	if cfg.TrendTable == "" {
		cfg.TrendTable = "state_trends"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	cfg.ColumnHints = withDefaultHints(cfg.ColumnHints)

	ds := &Dataset{
		logger: logger.WithOperation("dataset"),
		db:     db,
		driver: cfg.Driver,
		cfg:    cfg,
	}
	if err := ds.ResolveColumns(ctx); err != nil {
		return nil, err
	}
	ds.detectTrends(ctx)
	return ds, nil
}

// Close releases the connection when the dataset opened it.
func (d *Dataset) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// Columns returns the resolved column map.
func (d *Dataset) Columns() ColumnMap {
	return d.columns
}

// DB returns the underlying connection.
func (d *Dataset) DB() DB {
	return d.db
}

// ResolveColumns inspects the table and picks the first column whose name
// contains a hint for each role. A column serves at most one role.
func (d *Dataset) ResolveColumns(ctx context.Context) error {
	names, err := tableColumns(ctx, d.db, d.driver, d.cfg.Table)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: table %q has no columns", ErrSchema, d.cfg.Table)
	}

	hints := d.cfg.ColumnHints
	taken := make(map[string]bool)
	pick := func(hs []string) string {
		for _, h := range hs {
			for _, n := range names {
				if !taken[n] && strings.Contains(strings.ToLower(n), strings.ToLower(h)) {
					taken[n] = true
					return n
				}
			}
		}
		return ""
	}

	m := ColumnMap{
		State:      pick(hints.State),
		District:   pick(hints.District),
		Block:      pick(hints.Block),
		Extraction: pick(hints.Extraction),
		Category:   pick(hints.Category),
	}

	if m.Extraction == "" {
		return fmt.Errorf("%w: no extraction column among %v", ErrSchema, names)
	}
	if m.State == "" && m.District == "" && m.Block == "" {
		return fmt.Errorf("%w: no location column among %v", ErrSchema, names)
	}

	d.columns = m
	d.logger.Info().
		Str("table", d.cfg.Table).
		Str("state", m.State).
		Str("district", m.District).
		Str("block", m.Block).
		Str("extraction", m.Extraction).
		Str("category", m.Category).
		Msg("dataset columns resolved")
	return nil
}

func withDefaultHints(h config.ColumnHints) config.ColumnHints {
	def := config.DefaultConfig().Database.ColumnHints
	if len(h.State) == 0 {
		h.State = def.State
	}
	if len(h.District) == 0 {
		h.District = def.District
	}
	if len(h.Block) == 0 {
		h.Block = def.Block
	}
	if len(h.Extraction) == 0 {
		h.Extraction = def.Extraction
	}
	if len(h.Category) == 0 {
		h.Category = def.Category
	}
	return h
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func tableColumns(ctx context.Context, db DB, driver, table string) ([]string, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrSchema, table)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if driver == "postgres" {
		rows, err = db.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	}
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// placeholder returns the n-th (1-based) bind parameter for the driver.
func (d *Dataset) placeholder(n int) string {
	if d.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Lookup returns the record for name at level. State and district figures are
// averaged; block figures come from the single matching row.
func (d *Dataset) Lookup(ctx context.Context, level Level, name string) (*Record, error) {
	col := d.columns.Column(level)
	if col == "" {
		return nil, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	table := quoteIdent(d.cfg.Table)
	ext := quoteIdent(d.columns.Extraction)
	where := fmt.Sprintf("LOWER(%s) = LOWER(%s)", quoteIdent(col), d.placeholder(1))

	rec := &Record{Name: strings.TrimSpace(name), Level: level}

	if level == LevelBlock {
		catExpr := "''"
		if d.columns.Category != "" {
			catExpr = "COALESCE(" + quoteIdent(d.columns.Category) + ", '')"
		}
		q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s LIMIT 1", ext, catExpr, table, where)
		var val sql.NullFloat64
		err := d.db.QueryRowContext(ctx, q, rec.Name).Scan(&val, &rec.Category)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lookup block %s: %w", name, err)
		}
		if !val.Valid {
			return nil, ErrNotFound
		}
		rec.Extraction = round2(val.Float64)
		rec.Rows = 1
		if rec.Category == "" {
			rec.Category = CategoryFor(rec.Extraction)
		}
		return rec, nil
	}

	q := fmt.Sprintf("SELECT AVG(%s), COUNT(*) FROM %s WHERE %s", ext, table, where)
	var avg sql.NullFloat64
	if err := d.db.QueryRowContext(ctx, q, rec.Name).Scan(&avg, &rec.Rows); err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", level, name, err)
	}
	if rec.Rows == 0 || !avg.Valid {
		return nil, ErrNotFound
	}
	rec.Extraction = round2(avg.Float64)
	rec.Category = CategoryFor(rec.Extraction)
	return rec, nil
}

// Locate tries state, then district, then block.
func (d *Dataset) Locate(ctx context.Context, name string) (*Record, error) {
	for _, level := range []Level{LevelState, LevelDistrict, LevelBlock} {
		rec, err := d.Lookup(ctx, level, name)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// DistinctLocations returns every distinct state, district and block name.
func (d *Dataset) DistinctLocations(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var out []string
	for _, col := range []string{d.columns.State, d.columns.District, d.columns.Block} {
		if col == "" {
			continue
		}
		q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
			quoteIdent(col), quoteIdent(d.cfg.Table), quoteIdent(col))
		rows, err := d.db.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("distinct %s: %w", col, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", col, err)
			}
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CategoryFor maps a stage of extraction percentage to its category band.
func CategoryFor(extraction float64) string {
	switch {
	case extraction <= 70:
		return "Safe"
	case extraction <= 90:
		return "Semi-Critical"
	case extraction <= 100:
		return "Critical"
	default:
		return "Over-Exploited"
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
