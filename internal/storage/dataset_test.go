package storage

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

const assessmentsCSV = `state,district,block,extraction,category
Punjab,Ludhiana,Doraha,160.5,Over-Exploited
Punjab, Amritsar ,Ajnala,140.5,Over-Exploited
Bihar,Patna,Bihta,40,Safe
Kerala,Idukki,Adimali,,Safe
`

const trendsCSV = `State,2017,2020,2022
Punjab,165.9,164.4,157.7
Bihar,44,45.8,48
`

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func seededDataset(t *testing.T) *Dataset {
	t.Helper()
	ctx := context.Background()
	db := openMemory(t)

	var progressed int
	n, err := ImportAssessments(ctx, db, strings.NewReader(assessmentsCSV), ImportOptions{
		Progress: func(rows int) { progressed = rows },
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 4, progressed)

	n, err = ImportTrends(ctx, db, strings.NewReader(trendsCSV), ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 6, n)

	ds, err := NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{})
	require.NoError(t, err)
	return ds
}

func TestResolveColumns_Imported(t *testing.T) {
	ds := seededDataset(t)
	assert.Equal(t, ColumnMap{
		State:      "state",
		District:   "district_name",
		Block:      "block_name",
		Extraction: "extraction",
		Category:   "category",
	}, ds.Columns())
}

func TestResolveColumns_Drifted(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	_, err := db.Exec(`CREATE TABLE gw (State_Name TEXT, District TEXT, Taluk TEXT, Stage_of_Extraction_pct REAL, Status TEXT)`)
	require.NoError(t, err)

	ds, err := NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{Table: "gw"})
	require.NoError(t, err)
	assert.Equal(t, ColumnMap{
		State:      "State_Name",
		District:   "District",
		Block:      "Taluk",
		Extraction: "Stage_of_Extraction_pct",
		Category:   "Status",
	}, ds.Columns())
}

func TestResolveColumns_Errors(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	_, err := NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{Table: "missing"})
	assert.ErrorIs(t, err, ErrSchema)

	_, err = db.Exec(`CREATE TABLE bare (state TEXT, notes TEXT)`)
	require.NoError(t, err)
	_, err = NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{Table: "bare"})
	assert.ErrorIs(t, err, ErrSchema)

	_, err = NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{Table: "bad;name"})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestLookup(t *testing.T) {
	ds := seededDataset(t)
	ctx := context.Background()

	t.Run("state average", func(t *testing.T) {
		rec, err := ds.Lookup(ctx, LevelState, "PUNJAB")
		require.NoError(t, err)
		assert.Equal(t, 150.5, rec.Extraction)
		assert.Equal(t, "Over-Exploited", rec.Category)
		assert.Equal(t, 2, rec.Rows)
	})

	t.Run("district lowercased on import", func(t *testing.T) {
		rec, err := ds.Lookup(ctx, LevelDistrict, "Amritsar")
		require.NoError(t, err)
		assert.Equal(t, 140.5, rec.Extraction)
	})

	t.Run("block row keeps stored category", func(t *testing.T) {
		rec, err := ds.Lookup(ctx, LevelBlock, "bihta")
		require.NoError(t, err)
		assert.Equal(t, 40.0, rec.Extraction)
		assert.Equal(t, "Safe", rec.Category)
		assert.Equal(t, 1, rec.Rows)
	})

	t.Run("missing figures", func(t *testing.T) {
		_, err := ds.Lookup(ctx, LevelState, "Kerala")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = ds.Lookup(ctx, LevelBlock, "adimali")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLocate(t *testing.T) {
	ds := seededDataset(t)
	ctx := context.Background()

	rec, err := ds.Locate(ctx, "Patna")
	require.NoError(t, err)
	assert.Equal(t, LevelDistrict, rec.Level)

	rec, err = ds.Locate(ctx, "Doraha")
	require.NoError(t, err)
	assert.Equal(t, LevelBlock, rec.Level)

	_, err = ds.Locate(ctx, "Atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDistinctLocations(t *testing.T) {
	ds := seededDataset(t)
	names, err := ds.DistinctLocations(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"Punjab", "Bihar", "Kerala",
		"ludhiana", "amritsar", "patna", "idukki",
		"doraha", "ajnala", "bihta", "adimali",
	}, names)
}

func TestTrend(t *testing.T) {
	ds := seededDataset(t)
	ctx := context.Background()

	tr, err := ds.Trend(ctx, "Punjab")
	require.NoError(t, err)
	assert.Equal(t, []string{"2017", "2020", "2022"}, tr.Labels)
	assert.Equal(t, []float64{165.9, 164.4, 157.7}, tr.Values)
	assert.Equal(t, "improving", tr.Diagnostic)

	tr, err = ds.Trend(ctx, "bihar")
	require.NoError(t, err)
	assert.Equal(t, "worsening", tr.Diagnostic)

	_, err = ds.Trend(ctx, "Kerala")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrend_NoTable(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	_, err := ImportAssessments(ctx, db, strings.NewReader(assessmentsCSV), ImportOptions{})
	require.NoError(t, err)

	ds, err := NewDataset(ctx, observability.NopLogger(), db, config.DatabaseConfig{})
	require.NoError(t, err)

	_, err = ds.Trend(ctx, "Punjab")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportTrends_LongLayout(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	n, err := ImportTrends(ctx, db, strings.NewReader("state,year,extraction\nGujarat,2020,53.2\nGujarat,2022,52.1\nGujarat,2023,\n"), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportAssessments_ShortRow(t *testing.T) {
	db := openMemory(t)
	_, err := ImportAssessments(context.Background(), db, strings.NewReader("a,b,c,d,e\nPunjab,Ludhiana\n"), ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "Safe"}, {70, "Safe"}, {70.01, "Semi-Critical"}, {90, "Semi-Critical"},
		{95, "Critical"}, {100, "Critical"}, {100.5, "Over-Exploited"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryFor(tt.v), "%v", tt.v)
	}
}
