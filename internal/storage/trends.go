package storage

import (
	"context"
	"fmt"
	"strconv"
)

// Trend is the yearly extraction series of one state.
type Trend struct {
	Name       string    `json:"name"`
	Labels     []string  `json:"labels"`
	Values     []float64 `json:"values"`
	Diagnostic string    `json:"diagnostic"` // improving, worsening or stable
}

// Trend returns the yearly series for state from the trend table.
func (d *Dataset) Trend(ctx context.Context, state string) (*Trend, error) {
	if !d.hasTrends {
		return nil, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	q := fmt.Sprintf(`SELECT year, extraction FROM %s WHERE LOWER(state) = LOWER(%s) ORDER BY year`,
		quoteIdent(d.cfg.TrendTable), d.placeholder(1))
	rows, err := d.db.QueryContext(ctx, q, state)
	if err != nil {
		return nil, fmt.Errorf("trend %s: %w", state, err)
	}
	defer rows.Close()

	t := &Trend{Name: state}
	for rows.Next() {
		var (
			year int
			val  float64
		)
		if err := rows.Scan(&year, &val); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		t.Labels = append(t.Labels, strconv.Itoa(year))
		t.Values = append(t.Values, round2(val))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Values) == 0 {
		return nil, ErrNotFound
	}

	t.Diagnostic = diagnose(t.Values)
	return t, nil
}

// diagnose compares the first and last points. A rise of more than two
// percentage points is worsening, a fall of more than two is improving.
func diagnose(values []float64) string {
	delta := values[len(values)-1] - values[0]
	switch {
	case delta > 2:
		return "worsening"
	case delta < -2:
		return "improving"
	default:
		return "stable"
	}
}

func (d *Dataset) detectTrends(ctx context.Context) {
	cols, err := tableColumns(ctx, d.db, d.driver, d.cfg.TrendTable)
	if err != nil {
		d.logger.Debug().Err(err).Msg("trend table unavailable")
		return
	}
	want := map[string]bool{"state": false, "year": false, "extraction": false}
	for _, c := range cols {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for _, ok := range want {
		if !ok {
			return
		}
	}
	d.hasTrends = true
}
