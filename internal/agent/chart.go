package agent

import (
	"strings"
	"time"

	"github.com/nidhogg/sqlagent/internal/sqlrunner"
)

// ChartType is the kind of visualization suggested for a result.
type ChartType string

const (
	ChartBar   ChartType = "bar"
	ChartLine  ChartType = "line"
	ChartTable ChartType = "table"
)

// ChartSpec describes how a client should render a query result.
type ChartSpec struct {
	Type      ChartType `json:"type"`
	Title     string    `json:"title,omitempty"`
	X         string    `json:"x,omitempty"`
	Y         []string  `json:"y,omitempty"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	Truncated bool      `json:"truncated,omitempty"`
}

// BuildChart picks a chart for res. The first column is the x axis and
// every other numeric column is a series. Temporal x axes give a line
// chart, categorical ones a bar chart. Results without a numeric series
// are shown as a table. A valid preferred type overrides the choice as long
// as a series exists.
func BuildChart(res *sqlrunner.Result, title string, preferred ChartType) *ChartSpec {
	spec := &ChartSpec{
		Type:      ChartTable,
		Title:     title,
		Columns:   res.Columns,
		Rows:      res.Rows,
		Truncated: res.Truncated,
	}
	if spec.Rows == nil {
		spec.Rows = [][]any{}
	}
	if len(res.Columns) < 2 || len(res.Rows) == 0 {
		return spec
	}

	for i := 1; i < len(res.Columns); i++ {
		if numericColumn(res.Rows, i) {
			spec.Y = append(spec.Y, res.Columns[i])
		}
	}
	if len(spec.Y) == 0 {
		return spec
	}
	spec.X = res.Columns[0]

	switch preferred {
	case ChartBar, ChartLine, ChartTable:
		spec.Type = preferred
	default:
		if temporalColumn(res.Columns[0], res.Rows) {
			spec.Type = ChartLine
		} else {
			spec.Type = ChartBar
		}
	}
	return spec
}

func numericColumn(rows [][]any, col int) bool {
	seen := false
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}

var temporalNames = []string{"date", "time", "day", "week", "month", "year", "quarter", "period"}

func temporalColumn(name string, rows [][]any) bool {
	lower := strings.ToLower(name)
	for _, n := range temporalNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	for _, row := range rows {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		s, ok := row[0].(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339Nano, s)
		return err == nil
	}
	return false
}
