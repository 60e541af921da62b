package sqlrunner

import "context"

// Runner executes SQL against the analytics database.
type Runner interface {
	Run(ctx context.Context, sql string) (*Result, error)
	Ping(ctx context.Context) error
	Close()
}

// Result is a query result converted to JSON-friendly values.
type Result struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowCount     int      `json:"row_count"`
	Truncated    bool     `json:"truncated,omitempty"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	Command      string   `json:"command,omitempty"`
}
