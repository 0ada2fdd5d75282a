package export

import (
	"fmt"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/itchyny/gojq"
)

// Filter keeps the rows for which every jq expression is truthy.
// Expressions see a row as {"date", "description", "net", "balance"}.
type Filter struct {
	codes []*gojq.Code
}

// NewFilter compiles the expressions. No expressions keeps every row.
func NewFilter(exprs []string) (*Filter, error) {
	f := &Filter{codes: make([]*gojq.Code, 0, len(exprs))}
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		f.codes = append(f.codes, code)
	}
	return f, nil
}

// Apply returns the rows that pass the filter, in order.
func (f *Filter) Apply(rows []ledger.Row) ([]ledger.Row, error) {
	if f == nil || len(f.codes) == 0 {
		return rows, nil
	}
	out := make([]ledger.Row, 0, len(rows))
	for _, row := range rows {
		keep, err := f.Keep(row)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// Keep evaluates the filter against one row.
func (f *Filter) Keep(row ledger.Row) (bool, error) {
	input := map[string]any{
		"date":        row.Date,
		"description": row.Description,
		"net":         row.Net,
		"balance":     row.Balance,
	}
	for _, code := range f.codes {
		iter := code.Run(input)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("jq filter failed on %q: %w", row.Description, err)
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy follows jq: only false and null are false.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
