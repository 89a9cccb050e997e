// Package table holds the tabular representation of a management call's results.
package table

import (
	"fmt"

	"github.com/Azure/kusto-ingest-go/data/types"
	"github.com/Azure/kusto-ingest-go/data/value"
)

// Column describes a column in a result set.
type Column struct {
	// Name is the name of the column.
	Name string
	// Type is the scalar type stored by the column.
	Type types.Column
}

// Columns is a set of columns.
type Columns []Column

// Validate validates the columns are valid.
func (c Columns) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("Columns is zero length")
	}
	for i, col := range c {
		if col.Name == "" {
			return fmt.Errorf("column[%d].Name is empty", i)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("column[%d].Type %q is not a valid column type", i, col.Type)
		}
	}
	return nil
}

// Rowset is the materialized primary result of one management call: a set of columns
// and the rows beneath them.
type Rowset struct {
	// Columns are the columns of the result.
	Columns Columns
	// Rows are the data rows. Every row has one value per column.
	Rows []value.Values
}

// NewRowset creates a Rowset after validating the columns and the arity of every row.
func NewRowset(columns Columns, rows ...value.Values) (*Rowset, error) {
	if err := columns.Validate(); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row[%d] has %d values, want %d", i, len(row), len(columns))
		}
	}
	return &Rowset{Columns: columns, Rows: rows}, nil
}

// ColumnIndex returns the index of the named column, or -1 if no such column exists.
func (r *Rowset) ColumnIndex(name string) int {
	for i, col := range r.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}
