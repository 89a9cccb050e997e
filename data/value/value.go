/*
Package value holds the scalar value representations used in tabular results.

Each type stores the native value and a Valid field which indicates whether the
value was set or was null in the service's response:

	value.Bool
	value.Int
	value.Long
	value.Real
	value.Decimal
	value.String
	value.DateTime
	value.GUID

All of them implement the Kusto interface.
*/
package value

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kusto represents a scalar value held in a tabular result.
type Kusto interface {
	fmt.Stringer
	isKustoVal()
}

// Values is a list of Kusto values, usually an ordered row.
type Values []Kusto

// Bool represents a boolean. Bool implements Kusto.
type Bool struct {
	// Value holds the value of the type.
	Value bool
	// Valid indicates if this value was set.
	Valid bool
}

func (Bool) isKustoVal() {}

// String implements fmt.Stringer.
func (b Bool) String() string {
	if !b.Valid {
		return ""
	}
	if b.Value {
		return "true"
	}
	return "false"
}

// Int represents an int32. Int implements Kusto.
type Int struct {
	// Value holds the value of the type.
	Value int32
	// Valid indicates if this value was set.
	Valid bool
}

func (Int) isKustoVal() {}

// String implements fmt.Stringer.
func (i Int) String() string {
	if !i.Valid {
		return ""
	}
	return fmt.Sprintf("%d", i.Value)
}

// Long represents an int64. Long implements Kusto.
type Long struct {
	// Value holds the value of the type.
	Value int64
	// Valid indicates if this value was set.
	Valid bool
}

func (Long) isKustoVal() {}

// String implements fmt.Stringer.
func (l Long) String() string {
	if !l.Valid {
		return ""
	}
	return fmt.Sprintf("%d", l.Value)
}

// Real represents a float64. Real implements Kusto.
type Real struct {
	// Value holds the value of the type.
	Value float64
	// Valid indicates if this value was set.
	Valid bool
}

func (Real) isKustoVal() {}

// String implements fmt.Stringer.
func (r Real) String() string {
	if !r.Valid {
		return ""
	}
	return fmt.Sprintf("%v", r.Value)
}

// Decimal represents a 128-bit decimal. Decimal implements Kusto.
type Decimal struct {
	// Value holds the value of the type.
	Value decimal.Decimal
	// Valid indicates if this value was set.
	Valid bool
}

func (Decimal) isKustoVal() {}

// String implements fmt.Stringer.
func (d Decimal) String() string {
	if !d.Valid {
		return ""
	}
	return d.Value.String()
}

// String represents a string value. String implements Kusto.
type String struct {
	// Value holds the value of the type.
	Value string
	// Valid indicates if this value was set.
	Valid bool
}

func (String) isKustoVal() {}

// String implements fmt.Stringer.
func (s String) String() string {
	if !s.Valid {
		return ""
	}
	return s.Value
}

// DateTime represents a point in time. DateTime implements Kusto.
type DateTime struct {
	// Value holds the value of the type.
	Value time.Time
	// Valid indicates if this value was set.
	Valid bool
}

func (DateTime) isKustoVal() {}

// String implements fmt.Stringer.
func (d DateTime) String() string {
	if !d.Valid {
		return ""
	}
	return d.Value.Format(time.RFC3339Nano)
}

// GUID represents a guid. GUID implements Kusto.
type GUID struct {
	// Value holds the value of the type.
	Value uuid.UUID
	// Valid indicates if this value was set.
	Valid bool
}

func (GUID) isKustoVal() {}

// String implements fmt.Stringer.
func (g GUID) String() string {
	if !g.Valid {
		return ""
	}
	return g.Value.String()
}
