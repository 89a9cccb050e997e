// Package types holds the scalar column types used by the service's tabular results.
package types

// Column is a type of column data stored by the service.
type Column string

// These constants represent the scalar column types the service returns.
const (
	// Bool indicates a column is a boolean.
	Bool Column = "bool"
	// DateTime indicates a column is a datetime.
	DateTime Column = "datetime"
	// Dynamic indicates a column holds dynamic (JSON-like) data.
	Dynamic Column = "dynamic"
	// GUID indicates a column holds a guid.
	GUID Column = "guid"
	// Int indicates a column holds an int32.
	Int Column = "int"
	// Long indicates a column holds an int64.
	Long Column = "long"
	// Real indicates a column holds a float64.
	Real Column = "real"
	// String indicates a column holds a string.
	String Column = "string"
	// Timespan indicates a column holds a duration.
	Timespan Column = "timespan"
	// Decimal indicates a column holds a 128-bit decimal.
	Decimal Column = "decimal"
)

var valid = map[Column]bool{
	Bool: true, DateTime: true, Dynamic: true, GUID: true, Int: true,
	Long: true, Real: true, String: true, Timespan: true, Decimal: true,
}

// Valid reports whether c is a valid column type.
func (c Column) Valid() bool {
	return valid[c]
}
