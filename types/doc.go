// Package types holds the filter options DSL shared by repository calls,
// paging requests and results, and JSON column values.
package types
