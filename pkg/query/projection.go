// Package query renders PostgreSQL SELECT statements from a projection of
// view names onto table columns.
package query

import "strings"

// ProjectionMap maps view names (the Go field names callers sort and
// filter by) onto alias-qualified columns of one table.
type ProjectionMap struct {
	table   string
	alias   string
	columns map[string]string
	order   []string
}

// NewProjectionMap starts a projection over schema.table aliased as alias.
// An empty schema leaves the table unqualified.
func NewProjectionMap(schema, table, alias string) *ProjectionMap {
	if schema != "" {
		table = schema + "." + table
	}
	return &ProjectionMap{
		table:   table,
		alias:   alias,
		columns: make(map[string]string),
	}
}

// Project exposes column under viewName. Projection order is select order.
func (p *ProjectionMap) Project(column, viewName string) *ProjectionMap {
	qualified := p.alias + "." + column
	p.columns[viewName] = qualified
	p.order = append(p.order, qualified)
	return p
}

// From is the FROM target, "schema.table alias".
func (p *ProjectionMap) From() string {
	return p.table + " " + p.alias
}

// Has reports whether viewName is projected.
func (p *ProjectionMap) Has(viewName string) bool {
	_, ok := p.columns[viewName]
	return ok
}

// Column resolves viewName, falling back to the name itself.
func (p *ProjectionMap) Column(viewName string) string {
	if col, ok := p.columns[viewName]; ok {
		return col
	}
	return viewName
}

// Columns is the projected select list.
func (p *ProjectionMap) Columns() string {
	return strings.Join(p.order, ", ")
}
