package query

import (
	"reflect"
	"strconv"
	"strings"
)

// SortField is one ORDER BY term. Field is a projected view name.
type SortField struct {
	Field      string
	Descending bool
}

// ParseSortFields parses "Status,-CreatedAt" style input. A leading "-"
// marks a descending field. Empty input yields nil.
func ParseSortFields(s string) []SortField {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, desc := strings.CutPrefix(part, "-")
		fields = append(fields, SortField{Field: name, Descending: desc})
	}
	return fields
}

// predicate is a WHERE fragment using "?" placeholders. Placeholders are
// numbered when the statement is rendered.
type predicate struct {
	sql  string
	args []any
}

// Builder renders SELECT statements against a ProjectionMap using
// PostgreSQL positional parameters.
type Builder struct {
	projection  *ProjectionMap
	predicates  []predicate
	sort        []SortField
	defaultSort []SortField
	fields      []string
	lock        bool
}

// NewBuilder returns a Builder over projection. defaultSort applies when
// OrderByFields is never called with a non-empty list.
func NewBuilder(projection *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{
		projection:  projection,
		defaultSort: defaultSort,
	}
}

// Select narrows the selected columns to the given view names.
func (b *Builder) Select(fields ...string) *Builder {
	b.fields = fields
	return b
}

// OrderByFields replaces the default sort.
func (b *Builder) OrderByFields(fields []SortField) *Builder {
	b.sort = fields
	return b
}

// ForUpdate appends a row lock to single and list statements.
func (b *Builder) ForUpdate() *Builder {
	b.lock = true
	return b
}

// WhereEquals adds field = value. Nil values are ignored so optional
// filters can be passed straight through.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	return b.where(b.projection.Column(field)+" = ?", value)
}

// WhereIn adds field IN (...). An empty set is ignored.
func (b *Builder) WhereIn(field string, values ...any) *Builder {
	if len(values) == 0 {
		return b
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.where(b.projection.Column(field)+" IN ("+marks+")", values...)
}

// WhereAtMost adds field <= value.
func (b *Builder) WhereAtMost(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	return b.where(b.projection.Column(field)+" <= ?", value)
}

// WhereSearch adds a case-insensitive substring match OR'd across fields.
func (b *Builder) WhereSearch(search *string, fields ...string) *Builder {
	if search == nil || *search == "" || len(fields) == 0 {
		return b
	}

	pattern := "%" + *search + "%"
	terms := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		terms[i] = b.projection.Column(f) + " ILIKE ?"
		args[i] = pattern
	}
	return b.where("("+strings.Join(terms, " OR ")+")", args...)
}

// WhereNull adds field IS NULL.
func (b *Builder) WhereNull(field string) *Builder {
	return b.where(b.projection.Column(field) + " IS NULL")
}

// WhereEither adds (left OR right). Each side is built on a scratch Builder
// over the same projection and its predicates are AND'd. An empty side
// makes the whole group a no-op.
func (b *Builder) WhereEither(left, right func(*Builder)) *Builder {
	var (
		sides []string
		args  []any
	)
	for _, build := range []func(*Builder){left, right} {
		scratch := &Builder{projection: b.projection}
		build(scratch)
		if len(scratch.predicates) == 0 {
			return b
		}
		terms := make([]string, len(scratch.predicates))
		for i, p := range scratch.predicates {
			terms[i] = p.sql
			args = append(args, p.args...)
		}
		sides = append(sides, strings.Join(terms, " AND "))
	}
	return b.where("("+strings.Join(sides, " OR ")+")", args...)
}

func (b *Builder) where(sql string, args ...any) *Builder {
	b.predicates = append(b.predicates, predicate{sql: sql, args: args})
	return b
}

// BuildCount renders SELECT COUNT(*) with the current predicates.
func (b *Builder) BuildCount() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.projection.From())
	args := b.writeWhere(&sb, nil)
	return sb.String(), args
}

// BuildPage renders a paged SELECT. page is 1-based.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	sb, args := b.selectFrom()
	b.writeOrder(sb)
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(pageSize))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.Itoa((page - 1) * pageSize))
	b.writeLock(sb)
	return sb.String(), args
}

// BuildList renders an ordered SELECT capped at limit rows. A limit of
// zero or less renders no LIMIT clause.
func (b *Builder) BuildList(limit int) (string, []any) {
	sb, args := b.selectFrom()
	b.writeOrder(sb)
	if limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	b.writeLock(sb)
	return sb.String(), args
}

// BuildSingle renders a SELECT for the row whose idField equals id.
// Existing predicates are ignored.
func (b *Builder) BuildSingle(idField string, id any) (string, []any) {
	single := &Builder{
		projection: b.projection,
		fields:     b.fields,
		lock:       b.lock,
	}
	single.WhereEquals(idField, id)

	sb, args := single.selectFrom()
	single.writeLock(sb)
	return sb.String(), args
}

func (b *Builder) selectFrom() (*strings.Builder, []any) {
	sb := &strings.Builder{}
	sb.WriteString("SELECT ")
	if len(b.fields) > 0 {
		cols := make([]string, len(b.fields))
		for i, f := range b.fields {
			cols[i] = b.projection.Column(f)
		}
		sb.WriteString(strings.Join(cols, ", "))
	} else {
		sb.WriteString(b.projection.Columns())
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.projection.From())
	return sb, b.writeWhere(sb, nil)
}

func (b *Builder) writeWhere(sb *strings.Builder, args []any) []any {
	for i, p := range b.predicates {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}

		next := 0
		for _, r := range p.sql {
			if r != '?' {
				sb.WriteRune(r)
				continue
			}
			args = append(args, p.args[next])
			next++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(len(args)))
		}
	}
	return args
}

func (b *Builder) writeOrder(sb *strings.Builder) {
	fields := b.sort
	if len(fields) == 0 {
		fields = b.defaultSort
	}

	for i, f := range fields {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(b.projection.Column(f.Field))
		if f.Descending {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
}

func (b *Builder) writeLock(sb *strings.Builder) {
	if b.lock {
		sb.WriteString(" FOR UPDATE")
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
