package rowservice

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the two stores.
type dialect struct {
	name string

	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string

	// contains renders a case-insensitive substring test of col against a
	// bound, already escaped, %pattern%.
	contains func(col, ph string) string

	// idColumn is the DDL for the surrogate key.
	idColumn string
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	contains: func(col, ph string) string {
		return fmt.Sprintf(`lower(CAST(%s AS TEXT)) LIKE lower(%s) ESCAPE '\'`, col, ph)
	},
	idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT",
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	contains: func(col, ph string) string {
		return fmt.Sprintf(`%s::text ILIKE %s ESCAPE '\'`, col, ph)
	},
	idColumn: "id BIGSERIAL PRIMARY KEY",
}

var dataColumn = regexp.MustCompile(`^col([1-9][0-9]*)$`)

// quoteIdentifier quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnNames returns col1..colN.
func columnNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "col" + strconv.Itoa(i+1)
	}
	return names
}

// escapeLike escapes LIKE wildcards so a pattern matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// validColumn reports whether name is a column of a dataset with n fields.
func validColumn(name string, n int) bool {
	if name == "id" {
		return true
	}
	m := dataColumn.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	idx, err := strconv.Atoi(m[1])
	return err == nil && idx <= n
}

// whereBuilder assembles a WHERE clause from column filters.
type whereBuilder struct {
	d     dialect
	n     int // dataset width
	parts []string
	args  []any
	never bool
}

func newWhereBuilder(d dialect, columns int) *whereBuilder {
	return &whereBuilder{d: d, n: columns}
}

// addFilters adds one substring condition per non-empty filter, in column
// order so the generated SQL is stable.
func (b *whereBuilder) addFilters(filters map[string]string) *whereBuilder {
	cols := make([]string, 0, len(filters))
	for col, pattern := range filters {
		if pattern != "" {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)

	for _, col := range cols {
		if !validColumn(col, b.n) {
			b.never = true
			continue
		}
		b.args = append(b.args, "%"+escapeLike(filters[col])+"%")
		ph := b.d.placeholder(len(b.args))
		b.parts = append(b.parts, b.d.contains(quoteIdentifier(col), ph))
	}
	return b
}

// build returns the clause (with leading " WHERE ", or empty) and its args.
func (b *whereBuilder) build() (string, []any) {
	if b.never {
		return " WHERE 1=0", nil
	}
	if len(b.parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.parts, " AND "), b.args
}

// selectList is "id", "col1", ... "colN".
func selectList(n int) string {
	cols := append([]string{"id"}, columnNames(n)...)
	for i, c := range cols {
		cols[i] = quoteIdentifier(c)
	}
	return strings.Join(cols, ", ")
}

func countQuery(d dialect, table string, n int, filters map[string]string) (string, []any) {
	where, args := newWhereBuilder(d, n).addFilters(filters).build()
	return "SELECT COUNT(*) FROM " + quoteIdentifier(table) + where, args
}

func pageQuery(d dialect, table string, n int, filters map[string]string, limit, offset int) (string, []any) {
	where, args := newWhereBuilder(d, n).addFilters(filters).build()
	args = append(args, limit, offset)
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT %s OFFSET %s",
		selectList(n), quoteIdentifier(table), where, quoteIdentifier("id"),
		d.placeholder(len(args)-1), d.placeholder(len(args)))
	return q, args
}

func streamQuery(d dialect, table string, n int, filters map[string]string) (string, []any) {
	where, args := newWhereBuilder(d, n).addFilters(filters).build()
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		selectList(n), quoteIdentifier(table), where, quoteIdentifier("id"))
	return q, args
}

func createTableQuery(d dialect, table string, n int) string {
	defs := []string{d.idColumn}
	for _, c := range columnNames(n) {
		defs = append(defs, quoteIdentifier(c)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(table), strings.Join(defs, ", "))
}
