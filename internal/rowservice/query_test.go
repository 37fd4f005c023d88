package rowservice

import (
	"reflect"
	"testing"
)

func TestCountQuery(t *testing.T) {
	tests := []struct {
		name     string
		d        dialect
		filters  map[string]string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no filters",
			d:       sqliteDialect,
			wantSQL: `SELECT COUNT(*) FROM "t"`,
		},
		{
			name:     "sqlite sorted and escaped",
			d:        sqliteDialect,
			filters:  map[string]string{"col2": "a_b", "col1": "x"},
			wantSQL:  `SELECT COUNT(*) FROM "t" WHERE lower(CAST("col1" AS TEXT)) LIKE lower(?) ESCAPE '\' AND lower(CAST("col2" AS TEXT)) LIKE lower(?) ESCAPE '\'`,
			wantArgs: []any{"%x%", `%a\_b%`},
		},
		{
			name:     "postgres numbered placeholders",
			d:        postgresDialect,
			filters:  map[string]string{"col1": "50%", "id": "7"},
			wantSQL:  `SELECT COUNT(*) FROM "t" WHERE "col1"::text ILIKE $1 ESCAPE '\' AND "id"::text ILIKE $2 ESCAPE '\'`,
			wantArgs: []any{`%50\%%`, "%7%"},
		},
		{
			name:    "empty pattern ignored",
			d:       sqliteDialect,
			filters: map[string]string{"col1": ""},
			wantSQL: `SELECT COUNT(*) FROM "t"`,
		},
		{
			name:    "unknown column matches nothing",
			d:       sqliteDialect,
			filters: map[string]string{"col1": "x", "city": "bos"},
			wantSQL: `SELECT COUNT(*) FROM "t" WHERE 1=0`,
		},
		{
			name:    "column past dataset width",
			d:       postgresDialect,
			filters: map[string]string{"col3": "x"},
			wantSQL: `SELECT COUNT(*) FROM "t" WHERE 1=0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs := countQuery(tt.d, "t", 2, tt.filters)
			if gotSQL != tt.wantSQL {
				t.Errorf("sql = %s\nwant  %s", gotSQL, tt.wantSQL)
			}
			if len(gotArgs) != len(tt.wantArgs) || (len(gotArgs) > 0 && !reflect.DeepEqual(gotArgs, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestPageQuery(t *testing.T) {
	gotSQL, gotArgs := pageQuery(postgresDialect, "t", 1, map[string]string{"col1": "x"}, 10, 20)

	wantSQL := `SELECT "id", "col1" FROM "t" WHERE "col1"::text ILIKE $1 ESCAPE '\' ORDER BY "id" LIMIT $2 OFFSET $3`
	if gotSQL != wantSQL {
		t.Errorf("sql = %s\nwant  %s", gotSQL, wantSQL)
	}
	if want := []any{"%x%", 10, 20}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}

	gotSQL, gotArgs = pageQuery(sqliteDialect, "t", 2, nil, 5, 0)
	wantSQL = `SELECT "id", "col1", "col2" FROM "t" ORDER BY "id" LIMIT ? OFFSET ?`
	if gotSQL != wantSQL {
		t.Errorf("sql = %s\nwant  %s", gotSQL, wantSQL)
	}
	if want := []any{5, 0}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
}

func TestCreateTableQuery(t *testing.T) {
	got := createTableQuery(sqliteDialect, "data_x", 2)
	want := `CREATE TABLE "data_x" (id INTEGER PRIMARY KEY AUTOINCREMENT, "col1" TEXT, "col2" TEXT)`
	if got != want {
		t.Errorf("createTableQuery = %s, want %s", got, want)
	}
}

func TestValidColumn(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"id", true},
		{"col1", true},
		{"col3", true},
		{"col4", false},
		{"col0", false},
		{"col01", false},
		{"name", false},
		{"col1; DROP TABLE users", false},
	}
	for _, tt := range tests {
		if got := validColumn(tt.name, 3); got != tt.want {
			t.Errorf("validColumn(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	if got, want := quoteIdentifier(`a"b`), `"a""b"`; got != want {
		t.Errorf("quoteIdentifier = %s, want %s", got, want)
	}
}

func TestDatasetTable(t *testing.T) {
	a, b := datasetTable("alice"), datasetTable("bob")
	if a == b {
		t.Errorf("datasetTable collides: %s", a)
	}
	if a != datasetTable("alice") {
		t.Error("datasetTable is not stable")
	}
	if len(a) != len("data_")+16 {
		t.Errorf("datasetTable = %s, want data_ + 16 hex chars", a)
	}
}
