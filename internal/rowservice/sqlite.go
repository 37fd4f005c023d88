package rowservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteStore keeps users and datasets in one SQLite file.
type SQLiteStore struct {
	db        *sql.DB
	batchSize int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, batchSize int) (*SQLiteStore, error) {
	// WAL + busy timeout to avoid "database is locked"; immediate
	// transactions so concurrent uploads queue instead of deadlocking.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = 1000
	}
	return &SQLiteStore{db: db, batchSize: batchSize}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users(
	  username      TEXT    PRIMARY KEY,
	  email         TEXT    NOT NULL UNIQUE,
	  password_hash BLOB    NOT NULL,
	  mobile_number TEXT    NOT NULL DEFAULT '',
	  created_at    INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS datasets(
	  owner       TEXT    PRIMARY KEY REFERENCES users(username),
	  table_name  TEXT    NOT NULL,
	  header      TEXT    NOT NULL CHECK (json_valid(header)),
	  row_count   INTEGER NOT NULL,
	  uploaded_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account.
func (s *SQLiteStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, email, password_hash, mobile_number, created_at) VALUES(?,?,?,?,?)`,
		u.Username, u.Email, u.PasswordHash, u.MobileNumber, u.CreatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindUser loads an account by username.
func (s *SQLiteStore) FindUser(ctx context.Context, username string) (User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, email, password_hash, mobile_number, created_at FROM users WHERE username = ?`,
		username).Scan(&u.Username, &u.Email, &u.PasswordHash, &u.MobileNumber, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

// Dataset returns the owner's dataset metadata.
func (s *SQLiteStore) Dataset(ctx context.Context, owner string) (Dataset, error) {
	var (
		ds       Dataset
		header   string
		uploaded int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, table_name, header, row_count, uploaded_at FROM datasets WHERE owner = ?`,
		owner).Scan(&ds.Owner, &ds.Table, &header, &ds.Rows, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, ErrNoDataset
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	if err := json.Unmarshal([]byte(header), &ds.Header); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset header: %w", err)
	}
	ds.UploadedAt = time.Unix(uploaded, 0).UTC()
	return ds, nil
}

// ReplaceDataset swaps the owner's table for a fresh one holding rows.
func (s *SQLiteStore) ReplaceDataset(ctx context.Context, owner string, header []string, rows RowReader) (int64, error) {
	table := datasetTable(owner)
	n := len(header)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdentifier(table)); err != nil {
		return 0, fmt.Errorf("drop dataset table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableQuery(sqliteDialect, table, n)); err != nil {
		return 0, fmt.Errorf("create dataset table: %w", err)
	}

	cols := columnNames(n)
	quoted := make([]string, n)
	for i, c := range cols {
		quoted[i] = quoteIdentifier(c)
	}
	insert := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)",
		quoteIdentifier(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?,", n), ","))

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var count int64
	args := make([]any, n)
	for {
		record, err := rows.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		for i := range args {
			args[i] = cellValue(record, i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert row %d: %w", count+1, err)
		}
		count++
		if count%int64(s.batchSize) == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO datasets(owner, table_name, header, row_count, uploaded_at) VALUES(?,?,?,?,?)
	ON CONFLICT(owner) DO UPDATE SET
	  table_name = excluded.table_name,
	  header = excluded.header,
	  row_count = excluded.row_count,
	  uploaded_at = excluded.uploaded_at`,
		owner, table, string(headerJSON), count, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("record dataset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit dataset: %w", err)
	}
	return count, nil
}

// CountRows counts the owner's rows matching filters.
func (s *SQLiteStore) CountRows(ctx context.Context, owner string, filters map[string]string) (int64, error) {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return 0, err
	}

	q, args := countQuery(sqliteDialect, ds.Table, len(ds.Header), filters)
	var total int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

// PageRows returns up to limit matching rows starting at offset.
func (s *SQLiteStore) PageRows(ctx context.Context, owner string, filters map[string]string, limit, offset int) ([]view.Record, error) {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return nil, err
	}

	q, args := pageQuery(sqliteDialect, ds.Table, len(ds.Header), filters, limit, offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select page: %w", err)
	}
	defer rows.Close()

	names := append([]string{"id"}, columnNames(len(ds.Header))...)
	out := make([]view.Record, 0, limit)
	err = scanSQLRows(rows, len(ds.Header), func(id int64, cells []sql.NullString) error {
		out = append(out, buildRecord(names, id, cells))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamRows calls fn for every matching row.
func (s *SQLiteStore) StreamRows(ctx context.Context, owner string, filters map[string]string, fn func(values []string) error) error {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return err
	}

	q, args := streamQuery(sqliteDialect, ds.Table, len(ds.Header), filters)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()

	values := make([]string, len(ds.Header))
	return scanSQLRows(rows, len(ds.Header), func(_ int64, cells []sql.NullString) error {
		for i, c := range cells {
			values[i] = c.String
		}
		return fn(values)
	})
}

// scanSQLRows scans id + n text columns per row.
func scanSQLRows(rows *sql.Rows, n int, fn func(id int64, cells []sql.NullString) error) error {
	var id int64
	cells := make([]sql.NullString, n)
	dest := make([]any, n+1)
	dest[0] = &id
	for i := range cells {
		dest[i+1] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(id, cells); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}

// buildRecord turns one scanned row into a Record keyed id, col1..colN.
// NULL cells become nil.
func buildRecord(names []string, id int64, cells []sql.NullString) view.Record {
	fields := make([]view.Field, 0, len(names))
	fields = append(fields, view.Field{Name: names[0], Value: id})
	for i, c := range cells {
		var v any
		if c.Valid {
			v = c.String
		}
		fields = append(fields, view.Field{Name: names[i+1], Value: v})
	}
	return view.NewRecord(fields...)
}

// cellValue returns record[i], or nil when the row is shorter than the
// header.
func cellValue(record []string, i int) any {
	if i < len(record) {
		return record[i]
	}
	return nil
}
