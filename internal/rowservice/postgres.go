package rowservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PoolConfig holds connection pool settings for OpenPostgres.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresStore keeps users and datasets in PostgreSQL. Uploads are loaded
// with the COPY protocol.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to url, verifies the connection and creates the
// schema.
func OpenPostgres(ctx context.Context, url string, pc PoolConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		poolConfig.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		poolConfig.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
	  username      TEXT        PRIMARY KEY,
	  email         TEXT        NOT NULL UNIQUE,
	  password_hash BYTEA       NOT NULL,
	  mobile_number TEXT        NOT NULL DEFAULT '',
	  created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS datasets (
	  owner       TEXT        PRIMARY KEY REFERENCES users(username),
	  table_name  TEXT        NOT NULL,
	  header      JSONB       NOT NULL,
	  row_count   BIGINT      NOT NULL,
	  uploaded_at TIMESTAMPTZ NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser inserts a new account.
func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, email, password_hash, mobile_number, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.Username, u.Email, u.PasswordHash, u.MobileNumber, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindUser loads an account by username.
func (s *PostgresStore) FindUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT username, email, password_hash, mobile_number, created_at FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.Email, &u.PasswordHash, &u.MobileNumber, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// Dataset returns the owner's dataset metadata.
func (s *PostgresStore) Dataset(ctx context.Context, owner string) (Dataset, error) {
	var (
		ds     Dataset
		header []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT owner, table_name, header, row_count, uploaded_at FROM datasets WHERE owner = $1`,
		owner).Scan(&ds.Owner, &ds.Table, &header, &ds.Rows, &ds.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dataset{}, ErrNoDataset
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	if err := json.Unmarshal(header, &ds.Header); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset header: %w", err)
	}
	return ds, nil
}

// ReplaceDataset swaps the owner's table for a fresh one loaded with COPY.
func (s *PostgresStore) ReplaceDataset(ctx context.Context, owner string, header []string, rows RowReader) (int64, error) {
	table := datasetTable(owner)
	n := len(header)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdentifier(table)); err != nil {
		return 0, fmt.Errorf("drop dataset table: %w", err)
	}
	if _, err := tx.Exec(ctx, createTableQuery(postgresDialect, table, n)); err != nil {
		return 0, fmt.Errorf("create dataset table: %w", err)
	}

	values := make([]any, n)
	var readErr error
	source := pgx.CopyFromFunc(func() ([]any, error) {
		record, err := rows.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			readErr = err
			return nil, err
		}
		for i := range values {
			values[i] = cellValue(record, i)
		}
		return values, nil
	})

	count, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columnNames(n), source)
	if readErr != nil {
		return 0, readErr
	}
	if err != nil {
		return 0, fmt.Errorf("copy rows: %w", err)
	}

	_, err = tx.Exec(ctx, `
	INSERT INTO datasets (owner, table_name, header, row_count, uploaded_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (owner) DO UPDATE SET
	  table_name = EXCLUDED.table_name,
	  header = EXCLUDED.header,
	  row_count = EXCLUDED.row_count,
	  uploaded_at = EXCLUDED.uploaded_at`,
		owner, table, headerJSON, count, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("record dataset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dataset: %w", err)
	}
	return count, nil
}

// CountRows counts the owner's rows matching filters.
func (s *PostgresStore) CountRows(ctx context.Context, owner string, filters map[string]string) (int64, error) {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return 0, err
	}

	q, args := countQuery(postgresDialect, ds.Table, len(ds.Header), filters)
	var total int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

// PageRows returns up to limit matching rows starting at offset.
func (s *PostgresStore) PageRows(ctx context.Context, owner string, filters map[string]string, limit, offset int) ([]view.Record, error) {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return nil, err
	}

	q, args := pageQuery(postgresDialect, ds.Table, len(ds.Header), filters, limit, offset)
	names := append([]string{"id"}, columnNames(len(ds.Header))...)

	out := make([]view.Record, 0, limit)
	err = s.scanRows(ctx, q, args, len(ds.Header), func(id int64, cells []sql.NullString) error {
		out = append(out, buildRecord(names, id, cells))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamRows calls fn for every matching row.
func (s *PostgresStore) StreamRows(ctx context.Context, owner string, filters map[string]string, fn func(values []string) error) error {
	ds, err := s.Dataset(ctx, owner)
	if err != nil {
		return err
	}

	q, args := streamQuery(postgresDialect, ds.Table, len(ds.Header), filters)
	values := make([]string, len(ds.Header))
	return s.scanRows(ctx, q, args, len(ds.Header), func(_ int64, cells []sql.NullString) error {
		for i, c := range cells {
			values[i] = c.String
		}
		return fn(values)
	})
}

func (s *PostgresStore) scanRows(ctx context.Context, q string, args []any, n int, fn func(id int64, cells []sql.NullString) error) error {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()

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
