// Package rowservice is the reference row service the csvview front ends
// talk to. It keeps user accounts, issues bearer tokens, ingests uploaded CSV
// files into a per-user table and serves them back as pages, counts and CSV
// exports, optionally filtered by case-insensitive substring per column.
//
// Storage is behind the Store interface with two implementations: SQLite
// (modernc.org/sqlite, the default) and PostgreSQL (pgx).
package rowservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
)

// Store errors.
var (
	ErrUserExists   = errors.New("user with this username or email already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrNoDataset    = errors.New("no dataset uploaded yet")
)

// User is a registered account.
type User struct {
	Username     string
	Email        string
	MobileNumber string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Dataset describes a user's uploaded CSV.
type Dataset struct {
	Owner      string
	Table      string
	Header     []string // original header names, one per colN
	Rows       int64
	UploadedAt time.Time
}

// RowReader yields CSV records until io.EOF. *csv.Reader satisfies it.
type RowReader interface {
	Read() ([]string, error)
}

// Store persists users and datasets.
//
// Filters map column names (id, col1..colN) to substring patterns. A filter
// on a column the dataset does not have matches nothing.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	FindUser(ctx context.Context, username string) (User, error)

	// ReplaceDataset drops the owner's previous dataset and loads rows with
	// one colN per header field, atomically. Returns the number of rows stored.
	ReplaceDataset(ctx context.Context, owner string, header []string, rows RowReader) (int64, error)
	Dataset(ctx context.Context, owner string) (Dataset, error)

	CountRows(ctx context.Context, owner string, filters map[string]string) (int64, error)
	PageRows(ctx context.Context, owner string, filters map[string]string, limit, offset int) ([]view.Record, error)

	// StreamRows calls fn with the cell values of every matching row, in id
	// order, without the id column.
	StreamRows(ctx context.Context, owner string, filters map[string]string, fn func(values []string) error) error

	Ping(ctx context.Context) error
	Close() error
}

// datasetTable returns the data table name for an owner. Usernames are
// arbitrary text, so the name is derived from a hash.
func datasetTable(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return "data_" + hex.EncodeToString(sum[:8])
}
