// Package clidb reads the login state of the vendor's command-line client
// from its local SQLite database.
//
// The database is only ever opened read-only. Keys read:
//
//	auth_kv  codewhisperer:odic:token                -> {"access_token", "refresh_token"}
//	auth_kv  codewhisperer:odic:device-registration  -> {"client_id", "client_secret"}
//	state    api.codewhisperer.profile               -> {"arn"}
package clidb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/mattn/go-sqlite3"
)

const (
	tokenKey        = "codewhisperer:odic:token"
	registrationKey = "codewhisperer:odic:device-registration"
	profileKey      = "api.codewhisperer.profile"
)

// ErrNotFound is returned when no database path yields any credential.
var ErrNotFound = errors.New("vendor CLI credentials not found")

// Record is what the CLI database holds. Any field may be empty; only the
// token row is required to be readable.
type Record struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	ProfileARN   string
}

func (r *Record) empty() bool {
	return *r == (Record{})
}

// Reader looks up the first database in Paths that holds credentials.
type Reader struct {
	Paths []string
}

// NewReader creates a Reader over paths, or DefaultPaths when none are given.
func NewReader(paths ...string) *Reader {
	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	return &Reader{Paths: paths}
}

// DefaultPaths returns the database locations used by the CLI on this OS.
func DefaultPaths() []string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "windows":
		return []string{filepath.Join(os.Getenv("LOCALAPPDATA"), "amazon-q", "data.sqlite3")}
	case "darwin":
		return []string{
			filepath.Join(home, "Library", "Application Support", "amazon-q", "data.sqlite3"),
			filepath.Join(home, ".aws", "amazon-q", "data.sqlite3"),
		}
	default:
		return []string{filepath.Join(home, ".local", "share", "amazon-q", "data.sqlite3")}
	}
}

// Read returns the credentials of the first database that has any. Missing
// files are skipped; a database that fails to read is skipped too, and its
// error is attached to ErrNotFound when nothing else is found.
func (r *Reader) Read(ctx context.Context) (*Record, error) {
	var errs []error
	for _, path := range r.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}

		rec, err := readDatabase(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if !rec.empty() {
			return rec, nil
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
	}
	return nil, ErrNotFound
}

func readDatabase(ctx context.Context, path string) (*Record, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var rec Record

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := lookup(ctx, db, "auth_kv", tokenKey, &token); err != nil {
		return nil, err
	}
	rec.AccessToken = token.AccessToken
	rec.RefreshToken = token.RefreshToken

	// Registration and profile only enrich the token; a database without
	// them still yields it.
	var registration struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := lookup(ctx, db, "auth_kv", registrationKey, &registration); err != nil {
		slog.DebugContext(ctx, "CLI device registration unavailable", "path", path, "error", err)
	} else {
		rec.ClientID = registration.ClientID
		rec.ClientSecret = registration.ClientSecret
	}

	var profile struct {
		ARN string `json:"arn"`
	}
	if err := lookup(ctx, db, "state", profileKey, &profile); err != nil {
		slog.DebugContext(ctx, "CLI profile unavailable", "path", path, "error", err)
	} else {
		rec.ProfileARN = profile.ARN
	}

	return &rec, nil
}

// lookup decodes the JSON value stored under key. A missing row leaves v
// untouched.
func lookup(ctx context.Context, db *sql.DB, table, key string, v any) error {
	var value string
	// table is one of two package constants, never user input.
	err := db.QueryRowContext(ctx, "SELECT value FROM "+table+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s[%s]: %w", table, key, err)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return fmt.Errorf("decoding %s[%s]: %w", table, key, err)
	}
	return nil
}
