package clidb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture creates a CLI database at dir/name with the given rows.
func fixture(t *testing.T, dir, name string, authKV, state map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`
		CREATE TABLE auth_kv (key TEXT PRIMARY KEY, value TEXT);
		CREATE TABLE state (key TEXT PRIMARY KEY, value TEXT);
	`)
	require.NoError(t, err)

	for k, v := range authKV {
		_, err := db.Exec(`INSERT INTO auth_kv (key, value) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}
	for k, v := range state {
		_, err := db.Exec(`INSERT INTO state (key, value) VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}
	return path
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	path := fixture(t, dir, "data.sqlite3",
		map[string]string{
			tokenKey:        `{"access_token":"at-1","refresh_token":"rt-1","expires_at":"2030-01-01T00:00:00Z"}`,
			registrationKey: `{"client_id":"cid","client_secret":"secret","region":"us-east-1"}`,
		},
		map[string]string{
			profileKey: `{"arn":"arn:aws:codewhisperer:us-east-1:123:profile/ABC","profile_name":"default"}`,
		},
	)

	rec, err := NewReader(path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Record{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ClientID:     "cid",
		ClientSecret: "secret",
		ProfileARN:   "arn:aws:codewhisperer:us-east-1:123:profile/ABC",
	}, rec)
}

func TestRead_PartialRows(t *testing.T) {
	path := fixture(t, t.TempDir(), "data.sqlite3",
		map[string]string{tokenKey: `{"access_token":"at-only"}`},
		nil,
	)

	rec, err := NewReader(path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Record{AccessToken: "at-only"}, rec)
}

func TestRead_TokenTableOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sqlite3")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE auth_kv (key TEXT PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO auth_kv (key, value) VALUES (?, ?)`, tokenKey, `{"access_token":"at-1","refresh_token":"rt-1"}`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	rec, err := NewReader(path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Record{AccessToken: "at-1", RefreshToken: "rt-1"}, rec)
}

func TestRead_BadRegistrationKeepsToken(t *testing.T) {
	path := fixture(t, t.TempDir(), "data.sqlite3",
		map[string]string{
			tokenKey:        `{"access_token":"at-1"}`,
			registrationKey: `not json`,
		},
		map[string]string{profileKey: `{"arn":"arn:p"}`},
	)

	rec, err := NewReader(path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Record{AccessToken: "at-1", ProfileARN: "arn:p"}, rec)
}

func TestRead_SkipsMissingAndEmptyDatabases(t *testing.T) {
	dir := t.TempDir()
	empty := fixture(t, dir, "empty.sqlite3", nil, nil)
	full := fixture(t, dir, "full.sqlite3", map[string]string{tokenKey: `{"access_token":"second"}`}, nil)

	rec, err := NewReader(filepath.Join(dir, "missing.sqlite3"), empty, full).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", rec.AccessToken)
}

func TestRead_NotFound(t *testing.T) {
	dir := t.TempDir()
	empty := fixture(t, dir, "empty.sqlite3", nil, nil)

	_, err := NewReader(filepath.Join(dir, "missing.sqlite3"), empty).Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRead_BrokenDatabaseReportedAsNotFound(t *testing.T) {
	path := fixture(t, t.TempDir(), "data.sqlite3", map[string]string{tokenKey: `not json`}, nil)

	_, err := NewReader(path).Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "decoding auth_kv")
}

func TestRead_Canceled(t *testing.T) {
	path := fixture(t, t.TempDir(), "data.sqlite3", map[string]string{tokenKey: `{"access_token":"x"}`}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader(path).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()
	require.NotEmpty(t, paths)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	for _, p := range paths {
		assert.Equal(t, "data.sqlite3", filepath.Base(p))
		assert.Equal(t, "amazon-q", filepath.Base(filepath.Dir(p)))
		if runtime.GOOS != "windows" {
			assert.True(t, strings.HasPrefix(p, home+string(filepath.Separator)), "%s is outside the home directory", p)
		}
	}
}
