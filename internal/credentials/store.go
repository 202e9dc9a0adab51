package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

var (
	// ErrNotFound is returned by Read when nothing has been persisted yet.
	ErrNotFound = errors.New("credentials not found")

	// ErrReadOnly is returned by Write on stores that cannot persist.
	ErrReadOnly = errors.New("credential store is read-only")
)

// Store persists a single Credentials record. Writes overwrite the record;
// there is no delete.
type Store interface {
	Read(ctx context.Context) (*Credentials, error)
	Write(ctx context.Context, creds *Credentials) error
}

// FileStore keeps credentials as a JSON file readable only by the owner.
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Read(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials file %s: %w", s.Path, err)
	}
	return &creds, nil
}

// Write replaces the file atomically so a concurrent reader never sees a
// partial record.
func (s *FileStore) Write(ctx context.Context, creds *Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temporary credentials file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting credentials file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// KeyringStore keeps credentials as a JSON secret in the OS keyring.
type KeyringStore struct {
	Service string
	User    string
}

var _ Store = (*KeyringStore)(nil)

func (s *KeyringStore) Read(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(secret), &creds); err != nil {
		return nil, fmt.Errorf("decoding keyring secret: %w", err)
	}
	return &creds, nil
}

func (s *KeyringStore) Write(ctx context.Context, creds *Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := keyring.Set(s.Service, s.User, string(data)); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

// Environment variables read by EnvStore.
const (
	EnvRefreshToken = "AQ2API_REFRESH_TOKEN"
	EnvClientID     = "AQ2API_CLIENT_ID"
	EnvClientSecret = "AQ2API_CLIENT_SECRET"
	EnvProfileARN   = "AQ2API_PROFILE_ARN"
	EnvAccessToken  = "AQ2API_ACCESS_TOKEN"
)

// EnvStore reads credentials from the process environment. It never writes;
// refreshed tokens stay in memory only.
type EnvStore struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

var _ Store = (*EnvStore)(nil)

func (s *EnvStore) Read(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	creds := &Credentials{
		RefreshToken: getenv(EnvRefreshToken),
		ClientID:     getenv(EnvClientID),
		ClientSecret: getenv(EnvClientSecret),
		ProfileARN:   getenv(EnvProfileARN),
		AccessToken:  getenv(EnvAccessToken),
	}
	if *creds == (Credentials{}) {
		return nil, ErrNotFound
	}
	return creds, nil
}

func (s *EnvStore) Write(context.Context, *Credentials) error {
	return ErrReadOnly
}
