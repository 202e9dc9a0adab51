package tokensource

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/leanb525/aq2api/internal/credentials"
	"github.com/leanb525/aq2api/internal/credentials/clidb"
)

// Token sources reported to the refresh observer.
const (
	SourceLocal = "local"
	SourceOIDC  = "oidc"
)

// LocalSource yields a token already obtained by another client on this
// machine, such as the vendor CLI.
type LocalSource interface {
	Read(ctx context.Context) (*clidb.Record, error)
}

// Refresher exchanges a refresh token for an access token.
type Refresher interface {
	Refresh(ctx context.Context, creds *credentials.Credentials) (*oauth2.Token, error)
}

// Status describes the credential state without revealing secrets.
type Status struct {
	HasCredentials bool
	HasAccessToken bool
	HasProfileARN  bool
	// Expiry is zero when there is no token or it has no fixed lifetime.
	Expiry time.Time
}

// Service owns the process-wide credentials and the cached access token.
//
// The token is Absent (nil), Valid (set and unexpired) or Expired. A refresh
// tries the local source first and the OIDC endpoint second; concurrent
// callers share one in-flight refresh. A failed refresh leaves the cached
// token untouched.
type Service struct {
	store     credentials.Store
	local     LocalSource
	refresher Refresher

	margin  time.Duration
	timeout time.Duration
	now     func() time.Time
	observe func(source string, err error)

	group singleflight.Group

	// commitMu orders credential changes with their persistence.
	commitMu sync.Mutex

	mu    sync.RWMutex
	creds credentials.Credentials
	gen   uint64 // bumped whenever creds are replaced
	token *oauth2.Token
}

// Compile-time check that Service can back an oauth2.Transport.
var _ oauth2.TokenSource = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLocalSource enables the local token source.
func WithLocalSource(src LocalSource) Option {
	return func(s *Service) { s.local = src }
}

// WithRefreshMargin sets how long before the declared expiry a token is
// considered expired.
func WithRefreshMargin(d time.Duration) Option {
	return func(s *Service) { s.margin = d }
}

// WithRefreshTimeout bounds a single refresh independently of the caller.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRefreshObserver registers a callback invoked after every refresh
// attempt with the source tried and its outcome.
func WithRefreshObserver(fn func(source string, err error)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService creates a Service persisting to store and refreshing through
// refresher.
func NewService(store credentials.Store, refresher Refresher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		refresher: refresher,
		margin:    5 * time.Minute,
		timeout:   30 * time.Second,
		now:       time.Now,
		observe:   func(string, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted credentials. A persisted access token seeds the cache
// as valid without expiry. Missing credentials are not an error.
func (s *Service) Load(ctx context.Context) error {
	creds, err := s.store.Read(ctx)
	if errors.Is(err, credentials.ErrNotFound) {
		slog.WarnContext(ctx, "no stored credentials, relying on local source or credentials endpoint")
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = *creds
	s.gen++
	if creds.AccessToken != "" {
		s.token = &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}
		slog.InfoContext(ctx, "loaded stored access token", "token_length", len(creds.AccessToken))
	}
	return nil
}

// AccessToken returns the cached token when valid and refreshes otherwise.
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()

	if s.valid(tok) {
		return tok.AccessToken, nil
	}

	var seen string
	if tok != nil {
		seen = tok.AccessToken
	}
	tok, err := s.do(ctx, seen)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource.
func (s *Service) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()

	if s.valid(tok) {
		return cloneToken(tok), nil
	}

	var seen string
	if tok != nil {
		seen = tok.AccessToken
	}
	return s.do(context.Background(), seen)
}

func (s *Service) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || s.now().Before(tok.Expiry)
}

// Refresh obtains a new token regardless of the cached one.
func (s *Service) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return s.do(ctx, forceRefresh)
}

// forceRefresh never matches a real token.
const forceRefresh = "\x00force"

// do runs one refresh shared by all concurrent callers. It runs detached from
// ctx under its own timeout so one caller going away does not fail the
// others. When a caller saw token seen and another refresh has replaced it
// with a valid one in the meantime, that token is returned instead.
func (s *Service) do(ctx context.Context, seen string) (*oauth2.Token, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		if seen != forceRefresh {
			s.mu.RLock()
			cur := s.token
			s.mu.RUnlock()
			if s.valid(cur) && cur.AccessToken != seen {
				return cur, nil
			}
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneToken(res.Val.(*oauth2.Token)), nil
	}
}

// refresh obtains a token and commits it together with the credentials it
// was obtained from. When the credentials are replaced while the refresh is
// in flight, the result is dropped and the refresh starts over from the new
// credentials.
func (s *Service) refresh(ctx context.Context) (*oauth2.Token, error) {
	for {
		s.mu.RLock()
		creds, gen := s.creds, s.gen
		s.mu.RUnlock()

		tok, ok := s.refreshFromLocal(ctx, gen)
		if !ok && s.generation() == gen {
			var err error
			tok, ok, err = s.refreshFromOIDC(ctx, creds, gen)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			return tok, nil
		}

		slog.InfoContext(ctx, "credentials replaced during refresh, discarding result")
		s.mu.RLock()
		cur := s.token
		s.mu.RUnlock()
		if s.valid(cur) {
			return cur, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, &RefreshError{Err: err}
		}
	}
}

func (s *Service) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// commit adopts tok and the credential update made by apply, then persists
// the result. It reports false without changing anything when the
// credentials no longer belong to generation gen.
func (s *Service) commit(ctx context.Context, gen uint64, tok *oauth2.Token, apply func(*credentials.Credentials)) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.token = tok
	apply(&s.creds)
	persisted := s.creds
	s.mu.Unlock()

	s.persist(ctx, &persisted)
	return true
}

func (s *Service) refreshFromOIDC(ctx context.Context, creds credentials.Credentials, gen uint64) (*oauth2.Token, bool, error) {
	if err := creds.Validate(); err != nil {
		cfgErr := &ConfigurationError{}
		var missing *credentials.MissingFieldsError
		if errors.As(err, &missing) {
			cfgErr.Missing = missing.Fields
		}
		s.observe(SourceOIDC, cfgErr)
		return nil, false, cfgErr
	}

	slog.InfoContext(ctx, "refreshing access token", "source", SourceOIDC)
	issued := s.now()
	tok, err := s.refresher.Refresh(ctx, &creds)
	if err != nil {
		var refreshErr *RefreshError
		if !errors.As(err, &refreshErr) {
			err = &RefreshError{Err: err}
		}
		slog.ErrorContext(ctx, "access token refresh failed", "source", SourceOIDC, "error", err)
		s.observe(SourceOIDC, err)
		return nil, false, err
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn * time.Second
	}
	tok.Expiry = issued.Add(expiresIn - s.margin)
	if tok.RefreshToken == "" {
		tok.RefreshToken = creds.RefreshToken
	}

	if !s.commit(ctx, gen, tok, func(c *credentials.Credentials) {
		c.AccessToken = tok.AccessToken
		c.RefreshToken = tok.RefreshToken
	}) {
		return nil, false, nil
	}

	s.observe(SourceOIDC, nil)
	slog.InfoContext(ctx, "access token refreshed",
		"source", SourceOIDC,
		"token_length", len(tok.AccessToken),
		"expires_in", expiresIn,
	)
	return tok, true, nil
}

// refreshFromLocal adopts a token from the local source. Such tokens have no
// known lifetime; they stay valid until a refresh is forced.
func (s *Service) refreshFromLocal(ctx context.Context, gen uint64) (*oauth2.Token, bool) {
	if s.local == nil {
		return nil, false
	}

	rec, err := s.local.Read(ctx)
	if err != nil || rec.AccessToken == "" {
		if err == nil {
			err = clidb.ErrNotFound
		}
		slog.DebugContext(ctx, "local token source unavailable", "error", err)
		s.observe(SourceLocal, err)
		return nil, false
	}

	tok := &oauth2.Token{AccessToken: rec.AccessToken, TokenType: "Bearer"}
	if !s.commit(ctx, gen, tok, func(c *credentials.Credentials) {
		c.AccessToken = rec.AccessToken
		if rec.RefreshToken != "" {
			c.RefreshToken = rec.RefreshToken
		}
	}) {
		return nil, false
	}

	s.observe(SourceLocal, nil)
	slog.InfoContext(ctx, "access token taken from local source", "token_length", len(rec.AccessToken))
	return tok, true
}

func (s *Service) persist(ctx context.Context, creds *credentials.Credentials) {
	err := s.store.Write(ctx, creds)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrReadOnly):
		slog.DebugContext(ctx, "credential store is read-only, token kept in memory")
	default:
		slog.WarnContext(ctx, "failed to persist credentials", "error", err)
	}
}

// Reset discards the cached token so the next AccessToken call refreshes.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

// SetCredentials validates, persists and adopts creds. The cached token is
// replaced by creds.AccessToken, or discarded when that is empty.
func (s *Service) SetCredentials(ctx context.Context, creds *credentials.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := s.store.Write(ctx, creds); err != nil && !errors.Is(err, credentials.ErrReadOnly) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = *creds
	s.gen++
	s.token = nil
	if creds.AccessToken != "" {
		s.token = &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}
	}
	slog.InfoContext(ctx, "credentials updated", "has_profile_arn", creds.ProfileARN != "")
	return nil
}

// ProfileARN returns the configured profile, if any.
func (s *Service) ProfileARN() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.ProfileARN
}

// Status reports the credential state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		HasCredentials: s.creds.CanRefresh(),
		HasProfileARN:  s.creds.ProfileARN != "",
	}
	if s.token != nil && s.token.AccessToken != "" {
		st.HasAccessToken = true
		st.Expiry = s.token.Expiry
	}
	return st
}

// Cached returns a copy of the cached token, valid or not, or nil.
func (s *Service) Cached() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	return cloneToken(s.token)
}

func cloneToken(t *oauth2.Token) *oauth2.Token {
	c := *t
	return &c
}
