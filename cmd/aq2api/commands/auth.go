package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/leanb525/aq2api/internal/app"
	"github.com/leanb525/aq2api/internal/credentials"
	"github.com/leanb525/aq2api/internal/credentials/clidb"
	"github.com/leanb525/aq2api/internal/tokensource"
)

// clientName is the name registered with the OIDC endpoint on login.
const clientName = "aq2api"

// authCommand returns the 'auth' subcommand for managing vendor credentials.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage Amazon Q credentials",
		Commands: []*cli.Command{
			authLoginCommand(),
			authImportCommand(),
			authSetCommand(),
			authStatusCommand(),
		},
	}
}

func authLoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in through the device authorization flow and save credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "start-url",
				Usage: "sign-in portal URL",
				Value: tokensource.DefaultStartURL,
			},
			&cli.StringFlag{
				Name:  "profile-arn",
				Usage: "profile ARN to store with the credentials",
			},
		},
		Action: authLoginAction,
	}
}

func authImportCommand() *cli.Command {
	return &cli.Command{
		Name:   "import",
		Usage:  "Copy credentials from the local Amazon Q CLI database",
		Action: authImportAction,
	}
}

func authSetCommand() *cli.Command {
	return &cli.Command{
		Name:  "set",
		Usage: "Save credentials; missing values are prompted for",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "refresh-token", Usage: "OIDC refresh token"},
			&cli.StringFlag{Name: "client-id", Usage: "OIDC client id"},
			&cli.StringFlag{Name: "client-secret", Usage: "OIDC client secret"},
			&cli.StringFlag{Name: "profile-arn", Usage: "profile ARN (optional)"},
		},
		Action: authSetAction,
	}
}

func authStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show which credentials are configured",
		Action: authStatusAction,
	}
}

// writableStore returns the configured store, refusing read-only storage.
func writableStore(cmd *cli.Command) (*app.Config, credentials.Store, error) {
	cfg, err := loadConfig(cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Auth.Storage == app.StorageEnv {
		return nil, nil, errors.New("cannot save credentials with env storage (read-only). Configure file or keyring storage")
	}

	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	return cfg, store, nil
}

// authLoginAction registers a client, asks the user to approve the device
// and stores the resulting refresh token with the registration.
func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, store, err := writableStore(cmd)
	if err != nil {
		return err
	}

	oidc, err := cfg.Auth.NewOIDCClient()
	if err != nil {
		return err
	}

	out := cmd.Root().Writer

	reg, err := oidc.RegisterClient(ctx, clientName)
	if err != nil {
		return fmt.Errorf("client registration failed: %w", err)
	}

	da, err := oidc.StartDeviceAuthorization(ctx, reg, cmd.String("start-url"))
	if err != nil {
		return fmt.Errorf("device authorization failed: %w", err)
	}

	_, _ = fmt.Fprintln(out, "=== Amazon Q Login ===")
	_, _ = fmt.Fprintln(out)
	if da.VerificationURIComplete != "" {
		_, _ = fmt.Fprintf(out, "1. Visit this URL in your browser:\n   %s\n\n", da.VerificationURIComplete)
	} else {
		_, _ = fmt.Fprintf(out, "1. Visit this URL in your browser:\n   %s\n\n", da.VerificationURI)
	}
	_, _ = fmt.Fprintf(out, "2. Confirm the code %s\n", da.UserCode)
	_, _ = fmt.Fprintln(out, "3. Waiting for approval...")

	token, err := oidc.PollDeviceToken(ctx, reg, da)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	creds := &credentials.Credentials{
		RefreshToken: token.RefreshToken,
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		ProfileARN:   cmd.String("profile-arn"),
		AccessToken:  token.AccessToken,
	}
	if err := saveCredentials(ctx, store, creds); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "=== Login Successful ===")
	_, _ = fmt.Fprintln(out, "Credentials saved to configured storage")
	if !reg.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(out, "Client registration expires %s\n", reg.ExpiresAt.Format("2006-01-02"))
	}
	return nil
}

// authImportAction copies the credentials the vendor CLI stored locally.
func authImportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, store, err := writableStore(cmd)
	if err != nil {
		return err
	}

	rec, err := clidb.NewReader(cfg.Auth.CLIDBPaths...).Read(ctx)
	if err != nil {
		return fmt.Errorf("reading CLI database: %w", err)
	}

	creds := &credentials.Credentials{
		RefreshToken: rec.RefreshToken,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		ProfileARN:   rec.ProfileARN,
		AccessToken:  rec.AccessToken,
	}
	if err := saveCredentials(ctx, store, creds); err != nil {
		return err
	}

	out := cmd.Root().Writer
	_, _ = fmt.Fprintln(out, "Imported credentials from the Amazon Q CLI")
	if creds.ProfileARN != "" {
		_, _ = fmt.Fprintf(out, "Profile: %s\n", creds.ProfileARN)
	}
	return nil
}

// authSetAction stores credentials given as flags or typed at hidden prompts.
func authSetAction(ctx context.Context, cmd *cli.Command) error {
	_, store, err := writableStore(cmd)
	if err != nil {
		return err
	}

	creds := &credentials.Credentials{
		RefreshToken: cmd.String("refresh-token"),
		ClientID:     cmd.String("client-id"),
		ClientSecret: cmd.String("client-secret"),
		ProfileARN:   cmd.String("profile-arn"),
	}

	prompts := []struct {
		label string
		dest  *string
	}{
		{"Refresh token: ", &creds.RefreshToken},
		{"Client ID: ", &creds.ClientID},
		{"Client secret: ", &creds.ClientSecret},
	}
	for _, p := range prompts {
		if *p.dest != "" {
			continue
		}
		value, err := readSecureInput(ctx, cmd.Root().Writer, p.label)
		if err != nil {
			return err
		}
		*p.dest = strings.TrimSpace(value)
	}

	if err := saveCredentials(ctx, store, creds); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.Root().Writer, "Credentials saved to configured storage")
	return nil
}

// authStatusAction reports presence only; secrets are never printed.
func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	out := cmd.Root().Writer
	_, _ = fmt.Fprintf(out, "Storage:          %s\n", cfg.Auth.Storage)

	creds, err := store.Read(ctx)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		_, _ = fmt.Fprintln(out, "Credentials:      none")
	case err != nil:
		return fmt.Errorf("reading credentials: %w", err)
	default:
		_, _ = fmt.Fprintf(out, "Credentials:      %s\n", presence(creds.CanRefresh()))
		_, _ = fmt.Fprintf(out, "Access token:     %s\n", presence(creds.AccessToken != ""))
		_, _ = fmt.Fprintf(out, "Profile ARN:      %s\n", presence(creds.ProfileARN != ""))
	}

	if cfg.Auth.LocalSource {
		_, err := clidb.NewReader(cfg.Auth.CLIDBPaths...).Read(ctx)
		_, _ = fmt.Fprintf(out, "Amazon Q CLI:     %s\n", presence(err == nil))
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func saveCredentials(ctx context.Context, store credentials.Store, creds *credentials.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := store.Write(ctx, creds); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, out io.Writer, prompt string) (string, error) {
	_, _ = fmt.Fprint(out, prompt)
	defer func() { _, _ = fmt.Fprintln(out) }()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
