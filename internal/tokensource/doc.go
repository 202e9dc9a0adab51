// Package tokensource provides access-token acquisition and automatic refresh
// for the vendor chat API.
//
// The vendor's OIDC service differs from standard OAuth2 in a few ways:
//   - Token requests use camelCase JSON bodies (form encoding is available for
//     standard servers via WithEncoding)
//   - Responses carry accessToken/expiresIn instead of access_token/expires_in
//   - Clients register themselves dynamically before the device flow
//
// # Token Service
//
// Service caches one access token for the whole process:
//
//	oidc := tokensource.NewOIDCClient(tokensource.Endpoint)
//	svc := tokensource.NewService(store, oidc,
//	  tokensource.WithLocalSource(clidb.NewReader()),
//	)
//	if err := svc.Load(ctx); err != nil { ... }
//	token, err := svc.AccessToken(ctx)
//
// A refresh first asks the local source (the vendor CLI's database) and falls
// back to the refresh-token grant. Service implements oauth2.TokenSource and
// can back an oauth2.Transport.
//
// # Device Authorization
//
// Use the OIDCClient directly to obtain a refresh token interactively:
//
//	reg, err := oidc.RegisterClient(ctx, "aq2api")
//	da, err := oidc.StartDeviceAuthorization(ctx, reg, tokensource.DefaultStartURL)
//	// show da.VerificationURIComplete to the user
//	token, err := oidc.PollDeviceToken(ctx, reg, da)
package tokensource
