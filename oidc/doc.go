/*
Package oidc implements OpenID Connect relying-party verification for the
golang.org/x/oauth2 package.

	provider, err := oidc.NewProvider(ctx, "https://accounts.example.com")
	if err != nil {
		return err
	}

	// Configure an OpenID Connect aware OAuth2 client.
	config := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	// A verifier for ID Tokens.
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

Authorization requests are bound to their callbacks with a FlowState, which
carries the state, nonce, and PKCE values. The FlowState must survive the
redirect, typically inside the user's session.

	func handleRedirect(w http.ResponseWriter, r *http.Request) {
		flow, err := oidc.BeginFlow()
		if err != nil {
			// ...
		}
		// Store flow in the session before redirecting.
		http.Redirect(w, r, config.AuthCodeURL(flow.State, flow.AuthCodeOptions()...), http.StatusFound)
	}

On the callback, verify the state, exchange the code with the PKCE verifier,
and verify the ID token against the flow's nonce.

	func handleOAuth2Callback(w http.ResponseWriter, r *http.Request) {
		// Load flow from the session.
		if err := flow.VerifyState(r.URL.Query().Get("state")); err != nil {
			// reject the callback
		}

		oauth2Token, err := config.Exchange(ctx, r.URL.Query().Get("code"), flow.ExchangeOptions()...)
		if err != nil {
			// ...
		}

		rawIDToken, ok := oauth2Token.Extra("id_token").(string)
		if !ok {
			// ...
		}

		idToken, err := provider.Verifier(flow.VerifierConfig(&oidc.Config{ClientID: clientID})).Verify(ctx, rawIDToken)
		if err != nil {
			// ...
		}

		userinfo, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token))
		if err != nil {
			// ...
		}

		// ...
	}

This package uses contexts to derive HTTP clients in the same way as the oauth2 package. To configure
a custom client, use the oauth2 packages HTTPClient context key when constructing the context.

	myClient := &http.Client{}

	myCtx := context.WithValue(parentCtx, oauth2.HTTPClient, myClient)

	// NewProvider will use myClient to make the request.
	provider, err := oidc.NewProvider(myCtx, "https://accounts.example.com")
*/
package oidc
