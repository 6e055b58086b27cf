// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream talks to the enterprise identity provider the broker
// delegates user authentication to.
//
// # Architecture
//
//	OAuth2Provider (interface)
//	    ├── BaseOAuth2Provider (explicit endpoints, identity from a userinfo endpoint)
//	    └── OIDCProvider (endpoints from discovery, identity from the ID token or userinfo)
//
// Both providers use the broker's own fixed client identifier and their own
// PKCE pair for the upstream hop; the client's PKCE pair never leaves the broker.
//
// # Usage
//
//	provider, err := upstream.NewProvider(ctx, &upstream.Config{
//	    Type:                  upstream.ProviderTypeOAuth2,
//	    ClientID:              "broker",
//	    RedirectURI:           "https://broker.example.com/Callback",
//	    AuthorizationEndpoint: "https://idp.example.com/oauth2/authorize",
//	    TokenEndpoint:         "https://idp.example.com/oauth2/token",
//	    UserInfo: &upstream.UserInfoConfig{
//	        EndpointURL: "https://idp.example.com/api/me",
//	        FieldMapping: &upstream.UserInfoFieldMapping{
//	            SubjectField: "user.id",
//	            NameField:    "user.name",
//	        },
//	    },
//	})
//
//	authURL, err := provider.AuthorizationURL(state, challenge)
//	tokens, err := provider.ExchangeCode(ctx, code, verifier)
//	user, err := provider.ResolveIdentity(ctx, tokens)
package upstream
