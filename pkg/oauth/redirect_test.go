// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRedirectURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		policy  RedirectURIPolicy
		wantErr bool
	}{
		{name: "https any host", uri: "https://anything.example.com/cb", policy: RedirectURIPolicyStrict},
		{name: "https with port and query", uri: "https://app.example.com:8443/cb?x=1", policy: RedirectURIPolicyStrict},
		{name: "http localhost with port", uri: "http://localhost:3000/callback", policy: RedirectURIPolicyStrict},
		{name: "http 127.0.0.1", uri: "http://127.0.0.1:8080/callback", policy: RedirectURIPolicyStrict},
		{name: "http ipv6 loopback", uri: "http://[::1]:8080/callback", policy: RedirectURIPolicyStrict},
		{name: "http uppercase localhost", uri: "http://LOCALHOST/cb", policy: RedirectURIPolicyStrict},
		{name: "http public host", uri: "http://example.com/cb", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "http localhost lookalike", uri: "http://localhost.evil.com/cb", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "private scheme allowed", uri: "myapp://callback", policy: RedirectURIPolicyAllowPrivateSchemes},
		{name: "reverse domain scheme", uri: "com.example.app:/oauth2redirect", policy: RedirectURIPolicyAllowPrivateSchemes},
		{name: "private scheme under strict policy", uri: "myapp://callback", policy: RedirectURIPolicyStrict, wantErr: true},
		{name: "ftp rejected", uri: "ftp://host/path", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "javascript rejected", uri: "javascript:alert(1)", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "data rejected", uri: "data:text/html,hi", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "fragment rejected", uri: "https://example.com/cb#frag", policy: RedirectURIPolicyStrict, wantErr: true},
		{name: "relative rejected", uri: "/callback", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "empty rejected", uri: "", policy: RedirectURIPolicyAllowPrivateSchemes, wantErr: true},
		{name: "https without host", uri: "https:///cb", policy: RedirectURIPolicyStrict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRedirectURI(tt.uri, tt.policy)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRedirectURI)
				return
			}
			assert.NoError(t, err)
		})
	}
}
