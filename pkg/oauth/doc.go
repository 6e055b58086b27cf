// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types, constants, and validation utilities
// for the broker's OAuth 2.1 surface: error codes, grant and response types,
// discovery documents (RFC 8414, RFC 9728), and redirect URI validation per
// RFC 6749 and RFC 8252.
package oauth
