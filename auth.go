// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AuthType represents a string to any supported SMTP AUTH type
type AuthType string

// Supported SMTP AUTH types
const (
	// AuthCramMD5 is the "CRAM-MD5" SASL authentication mechanism as described in RFC 4954
	AuthCramMD5 AuthType = "CRAM-MD5"

	// AuthLogin is the "LOGIN" SASL authentication mechanism
	AuthLogin AuthType = "LOGIN"

	// AuthPlain is the "PLAIN" authentication mechanism as described in RFC 4616
	AuthPlain AuthType = "PLAIN"

	// AuthXOAUTH2 is the "XOAUTH2" SASL authentication mechanism.
	// https://developers.google.com/gmail/imap/xoauth2-protocol
	AuthXOAUTH2 AuthType = "XOAUTH2"

	// AuthNTLM is the Microsoft "NTLM" authentication mechanism
	AuthNTLM AuthType = "NTLM"

	AuthSCRAMSHA1       AuthType = "SCRAM-SHA-1"
	AuthSCRAMSHA1PLUS   AuthType = "SCRAM-SHA-1-PLUS"
	AuthSCRAMSHA256     AuthType = "SCRAM-SHA-256"
	AuthSCRAMSHA256PLUS AuthType = "SCRAM-SHA-256-PLUS"

	// AuthAutoDiscover walks the configured preference order and picks the
	// first mechanism both sides support
	AuthAutoDiscover AuthType = "AUTODISCOVER"

	// AuthNone performs no authentication at all
	AuthNone AuthType = ""
)

// UnmarshalString satisfies the fig.StringUnmarshaler and the
// env.StringUnmarshaler interfaces so that AuthType values can be read
// directly from configuration files and environment variables. Matching is
// case-insensitive and accepts common aliases next to the canonical names.
func (t *AuthType) UnmarshalString(value string) error {
	switch strings.ToLower(value) {
	case "auto", "autodiscover", "autodiscovery":
		*t = AuthAutoDiscover
	case "cram", "crammd5", "cram-md5":
		*t = AuthCramMD5
	case "login":
		*t = AuthLogin
	case "ntlm":
		*t = AuthNTLM
	case "none", "noauth", "no":
		*t = AuthNone
	case "plain":
		*t = AuthPlain
	case "scram-sha-1", "scram-sha1", "scramsha1":
		*t = AuthSCRAMSHA1
	case "scram-sha-1-plus", "scram-sha1-plus", "scramsha1plus":
		*t = AuthSCRAMSHA1PLUS
	case "scram-sha-256", "scram-sha256", "scramsha256":
		*t = AuthSCRAMSHA256
	case "scram-sha-256-plus", "scram-sha256-plus", "scramsha256plus":
		*t = AuthSCRAMSHA256PLUS
	case "xoauth2", "oauth2":
		*t = AuthXOAUTH2
	default:
		return fmt.Errorf("unsupported SMTP AUTH type: %s", value)
	}
	return nil
}

// defaultAuthPreference is the mechanism order tried during auto-discovery.
// Stronger challenge/response mechanisms come before the plaintext ones.
var defaultAuthPreference = []AuthType{
	AuthSCRAMSHA256PLUS, AuthSCRAMSHA256, AuthSCRAMSHA1PLUS, AuthSCRAMSHA1,
	AuthCramMD5, AuthPlain, AuthLogin,
}

// TokenSource supplies a fresh OAuth2 bearer token for each XOAUTH2
// attempt. Tokens are never cached by the client since they expire on the
// issuer's schedule, not ours.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a plain function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// SMTP AUTH related static errors
var (
	// ErrNoAuthSupport should be used if the target server does not advertise the AUTH extension
	ErrNoAuthSupport = errors.New("server does not support SMTP AUTH")

	// ErrAuthNotSupported should be used if the target server does not advertise the
	// requested AUTH mechanism
	ErrAuthNotSupported = errors.New("server does not support requested SMTP AUTH mechanism")

	// ErrNoCommonAuthMechanism should be used if auto-discovery found no mechanism that
	// both the client preference and the server advertisement contain
	ErrNoCommonAuthMechanism = errors.New("no commonly supported SMTP AUTH mechanism found")

	// ErrNoCredentials should be used if a login is requested but neither username/password
	// nor a token source have been configured
	ErrNoCredentials = errors.New("no credentials configured for SMTP AUTH")

	// ErrNoTokenSource should be used if XOAUTH2 is requested without a configured TokenSource
	ErrNoTokenSource = errors.New("XOAUTH2 requires a token source")

	// ErrChannelBindingRequiresTLS should be used if a SCRAM-*-PLUS mechanism is requested
	// on an unencrypted connection
	ErrChannelBindingRequiresTLS = errors.New("SCRAM-*-PLUS mechanisms require a TLS connection")
)
