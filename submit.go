// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
)

// AuthData bundles optional credentials for Submit.
type AuthData struct {
	Auth     bool
	Username string
	Password string
}

// NewAuthData creates an AuthData with authentication enabled and the
// provided username and password.
func NewAuthData(user, pass string) *AuthData {
	return &AuthData{
		Auth:     true,
		Username: user,
		Password: pass,
	}
}

var testHookTLSConfig func() *tls.Config // nil, except for tests

// Submit is an all-in-one method for delivering a single message.
//
// It creates a client for the server at addr, connects with opportunistic
// STARTTLS, authenticates when auth is provided, runs one transaction for
// the envelope and closes the session again. Additional options may be
// passed to tune the client, they are applied after the defaults.
//
// For the SMTP authentication, if auth is not nil and AuthData.Auth is
// set to true, the client will auto-discover the best mutually supported
// mechanism. If no mechanism is found or the authentication fails, the
// delivery fails completely.
func Submit(ctx context.Context, addr string, auth *AuthData, envelope *Envelope, opts ...Option) (*Result, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to split host and port from address: %w", err)
	}
	portnum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("failed to convert port to int: %w", err)
	}

	options := append([]Option{WithPort(portnum), WithTLSPolicy(TLSOpportunistic)}, opts...)
	client, err := New(host, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new client: %w", err)
	}

	if auth != nil && auth.Auth {
		client.authType = AuthAutoDiscover
		client.SetUsername(auth.Username)
		client.SetPassword(auth.Password)
	}
	if testHookTLSConfig != nil {
		if err = client.SetTLSConfig(testHookTLSConfig()); err != nil {
			return nil, fmt.Errorf("failed to set TLS config: %w", err)
		}
	}

	if err = client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	result, err := client.Send(ctx, envelope)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if err = client.Close(); err != nil {
		return result, fmt.Errorf("failed to close connection: %w", err)
	}
	return result, nil
}
