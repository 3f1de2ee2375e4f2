// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import "errors"

var (
	// ErrUnencrypted is returned by mechanisms that refuse to transmit
	// credentials over an unencrypted connection.
	ErrUnencrypted = errors.New("unencrypted connection")

	// ErrWrongHostname is returned when the server name the mechanism was
	// built for does not match the connected host.
	ErrWrongHostname = errors.New("wrong host name")

	// ErrUnexpectedServerChallenge is returned when a server issues a
	// challenge to a mechanism that has already sent everything it has.
	ErrUnexpectedServerChallenge = errors.New("unexpected server challenge")

	// ErrUnexpectedServerResponse is returned when a challenge cannot be
	// interpreted by the mechanism.
	ErrUnexpectedServerResponse = errors.New("unexpected server response")
)

// ServerInfo records information about the server an Auth mechanism is
// about to authenticate against.
type ServerInfo struct {
	// Name is the SMTP server's name.
	Name string

	// TLS indicates whether the connection is encrypted. When false,
	// nothing the server advertised can be trusted.
	TLS bool

	// Auth lists the mechanisms advertised by the server.
	Auth []string
}

// Auth is implemented by an SMTP authentication mechanism.
type Auth interface {
	// Start begins an authentication with the server. It returns the
	// mechanism name and optional initial response data to send. If it
	// returns a non-nil error, the AUTH exchange is never started; this is
	// how mechanisms veto transmission over untrusted channels.
	Start(server *ServerInfo) (proto string, toServer []byte, err error)

	// Next continues the exchange. fromServer holds the decoded server
	// challenge; more is true when the server expects another response
	// (a 334 continuation). Returning a non-nil error aborts the exchange.
	Next(fromServer []byte, more bool) (toServer []byte, err error)
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
