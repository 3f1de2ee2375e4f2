// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

// plainAuth satisfies the Auth interface for the PLAIN mechanism (RFC 4616).
type plainAuth struct {
	identity, username, password string
	host                         string
	allowUnencrypted             bool
}

// PlainAuth returns an Auth implementing the PLAIN mechanism as defined in
// RFC 4616. Usually identity should be the empty string, to act as username.
//
// Unless allowUnencrypted is set, the credentials are only released over a
// TLS connection or to localhost. On a plaintext connection nothing the
// server advertises can be trusted, including its claim to support PLAIN.
func PlainAuth(identity, username, password, host string, allowUnencrypted bool) Auth {
	return &plainAuth{identity, username, password, host, allowUnencrypted}
}

func (a *plainAuth) Start(server *ServerInfo) (string, []byte, error) {
	if !a.allowUnencrypted && !server.TLS && !isLocalhost(server.Name) {
		return "", nil, ErrUnencrypted
	}
	if server.Name != a.host {
		return "", nil, ErrWrongHostname
	}
	resp := []byte(a.identity + "\x00" + a.username + "\x00" + a.password)
	return "PLAIN", resp, nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		// The single response already carried everything.
		return nil, ErrUnexpectedServerChallenge
	}
	return nil, nil
}
