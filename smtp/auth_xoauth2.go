// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

// xoauth2Auth satisfies the Auth interface for the XOAUTH2 mechanism.
type xoauth2Auth struct {
	username, token string
}

// XOAuth2Auth returns an Auth implementing the XOAUTH2 mechanism, which
// carries an OAuth2 bearer token instead of a password:
//
// https://developers.google.com/gmail/imap/xoauth2-protocol
//
// Tokens expire; callers should fetch a fresh token for every
// authentication attempt rather than cache the Auth value.
func XOAuth2Auth(username, token string) Auth {
	return &xoauth2Auth{username, token}
}

func (a *xoauth2Auth) Start(_ *ServerInfo) (string, []byte, error) {
	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

func (a *xoauth2Auth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		// On failure the server sends a base64 JSON status blob and expects
		// an empty line back before issuing its final reply.
		return []byte(""), nil
	}
	return nil, nil
}
