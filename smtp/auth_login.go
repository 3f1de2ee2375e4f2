// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import "fmt"

// loginAuth satisfies the Auth interface for the LOGIN mechanism.
type loginAuth struct {
	username, password string
	host               string
	allowUnencrypted   bool
}

const (
	// loginUsernameChallenge is the username prompt sent by servers
	// implementing the MS-XLOGIN flavor of AUTH LOGIN.
	loginUsernameChallenge = "Username:"

	// loginPasswordChallenge is the corresponding password prompt.
	loginPasswordChallenge = "Password:"

	// loginDraftUsernameChallenge is the username prompt from the expired
	// IETF draft (draft-murchison-sasl-login-00), still emitted by some
	// servers.
	loginDraftUsernameChallenge = "User Name\x00"

	// loginDraftPasswordChallenge is the draft's password prompt.
	loginDraftPasswordChallenge = "Password\x00"
)

// LoginAuth returns an Auth implementing the LOGIN mechanism, a three-step
// variant of PLAIN used prominently by MS Outlook: the client sends AUTH
// LOGIN, answers the "Username:" challenge, then answers the "Password:"
// challenge.
//
// Like PlainAuth, LoginAuth refuses to release credentials on an
// unencrypted connection to a non-local host unless allowUnencrypted is set.
func LoginAuth(username, password, host string, allowUnencrypted bool) Auth {
	return &loginAuth{username, password, host, allowUnencrypted}
}

func (a *loginAuth) Start(server *ServerInfo) (string, []byte, error) {
	if !a.allowUnencrypted && !server.TLS && !isLocalhost(server.Name) {
		return "", nil, ErrUnencrypted
	}
	if server.Name != a.host {
		return "", nil, ErrWrongHostname
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case loginUsernameChallenge, loginDraftUsernameChallenge:
			return []byte(a.username), nil
		case loginPasswordChallenge, loginDraftPasswordChallenge:
			return []byte(a.password), nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedServerResponse, string(fromServer))
		}
	}
	return nil, nil
}
