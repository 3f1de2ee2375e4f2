// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"errors"

	"github.com/Azure/go-ntlmssp"
)

// ErrNTLMChallengeEmpty is returned when the server's NTLM ChallengeMessage
// is empty.
var ErrNTLMChallengeEmpty = errors.New("NTLM ChallengeMessage is empty")

// ntlmAuth satisfies the Auth interface for NTLMv2.
type ntlmAuth struct {
	domain, username, password, workstation string
	domainNeeded                            bool
}

// NTLMAuth returns an Auth implementing the NTLMv2 mechanism used by
// Exchange deployments. The domain is derived from the username when given
// in DOMAIN\user form.
func NTLMAuth(username, password, workstation string) Auth {
	user, domain, domainNeeded := ntlmssp.GetDomain(username)
	return &ntlmAuth{
		domain:       domain,
		username:     user,
		password:     password,
		workstation:  workstation,
		domainNeeded: domainNeeded,
	}
}

func (a *ntlmAuth) Start(_ *ServerInfo) (string, []byte, error) {
	negotiate, err := ntlmssp.NewNegotiateMessage(a.domain, a.workstation)
	return "NTLM", negotiate, err
}

func (a *ntlmAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		if len(fromServer) == 0 {
			return nil, ErrNTLMChallengeEmpty
		}
		return ntlmssp.ProcessChallenge(fromServer, a.username, a.password, a.domainNeeded)
	}
	return nil, nil
}
