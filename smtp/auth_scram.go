// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

// scramAuth satisfies the Auth interface for the SCRAM family of
// mechanisms (RFC 5802), optionally with channel binding (-PLUS variants,
// RFC 9266).
type scramAuth struct {
	username, password, mechanism string
	h                             func() hash.Hash
	nonce                         []byte
	firstBareMsg                  []byte
	saltedPassword                []byte
	authMessage                   []byte
	bindData                      []byte
	iterations                    int
	plus                          bool
	tlsConnState                  *tls.ConnectionState
}

// ScramSHA1Auth returns an Auth implementing SCRAM-SHA-1.
func ScramSHA1Auth(username, password string) Auth {
	return &scramAuth{username: username, password: password, mechanism: "SCRAM-SHA-1", h: sha1.New}
}

// ScramSHA256Auth returns an Auth implementing SCRAM-SHA-256.
func ScramSHA256Auth(username, password string) Auth {
	return &scramAuth{username: username, password: password, mechanism: "SCRAM-SHA-256", h: sha256.New}
}

// ScramSHA1PlusAuth returns an Auth implementing SCRAM-SHA-1-PLUS. The TLS
// connection state is required for channel binding.
func ScramSHA1PlusAuth(username, password string, tlsConnState *tls.ConnectionState) Auth {
	return &scramAuth{
		username: username, password: password, mechanism: "SCRAM-SHA-1-PLUS",
		h: sha1.New, plus: true, tlsConnState: tlsConnState,
	}
}

// ScramSHA256PlusAuth returns an Auth implementing SCRAM-SHA-256-PLUS. The
// TLS connection state is required for channel binding.
func ScramSHA256PlusAuth(username, password string, tlsConnState *tls.ConnectionState) Auth {
	return &scramAuth{
		username: username, password: password, mechanism: "SCRAM-SHA-256-PLUS",
		h: sha256.New, plus: true, tlsConnState: tlsConnState,
	}
}

func (a *scramAuth) Start(_ *ServerInfo) (string, []byte, error) {
	return a.mechanism, nil, nil
}

func (a *scramAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	if len(fromServer) == 0 {
		a.reset()
		return a.clientFirstMessage()
	}
	switch {
	case bytes.HasPrefix(fromServer, []byte("r=")):
		resp, err := a.clientFinalMessage(fromServer)
		if err != nil {
			a.reset()
			return nil, err
		}
		return resp, nil
	case bytes.HasPrefix(fromServer, []byte("v=")):
		if err := a.verifyServerSignature(fromServer); err != nil {
			a.reset()
			return nil, err
		}
		return []byte(""), nil
	default:
		a.reset()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedServerResponse, string(fromServer))
	}
}

func (a *scramAuth) reset() {
	a.nonce = nil
	a.firstBareMsg = nil
	a.saltedPassword = nil
	a.authMessage = nil
	a.bindData = nil
	a.iterations = 0
}

func (a *scramAuth) clientFirstMessage() ([]byte, error) {
	username, err := a.normalizeUsername()
	if err != nil {
		return nil, fmt.Errorf("username normalization failed: %w", err)
	}

	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("unable to generate client nonce: %w", err)
	}
	a.nonce = make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(a.nonce, raw)

	a.firstBareMsg = []byte("n=" + username + ",r=" + string(a.nonce))
	if !a.plus {
		return append([]byte("n,,"), a.firstBareMsg...), nil
	}

	// The -PLUS variants require channel binding data from the TLS layer.
	if a.tlsConnState == nil {
		return nil, errors.New("tls connection state is required for SCRAM-*-PLUS")
	}
	bindType := "tls-unique"
	bindValue := a.tlsConnState.TLSUnique
	// tls-unique is not defined for TLS 1.3 and absent on resumed
	// connections; fall back to tls-exporter (RFC 9266).
	if bindValue == nil || a.tlsConnState.Version >= tls.VersionTLS13 {
		bindType = "tls-exporter"
		bindValue, err = a.tlsConnState.ExportKeyingMaterial("EXPORTER-Channel-Binding", []byte{}, 32)
		if err != nil {
			return nil, fmt.Errorf("unable to export keying material: %w", err)
		}
	}
	gs2 := "p=" + bindType + ",,"
	bindInput := append([]byte(gs2), bindValue...)
	a.bindData = make([]byte, base64.StdEncoding.EncodedLen(len(bindInput)))
	base64.StdEncoding.Encode(a.bindData, bindInput)

	return append([]byte(gs2), a.firstBareMsg...), nil
}

func (a *scramAuth) clientFinalMessage(fromServer []byte) ([]byte, error) {
	parts := bytes.Split(fromServer, []byte(","))
	if len(parts) < 3 {
		return nil, errors.New("not enough fields in the server first message")
	}
	if !bytes.HasPrefix(parts[0], []byte("r=")) ||
		!bytes.HasPrefix(parts[1], []byte("s=")) ||
		!bytes.HasPrefix(parts[2], []byte("i=")) {
		return nil, errors.New("malformed server first message")
	}

	combinedNonce := parts[0][2:]
	if len(a.nonce) == 0 || !bytes.HasPrefix(combinedNonce, a.nonce) {
		return nil, errors.New("server nonce does not extend the client nonce")
	}
	a.nonce = combinedNonce

	salt := make([]byte, base64.StdEncoding.DecodedLen(len(parts[1][2:])))
	n, err := base64.StdEncoding.Decode(salt, parts[1][2:])
	if err != nil {
		return nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	salt = salt[:n]

	a.iterations, err = strconv.Atoi(string(parts[2][2:]))
	if err != nil {
		return nil, fmt.Errorf("invalid iteration count: %w", err)
	}

	password, err := a.normalizeString(a.password)
	if err != nil {
		return nil, fmt.Errorf("unable to normalize password: %w", err)
	}
	a.saltedPassword = pbkdf2.Key([]byte(password), salt, a.iterations, a.h().Size(), a.h)

	channelBinding := "c=biws" // base64("n,,")
	if a.plus {
		channelBinding = "c=" + string(a.bindData)
	}
	withoutProof := []byte(channelBinding + ",r=" + string(a.nonce))
	a.authMessage = []byte(string(a.firstBareMsg) + "," + string(fromServer) + "," + string(withoutProof))

	return append(append(withoutProof, ",p="...), a.clientProof()...), nil
}

func (a *scramAuth) verifyServerSignature(fromServer []byte) error {
	serverKey := a.computeHMAC(a.saltedPassword, []byte("Server Key"))
	sig := a.computeHMAC(serverKey, a.authMessage)
	expected := make([]byte, base64.StdEncoding.EncodedLen(len(sig)))
	base64.StdEncoding.Encode(expected, sig)

	if !hmac.Equal(fromServer[2:], expected) {
		return errors.New("invalid server signature")
	}
	return nil
}

func (a *scramAuth) computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(a.h, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func (a *scramAuth) clientProof() []byte {
	clientKey := a.computeHMAC(a.saltedPassword, []byte("Client Key"))
	hasher := a.h()
	hasher.Write(clientKey)
	storedKey := hasher.Sum(nil)
	clientSignature := a.computeHMAC(storedKey, a.authMessage)
	proof := make([]byte, len(clientSignature))
	for i := range clientSignature {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(proof)))
	base64.StdEncoding.Encode(out, proof)
	return out
}

// normalizeUsername escapes the reserved characters of RFC 5802 section 5.1
// and applies the SASLprep-successor profile of RFC 8265.
func (a *scramAuth) normalizeUsername() (string, error) {
	replacer := strings.NewReplacer("=", "=3D", ",", "=2C")
	username, err := a.normalizeString(replacer.Replace(a.username))
	if err != nil {
		return "", fmt.Errorf("unable to normalize username: %w", err)
	}
	return username, nil
}

func (a *scramAuth) normalizeString(s string) (string, error) {
	s, err := precis.OpaqueString.String(s)
	if err != nil {
		return "", fmt.Errorf("failed to normalize string: %w", err)
	}
	return s, nil
}
