// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"bytes"
	"errors"
	"io"
)

// Envelope describes one mail transaction: the reverse-path, the
// recipients and the message payload. The payload is treated as an opaque
// RFC 822-style byte stream; dot-stuffing and line-ending normalization
// happen on the wire, the content itself is never interpreted.
type Envelope struct {
	// From is the envelope sender (the SMTP reverse-path)
	From string

	// To lists the envelope recipients
	To []string

	// Payload is the message content. It is streamed to the server, so
	// large messages never need to be held in memory
	Payload io.Reader

	// Size declares the payload size in bytes. When set and the server
	// advertises the SIZE extension, it is announced on MAIL FROM so the
	// server can refuse oversized messages before the payload is sent
	Size int64

	// MailOptions holds additional esmtp parameters for the MAIL FROM
	// command, e.g. "BODY=8BITMIME" or "SMTPUTF8"
	MailOptions []string

	// RcptOptions holds additional esmtp parameters applied to every
	// RCPT TO command
	RcptOptions []string
}

// Envelope related static errors
var (
	// ErrNoSender should be used if an Envelope has no From address
	ErrNoSender = errors.New("envelope has no sender address")

	// ErrNoRecipients should be used if an Envelope has no To addresses
	ErrNoRecipients = errors.New("envelope has no recipient addresses")

	// ErrNoPayload should be used if an Envelope has no message payload
	ErrNoPayload = errors.New("envelope has no payload")
)

// NewEnvelope returns an Envelope for an in-memory message, with Size
// derived from the content length.
func NewEnvelope(from string, to []string, content []byte) *Envelope {
	return &Envelope{
		From:    from,
		To:      to,
		Payload: bytes.NewReader(content),
		Size:    int64(len(content)),
	}
}

// validate checks the envelope for the fields a transaction cannot run
// without.
func (e *Envelope) validate() error {
	if e == nil || e.From == "" {
		return ErrNoSender
	}
	if len(e.To) == 0 {
		return ErrNoRecipients
	}
	if e.Payload == nil {
		return ErrNoPayload
	}
	return nil
}
