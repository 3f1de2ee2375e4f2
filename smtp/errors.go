// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrServerDisconnected is returned when the server closed the connection
	// unexpectedly, or a command was issued on a connection that is gone.
	ErrServerDisconnected = errors.New("smtp: server disconnected")

	// ErrNonTLSConnection is returned when TLS state is requested on a
	// connection that never completed a handshake.
	ErrNonTLSConnection = errors.New("smtp: connection is not using TLS")

	// ErrNoConnection is returned for operations that require an established
	// connection when none exists.
	ErrNoConnection = errors.New("smtp: connection is not established")
)

// ReplyError is the catch-all for a server reply with an unexpected status
// code where no more specific error type applies.
type ReplyError struct {
	Reply Reply
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("unexpected SMTP reply: %s", e.Reply.String())
}

// ConnectError reports a failure to establish a session: the dial itself
// failed, or the server greeted us with something other than 220. Reply
// holds the greeting when one was received.
type ConnectError struct {
	Addr  string
	Reply *Reply
	Err   error
}

func (e *ConnectError) Error() string {
	if e.Reply != nil {
		return fmt.Sprintf("connecting to %s: unexpected greeting: %s", e.Addr, e.Reply.String())
	}
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutKind distinguishes which protocol phase exceeded its deadline.
type TimeoutKind int

const (
	TimeoutConnect TimeoutKind = iota
	TimeoutCommand
	TimeoutTLSHandshake
	TimeoutData
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutConnect:
		return "connect"
	case TimeoutCommand:
		return "command"
	case TimeoutTLSHandshake:
		return "tls-handshake"
	case TimeoutData:
		return "data"
	default:
		return "unknown"
	}
}

// TimeoutError reports that a network operation exceeded its inactivity
// timeout. It satisfies net.Error's Timeout contract.
type TimeoutError struct {
	Kind TimeoutKind
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Kind, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout reports this error as a timeout, in the net.Error sense.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary mirrors Timeout for callers still using the deprecated check.
func (e *TimeoutError) Temporary() bool { return true }

// TLSError reports a failed TLS handshake or certificate validation during
// a direct-TLS connect or a STARTTLS upgrade.
type TLSError struct {
	Err error
}

func (e *TLSError) Error() string { return fmt.Sprintf("TLS negotiation failed: %v", e.Err) }

func (e *TLSError) Unwrap() error { return e.Err }

// SenderRefusedError is returned when the server rejects the MAIL FROM
// command. The whole transaction fails; no recipients have been submitted.
type SenderRefusedError struct {
	Code    int
	Message string
	Sender  string
}

func (e *SenderRefusedError) Error() string {
	return fmt.Sprintf("sender %q refused: %d %s", e.Sender, e.Code, e.Message)
}

// RecipientRefusedError is returned when the server rejects a single
// RCPT TO command. The transaction may still proceed for other recipients.
type RecipientRefusedError struct {
	Code      int
	Message   string
	Recipient string
}

func (e *RecipientRefusedError) Error() string {
	return fmt.Sprintf("recipient %q refused: %d %s", e.Recipient, e.Code, e.Message)
}

// RecipientsRefusedError is returned when every recipient of a transaction
// was rejected. Rejected maps each refused address to the server's reply.
type RecipientsRefusedError struct {
	Rejected map[string]Reply
}

func (e *RecipientsRefusedError) Error() string {
	addrs := make([]string, 0, len(e.Rejected))
	for addr := range e.Rejected {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return fmt.Sprintf("all recipients refused: %s", strings.Join(addrs, ", "))
}

// AuthError reports a failed authentication attempt: no mutually supported
// mechanism, a local policy refusal, or the server's final rejection.
type AuthError struct {
	Code      int
	Message   string
	Mechanism string
}

func (e *AuthError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("authentication failed: %d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// NotSupportedError is returned when a requested operation relies on an
// ESMTP extension the server did not advertise.
type NotSupportedError struct {
	Extension string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("server does not support the %s extension", e.Extension)
}
