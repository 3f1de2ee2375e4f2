// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jvosberg/go-smtpclient/smtp"
)

// List of SendError reasons
const (
	// ErrSMTPMailFrom is returned if the transaction failed at the MAIL FROM command
	ErrSMTPMailFrom SendErrReason = iota

	// ErrSMTPRcptTo is returned if the transaction failed at the RCPT TO command
	ErrSMTPRcptTo

	// ErrSMTPData is returned if the transaction failed at the DATA command
	ErrSMTPData

	// ErrSMTPDataClose is returned if the transaction failed while finishing
	// the DATA payload
	ErrSMTPDataClose

	// ErrSMTPReset is returned if the RSET command after a refused
	// transaction failed
	ErrSMTPReset

	// ErrWriteContent is returned if streaming the payload to the server failed
	ErrWriteContent

	// ErrConnCheck is returned if the connection liveness check failed
	ErrConnCheck

	// ErrExtensionMissing is returned if the transaction requires an ESMTP
	// extension the server does not advertise
	ErrExtensionMissing

	// ErrAmbiguous is a generalized delivery error that is returned if the
	// exact reason for the failure is ambiguous
	ErrAmbiguous
)

// SendErrReason represents a comparable reason on why the delivery failed
type SendErrReason int

// SendError wraps delivery failures of a mail transaction. It carries the
// failure stage, the underlying errors, the affected recipients and, when
// the server reported one, the reply code and RFC 2034 enhanced status
// code.
type SendError struct {
	errcode            int
	enhancedStatusCode string
	errlist            []error
	isTemp             bool
	rcpt               []string
	Reason             SendErrReason
}

// Error implements the error interface for the SendError type
func (e *SendError) Error() string {
	if e.Reason > ErrAmbiguous {
		return "unknown reason"
	}

	var errMessage strings.Builder
	errMessage.WriteString(e.Reason.String())
	if len(e.errlist) > 0 {
		errMessage.WriteRune(':')
		for i := range e.errlist {
			errMessage.WriteRune(' ')
			errMessage.WriteString(e.errlist[i].Error())
			if i != len(e.errlist)-1 {
				errMessage.WriteString(",")
			}
		}
	}
	if len(e.rcpt) > 0 {
		errMessage.WriteString(", affected recipient(s): ")
		errMessage.WriteString(strings.Join(e.rcpt, ", "))
	}
	return errMessage.String()
}

// Is implements the errors.Is functionality and compares the SendErrReason
func (e *SendError) Is(errType error) bool {
	var t *SendError
	if errors.As(errType, &t) && t != nil {
		return e.Reason == t.Reason && e.isTemp == t.isTemp
	}
	return false
}

// Unwrap exposes the wrapped protocol errors so that errors.Is/As reach
// the typed smtp errors underneath
func (e *SendError) Unwrap() []error {
	return e.errlist
}

// IsTemp returns true if the delivery error is of a temporary nature and
// can be retried
func (e *SendError) IsTemp() bool {
	if e == nil {
		return false
	}
	return e.isTemp
}

// Recipients returns the recipient addresses affected by the error
func (e *SendError) Recipients() []string {
	if e == nil {
		return nil
	}
	return e.rcpt
}

// ErrorCode returns the reply code of the server response. The code starts
// with 5 on permanent and with 4 on temporary errors. Errors not generated
// by the server carry code 0
func (e *SendError) ErrorCode() int {
	if e == nil {
		return 0
	}
	return e.errcode
}

// EnhancedStatusCode returns the enhanced status code of the server
// response if the server supports the ENHANCEDSTATUSCODES extension as
// described in RFC 2034
func (e *SendError) EnhancedStatusCode() string {
	if e == nil {
		return ""
	}
	return e.enhancedStatusCode
}

// String satisfies the fmt.Stringer interface for the SendErrReason type
func (r SendErrReason) String() string {
	switch r {
	case ErrSMTPMailFrom:
		return "sending SMTP MAIL FROM command"
	case ErrSMTPRcptTo:
		return "sending SMTP RCPT TO command"
	case ErrSMTPData:
		return "sending SMTP DATA command"
	case ErrSMTPDataClose:
		return "closing SMTP DATA writer"
	case ErrSMTPReset:
		return "sending SMTP RESET command"
	case ErrWriteContent:
		return "sending message content"
	case ErrConnCheck:
		return "checking SMTP connection"
	case ErrExtensionMissing:
		return "required SMTP extension not advertised"
	case ErrAmbiguous:
		return "ambiguous reason, check the wrapped errors for details"
	}
	return "unknown reason"
}

var enhancedStatusRE = regexp.MustCompile(`\b([245])\.\d{1,3}\.\d{1,3}\b`)

// newSendError assembles a SendError from the stage and the underlying
// protocol errors, extracting the reply code and enhanced status code
// where the server reported one.
func (c *Client) newSendError(reason SendErrReason, errs []error, rcpt ...string) *SendError {
	se := &SendError{Reason: reason, errlist: errs, rcpt: rcpt}
	code := replyCode(errs)
	se.errcode = code
	se.isTemp = code >= 400 && code < 500
	if code >= 400 {
		supported := false
		if c.sc != nil {
			supported, _ = c.sc.Extension("ENHANCEDSTATUSCODES")
		}
		if supported {
			for _, err := range errs {
				if match := enhancedStatusRE.FindString(err.Error()); match != "" {
					se.enhancedStatusCode = match
					break
				}
			}
		}
	}
	return se
}

// replyCode extracts the first server reply code found in the error list.
func replyCode(errs []error) int {
	for _, err := range errs {
		var replyErr *smtp.ReplyError
		if errors.As(err, &replyErr) {
			return replyErr.Reply.Code
		}
		var senderErr *smtp.SenderRefusedError
		if errors.As(err, &senderErr) {
			return senderErr.Code
		}
		var rcptErr *smtp.RecipientRefusedError
		if errors.As(err, &rcptErr) {
			return rcptErr.Code
		}
		var authErr *smtp.AuthError
		if errors.As(err, &authErr) && authErr.Code > 0 {
			return authErr.Code
		}
	}
	return 0
}
