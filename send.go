// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jvosberg/go-smtpclient/smtp"
)

// Result reports the outcome of a successful (possibly partial) mail
// transaction.
type Result struct {
	// Reply is the server's final reply after the payload was accepted
	Reply smtp.Reply

	// Rejected maps every refused recipient address to the server's
	// rejection reply. The message was still delivered to the remaining
	// recipients
	Rejected map[string]smtp.Reply
}

// Send runs one mail transaction for the envelope: MAIL FROM, RCPT TO per
// recipient, DATA and the dot-stuffed payload. Recipient rejections are
// collected rather than aborting the transaction; delivery proceeds as
// long as at least one recipient was accepted. If every recipient is
// refused, the transaction is aborted before DATA and a SendError
// wrapping smtp.RecipientsRefusedError is returned.
//
// Transactions on one client serialize. If the client is not connected,
// Send connects first using the configured session options.
func (c *Client) Send(ctx context.Context, envelope *Envelope) (*Result, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := envelope.validate(); err != nil {
		return nil, err
	}

	if !c.IsConnected() {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	} else if err := c.checkConn(); err != nil {
		return nil, c.newSendError(ErrConnCheck, []error{err})
	}

	mailOpts, err := c.mailOptions(envelope)
	if err != nil {
		return nil, err
	}

	if err := c.sc.Mail(envelope.From, mailOpts...); err != nil {
		c.resetOnRefusal(err)
		return nil, c.newSendError(ErrSMTPMailFrom, []error{err})
	}

	rejected := make(map[string]smtp.Reply)
	for _, rcpt := range envelope.To {
		err := c.sc.Rcpt(rcpt, envelope.RcptOptions...)
		if err == nil {
			continue
		}
		var refused *smtp.RecipientRefusedError
		if errors.As(err, &refused) {
			rejected[rcpt] = smtp.Reply{
				Code:  refused.Code,
				Lines: strings.Split(refused.Message, "\n"),
			}
			continue
		}
		return nil, c.newSendError(ErrSMTPRcptTo, []error{err}, rcpt)
	}
	if len(rejected) == len(envelope.To) {
		// Nothing left to deliver to; clear the envelope and report all
		// rejections at once. DATA is never issued.
		c.resetOnRefusal(nil)
		refusedErr := &smtp.RecipientsRefusedError{Rejected: rejected}
		return nil, c.newSendError(ErrSMTPRcptTo, []error{refusedErr}, envelope.To...)
	}

	writer, err := c.sc.Data()
	if err != nil {
		c.resetOnRefusal(err)
		return nil, c.newSendError(ErrSMTPData, []error{err})
	}
	if _, err := io.Copy(writer, envelope.Payload); err != nil {
		// Terminating the payload now would let the server deliver a
		// truncated message as if it were complete. Drop the connection
		// instead; the caller decides whether to retry.
		_ = writer.Abort()
		return nil, c.newSendError(ErrWriteContent, []error{err})
	}
	if err := writer.Close(); err != nil {
		c.resetOnRefusal(err)
		return nil, c.newSendError(ErrSMTPDataClose, []error{err})
	}

	return &Result{Reply: writer.ServerReply(), Rejected: rejected}, nil
}

// mailOptions assembles the MAIL FROM parameters for the envelope and
// verifies that the extensions they rely on are actually advertised.
func (c *Client) mailOptions(envelope *Envelope) ([]string, error) {
	opts := make([]string, 0, len(envelope.MailOptions)+1)
	sizeDeclared := false
	for _, opt := range envelope.MailOptions {
		upper := strings.ToUpper(opt)
		switch {
		case upper == "SMTPUTF8":
			if ok, _ := c.sc.Extension("SMTPUTF8"); !ok {
				return nil, c.newSendError(ErrExtensionMissing,
					[]error{&smtp.NotSupportedError{Extension: "SMTPUTF8"}})
			}
		case strings.HasPrefix(upper, "BODY=8BITMIME"):
			if ok, _ := c.sc.Extension("8BITMIME"); !ok {
				return nil, c.newSendError(ErrExtensionMissing,
					[]error{&smtp.NotSupportedError{Extension: "8BITMIME"}})
			}
		case strings.HasPrefix(upper, "SIZE="):
			sizeDeclared = true
		}
		opts = append(opts, opt)
	}
	if !sizeDeclared && envelope.Size > 0 {
		if ok, _ := c.sc.Extension("SIZE"); ok {
			opts = append(opts, fmt.Sprintf("SIZE=%d", envelope.Size))
		}
	}
	return opts, nil
}

// resetOnRefusal clears a half-built envelope after a protocol-level
// refusal so the session stays usable for the next transaction. When the
// failure was a transport one the connection is gone and there is nothing
// to reset.
func (c *Client) resetOnRefusal(cause error) {
	if cause != nil {
		var ne interface{ Timeout() bool }
		if errors.As(cause, &ne) && ne.Timeout() {
			return
		}
		if errors.Is(cause, smtp.ErrServerDisconnected) {
			return
		}
	}
	if c.sc == nil || !c.sc.IsConnected() {
		return
	}
	_ = c.sc.Reset()
}
