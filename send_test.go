// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jvosberg/go-smtpclient/smtp"
)

// failingReader fails every read with a fixed error.
type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}

const testMessage = "From: toni.tester@example.com\r\n" +
	"To: tina.tester@example.com\r\n" +
	"Subject: test mail\r\n" +
	"\r\n" +
	"This is a test mail body.\r\n"

func TestClient_Send(t *testing.T) {
	t.Run("single recipient delivery", func(t *testing.T) {
		props := &serverProps{}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		result, err := c.Send(context.Background(), envelope)
		if err != nil {
			t.Fatalf("failed to send message: %s", err)
		}
		if result.Reply.Code != 250 {
			t.Errorf("expected final reply code 250, got %d", result.Reply.Code)
		}
		if len(result.Rejected) != 0 {
			t.Errorf("expected no rejected recipients, got %v", result.Rejected)
		}
		if !strings.Contains(props.Received(), "Subject: test mail") {
			t.Errorf("server did not receive the message body: %q", props.Received())
		}
	})
	t.Run("send connects on demand", func(t *testing.T) {
		props := &serverProps{}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		if c.IsConnected() {
			t.Fatal("client should not be connected yet")
		}
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("failed to send message: %s", err)
		}
		if !c.IsConnected() {
			t.Error("client should stay connected after the transaction")
		}
	})
	t.Run("multiple transactions on one session", func(t *testing.T) {
		props := &serverProps{}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("first transaction failed: %s", err)
		}
		envelope = NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("second transaction failed: %s", err)
		}
	})
	t.Run("size announced on MAIL FROM", func(t *testing.T) {
		props := &serverProps{FeatureSet: []string{"SIZE 35651584"}}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("failed to send message: %s", err)
		}
		if !strings.Contains(props.LastMailFrom(), "SIZE=") {
			t.Errorf("expected a SIZE parameter on MAIL FROM, got %q", props.LastMailFrom())
		}
	})
	t.Run("size not announced without server support", func(t *testing.T) {
		props := &serverProps{}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("failed to send message: %s", err)
		}
		if strings.Contains(props.LastMailFrom(), "SIZE=") {
			t.Errorf("SIZE must not be announced without the extension, got %q", props.LastMailFrom())
		}
	})
	t.Run("invalid envelopes", func(t *testing.T) {
		c := testClient(t, startTestServer(t, nil), WithTLSPolicy(NoTLS))
		ctx := context.Background()
		if _, err := c.Send(ctx, &Envelope{}); !errors.Is(err, ErrNoSender) {
			t.Errorf("expected ErrNoSender, got %v", err)
		}
		if _, err := c.Send(ctx, &Envelope{From: "a@example.com"}); !errors.Is(err, ErrNoRecipients) {
			t.Errorf("expected ErrNoRecipients, got %v", err)
		}
		env := &Envelope{From: "a@example.com", To: []string{"b@example.com"}}
		if _, err := c.Send(ctx, env); !errors.Is(err, ErrNoPayload) {
			t.Errorf("expected ErrNoPayload, got %v", err)
		}
	})
}

func TestClient_SendPartialRejection(t *testing.T) {
	props := &serverProps{RejectRecipients: []string{"unknown@example.com"}}
	c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
	envelope := NewEnvelope("toni.tester@example.com",
		[]string{"tina.tester@example.com", "unknown@example.com", "tom.tester@example.com"},
		[]byte(testMessage))
	result, err := c.Send(context.Background(), envelope)
	if err != nil {
		t.Fatalf("partial rejection should not fail the transaction: %s", err)
	}
	if result.Reply.Code != 250 {
		t.Errorf("expected final reply code 250, got %d", result.Reply.Code)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("expected exactly one rejected recipient, got %v", result.Rejected)
	}
	reply, ok := result.Rejected["unknown@example.com"]
	if !ok {
		t.Fatalf("expected unknown@example.com to be rejected, got %v", result.Rejected)
	}
	if reply.Code != 550 {
		t.Errorf("expected rejection code 550, got %d", reply.Code)
	}
	if !strings.Contains(props.Received(), "Subject: test mail") {
		t.Error("the message should still have been delivered to the accepted recipients")
	}
}

func TestClient_SendAllRecipientsRejected(t *testing.T) {
	props := &serverProps{
		RejectRecipients: []string{"unknown1@example.com", "unknown2@example.com"},
	}
	c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
	envelope := NewEnvelope("toni.tester@example.com",
		[]string{"unknown1@example.com", "unknown2@example.com"}, []byte(testMessage))
	_, err := c.Send(context.Background(), envelope)
	if err == nil {
		t.Fatal("expected the transaction to fail when every recipient is refused")
	}

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected a SendError, got %v", err)
	}
	if !errors.Is(err, &SendError{Reason: ErrSMTPRcptTo}) {
		t.Errorf("expected reason %q, got %q", ErrSMTPRcptTo, sendErr.Reason)
	}
	if len(sendErr.Recipients()) != 2 {
		t.Errorf("expected both recipients in the error, got %v", sendErr.Recipients())
	}
	var refused *smtp.RecipientsRefusedError
	if !errors.As(err, &refused) {
		t.Fatalf("expected a wrapped RecipientsRefusedError, got %v", err)
	}
	if len(refused.Rejected) != 2 {
		t.Errorf("expected two rejection replies, got %v", refused.Rejected)
	}
	if props.DataCalled() {
		t.Error("DATA must not be issued when every recipient was refused")
	}
	if !props.ResetCalled() {
		t.Error("expected the transaction to be aborted with RSET")
	}
	// The session must remain usable for the next transaction.
	if err = c.Noop(); err != nil {
		t.Errorf("session should remain usable: %s", err)
	}
}

func TestClient_SendSenderRejected(t *testing.T) {
	props := &serverProps{FailOnMailFrom: true}
	c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
	envelope := NewEnvelope("toni.tester@example.com",
		[]string{"tina.tester@example.com"}, []byte(testMessage))
	_, err := c.Send(context.Background(), envelope)

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected a SendError, got %v", err)
	}
	if sendErr.Reason != ErrSMTPMailFrom {
		t.Errorf("expected reason %q, got %q", ErrSMTPMailFrom, sendErr.Reason)
	}
	if sendErr.ErrorCode() != 552 {
		t.Errorf("expected error code 552, got %d", sendErr.ErrorCode())
	}
	if sendErr.IsTemp() {
		t.Error("a 552 rejection is permanent, not temporary")
	}
	var refused *smtp.SenderRefusedError
	if !errors.As(err, &refused) {
		t.Errorf("expected a wrapped SenderRefusedError, got %v", err)
	}
	if !props.ResetCalled() {
		t.Error("expected the transaction to be aborted with RSET")
	}
}

func TestClient_SendDataFailures(t *testing.T) {
	t.Run("DATA command rejected", func(t *testing.T) {
		props := &serverProps{FailOnData: true}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		_, err := c.Send(context.Background(), envelope)
		var sendErr *SendError
		if !errors.As(err, &sendErr) {
			t.Fatalf("expected a SendError, got %v", err)
		}
		if sendErr.Reason != ErrSMTPData {
			t.Errorf("expected reason %q, got %q", ErrSMTPData, sendErr.Reason)
		}
		if sendErr.ErrorCode() != 554 {
			t.Errorf("expected error code 554, got %d", sendErr.ErrorCode())
		}
	})
	t.Run("payload refused after final dot", func(t *testing.T) {
		props := &serverProps{
			FailOnDataClose: true,
			FeatureSet:      []string{"ENHANCEDSTATUSCODES"},
		}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		_, err := c.Send(context.Background(), envelope)
		var sendErr *SendError
		if !errors.As(err, &sendErr) {
			t.Fatalf("expected a SendError, got %v", err)
		}
		if sendErr.Reason != ErrSMTPDataClose {
			t.Errorf("expected reason %q, got %q", ErrSMTPDataClose, sendErr.Reason)
		}
		if !sendErr.IsTemp() {
			t.Error("a 452 refusal is temporary and should be retryable")
		}
		if sendErr.EnhancedStatusCode() != "4.3.1" {
			t.Errorf("expected enhanced status code 4.3.1, got %q", sendErr.EnhancedStatusCode())
		}
	})
}

func TestClient_SendPayloadFailure(t *testing.T) {
	props := &serverProps{}
	c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
	payload := io.MultiReader(
		strings.NewReader("Subject: partial\r\n\r\nfirst half of the body\r\n"),
		&failingReader{err: errors.New("disk read failed")},
	)
	envelope := &Envelope{
		From:    "toni.tester@example.com",
		To:      []string{"tina.tester@example.com"},
		Payload: payload,
	}
	_, err := c.Send(context.Background(), envelope)
	if err == nil {
		t.Fatal("expected the payload failure to surface")
	}
	if !errors.Is(err, &SendError{Reason: ErrWriteContent}) {
		t.Errorf("expected an ErrWriteContent send error, got %v", err)
	}
	if c.IsConnected() {
		t.Error("client must drop the connection after an interrupted payload")
	}
	if !props.DataCalled() {
		t.Fatal("the transaction should have reached DATA before failing")
	}
	// Give the server goroutine a moment to notice the closed connection.
	time.Sleep(time.Millisecond * 100)
	if got := props.Received(); got != "" {
		t.Errorf("server accepted an interrupted message as complete: %q", got)
	}
}

func TestClient_SendExtensionChecks(t *testing.T) {
	t.Run("SMTPUTF8 requested but not advertised", func(t *testing.T) {
		props := &serverProps{}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		envelope.MailOptions = []string{"SMTPUTF8"}
		_, err := c.Send(context.Background(), envelope)
		var sendErr *SendError
		if !errors.As(err, &sendErr) {
			t.Fatalf("expected a SendError, got %v", err)
		}
		if sendErr.Reason != ErrExtensionMissing {
			t.Errorf("expected reason %q, got %q", ErrExtensionMissing, sendErr.Reason)
		}
		var notSupported *smtp.NotSupportedError
		if !errors.As(err, &notSupported) || notSupported.Extension != "SMTPUTF8" {
			t.Errorf("expected a wrapped NotSupportedError for SMTPUTF8, got %v", err)
		}
	})
	t.Run("8BITMIME advertised and passed through", func(t *testing.T) {
		props := &serverProps{FeatureSet: []string{"8BITMIME"}}
		c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
		envelope := NewEnvelope("toni.tester@example.com",
			[]string{"tina.tester@example.com"}, []byte(testMessage))
		envelope.MailOptions = []string{"BODY=8BITMIME"}
		if _, err := c.Send(context.Background(), envelope); err != nil {
			t.Fatalf("failed to send message: %s", err)
		}
		if !strings.Contains(props.LastMailFrom(), "BODY=8BITMIME") {
			t.Errorf("expected BODY=8BITMIME on MAIL FROM, got %q", props.LastMailFrom())
		}
	})
}

func TestClient_SendConnCheck(t *testing.T) {
	props := &serverProps{FailOnNoop: true}
	c := testClient(t, startTestServer(t, props), WithTLSPolicy(NoTLS))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	envelope := NewEnvelope("toni.tester@example.com",
		[]string{"tina.tester@example.com"}, []byte(testMessage))
	_, err := c.Send(context.Background(), envelope)
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected a SendError, got %v", err)
	}
	if sendErr.Reason != ErrConnCheck {
		t.Errorf("expected reason %q, got %q", ErrConnCheck, sendErr.Reason)
	}

	// With the probe disabled the transaction goes through.
	c2 := testClient(t, startTestServer(t, &serverProps{FailOnNoop: true}),
		WithTLSPolicy(NoTLS), WithoutNoop())
	if err := c2.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	envelope = NewEnvelope("toni.tester@example.com",
		[]string{"tina.tester@example.com"}, []byte(testMessage))
	if _, err := c2.Send(context.Background(), envelope); err != nil {
		t.Fatalf("failed to send with disabled NOOP probe: %s", err)
	}
}
