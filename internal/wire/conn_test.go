// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package wire

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

type faker struct {
	io.ReadWriter
}

func (f faker) Close() error                     { return nil }
func (f faker) LocalAddr() net.Addr              { return nil }
func (f faker) RemoteAddr() net.Addr             { return nil }
func (f faker) SetDeadline(time.Time) error      { return nil }
func (f faker) SetReadDeadline(time.Time) error  { return nil }
func (f faker) SetWriteDeadline(time.Time) error { return nil }

func fakeConn(server string, out io.Writer) *Conn {
	if out == nil {
		out = io.Discard
	}
	var fake faker
	fake.ReadWriter = bufio.NewReadWriter(bufio.NewReader(strings.NewReader(server)), bufio.NewWriter(out))
	return NewConn(fake)
}

func TestConn_ReadLine(t *testing.T) {
	t.Run("CRLF terminated lines", func(t *testing.T) {
		c := fakeConn("250 OK\r\n354 go ahead\r\n", nil)
		line, err := c.ReadLine(MaxReplyLineLen)
		if err != nil {
			t.Fatalf("failed to read line: %s", err)
		}
		if line != "250 OK" {
			t.Errorf("expected line to be %q, got %q", "250 OK", line)
		}
		line, err = c.ReadLine(MaxReplyLineLen)
		if err != nil {
			t.Fatalf("failed to read second line: %s", err)
		}
		if line != "354 go ahead" {
			t.Errorf("expected line to be %q, got %q", "354 go ahead", line)
		}
	})
	t.Run("bare LF is accepted as terminator", func(t *testing.T) {
		c := fakeConn("250 OK\n", nil)
		line, err := c.ReadLine(MaxReplyLineLen)
		if err != nil {
			t.Fatalf("failed to read line: %s", err)
		}
		if line != "250 OK" {
			t.Errorf("expected line to be %q, got %q", "250 OK", line)
		}
	})
	t.Run("line split across reads is reassembled", func(t *testing.T) {
		pr, pw := io.Pipe()
		var fake faker
		fake.ReadWriter = bufio.NewReadWriter(bufio.NewReader(pr), bufio.NewWriter(io.Discard))
		c := NewConn(fake)
		go func() {
			_, _ = pw.Write([]byte("250 first "))
			_, _ = pw.Write([]byte("half\r\n"))
			_ = pw.Close()
		}()
		line, err := c.ReadLine(MaxReplyLineLen)
		if err != nil {
			t.Fatalf("failed to read line: %s", err)
		}
		if line != "250 first half" {
			t.Errorf("expected line to be %q, got %q", "250 first half", line)
		}
	})
	t.Run("EOF mid-line reports unexpected EOF", func(t *testing.T) {
		c := fakeConn("250 truncat", nil)
		if _, err := c.ReadLine(MaxReplyLineLen); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
		}
	})
	t.Run("EOF at line boundary reports plain EOF", func(t *testing.T) {
		c := fakeConn("250 OK\r\n", nil)
		if _, err := c.ReadLine(MaxReplyLineLen); err != nil {
			t.Fatalf("failed to read line: %s", err)
		}
		if _, err := c.ReadLine(MaxReplyLineLen); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})
	t.Run("overlong line is rejected", func(t *testing.T) {
		c := fakeConn("250 "+strings.Repeat("x", 64)+"\r\n", nil)
		if _, err := c.ReadLine(16); err == nil {
			t.Error("expected overlong line to be rejected")
		}
	})
	t.Run("read on closed connection fails", func(t *testing.T) {
		c := fakeConn("250 OK\r\n", nil)
		if err := c.Close(); err != nil {
			t.Fatalf("failed to close connection: %s", err)
		}
		if _, err := c.ReadLine(MaxReplyLineLen); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestConn_WriteLine(t *testing.T) {
	var out strings.Builder
	var fake faker
	fake.ReadWriter = bufio.NewReadWriter(bufio.NewReader(strings.NewReader("")), bufio.NewWriter(&out))
	c := NewConn(&writeThrough{fake: fake, out: &out})
	if err := c.WriteLine("EHLO client.example.com"); err != nil {
		t.Fatalf("failed to write line: %s", err)
	}
	if out.String() != "EHLO client.example.com\r\n" {
		t.Errorf("expected CRLF terminated command, got %q", out.String())
	}
}

// writeThrough is a net.Conn whose writes land directly in a builder, no
// flushing required.
type writeThrough struct {
	fake faker
	out  *strings.Builder
}

func (w *writeThrough) Read(p []byte) (int, error)       { return w.fake.Read(p) }
func (w *writeThrough) Write(p []byte) (int, error)      { return w.out.Write(p) }
func (w *writeThrough) Close() error                     { return nil }
func (w *writeThrough) LocalAddr() net.Addr              { return nil }
func (w *writeThrough) RemoteAddr() net.Addr             { return nil }
func (w *writeThrough) SetDeadline(time.Time) error      { return nil }
func (w *writeThrough) SetReadDeadline(time.Time) error  { return nil }
func (w *writeThrough) SetWriteDeadline(time.Time) error { return nil }

func TestConn_ReadLineTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer func() {
		_ = client.Close()
		_ = server.Close()
	}()
	c := NewConn(client)
	c.SetIOTimeout(time.Millisecond * 50)
	_, err := c.ReadLine(MaxReplyLineLen)
	if err == nil {
		t.Fatal("expected read on idle connection to time out")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("expected a net.Error timeout, got %v", err)
	}
}

func TestConn_UpgradeTLS(t *testing.T) {
	t.Run("upgrade with buffered plaintext is refused", func(t *testing.T) {
		// Both the reply and trailing data arrive in one segment, so the
		// extra bytes sit in the read buffer when the upgrade starts.
		c := fakeConn("220 ready for TLS\r\nEHLO injected.example.com\r\n", nil)
		line, err := c.ReadLine(MaxReplyLineLen)
		if err != nil {
			t.Fatalf("failed to read reply: %s", err)
		}
		if line != "220 ready for TLS" {
			t.Fatalf("unexpected reply line: %q", line)
		}
		if c.Buffered() == 0 {
			t.Fatal("expected trailing bytes in the read buffer")
		}
		if err := c.UpgradeTLS(&tls.Config{}); !errors.Is(err, ErrPipelinedData) {
			t.Errorf("expected ErrPipelinedData, got %v", err)
		}
	})
	t.Run("double upgrade is refused", func(t *testing.T) {
		var fake faker
		fake.ReadWriter = bufio.NewReadWriter(bufio.NewReader(strings.NewReader("")), bufio.NewWriter(io.Discard))
		c := NewConn(tls.Client(fake, &tls.Config{}))
		if err := c.UpgradeTLS(&tls.Config{}); !errors.Is(err, ErrAlreadyTLS) {
			t.Errorf("expected ErrAlreadyTLS, got %v", err)
		}
	})
	t.Run("upgrade on closed connection is refused", func(t *testing.T) {
		c := fakeConn("", nil)
		_ = c.Close()
		if err := c.UpgradeTLS(&tls.Config{}); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestConn_Close(t *testing.T) {
	c := fakeConn("", nil)
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close connection: %s", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %s", err)
	}
}
