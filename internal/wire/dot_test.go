// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package wire

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// sink is a net.Conn that collects everything written to it.
type sink struct {
	data strings.Builder
}

func (s *sink) Read([]byte) (int, error)         { return 0, io.EOF }
func (s *sink) Write(p []byte) (int, error)      { return s.data.Write(p) }
func (s *sink) Close() error                     { return nil }
func (s *sink) LocalAddr() net.Addr              { return nil }
func (s *sink) RemoteAddr() net.Addr             { return nil }
func (s *sink) SetDeadline(time.Time) error      { return nil }
func (s *sink) SetReadDeadline(time.Time) error  { return nil }
func (s *sink) SetWriteDeadline(time.Time) error { return nil }

func TestDotWriter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple line", "abc", "abc\r\n.\r\n"},
		{"LF terminated line", "abc\n", "abc\r\n.\r\n"},
		{"empty payload", "", ".\r\n"},
		{"unix line endings are normalized", "one\ntwo\n", "one\r\ntwo\r\n.\r\n"},
		{"lone CR is normalized", "one\rtwo", "one\r\ntwo\r\n.\r\n"},
		{"CRLF is preserved", "one\r\ntwo", "one\r\ntwo\r\n.\r\n"},
		{"trailing CR is completed", "abc\r", "abc\r\n.\r\n"},
		{"leading period is stuffed", ".hidden", "..hidden\r\n.\r\n"},
		{"only first period is stuffed", "..x", "...x\r\n.\r\n"},
		{"period mid-line is untouched", "a.b", "a.b\r\n.\r\n"},
		{"lone period line is stuffed", "one\n.\ntwo", "one\r\n..\r\ntwo\r\n.\r\n"},
		{"period after CRLF is stuffed", "one\r\n.two", "one\r\n..two\r\n.\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &sink{}
			w := NewConn(out).DotWriter()
			if _, err := io.WriteString(w, tt.input); err != nil {
				t.Fatalf("failed to write payload: %s", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("failed to close dot writer: %s", err)
			}
			if got := out.data.String(); got != tt.want {
				t.Errorf("payload mismatch, want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDotWriter_ByteAtATime(t *testing.T) {
	// Transparency state must survive arbitrary chunk boundaries.
	input := "line1\r\n.stuffed\nlast"
	want := "line1\r\n..stuffed\r\nlast\r\n.\r\n"
	out := &sink{}
	w := NewConn(out).DotWriter()
	for i := 0; i < len(input); i++ {
		if _, err := w.Write([]byte{input[i]}); err != nil {
			t.Fatalf("failed to write byte %d: %s", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close dot writer: %s", err)
	}
	if got := out.data.String(); got != want {
		t.Errorf("payload mismatch, want %q, got %q", want, got)
	}
}

func TestDotWriter_WriteAfterClose(t *testing.T) {
	out := &sink{}
	w := NewConn(out).DotWriter()
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close dot writer: %s", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected write after close to fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %s", err)
	}
}

func TestDotReader(t *testing.T) {
	tests := []struct {
		name  string
		wire  string
		want  string
	}{
		{"simple message", "abc\r\n.\r\n", "abc\r\n"},
		{"stuffed line is unstuffed", "..hidden\r\n.\r\n", ".hidden\r\n"},
		{"terminator without payload", ".\r\n", ""},
		{"multiple lines", "one\r\ntwo\r\n.\r\n", "one\r\ntwo\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(DotReader(strings.NewReader(tt.wire)))
			if err != nil {
				t.Fatalf("failed to read dot-encoded stream: %s", err)
			}
			if string(got) != tt.want {
				t.Errorf("content mismatch, want %q, got %q", tt.want, string(got))
			}
		})
	}
}

func TestDotRoundTrip(t *testing.T) {
	input := "From: a@example.com\r\n\r\nLine 1\n.Leading dot line .\nGoodbye."
	want := "From: a@example.com\r\n\r\nLine 1\r\n.Leading dot line .\r\nGoodbye.\r\n"

	out := &sink{}
	w := NewConn(out).DotWriter()
	if _, err := io.WriteString(w, input); err != nil {
		t.Fatalf("failed to write payload: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close dot writer: %s", err)
	}
	got, err := io.ReadAll(DotReader(strings.NewReader(out.data.String())))
	if err != nil {
		t.Fatalf("failed to read back payload: %s", err)
	}
	if string(got) != want {
		t.Errorf("round trip mismatch, want %q, got %q", want, string(got))
	}
}
