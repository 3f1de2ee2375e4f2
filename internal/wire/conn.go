// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

// Package wire implements the byte-stream layer of the SMTP client: buffered
// line-oriented I/O over a net.Conn, per-operation inactivity deadlines, the
// in-place STARTTLS upgrade and dot-stuffed DATA payload streaming.
package wire

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxReplyLineLen is a generous upper bound for a single server reply line
// including CRLF. RFC 5321 only guarantees 512 octets, but several large
// providers exceed that on EHLO responses.
const MaxReplyLineLen = 8192

var (
	// ErrClosed is returned when an operation is attempted on a closed connection.
	ErrClosed = errors.New("wire: connection is closed")

	// ErrAlreadyTLS is returned when a TLS upgrade is requested on a connection
	// that already completed a handshake.
	ErrAlreadyTLS = errors.New("wire: connection is already using TLS")

	// ErrPipelinedData is returned when a TLS upgrade is requested while
	// unconsumed plaintext bytes are sitting in the read buffer. Data received
	// before the upgrade confirmation must be limited to the STARTTLS reply
	// itself (RFC 3207 section 4.2), anything else could be an injection.
	ErrPipelinedData = errors.New("wire: unread plaintext data buffered before TLS upgrade")
)

// Conn wraps a net.Conn with buffered reading/writing and an inactivity
// timeout that is re-armed before every read and write operation.
type Conn struct {
	conn      net.Conn
	rd        *lineReader
	ioTimeout time.Duration
	closed    bool
}

// NewConn returns a Conn wrapping the given network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{conn: nc, rd: newLineReader(nc)}
}

// NetConn returns the underlying net.Conn.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

// SetIOTimeout sets the inactivity timeout applied to every subsequent read
// and write. The timeout is measured per operation, not as an overall
// deadline. A zero or negative value disables the deadline.
func (c *Conn) SetIOTimeout(d time.Duration) {
	c.ioTimeout = d
}

// IOTimeout returns the currently configured inactivity timeout.
func (c *Conn) IOTimeout() time.Duration {
	return c.ioTimeout
}

// arm resets the connection deadline for the next I/O operation.
func (c *Conn) arm() error {
	if c.ioTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.ioTimeout))
	}
	return c.conn.SetDeadline(time.Time{})
}

// ReadLine reads a single CRLF-terminated line, not including the line
// ending. A bare LF is accepted as a terminator for robustness against
// non-conforming servers. Lines longer than maxLen bytes are rejected.
func (c *Conn) ReadLine(maxLen int) (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if err := c.arm(); err != nil {
		return "", err
	}
	return c.rd.readLine(maxLen)
}

// Write sends data over the connection and flushes it out.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if err := c.arm(); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

// WriteLine writes a single line followed by CRLF.
func (c *Conn) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+2)
	buf = append(buf, line...)
	buf = append(buf, '\r', '\n')
	_, err := c.Write(buf)
	return err
}

// Buffered reports the number of bytes sitting unread in the read buffer.
func (c *Conn) Buffered() int {
	return c.rd.buffered()
}

// UpgradeTLS performs an in-place TLS handshake on the existing connection
// and replaces the buffered reader so that no plaintext bytes received
// before the upgrade can be treated as TLS-protected data.
func (c *Conn) UpgradeTLS(config *tls.Config) error {
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.conn.(*tls.Conn); ok {
		return ErrAlreadyTLS
	}
	if c.rd.buffered() > 0 {
		return ErrPipelinedData
	}
	if err := c.arm(); err != nil {
		return err
	}
	tlsConn := tls.Client(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("wire: TLS handshake failed: %w", err)
	}
	c.conn = tlsConn
	c.rd = newLineReader(tlsConn)
	return nil
}

// IsTLS reports whether the connection has been upgraded to TLS.
func (c *Conn) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// TLSConnectionState returns the TLS state of the connection, if any.
func (c *Conn) TLSConnectionState() (tls.ConnectionState, bool) {
	if tc, ok := c.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// DotWriter returns a writer that applies the SMTP DATA transparency rules
// to everything written to it: line endings are normalized to CRLF, lines
// starting with a period get an extra period prefixed and Close terminates
// the payload with the lone-period line. Close does not close the
// connection itself.
func (c *Conn) DotWriter() io.WriteCloser {
	return &dotWriter{c: c, atLineStart: true}
}

// Close closes the underlying connection. It is safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// lineReader is a minimal buffered reader for CRLF-terminated lines. It is
// deliberately not a bufio.Reader so the wrapped Conn can inspect and drop
// the buffer on TLS upgrade without bufio's rescue semantics.
type lineReader struct {
	r     io.Reader
	buf   []byte
	start int
	end   int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, buf: make([]byte, 4096)}
}

func (l *lineReader) buffered() int {
	return l.end - l.start
}

func (l *lineReader) readLine(maxLen int) (string, error) {
	var line []byte
	for {
		for i := l.start; i < l.end; i++ {
			if l.buf[i] == '\n' {
				line = append(line, l.buf[l.start:i]...)
				l.start = i + 1
				if n := len(line); n > 0 && line[n-1] == '\r' {
					line = line[:n-1]
				}
				if len(line) > maxLen {
					return "", fmt.Errorf("wire: line too long (%d bytes, max %d)", len(line), maxLen)
				}
				return string(line), nil
			}
		}
		line = append(line, l.buf[l.start:l.end]...)
		l.start = 0
		l.end = 0
		if len(line) > maxLen {
			return "", fmt.Errorf("wire: line too long (%d bytes, max %d)", len(line), maxLen)
		}

		n, err := l.r.Read(l.buf)
		if n > 0 {
			l.end = n
			continue
		}
		if err == nil {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			// Peer closed before completing the line.
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
}
