// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package wire

import (
	"bufio"
	"io"
)

// dotWriter streams a DATA payload with SMTP transparency applied
// (RFC 5321 section 4.5.2). Lone LF and lone CR bytes are normalized to
// CRLF on the way out, since the payload producer may hand us text with
// unix line endings.
type dotWriter struct {
	c           *Conn
	atLineStart bool
	pendingCR   bool
	closed      bool
}

func (d *dotWriter) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}

	// Worst case every byte turns into two and every line gets stuffed.
	out := make([]byte, 0, len(p)*2)
	for _, b := range p {
		if d.pendingCR {
			d.pendingCR = false
			out = append(out, '\r', '\n')
			d.atLineStart = true
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\r':
			d.pendingCR = true
		case '\n':
			out = append(out, '\r', '\n')
			d.atLineStart = true
		default:
			if d.atLineStart && b == '.' {
				out = append(out, '.')
			}
			out = append(out, b)
			d.atLineStart = false
		}
	}
	if len(out) > 0 {
		if _, err := d.c.Write(out); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes any pending line ending and writes the end-of-data marker.
func (d *dotWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var tail []byte
	if d.pendingCR || !d.atLineStart {
		tail = append(tail, '\r', '\n')
	}
	tail = append(tail, '.', '\r', '\n')
	_, err := d.c.Write(tail)
	return err
}

// DotReader un-stuffs a dot-encoded DATA stream read from r, terminating at
// the lone-period line. It is the receiving-side counterpart of DotWriter
// and exists mainly so transparency can be verified end to end.
func DotReader(r io.Reader) io.Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &dotReader{r: br}
}

type dotReader struct {
	r           *bufio.Reader
	atLineStart bool
	eof         bool
	init        bool
}

func (d *dotReader) Read(p []byte) (int, error) {
	if !d.init {
		d.atLineStart = true
		d.init = true
	}
	if d.eof {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) {
		b, err := d.r.ReadByte()
		if err != nil {
			d.eof = true
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if d.atLineStart && b == '.' {
			next, err := d.r.ReadByte()
			if err != nil {
				d.eof = true
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			switch next {
			case '\r':
				// Expect the LF completing the terminator.
				if lf, err := d.r.ReadByte(); err == nil && lf != '\n' {
					_ = d.r.UnreadByte()
				}
				d.eof = true
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			case '\n':
				d.eof = true
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			default:
				// Stuffed line: drop the leading period.
				b = next
			}
		}

		d.atLineStart = b == '\n'
		p[n] = b
		n++
	}
	return n, nil
}
