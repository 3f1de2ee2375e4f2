// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is a parsed SMTP server reply: a three-digit status code and the
// textual message, one entry per reply line. A Reply is immutable once
// returned by ReadReply.
type Reply struct {
	Code  int
	Lines []string
}

// Message joins the text of all reply lines with newlines.
func (r Reply) Message() string {
	return strings.Join(r.Lines, "\n")
}

// String formats the reply the way it would appear in a transcript.
func (r Reply) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message())
}

// ParseError reports a malformed server reply line. Replies that cannot be
// framed are unrecoverable for the session, the caller is expected to drop
// the connection.
type ParseError struct {
	Line   string
	Reason string
}

// Error satisfies the error interface for the ParseError type.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed SMTP reply line %q: %s", e.Line, e.Reason)
}

// LineReader is the line source ReadReply consumes, satisfied by wire.Conn.
type LineReader interface {
	ReadLine(maxLen int) (string, error)
}

// maxReplyLineLen mirrors the wire package limit.
const maxReplyLineLen = 8192

// ReadReply reads one complete, possibly multi-line server reply. Reply
// framing follows RFC 5321 section 4.2: the first three characters of each
// line are the status code, the fourth is "-" on continuation lines and a
// space on the final line. All continuation lines must repeat the status
// code of the first line.
//
// Non-UTF-8 bytes in the reply text are replaced with U+FFFD rather than
// rejected; plenty of servers emit 8-bit greetings and the text is
// informational only.
func ReadReply(r LineReader) (Reply, error) {
	var reply Reply
	for {
		line, err := r.ReadLine(maxReplyLineLen)
		if err != nil {
			return Reply{}, err
		}
		line = strings.ToValidUTF8(line, "�")

		if len(line) < 4 {
			return Reply{}, &ParseError{Line: line, Reason: "line shorter than 4 characters"}
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, &ParseError{Line: line, Reason: "non-numeric status code"}
		}
		if code < 100 || code > 599 {
			return Reply{}, &ParseError{Line: line, Reason: "status code out of range"}
		}
		if len(reply.Lines) == 0 {
			reply.Code = code
		} else if code != reply.Code {
			return Reply{}, &ParseError{
				Line:   line,
				Reason: fmt.Sprintf("continuation code %d does not match %d", code, reply.Code),
			}
		}

		sep := line[3]
		reply.Lines = append(reply.Lines, line[4:])
		switch sep {
		case '-':
			continue
		case ' ':
			return reply, nil
		default:
			return Reply{}, &ParseError{Line: line, Reason: "invalid separator after status code"}
		}
	}
}

// codeMatches reports whether code satisfies the expectation expect,
// using the net/textproto convention: an expectation below 10 matches the
// first digit, below 100 the first two digits, otherwise the full code.
func codeMatches(code, expect int) bool {
	switch {
	case expect < 10:
		return code/100 == expect
	case expect < 100:
		return code/10 == expect
	default:
		return code == expect
	}
}
