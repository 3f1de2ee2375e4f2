// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

// Package smtp implements the client side of the Simple Mail Transfer
// Protocol as defined in RFC 5321, including the following extensions:
//
//	8BITMIME  RFC 1652
//	AUTH      RFC 4954
//	STARTTLS  RFC 3207
//	SMTPUTF8  RFC 6531
//	SIZE      RFC 1870
//
// The package contains the command/response engine and the authentication
// mechanisms; session policy (TLS negotiation strategy, credential
// handling, transaction orchestration) lives in the parent package.
package smtp

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jvosberg/go-smtpclient/internal/wire"
	"github.com/jvosberg/go-smtpclient/log"
)

// Client is a client connection to an SMTP server. Its command methods may
// be called from multiple goroutines; an internal lock serializes them so
// that exactly one command is in flight at any time. SMTP has no request
// multiplexing, so a second command written before the first reply is read
// would corrupt the stream framing.
type Client struct {
	// mutex is the one-command-in-flight lock. It is held from the moment
	// a command line is written until its complete reply has been read
	// (and, for DATA, until the payload exchange has finished).
	mutex sync.Mutex

	conn *wire.Conn

	// serverName is the host the client connected to, used for mechanism
	// verification and TLS SNI.
	serverName string

	// localName is the name announced in EHLO/HELO.
	localName string

	// ext maps advertised ESMTP extension keywords to their parameters.
	// Only valid for the current plaintext/secure state of the connection.
	ext map[string]string

	// auth lists the AUTH mechanisms advertised in the last EHLO reply.
	auth []string

	didHello   bool
	helloError error

	tls       bool
	connected bool

	logger       log.Logger
	debug        bool
	logAuthData  bool
	authIsActive bool
}

// NewClient returns a new Client using an existing connection and host as
// the server name to be used for verification and TLS. It consumes the
// server greeting and fails with a ConnectError if that greeting does not
// carry code 220, closing the connection in that case. The timeout bounds
// the greeting read and every subsequent network operation; a zero value
// leaves the connection unbounded.
func NewClient(conn net.Conn, host string, timeout time.Duration) (*Client, error) {
	c := &Client{
		conn:       wire.NewConn(conn),
		serverName: host,
		localName:  "localhost",
	}
	c.conn.SetIOTimeout(timeout)
	_, c.tls = conn.(*tls.Conn)

	greeting, err := ReadReply(c.conn)
	if err != nil {
		_ = c.conn.Close()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			err = &TimeoutError{Kind: TimeoutConnect, Err: err}
		}
		return nil, &ConnectError{Addr: host, Err: err}
	}
	if greeting.Code != 220 {
		_ = c.conn.Close()
		return nil, &ConnectError{Addr: host, Reply: &greeting}
	}
	c.connected = true
	return c, nil
}

// SetTimeout sets the per-operation inactivity timeout for all subsequent
// network reads and writes. The timer restarts with every operation, it is
// not an overall deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.conn.SetIOTimeout(d)
}

// SetLogger provides a logger that satisfies the log.Logger interface for
// protocol debug logging.
func (c *Client) SetLogger(l log.Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetDebugLog enables logging of the client/server dialogue.
func (c *Client) SetDebugLog(v bool) {
	c.debug = v
	if v && c.logger == nil {
		c.logger = log.New(os.Stderr, log.LevelDebug)
	}
}

// SetLogAuthData disables the redaction of AUTH exchanges in the debug log.
func (c *Client) SetLogAuthData(v bool) {
	c.logAuthData = v
}

// IsConnected reports whether the client still considers its connection
// established.
func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connected
}

// IsTLS reports whether the connection is encrypted.
func (c *Client) IsTLS() bool {
	return c.tls
}

// TLSConnectionState returns the TLS state of the underlying connection.
func (c *Client) TLSConnectionState() (tls.ConnectionState, error) {
	if !c.connected {
		return tls.ConnectionState{}, ErrNoConnection
	}
	state, ok := c.conn.TLSConnectionState()
	if !ok {
		return tls.ConnectionState{}, ErrNonTLSConnection
	}
	return state, nil
}

// Close closes the connection without the QUIT handshake. It is idempotent.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.markDisconnectedLocked()
	return c.conn.Close()
}

// markDisconnectedLocked drops the session state. Callers must hold mutex.
func (c *Client) markDisconnectedLocked() {
	c.connected = false
	c.ext = nil
	c.auth = nil
	c.didHello = false
	c.helloError = nil
}

// ioError converts a wire-level failure into the package error taxonomy.
// Anything that is not a timeout means the stream is unusable, so the
// session state is dropped. Callers must hold mutex.
func (c *Client) ioError(err error, kind TimeoutKind) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Kind: kind, Err: err}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		// Framing is lost; the connection cannot be trusted anymore.
		c.markDisconnectedLocked()
		return err
	}
	c.markDisconnectedLocked()
	return fmt.Errorf("%w: %v", ErrServerDisconnected, err)
}

// cmd sends a single command line and reads its complete reply while
// holding the in-flight lock. A non-zero expect is matched against the
// reply code using the net/textproto convention (25 matches 250-259); a
// mismatch yields a ReplyError carrying the reply.
func (c *Client) cmd(expect int, format string, args ...interface{}) (Reply, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cmdLocked(expect, format, args...)
}

// cmdLocked is cmd for callers that already hold mutex (the DATA and
// STARTTLS flows, which span multiple exchanges under one lock).
func (c *Client) cmdLocked(expect int, format string, args ...interface{}) (Reply, error) {
	if !c.connected {
		return Reply{}, ErrServerDisconnected
	}

	line := fmt.Sprintf(format, args...)
	c.debugLog(log.DirClientToServer, "%s", c.redacted(line))
	if err := c.conn.WriteLine(line); err != nil {
		return Reply{}, c.ioError(err, TimeoutCommand)
	}

	reply, err := ReadReply(c.conn)
	if err != nil {
		return Reply{}, c.ioError(err, TimeoutCommand)
	}
	c.debugLog(log.DirServerToClient, "%s", c.redactedReply(reply))

	if expect > 0 && !codeMatches(reply.Code, expect) {
		return reply, &ReplyError{Reply: reply}
	}
	return reply, nil
}

// Hello sends EHLO (falling back to HELO) using the given name as the
// client identity. If used, it must be called before any other method;
// otherwise the client introduces itself as "localhost" on demand.
func (c *Client) Hello(localName string) error {
	if err := validateLine(localName); err != nil {
		return err
	}
	if c.didHello {
		return errors.New("smtp: Hello called after other methods")
	}
	c.localName = localName
	return c.hello()
}

// hello runs the EHLO/HELO exchange once per session. EHLO rejections with
// a 5xx code trigger the legacy HELO fallback; transport failures do not.
func (c *Client) hello() error {
	if c.didHello {
		return c.helloError
	}
	c.didHello = true
	if err := c.Ehlo(); err != nil {
		var re *ReplyError
		if errors.As(err, &re) && re.Reply.Code >= 500 {
			c.helloError = c.helo()
		} else {
			c.helloError = err
		}
	}
	return c.helloError
}

// Ehlo sends the EHLO command and caches the advertised extensions and
// AUTH mechanisms. The cache is only valid for the current
// plaintext/secure state; StartTLS re-runs Ehlo automatically.
func (c *Client) Ehlo() error {
	reply, err := c.cmd(250, "EHLO %s", c.localName)
	if err != nil {
		return err
	}
	c.ext, c.auth = parseEhloReply(reply)
	return nil
}

// helo is the capability-less legacy greeting, used only when the server
// rejects EHLO.
func (c *Client) helo() error {
	c.ext = nil
	c.auth = nil
	_, err := c.cmd(250, "HELO %s", c.localName)
	return err
}

// parseEhloReply extracts the extension map and AUTH mechanism list from
// an EHLO reply. The first line is the server identity and is skipped.
// Both the standard "AUTH A B" parameter form and the obsolete "AUTH=A"
// advertisement are honored, some servers only emit the latter.
func parseEhloReply(reply Reply) (map[string]string, []string) {
	ext := make(map[string]string)
	var auth []string
	for _, line := range reply.Lines[1:] {
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(strings.ToUpper(line), "AUTH="); ok {
			for _, mech := range strings.Fields(rest) {
				auth = append(auth, strings.ToUpper(mech))
			}
			continue
		}
		keyword, params, _ := strings.Cut(line, " ")
		keyword = strings.ToUpper(keyword)
		ext[keyword] = params
		if keyword == "AUTH" {
			for _, mech := range strings.Fields(params) {
				auth = append(auth, strings.ToUpper(mech))
			}
		}
	}
	return ext, auth
}

// Extension reports whether the server advertises the named extension,
// along with any parameters it carries. The name is case-insensitive.
func (c *Client) Extension(ext string) (bool, string) {
	if err := c.hello(); err != nil {
		return false, ""
	}
	if c.ext == nil {
		return false, ""
	}
	param, ok := c.ext[strings.ToUpper(ext)]
	return ok, param
}

// AuthMechanisms returns the AUTH mechanisms advertised in the last EHLO
// reply, uppercased, in server order.
func (c *Client) AuthMechanisms() []string {
	if err := c.hello(); err != nil {
		return nil
	}
	return c.auth
}

// StartTLS upgrades the connection to TLS in place and re-issues EHLO,
// since RFC 3207 requires all knowledge obtained before the handshake to
// be discarded (a server may only reveal its AUTH mechanisms post-TLS).
func (c *Client) StartTLS(config *tls.Config) error {
	if err := c.hello(); err != nil {
		return err
	}

	c.mutex.Lock()
	if c.tls {
		c.mutex.Unlock()
		return errors.New("smtp: connection is already using TLS")
	}
	reply, err := c.cmdLocked(220, "STARTTLS")
	if err != nil {
		if errors.As(err, new(*ReplyError)) {
			// A refused upgrade must not leave a usable plaintext
			// session behind. The connection ends here.
			c.markDisconnectedLocked()
			_ = c.conn.Close()
			c.mutex.Unlock()
			return &TLSError{Err: fmt.Errorf("server rejected STARTTLS: %s", reply.String())}
		}
		c.mutex.Unlock()
		return err
	}
	if err := c.conn.UpgradeTLS(config); err != nil {
		// A failed upgrade leaves the stream in an unknown state.
		c.markDisconnectedLocked()
		_ = c.conn.Close()
		c.mutex.Unlock()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &TimeoutError{Kind: TimeoutTLSHandshake, Err: err}
		}
		return &TLSError{Err: err}
	}
	c.tls = true
	c.ext = nil
	c.auth = nil
	c.mutex.Unlock()

	return c.Ehlo()
}

// Auth authenticates the client using the provided mechanism, driving the
// RFC 4954 challenge/response dialogue. A definitive server rejection is
// returned as an AuthError; the connection remains usable.
func (c *Client) Auth(a Auth) error {
	if err := c.hello(); err != nil {
		return err
	}

	c.authIsActive = true
	defer func() { c.authIsActive = false }()

	encoding := base64.StdEncoding
	mech, resp, err := a.Start(&ServerInfo{Name: c.serverName, TLS: c.tls, Auth: c.auth})
	if err != nil {
		return &AuthError{Message: err.Error(), Mechanism: mech}
	}

	cmdLine := "AUTH " + mech
	if resp != nil {
		cmdLine += " " + encoding.EncodeToString(resp)
	}
	reply, err := c.cmd(0, "%s", cmdLine)
	for err == nil {
		var challenge []byte
		switch reply.Code {
		case 334:
			challenge, err = encoding.DecodeString(reply.Message())
		case 235:
			// Success; the final message is not a challenge.
			return nil
		default:
			return &AuthError{Code: reply.Code, Message: reply.Message(), Mechanism: mech}
		}
		if err == nil {
			resp, err = a.Next(challenge, reply.Code == 334)
		}
		if err != nil {
			// Abort the exchange. XOAUTH2 servers treat "*" as a response,
			// so skip the abort there.
			if mech != "XOAUTH2" {
				_, _ = c.cmd(501, "*")
			}
			return &AuthError{Message: err.Error(), Mechanism: mech}
		}
		if resp == nil {
			return &AuthError{Message: "server expects more responses than mechanism can provide", Mechanism: mech}
		}
		reply, err = c.cmd(0, "%s", encoding.EncodeToString(resp))
	}
	return err
}

// Mail issues the MAIL command with the given envelope sender, beginning a
// new mail transaction. Options such as "SIZE=1024" or "SMTPUTF8" are
// appended verbatim. A rejection is returned as a SenderRefusedError.
func (c *Client) Mail(from string, opts ...string) error {
	if err := validateLine(from); err != nil {
		return err
	}
	if err := c.hello(); err != nil {
		return err
	}
	cmdLine := fmt.Sprintf("MAIL FROM:<%s>", from)
	for _, opt := range opts {
		if err := validateLine(opt); err != nil {
			return err
		}
		cmdLine += " " + opt
	}
	reply, err := c.cmd(0, "%s", cmdLine)
	if err != nil {
		return err
	}
	if reply.Code != 250 {
		return &SenderRefusedError{Code: reply.Code, Message: reply.Message(), Sender: from}
	}
	return nil
}

// Rcpt issues the RCPT command for a single recipient. It must be preceded
// by Mail and may be followed by Data or further Rcpt calls. Codes 250 and
// 251 are accepted; anything else is a RecipientRefusedError, which does
// not invalidate the transaction for other recipients.
func (c *Client) Rcpt(to string, opts ...string) error {
	if err := validateLine(to); err != nil {
		return err
	}
	cmdLine := fmt.Sprintf("RCPT TO:<%s>", to)
	for _, opt := range opts {
		if err := validateLine(opt); err != nil {
			return err
		}
		cmdLine += " " + opt
	}
	reply, err := c.cmd(0, "%s", cmdLine)
	if err != nil {
		return err
	}
	if reply.Code != 250 && reply.Code != 251 {
		return &RecipientRefusedError{Code: reply.Code, Message: reply.Message(), Recipient: to}
	}
	return nil
}

// DataCloser streams a DATA payload. The in-flight lock stays held from
// the DATA command until Close has consumed the server's final reply, so
// no other command can interleave with the payload.
type DataCloser struct {
	c      *Client
	wc     io.WriteCloser
	reply  Reply
	closed bool
}

// Write writes payload bytes through the dot-stuffing encoder.
func (d *DataCloser) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := d.wc.Write(p)
	if err != nil {
		// The stream position inside the payload is unknown now, the
		// connection cannot be reused.
		err = d.c.ioError(err, TimeoutData)
		d.closed = true
		d.c.markDisconnectedLocked()
		_ = d.c.conn.Close()
		d.c.mutex.Unlock()
	}
	return n, err
}

// Close terminates the payload, waits for the server's verdict and
// releases the in-flight lock. The final reply must carry code 250.
func (d *DataCloser) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	defer d.c.mutex.Unlock()

	if err := d.wc.Close(); err != nil {
		return d.c.ioError(err, TimeoutData)
	}
	reply, err := ReadReply(d.c.conn)
	if err != nil {
		return d.c.ioError(err, TimeoutData)
	}
	d.c.debugLog(log.DirServerToClient, "%s", reply.String())
	d.reply = reply
	if reply.Code != 250 {
		return &ReplyError{Reply: reply}
	}
	return nil
}

// Abort abandons the payload mid-stream. The dot terminator is never
// written and the connection is closed, so the server cannot mistake the
// truncated payload for a complete message and deliver it. The in-flight
// lock is released.
func (d *DataCloser) Abort() error {
	if d.closed {
		return nil
	}
	d.closed = true
	defer d.c.mutex.Unlock()
	d.c.markDisconnectedLocked()
	return d.c.conn.Close()
}

// ServerReply returns the reply the server sent after the payload was
// terminated. It is the zero Reply until Close has returned.
func (d *DataCloser) ServerReply() Reply {
	return d.reply
}

// Data issues the DATA command and, after the server's 354 go-ahead,
// returns a writer for the message payload. The caller must close the
// writer before issuing any further commands on the client.
func (c *Client) Data() (*DataCloser, error) {
	if err := c.hello(); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	reply, err := c.cmdLocked(0, "DATA")
	if err != nil {
		c.mutex.Unlock()
		return nil, err
	}
	if reply.Code != 354 {
		c.mutex.Unlock()
		return nil, &ReplyError{Reply: reply}
	}
	return &DataCloser{c: c, wc: c.conn.DotWriter()}, nil
}

// Verify checks the validity of an email address on the server via VRFY.
// Many servers refuse to answer for privacy reasons, so a rejection does
// not necessarily mean the address is invalid.
func (c *Client) Verify(addr string) error {
	if err := validateLine(addr); err != nil {
		return err
	}
	if err := c.hello(); err != nil {
		return err
	}
	_, err := c.cmd(25, "VRFY %s", addr)
	return err
}

// Reset sends the RSET command, aborting the current mail transaction.
func (c *Client) Reset() error {
	if err := c.hello(); err != nil {
		return err
	}
	_, err := c.cmd(250, "RSET")
	return err
}

// Noop sends the NOOP command, verifying that the connection is alive.
func (c *Client) Noop() error {
	if err := c.hello(); err != nil {
		return err
	}
	_, err := c.cmd(250, "NOOP")
	return err
}

// Quit sends the QUIT command and closes the connection.
func (c *Client) Quit() error {
	_, err := c.cmd(221, "QUIT")
	if err != nil {
		return err
	}
	return c.Close()
}

// redacted hides AUTH exchange content in the debug log unless explicitly
// enabled.
func (c *Client) redacted(line string) string {
	if c.authIsActive && !c.logAuthData {
		return "<SMTP auth data redacted>"
	}
	return line
}

func (c *Client) redactedReply(reply Reply) string {
	if c.authIsActive && !c.logAuthData && reply.Code >= 300 && reply.Code < 400 {
		return fmt.Sprintf("%d <SMTP auth data redacted>", reply.Code)
	}
	return reply.String()
}

func (c *Client) debugLog(d log.Direction, format string, args ...interface{}) {
	if c.debug && c.logger != nil {
		c.logger.Debugf(log.Log{Direction: d, Format: format, Messages: args})
	}
}

// validateLine rejects strings carrying CR or LF, which would allow
// command injection (RFC 5321 section 4.1.1).
func validateLine(line string) error {
	if strings.ContainsAny(line, "\n\r") {
		return errors.New("smtp: a line must not contain CR or LF")
	}
	return nil
}
