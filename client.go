// SPDX-FileCopyrightText: The go-smtpclient Authors
//
// SPDX-License-Identifier: MIT

package smtpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jvosberg/go-smtpclient/log"
	"github.com/jvosberg/go-smtpclient/smtp"
)

// Defaults
const (
	// DefaultPort is the default connection port to the SMTP server
	DefaultPort = 25

	// DefaultPortSSL is the default connection port for SSL/TLS to the SMTP server
	DefaultPortSSL = 465

	// DefaultPortTLS is the default connection port for STARTTLS to the SMTP server
	DefaultPortTLS = 587

	// DefaultTimeout is the default per-operation inactivity timeout
	DefaultTimeout = time.Second * 60

	// DefaultTLSPolicy is the default STARTTLS policy
	DefaultTLSPolicy = TLSMandatory

	// DefaultTLSMinVersion is the minimum TLS version required for the connection
	// Nowadays TLS1.2 should be the sane default
	DefaultTLSMinVersion = tls.VersionTLS12
)

// DialContextFunc is a type to define custom DialContext function.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client is the session-level SMTP client. It owns the connection
// lifecycle: dialing, greeting, TLS negotiation per policy, authentication
// and teardown. The protocol work itself is delegated to smtp.Client.
type Client struct {
	// connMu guards the connection lifecycle fields below
	connMu sync.Mutex

	// sendMu serializes mail transactions on this client
	sendMu sync.Mutex

	// conn is the net.Conn that the smtp.Client is based on
	conn net.Conn

	// sc is the smtp.Client that is set up during Connect
	sc *smtp.Client

	// timeout is the per-operation inactivity timeout for the connection
	timeout time.Duration

	// helo holds the name announced in the EHLO/HELO greeting
	helo string

	// host is the hostname of the target SMTP server
	host string

	// port of the SMTP server to connect to
	port         int
	fallbackPort int

	// ssl requests an implicit TLS connection (TLS from the first byte)
	ssl bool

	// tlspolicy selects the STARTTLS negotiation strategy
	tlspolicy TLSPolicy

	// tlsconfig is the tls.Config used for implicit TLS and STARTTLS
	tlsconfig *tls.Config

	// socketPath connects via a unix domain socket instead of TCP
	socketPath string

	// preMadeConn is used verbatim instead of dialing when set
	preMadeConn net.Conn

	// sourceAddr binds the outgoing TCP connection to a local address
	sourceAddr net.Addr

	// dialContextFunc is a custom DialContext function to dial the target SMTP server
	dialContextFunc DialContextFunc

	// user is the SMTP AUTH username
	user string

	// pass is the corresponding SMTP AUTH password
	pass string

	// authType selects the SMTP AUTH mechanism
	authType AuthType

	// authPreference is the mechanism order for auto-discovery
	authPreference []AuthType

	// customAuth overrides the mechanism selection entirely
	customAuth smtp.Auth

	// tokenSource supplies OAuth2 tokens for XOAUTH2
	tokenSource TokenSource

	// allowPlaintextAuth permits PLAIN/LOGIN on unencrypted connections
	allowPlaintextAuth bool

	// noNoop disables the connection liveness probe
	noNoop bool

	logger      log.Logger
	debug       bool
	logAuthData bool
}

// Option returns a function that can be used for grouping Client options
type Option func(*Client) error

var (
	// ErrInvalidPort should be used if a port is specified that is not valid
	ErrInvalidPort = errors.New("invalid port number")

	// ErrInvalidTimeout should be used if a timeout is set that is zero or negative
	ErrInvalidTimeout = errors.New("timeout cannot be zero or negative")

	// ErrInvalidHELO should be used if an empty HELO string is provided
	ErrInvalidHELO = errors.New("invalid HELO/EHLO value - must not be empty")

	// ErrInvalidTLSConfig should be used if an empty tls.Config is provided
	ErrInvalidTLSConfig = errors.New("invalid TLS config")

	// ErrNoHostname should be used if a Client has no hostname set
	ErrNoHostname = errors.New("hostname for client cannot be empty")

	// ErrNoActiveConnection should be used when a method requires a server
	// connection but the client is not connected
	ErrNoActiveConnection = errors.New("not connected to SMTP server")

	// ErrAlreadyConnected should be used when Connect is called on a client
	// that already holds an established session
	ErrAlreadyConnected = errors.New("already connected to SMTP server")

	// ErrInvalidSourceAddress should be used if the source address cannot be parsed
	ErrInvalidSourceAddress = errors.New("invalid source IP address")
)

// New returns a new session client for the given host
func New(host string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout:        DefaultTimeout,
		host:           host,
		port:           DefaultPort,
		tlsconfig:      &tls.Config{ServerName: host, MinVersion: DefaultTLSMinVersion},
		tlspolicy:      DefaultTLSPolicy,
		authPreference: defaultAuthPreference,
	}

	// Default HELO/EHLO hostname
	if err := c.setDefaultHelo(); err != nil {
		return c, err
	}

	// Override defaults with optionally provided Option functions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return c, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.host == "" && c.socketPath == "" && c.preMadeConn == nil {
		return c, ErrNoHostname
	}

	return c, nil
}

// WithPort overrides the default connection port
func WithPort(port int) Option {
	return func(c *Client) error {
		if port < 1 || port > 65535 {
			return ErrInvalidPort
		}
		c.port = port
		return nil
	}
}

// WithTimeout overrides the default per-operation inactivity timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return ErrInvalidTimeout
		}
		c.timeout = timeout
		return nil
	}
}

// WithSSL tells the client to use an implicit SSL/TLS connection on the
// default SSL port
func WithSSL() Option {
	return func(c *Client) error {
		c.ssl = true
		c.port = DefaultPortSSL
		return nil
	}
}

// WithSSLPort tells the client to use an implicit SSL/TLS connection on
// port 465. If fallback is true, the client will try port 25 with
// STARTTLS when the TLS connection cannot be established
func WithSSLPort(fallback bool) Option {
	return func(c *Client) error {
		c.ssl = true
		c.port = DefaultPortSSL
		if fallback {
			c.fallbackPort = DefaultPort
		}
		return nil
	}
}

// WithTLSPolicy sets the STARTTLS negotiation policy without touching the
// port selection
func WithTLSPolicy(policy TLSPolicy) Option {
	return func(c *Client) error {
		c.tlspolicy = policy
		return nil
	}
}

// WithTLSPortPolicy sets the STARTTLS negotiation policy and selects the
// matching well-known port: 587 for TLSMandatory and TLSOpportunistic
// (falling back to 25 for the latter) and 25 for NoTLS
func WithTLSPortPolicy(policy TLSPolicy) Option {
	return func(c *Client) error {
		c.tlspolicy = policy
		c.port = DefaultPortTLS
		c.fallbackPort = 0
		if policy == TLSOpportunistic {
			c.fallbackPort = DefaultPort
		}
		if policy == NoTLS {
			c.port = DefaultPort
		}
		return nil
	}
}

// WithTLSConfig sets the tls.Config used for implicit TLS and STARTTLS
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Client) error {
		if config == nil {
			return ErrInvalidTLSConfig
		}
		c.tlsconfig = config
		return nil
	}
}

// WithHELO overrides the hostname announced in the EHLO/HELO greeting
func WithHELO(helo string) Option {
	return func(c *Client) error {
		if helo == "" {
			return ErrInvalidHELO
		}
		c.helo = helo
		return nil
	}
}

// WithAuth sets the SMTP AUTH mechanism. Use AuthAutoDiscover to let the
// client pick the first mechanism from its preference order that the
// server advertises
func WithAuth(authType AuthType) Option {
	return func(c *Client) error {
		c.authType = authType
		return nil
	}
}

// WithAuthCustom bypasses the mechanism selection and uses the provided
// smtp.Auth implementation directly
func WithAuthCustom(auth smtp.Auth) Option {
	return func(c *Client) error {
		c.customAuth = auth
		return nil
	}
}

// WithUsername sets the username for SMTP AUTH
func WithUsername(username string) Option {
	return func(c *Client) error {
		c.user = username
		return nil
	}
}

// WithPassword sets the password for SMTP AUTH
func WithPassword(password string) Option {
	return func(c *Client) error {
		c.pass = password
		return nil
	}
}

// WithAuthPreference overrides the mechanism order used by auto-discovery
func WithAuthPreference(mechs ...AuthType) Option {
	return func(c *Client) error {
		if len(mechs) == 0 {
			return errors.New("auth preference list cannot be empty")
		}
		c.authPreference = mechs
		return nil
	}
}

// WithTokenSource provides the OAuth2 token source used for XOAUTH2. The
// token is fetched fresh for every authentication attempt
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) error {
		c.tokenSource = src
		return nil
	}
}

// WithAllowPlaintextAuth permits the PLAIN and LOGIN mechanisms on
// unencrypted connections. Without it, credentials are only sent over TLS
// or to localhost
func WithAllowPlaintextAuth() Option {
	return func(c *Client) error {
		c.allowPlaintextAuth = true
		return nil
	}
}

// WithSocketPath connects via a unix domain socket instead of TCP
func WithSocketPath(path string) Option {
	return func(c *Client) error {
		c.socketPath = path
		return nil
	}
}

// WithConn uses the provided, already established connection instead of
// dialing one
func WithConn(conn net.Conn) Option {
	return func(c *Client) error {
		if conn == nil {
			return errors.New("connection cannot be nil")
		}
		c.preMadeConn = conn
		return nil
	}
}

// WithSourceAddress binds the outgoing TCP connection to the given local
// IP address
func WithSourceAddress(ip string) Option {
	return func(c *Client) error {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return ErrInvalidSourceAddress
		}
		c.sourceAddr = &net.TCPAddr{IP: parsed}
		return nil
	}
}

// WithDialContextFunc overrides how the client dials the target server
func WithDialContextFunc(fn DialContextFunc) Option {
	return func(c *Client) error {
		c.dialContextFunc = fn
		return nil
	}
}

// WithLogger provides a logger that satisfies the log.Logger interface
func WithLogger(l log.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithDebugLog enables debug logging of the client/server dialogue
func WithDebugLog() Option {
	return func(c *Client) error {
		c.debug = true
		return nil
	}
}

// WithLogAuthData disables the redaction of AUTH exchanges in the debug
// log. Be careful, this will log credentials
func WithLogAuthData() Option {
	return func(c *Client) error {
		c.logAuthData = true
		return nil
	}
}

// WithoutNoop disables the NOOP liveness probe before transactions. Some
// servers count commands against rate limits
func WithoutNoop() Option {
	return func(c *Client) error {
		c.noNoop = true
		return nil
	}
}

// TLSPolicy returns the currently set TLS policy as a printable string
func (c *Client) TLSPolicy() string {
	return c.tlspolicy.String()
}

// ServerAddr returns the host:port combination the client connects to
func (c *Client) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// serverFallbackAddr returns the currently set combination of hostname
// and fallback port.
func (c *Client) serverFallbackAddr() string {
	return fmt.Sprintf("%s:%d", c.host, c.fallbackPort)
}

// SetTLSPolicy sets the STARTTLS negotiation policy on an existing client
func (c *Client) SetTLSPolicy(policy TLSPolicy) {
	c.tlspolicy = policy
}

// SetTLSConfig replaces the tls.Config on an existing client
func (c *Client) SetTLSConfig(config *tls.Config) error {
	if config == nil {
		return ErrInvalidTLSConfig
	}
	c.tlsconfig = config
	return nil
}

// SetUsername sets the username for SMTP AUTH on an existing client
func (c *Client) SetUsername(username string) {
	c.user = username
}

// SetPassword sets the password for SMTP AUTH on an existing client
func (c *Client) SetPassword(password string) {
	c.pass = password
}

// setDefaultHelo retrieves the local hostname and sets it as the HELO/EHLO
// hostname
func (c *Client) setDefaultHelo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to read local hostname: %w", err)
	}
	c.helo = hostname
	return nil
}

// IsConnected reports whether the client holds an established session
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.sc != nil && c.sc.IsConnected()
}

// TLSConnectionState returns the TLS state of the current session
func (c *Client) TLSConnectionState() (tls.ConnectionState, error) {
	c.connMu.Lock()
	sc := c.sc
	c.connMu.Unlock()
	if sc == nil {
		return tls.ConnectionState{}, ErrNoActiveConnection
	}
	return sc.TLSConnectionState()
}

// Connect establishes a session with the SMTP server: dial (implicit TLS
// when configured), greeting, EHLO/HELO, STARTTLS per policy and, if
// credentials are configured, authentication. Calling Connect on an
// already connected client is an error.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.sc != nil && c.sc.IsConnected() {
		return ErrAlreadyConnected
	}

	if err := c.dial(ctx); err != nil {
		return err
	}

	sc, err := smtp.NewClient(c.conn, c.host, c.timeout)
	if err != nil {
		return err
	}
	c.sc = sc
	if c.logger != nil {
		c.sc.SetLogger(c.logger)
	}
	if c.debug {
		c.sc.SetDebugLog(true)
	}
	if c.logAuthData {
		c.sc.SetLogAuthData(true)
	}

	if err := c.sc.Hello(c.helo); err != nil {
		c.teardown()
		return err
	}
	if err := c.negotiateTLS(); err != nil {
		c.teardown()
		return err
	}
	if c.authConfigured() {
		if err := c.login(ctx); err != nil {
			c.teardown()
			return err
		}
	}
	return nil
}

// dial establishes the raw network connection. Implicit TLS wraps the
// dialer; a configured fallback port gets one more attempt on failure.
func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.preMadeConn != nil {
		c.conn = c.preMadeConn
		return nil
	}

	network, addr := "tcp", c.ServerAddr()
	if c.socketPath != "" {
		network, addr = "unix", c.socketPath
	}

	dial := c.dialContextFunc
	if dial == nil {
		nd := net.Dialer{LocalAddr: c.sourceAddr}
		dial = nd.DialContext
		if c.ssl {
			td := tls.Dialer{NetDialer: &nd, Config: c.tlsconfig}
			dial = td.DialContext
		}
	}

	conn, err := dial(ctx, network, addr)
	if err != nil && c.fallbackPort != 0 {
		conn, err = dial(ctx, network, c.serverFallbackAddr())
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &smtp.TimeoutError{Kind: smtp.TimeoutConnect, Err: err}
		}
		return &smtp.ConnectError{Addr: addr, Err: err}
	}
	c.conn = conn
	return nil
}

// negotiateTLS applies the STARTTLS policy to a freshly greeted session.
func (c *Client) negotiateTLS() error {
	if c.ssl || c.tlspolicy == NoTLS || c.sc.IsTLS() {
		return nil
	}
	supported, _ := c.sc.Extension("STARTTLS")
	switch c.tlspolicy {
	case TLSMandatory:
		if !supported {
			return &smtp.TLSError{
				Err: fmt.Errorf("STARTTLS mode set to %q, but target host does not support STARTTLS", c.tlspolicy),
			}
		}
	case TLSOpportunistic:
		if !supported {
			return nil
		}
	}
	return c.sc.StartTLS(c.tlsconfig)
}

// StartTLS upgrades an established plaintext session to TLS, regardless of
// the configured policy.
func (c *Client) StartTLS() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sc == nil {
		return ErrNoActiveConnection
	}
	return c.sc.StartTLS(c.tlsconfig)
}

// authConfigured reports whether any authentication setting was provided.
func (c *Client) authConfigured() bool {
	return c.customAuth != nil || c.authType != AuthNone ||
		c.tokenSource != nil || c.user != "" || c.pass != ""
}

// Login authenticates the established session using the configured
// mechanism. With AuthAutoDiscover (or when only credentials were given)
// the preference order is walked and every mutually supported mechanism
// is tried until one succeeds.
func (c *Client) Login(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sc == nil || !c.sc.IsConnected() {
		return ErrNoActiveConnection
	}
	return c.login(ctx)
}

// login implements Login. Callers must hold connMu.
func (c *Client) login(ctx context.Context) error {
	if c.customAuth != nil {
		return c.sc.Auth(c.customAuth)
	}
	if c.user == "" && c.pass == "" && c.tokenSource == nil {
		return ErrNoCredentials
	}

	advertised := c.sc.AuthMechanisms()
	if hasAuth, _ := c.sc.Extension("AUTH"); !hasAuth && len(advertised) == 0 {
		return ErrNoAuthSupport
	}

	mech := c.authType
	if c.tokenSource != nil && mech == AuthNone {
		mech = AuthXOAUTH2
	}
	if mech != AuthNone && mech != AuthAutoDiscover {
		if !mechAdvertised(advertised, mech) {
			return fmt.Errorf("%w: %s", ErrAuthNotSupported, mech)
		}
		auth, err := c.buildAuth(ctx, mech)
		if err != nil {
			return err
		}
		return c.sc.Auth(auth)
	}

	// Auto-discovery: walk the preference order, try every mutually
	// supported mechanism until one succeeds. A server rejection moves on
	// to the next candidate; anything else aborts. A configured token
	// source adds XOAUTH2 to the walk: first when it is the only
	// credential, after the password mechanisms otherwise.
	candidates := c.authPreference
	if c.tokenSource != nil {
		if c.user == "" && c.pass == "" {
			candidates = []AuthType{AuthXOAUTH2}
		} else {
			candidates = append(append([]AuthType{}, c.authPreference...), AuthXOAUTH2)
		}
	}
	var lastErr error
	tried := false
	for _, candidate := range candidates {
		if !mechAdvertised(advertised, candidate) {
			continue
		}
		auth, err := c.buildAuth(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		tried = true
		err = c.sc.Auth(auth)
		if err == nil {
			return nil
		}
		var authErr *smtp.AuthError
		if !errors.As(err, &authErr) {
			return err
		}
		lastErr = err
	}
	if !tried && lastErr == nil {
		return ErrNoCommonAuthMechanism
	}
	return lastErr
}

// mechAdvertised reports whether the server advertised the mechanism.
func mechAdvertised(advertised []string, mech AuthType) bool {
	for _, a := range advertised {
		if a == string(mech) {
			return true
		}
	}
	return false
}

// buildAuth constructs the smtp.Auth implementation for a mechanism from
// the configured credentials.
func (c *Client) buildAuth(ctx context.Context, mech AuthType) (smtp.Auth, error) {
	switch mech {
	case AuthPlain:
		return smtp.PlainAuth("", c.user, c.pass, c.host, c.allowPlaintextAuth), nil
	case AuthLogin:
		return smtp.LoginAuth(c.user, c.pass, c.host, c.allowPlaintextAuth), nil
	case AuthCramMD5:
		return smtp.CRAMMD5Auth(c.user, c.pass), nil
	case AuthNTLM:
		return smtp.NTLMAuth(c.user, c.pass, ""), nil
	case AuthXOAUTH2:
		token := c.pass
		if c.tokenSource != nil {
			fetched, err := c.tokenSource.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("fetching XOAUTH2 token: %w", err)
			}
			token = fetched
		}
		if token == "" {
			return nil, ErrNoTokenSource
		}
		return smtp.XOAuth2Auth(c.user, token), nil
	case AuthSCRAMSHA1:
		return smtp.ScramSHA1Auth(c.user, c.pass), nil
	case AuthSCRAMSHA256:
		return smtp.ScramSHA256Auth(c.user, c.pass), nil
	case AuthSCRAMSHA1PLUS, AuthSCRAMSHA256PLUS:
		state, err := c.sc.TLSConnectionState()
		if err != nil {
			return nil, ErrChannelBindingRequiresTLS
		}
		if mech == AuthSCRAMSHA1PLUS {
			return smtp.ScramSHA1PlusAuth(c.user, c.pass, &state), nil
		}
		return smtp.ScramSHA256PlusAuth(c.user, c.pass, &state), nil
	default:
		return nil, fmt.Errorf("unsupported SMTP AUTH type %q", mech)
	}
}

// checkConn verifies that the session is still usable. Unless disabled, a
// NOOP round-trip doubles as a liveness probe.
func (c *Client) checkConn() error {
	if c.sc == nil || !c.sc.IsConnected() {
		return ErrNoActiveConnection
	}
	if !c.noNoop {
		if err := c.sc.Noop(); err != nil {
			return ErrNoActiveConnection
		}
	}
	return nil
}

// Reset sends the RSET command, clearing any in-progress transaction state
func (c *Client) Reset() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.checkConn(); err != nil {
		return err
	}
	return c.sc.Reset()
}

// Noop sends the NOOP command, verifying that the session is alive
func (c *Client) Noop() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sc == nil || !c.sc.IsConnected() {
		return ErrNoActiveConnection
	}
	return c.sc.Noop()
}

// Verify asks the server to verify an address via VRFY
func (c *Client) Verify(addr string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sc == nil || !c.sc.IsConnected() {
		return ErrNoActiveConnection
	}
	return c.sc.Verify(addr)
}

// Close terminates the session with a QUIT handshake and closes the
// connection. It is safe to call on a client that is not connected.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sc == nil {
		return nil
	}
	if !c.sc.IsConnected() {
		c.teardown()
		return nil
	}
	err := c.sc.Quit()
	c.teardown()
	return err
}

// teardown drops the session without the QUIT handshake. Callers must
// hold connMu.
func (c *Client) teardown() {
	if c.sc != nil {
		_ = c.sc.Close()
	}
	c.sc = nil
	c.conn = nil
}
