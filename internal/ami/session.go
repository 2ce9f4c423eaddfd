package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Default connection parameters
const (
	DefaultPort           = 5038
	DefaultConnectTimeout = 10 * time.Second
	DefaultLoginTimeout   = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Second

	logoffTimeout = time.Second
)

// Config holds AMI session parameters
type Config struct {
	Host           string
	Port           int
	Username       string
	Secret         string
	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	CommandTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
}

// Addr returns host:port
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dialer opens the TCP connection to the manager port.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Hooks are optional callbacks fired by the session. They run while the
// session lock is held and must not call back into the session.
type Hooks struct {
	OnCommand     func(command, kind string, elapsed time.Duration)
	OnReconnect   func(err error)
	OnStateChange func(connected bool)
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// WithDialer replaces the default net.Dialer
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithHooks installs session callbacks
func WithHooks(h Hooks) Option {
	return func(s *Session) {
		s.hooks = h
	}
}

// Result is the raw response to a command. Complete is false when the frame
// was cut short by a deadline or by the peer closing.
type Result struct {
	Raw      string
	Complete bool
}

// Empty reports whether the result carries no content.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Raw) == ""
}

// Response parses the header block of the result.
func (r Result) Response() Response {
	return ParseResponse(r.Raw)
}

// Session is a single authenticated AMI connection. All operations are
// serialized: at most one action is in flight at any time.
type Session struct {
	cfg    Config
	dialer Dialer
	log    zerolog.Logger
	hooks  Hooks

	// sem is the session lock; a buffered channel so acquisition can be
	// abandoned when the caller's context ends.
	sem chan struct{}

	conn     net.Conn
	reader   *FrameReader
	username string
	secret   string

	connected    atomic.Bool
	lastActivity atomic.Int64

	idPrefix string
	idSeq    atomic.Uint64

	infoMu sync.RWMutex
	banner string
}

// NewSession creates a session. No connection is made until Connect or the
// first Execute.
func NewSession(cfg Config, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		cfg:      cfg,
		log:      log.Logger,
		sem:      make(chan struct{}, 1),
		username: cfg.Username,
		secret:   cfg.Secret,
		idPrefix: uuid.NewString()[:8],
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	}
	s.log = s.log.With().Str("component", "ami").Str("addr", cfg.Addr()).Logger()
	return s
}

// SetHooks replaces the session callbacks. It waits for any action in
// flight to finish.
func (s *Session) SetHooks(h Hooks) {
	_ = s.lock(context.Background())
	defer s.unlock()
	s.hooks = h
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.cfg
}

// IsConnected reports whether the session is logged in. It does not block on
// an in-flight operation.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// LastActivity returns the time of the last successful send or receive.
func (s *Session) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Banner returns the "Asterisk Call Manager/x.y" greeting of the current
// server, if one has been seen.
func (s *Session) Banner() string {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.banner
}

// Connect opens the TCP connection. Any previous connection is closed first.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	return s.connectLocked(ctx)
}

// Login authenticates on the open connection. The credentials are kept for
// later reconnects.
func (s *Session) Login(ctx context.Context, username, secret string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	return s.loginLocked(ctx, username, secret)
}

// Execute runs a console command and returns the raw response frame.
//
// If the session is not connected one Connect+Login cycle is attempted first.
// If the response is empty or the connection fails, the session reconnects
// once and retries the command; a failed reconnect is reported as a
// *ConnectionLostError wrapping the cause. A response cut short by the
// deadline is returned with Complete=false and a *CommandTimeoutError.
func (s *Session) Execute(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	if !validHeaderValue(command) {
		return Result{}, fmt.Errorf("%w: command contains line breaks", ErrInvalidCommand)
	}
	if err := s.lock(ctx); err != nil {
		return Result{}, err
	}
	defer s.unlock()

	start := time.Now()
	res, err := s.executeLocked(ctx, command)
	if s.hooks.OnCommand != nil {
		s.hooks.OnCommand(command, Kind(err), time.Since(start))
	}
	return res, err
}

// CheckVersion runs "core show version" to confirm the manager answers commands.
func (s *Session) CheckVersion(ctx context.Context) (Result, error) {
	res, err := s.Execute(ctx, "core show version")
	if err != nil {
		return res, err
	}
	if res.Response().IsError() {
		return res, fmt.Errorf("version check rejected: %s", res.Response().Message())
	}
	return res, nil
}

// Disconnect logs off and closes the connection. It is safe to call on a
// closed or broken session.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if s.conn == nil {
		s.setConnected(false)
		return nil
	}
	if s.connected.Load() {
		s.logoffLocked(ctx)
	}
	s.closeLocked()
	s.log.Info().Msg("AMI session closed")
	return nil
}

func (s *Session) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() {
	<-s.sem
}

func (s *Session) connectLocked(ctx context.Context) error {
	s.closeLocked()

	addr := s.cfg.Addr()
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		connErr := newConnectError(addr, err)
		s.log.Error().Err(err).Str("reason", connErr.Reason).Msg("Failed to connect to AMI")
		return connErr
	}

	s.conn = conn
	s.reader = NewFrameReader(conn)
	s.touch()
	s.log.Debug().Msg("Connected to AMI")
	return nil
}

func (s *Session) loginLocked(ctx context.Context, username, secret string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if !validHeaderValue(username) || !validHeaderValue(secret) {
		s.closeLocked()
		return &AuthError{Message: "credentials contain line breaks"}
	}

	id := s.nextActionID()
	action := NewAction(ActionLogin).
		Set("ActionID", id).
		Set("Username", username).
		Set("Secret", secret).
		Set("Events", "off")

	if err := s.writeLocked(ctx, action, s.cfg.LoginTimeout); err != nil {
		s.closeLocked()
		return &ConnectionLostError{Op: "login", Err: err}
	}

	frame, err := s.readResponseLocked(ctx, id, s.cfg.LoginTimeout)
	resp := ParseResponse(frame.String())
	if resp.Banner != "" {
		s.setBanner(resp.Banner)
	}
	if err != nil {
		s.closeLocked()
		msg := resp.Message()
		if msg == "" {
			msg = "no response to login"
		}
		s.log.Error().Err(err).Msg("AMI login failed")
		return &AuthError{Message: msg, Err: err}
	}

	if !strings.EqualFold(resp.Status(), "Success") ||
		!strings.Contains(strings.ToLower(resp.Message()), "authentication accepted") {
		s.closeLocked()
		msg := resp.Message()
		if msg == "" {
			msg = "unexpected login response"
		}
		s.log.Error().Str("message", msg).Msg("AMI login rejected")
		return &AuthError{Message: msg}
	}

	s.username, s.secret = username, secret
	s.setConnected(true)
	s.log.Info().Str("username", username).Str("banner", s.Banner()).Msg("Logged in to AMI")
	return nil
}

func (s *Session) reconnectLocked(ctx context.Context) error {
	err := s.connectLocked(ctx)
	if err == nil {
		err = s.loginLocked(ctx, s.username, s.secret)
	}
	if s.hooks.OnReconnect != nil {
		s.hooks.OnReconnect(err)
	}
	return err
}

func (s *Session) executeLocked(ctx context.Context, command string) (Result, error) {
	if !s.connected.Load() {
		if err := s.reconnectLocked(ctx); err != nil {
			return Result{}, err
		}
	}

	res, err := s.roundTripLocked(ctx, command)
	if err == nil && !res.Empty() {
		return res, nil
	}
	if err != nil && (!res.Empty() || ctx.Err() != nil) {
		return res, err
	}

	s.log.Warn().Err(err).Str("command", command).Msg("Empty AMI response, reconnecting")
	s.closeLocked()
	if rerr := s.reconnectLocked(ctx); rerr != nil {
		s.log.Error().Err(rerr).Str("command", command).Msg("AMI reconnect failed")
		return Result{}, &ConnectionLostError{Op: "reconnect", Err: rerr}
	}

	res, err = s.roundTripLocked(ctx, command)
	if err == nil && res.Empty() {
		s.closeLocked()
		err = &CommandTimeoutError{Command: command}
	}
	if err != nil {
		s.log.Error().Err(err).Str("command", command).Msg("AMI command failed after reconnect")
		return res, err
	}
	return res, nil
}

// roundTripLocked sends one Command action and waits for its response. Any
// failure leaves the session disconnected.
func (s *Session) roundTripLocked(ctx context.Context, command string) (Result, error) {
	if s.conn == nil {
		return Result{}, ErrNotConnected
	}
	if n := s.reader.Discard(); n > 0 {
		s.log.Debug().Int("bytes", n).Msg("Discarded unread AMI data")
	}

	id := s.nextActionID()
	action := NewAction(ActionCommand).Set("ActionID", id).Set("Command", command)
	if err := s.writeLocked(ctx, action, s.cfg.CommandTimeout); err != nil {
		s.closeLocked()
		return Result{}, &ConnectionLostError{Op: "send", Err: err}
	}

	frame, err := s.readResponseLocked(ctx, id, s.cfg.CommandTimeout)
	res := Result{Raw: frame.String(), Complete: frame.Complete}
	if err != nil {
		s.closeLocked()
		if errors.Is(err, ErrFrameTimeout) {
			return res, &CommandTimeoutError{Command: command, Partial: res.Raw}
		}
		return res, &ConnectionLostError{Op: "receive", Err: err}
	}
	return res, nil
}

// readResponseLocked reads frames until one answers actionID. Frames tagged
// with another ActionID belong to an earlier, abandoned action.
func (s *Session) readResponseLocked(ctx context.Context, actionID string, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, err := s.reader.ReadFrame(ctx, deadline)
		if err != nil {
			return frame, err
		}
		s.touch()

		resp := ParseResponse(frame.String())
		if id := resp.Get("ActionID"); id != "" && id != actionID {
			s.log.Debug().Str("expected", actionID).Str("got", id).Msg("Skipping stale AMI response")
			continue
		}
		if resp.Status() == "" && resp.Get("Event") != "" {
			continue
		}
		if resp.Status() == "" && resp.Banner != "" && len(resp.Headers) == 0 {
			s.setBanner(resp.Banner)
			continue
		}
		return frame, nil
	}
}

func (s *Session) writeLocked(ctx context.Context, action *Action, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if _, err := s.conn.Write(action.Encode()); err != nil {
		return err
	}
	s.touch()
	return nil
}

func (s *Session) logoffLocked(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, logoffTimeout)
	defer cancel()

	id := s.nextActionID()
	if err := s.writeLocked(ctx, NewAction(ActionLogoff).Set("ActionID", id), logoffTimeout); err != nil {
		s.log.Debug().Err(err).Msg("Logoff not sent")
		return
	}
	if _, err := s.reader.ReadFrame(ctx, time.Now().Add(logoffTimeout)); err != nil {
		s.log.Debug().Err(err).Msg("No reply to logoff")
	}
}

// closeLocked closes the socket without a Logoff and marks the session
// disconnected.
func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
	s.setConnected(false)
}

func (s *Session) setConnected(v bool) {
	if s.connected.Swap(v) == v {
		return
	}
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(v)
	}
}

func (s *Session) setBanner(b string) {
	s.infoMu.Lock()
	s.banner = b
	s.infoMu.Unlock()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) nextActionID() string {
	return fmt.Sprintf("%s-%d", s.idPrefix, s.idSeq.Add(1))
}
