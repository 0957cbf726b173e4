package management

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn-admin/common"
)

const (
	passwordPrompt = "ENTER PASSWORD:"
	exitTimeout    = time.Second
)

var bannerPattern = regexp.MustCompile(`(?i)management interface version (\S+)`)

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseHandshaking
	PhaseReady
	PhaseClosed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "Connecting"
	case PhaseHandshaking:
		return "Handshaking"
	case PhaseReady:
		return "Ready"
	case PhaseClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is one live connection to a management interface.
// All commands are serialized: a command is never written before the reply
// to the previous one has been consumed. Sessions are safe for concurrent
// use; callers simply queue on the command lock.
type Session struct {
	id     string
	cfg    Config
	logger common.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *lineReader
	phase   Phase
	version string
}

// Connect dials the management interface described by cfg and performs the
// version handshake.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, cfg.Network, cfg.Address())
	if err != nil {
		return nil, transportError(err)
	}
	return NewSession(ctx, conn, cfg)
}

// NewSession takes ownership of an established connection and performs the
// handshake. On failure conn is closed before the error is returned.
func NewSession(ctx context.Context, conn net.Conn, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		id:     common.GenerateID(),
		cfg:    cfg,
		logger: cfg.Logger,
		conn:   conn,
		phase:  PhaseConnecting,
	}
	s.reader = newLineReader(conn, cfg.BufferSize, cfg.Logger, common.ShortID(s.id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.handshake(ctx); err != nil {
		s.logger.Warn("[%s] handshake with %s failed: %v", s.tag(), cfg.Address(), err)
		s.closeLocked()
		return nil, err
	}
	s.logger.Debug("[%s] management interface version %s ready at %s", s.tag(), s.version, cfg.Address())
	return s, nil
}

// WithSession connects, runs fn and always exits the session afterwards,
// including when fn panics.
func WithSession(ctx context.Context, cfg Config, fn func(*Session) error) error {
	s, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Exit()
	return fn(s)
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ManagementVersion returns the version token announced in the banner.
func (s *Session) ManagementVersion() string {
	return s.version
}

// Closed reports whether the session can no longer be used.
func (s *Session) Closed() bool {
	return s.Phase() == PhaseClosed
}

func (s *Session) tag() string {
	return common.ShortID(s.id)
}

func (s *Session) handshake(ctx context.Context) error {
	s.phase = PhaseHandshaking
	release := s.arm(ctx)
	defer release()

	if s.cfg.Password != "" {
		prompted, err := s.reader.waitPrompt(passwordPrompt)
		if err != nil {
			return s.wrapContext(ctx, err)
		}
		if prompted {
			if err := s.send(s.cfg.Password, true); err != nil {
				return s.wrapContext(ctx, err)
			}
			if _, err := s.reader.receive(ReceiveOptions{}); err != nil {
				return s.wrapContext(ctx, err)
			}
		}
	}

	// The banner is the first realtime message after connecting.
	banner, err := s.reader.receive(ReceiveOptions{KeepRealtime: true})
	if err != nil {
		return s.wrapContext(ctx, err)
	}
	m := bannerPattern.FindStringSubmatch(banner)
	if m == nil {
		return protocolError(ErrUnsupportedVersion, "no version in banner "+quote(strings.TrimSpace(banner)))
	}
	if !common.StringInSlice(m[1], s.cfg.SupportedVersions) {
		return protocolError(ErrUnsupportedVersion, "version "+m[1])
	}

	s.version = m[1]
	s.phase = PhaseReady
	return nil
}

// arm applies the configured timeouts and the context deadline to the
// socket, and makes context cancellation interrupt blocked I/O. The returned
// func must be called once the exchange is over.
func (s *Session) arm(ctx context.Context) func() {
	conn := s.conn
	now := time.Now()
	_ = conn.SetReadDeadline(earliest(ctx, now, s.cfg.ReadTimeout))
	_ = conn.SetWriteDeadline(earliest(ctx, now, s.cfg.WriteTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

func earliest(ctx context.Context, now time.Time, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// wrapContext attributes a transport failure to the context when the
// context is what ended the exchange.
func (s *Session) wrapContext(ctx context.Context, err error) error {
	var te *TransportError
	if !errors.As(err, &te) {
		return err
	}
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &TransportError{Msg: ErrTimeout.Error(), Detail: ctxErr.Error(), Kind: ErrTimeout, Err: ctxErr}
	case ctxErr != nil:
		return &TransportError{Msg: "operation cancelled", Detail: ctxErr.Error(), Kind: ErrSocket, Err: ctxErr}
	}
	return err
}

func (s *Session) send(data string, secret bool) error {
	if s.phase == PhaseClosed || s.conn == nil {
		return protocolError(ErrSessionClosed, "")
	}
	if err := validateCommand(data); err != nil {
		return err
	}
	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}

	if secret {
		s.logger.Debug("[%s] send <redacted>", s.tag())
	} else {
		s.logger.Debug("[%s] send %q", s.tag(), data)
	}
	if _, err := io.WriteString(s.conn, data); err != nil {
		return transportError(err)
	}
	return nil
}

func validateCommand(data string) error {
	body := strings.TrimSuffix(data, "\n")
	if strings.TrimSpace(body) == "" {
		return protocolError(ErrInvalidCommand, "data to send must not be empty")
	}
	if strings.ContainsAny(body, "\r\n") {
		return protocolError(ErrInvalidCommand, "command must be a single line")
	}
	return nil
}

// exec sends one command and consumes its reply while holding the command
// lock. Transport failures leave the stream out of sync, so they also close
// the session.
func (s *Session) exec(ctx context.Context, cmd string, opts ReceiveOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseReady {
		return "", protocolError(ErrSessionClosed, "")
	}
	if err := validateCommand(cmd); err != nil {
		return "", err
	}

	release := s.arm(ctx)
	defer release()

	if err := s.send(cmd, false); err != nil {
		return "", s.fail(ctx, cmd, err)
	}
	reply, err := s.reader.receive(opts)
	if err != nil {
		return "", s.fail(ctx, cmd, err)
	}
	return reply, nil
}

func (s *Session) fail(ctx context.Context, cmd string, err error) error {
	err = s.wrapContext(ctx, err)
	var te *TransportError
	if errors.As(err, &te) {
		s.logger.Warn("[%s] %q failed, closing session: %v", s.tag(), strings.TrimSpace(cmd), err)
		s.closeLocked()
	}
	return err
}

// Exit ends the session: it sends exit on a best-effort basis, then closes
// the socket no matter what. Shutdown errors are logged, never returned.
// Calling Exit more than once is a no-op.
func (s *Session) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Close implements io.Closer. It always returns nil.
func (s *Session) Close() error {
	s.Exit()
	return nil
}

func (s *Session) closeLocked() {
	if s.phase == PhaseClosed {
		return
	}
	conn := s.conn
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(exitTimeout))
		if err := s.send("exit", false); err != nil {
			s.logger.Warn("[%s] send exit failed: %v", s.tag(), err)
		}
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				s.logger.Warn("[%s] socket shutdown failed: %v", s.tag(), err)
			}
		}
		if err := conn.Close(); err != nil {
			s.logger.Warn("[%s] socket close failed: %v", s.tag(), err)
		}
	}
	s.conn = nil
	s.reader = nil
	s.phase = PhaseClosed
	s.logger.Debug("[%s] session closed", s.tag())
}
