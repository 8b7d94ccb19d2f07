package tcpmanager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vikasavn/packetgate/pkg/logging"
	"github.com/vikasavn/packetgate/pkg/metrics"
	"github.com/vikasavn/packetgate/pkg/protocol"
	"github.com/vikasavn/packetgate/pkg/registry"
	"github.com/vikasavn/packetgate/pkg/session"
	"github.com/vikasavn/packetgate/pkg/worker"
)

const (
	defaultLoginTimeout = 30 * time.Second
	defaultIdleTimeout  = 5 * time.Minute
	defaultWriteTimeout = 10 * time.Second
	maxLineLength       = 512
)

// qConstructDuplicate labels packets dropped because their source is
// logged in directly on another connection.
const qConstructDuplicate = "dup"

// Options tune the connection manager. Zero values select defaults.
type Options struct {
	ServerName   string
	LoginTimeout time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	Metrics      *metrics.Recorder
}

// TCPManager accepts client connections, keeps the client list in step with
// logins and disconnects, and routes packets between sessions.
type TCPManager struct {
	registry   *registry.Registry
	dispatcher *worker.Dispatcher
	auth       *session.Authenticator
	opts       Options

	mu       sync.RWMutex
	listener net.Listener
	sessions map[string]*session.Session
	conns    map[net.Conn]struct{}
	closed   bool

	wg     sync.WaitGroup
	logger logr.Logger
}

// NewTCPManager creates a new TCP manager
func NewTCPManager(reg *registry.Registry, dispatcher *worker.Dispatcher, auth *session.Authenticator, opts Options, logger logr.Logger) *TCPManager {
	if opts.LoginTimeout == 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &TCPManager{
		registry:   reg,
		dispatcher: dispatcher,
		auth:       auth,
		opts:       opts,
		sessions:   make(map[string]*session.Session),
		conns:      make(map[net.Conn]struct{}),
		logger:     logger,
	}
}

// Listen opens the client listener on addr and returns the bound address.
func (m *TCPManager) Listen(addr string) (net.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != nil {
		return nil, fmt.Errorf("listener already exists on %s", m.listener.Addr())
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}
	m.listener = listener
	m.logger.Info("TCP listener started", "addr", listener.Addr().String())
	return listener.Addr(), nil
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
func (m *TCPManager) Serve(ctx context.Context) error {
	m.mu.RLock()
	listener := m.listener
	m.mu.RUnlock()
	if listener == nil {
		return errors.New("tcpmanager: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.logger.Error(err, "Error accepting connection")
			return err
		}

		if !m.trackConn(conn) {
			conn.Close()
			return nil
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.untrackConn(conn)
			m.handleConnection(ctx, conn)
		}()
	}
}

func (m *TCPManager) trackConn(conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.conns[conn] = struct{}{}
	return true
}

func (m *TCPManager) untrackConn(conn net.Conn) {
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()
	conn.Close()
}

// handleConnection runs one client from login to disconnect.
func (m *TCPManager) handleConnection(ctx context.Context, conn net.Conn) {
	logger := m.logger.WithValues("remote", conn.RemoteAddr().String())

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, maxLineLength), maxLineLength)

	banner := fmt.Sprintf("# packetgate %s\r\n", m.opts.ServerName)
	if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		return
	}
	if _, err := conn.Write([]byte(banner)); err != nil {
		logger.V(logging.DEBUG).Info("Failed to send banner", "err", err.Error())
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(m.opts.LoginTimeout)); err != nil {
		return
	}
	login, err := m.readLogin(reader)
	if err != nil {
		logger.Info("Login failed", "err", err.Error())
		_, _ = conn.Write([]byte("# invalid login\r\n"))
		return
	}

	s := session.New(conn, login.Username, m.auth.Validate(login))
	s.Software = strings.TrimSpace(login.Software + " " + login.Version)
	logger = logger.WithValues("session", s.ID, "username", s.Username())

	if err := s.WriteLine(protocol.LoginResponse(s.Username(), s.Validated(), m.opts.ServerName), m.opts.WriteTimeout); err != nil {
		logger.V(logging.DEBUG).Info("Failed to send login response", "err", err.Error())
		return
	}

	m.addSession(s)
	m.registry.Add(s)
	logger.Info("Client logged in", "validated", s.Validated(), "software", s.Software)
	defer func() {
		m.registry.Remove(s)
		m.removeSession(s)
		logger.Info("Client disconnected", "connected", time.Since(s.Since).Round(time.Second).String())
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(m.opts.IdleTimeout)); err != nil {
			return
		}
		if !reader.Scan() {
			if err := reader.Err(); err != nil && ctx.Err() == nil {
				logger.V(logging.DEBUG).Info("Read error", "err", err.Error())
			}
			return
		}
		line := strings.TrimRight(reader.Text(), "\r")
		if line == "" || protocol.IsComment(line) {
			continue
		}
		m.route(s, line, logger)
	}
}

func (m *TCPManager) readLogin(reader *bufio.Scanner) (protocol.Login, error) {
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		return protocol.ParseLogin(line)
	}
	if err := reader.Err(); err != nil {
		return protocol.Login{}, fmt.Errorf("read login: %w", err)
	}
	return protocol.Login{}, errors.New("connection closed before login")
}

// route applies the q construct rules to a packet from s and queues it for
// delivery to the other sessions.
func (m *TCPManager) route(from *session.Session, line string, logger logr.Logger) {
	pkt, err := protocol.ParsePacket(line)
	if err != nil {
		logger.V(logging.DEBUG).Info("Dropping malformed packet", "err", err.Error())
		return
	}

	var q, via string
	switch {
	case !from.Validated():
		m.opts.Metrics.Packet(protocol.QConstructUnverified)
		logger.V(logging.VERBOSE).Info("Dropping packet from unverified client", "source", pkt.Source)
		return
	case strings.EqualFold(pkt.Source, from.Username()):
		q, via = protocol.QConstructClient, m.opts.ServerName
	case m.registry.IsValidated(pkt.Source, len(pkt.Source)):
		// the source station is logged in on its own connection; this copy
		// has looped back through a gateway
		m.opts.Metrics.Packet(qConstructDuplicate)
		logger.V(logging.VERBOSE).Info("Dropping packet from directly connected station", "source", pkt.Source)
		return
	default:
		q, via = protocol.QConstructGated, from.Username()
	}

	out := pkt.WithQConstruct(q, via).String()
	m.opts.Metrics.Packet(q)

	if err := m.dispatcher.Submit(&broadcastJob{manager: m, from: from, line: out}); err != nil {
		logger.Error(err, "Failed to queue packet", "source", pkt.Source)
	}
}

func (m *TCPManager) addSession(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *TCPManager) removeSession(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
}

// SessionCount returns the number of logged in sessions.
func (m *TCPManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *TCPManager) sessionsExcept(from *session.Session) []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != from {
			out = append(out, s)
		}
	}
	return out
}

// broadcastJob delivers one routed packet to every session but its sender.
type broadcastJob struct {
	manager *TCPManager
	from    *session.Session
	line    string
}

// Execute implements the worker.Job interface
func (j *broadcastJob) Execute(ctx context.Context) error {
	var errs []error
	for _, s := range j.manager.sessionsExcept(j.from) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.WriteLine(j.line, j.manager.opts.WriteTimeout); err != nil {
			// the reader loop notices the closed conn and deregisters
			s.Close()
			errs = append(errs, fmt.Errorf("deliver to %s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// CloseAllConnections closes the listener and every client connection, then
// waits for the connection handlers to finish.
func (m *TCPManager) CloseAllConnections() {
	m.mu.Lock()
	m.closed = true
	if m.listener != nil {
		m.logger.Info("Closing listener", "addr", m.listener.Addr().String())
		if err := m.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			m.logger.Error(err, "Error closing listener")
		}
	}
	m.logger.Info("Closing all active TCP connections", "connections", len(m.conns))
	for conn := range m.conns {
		conn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
}
