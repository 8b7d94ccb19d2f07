package session

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one logged in client connection. Username and the validation
// flag are fixed at login.
type Session struct {
	ID        string
	Conn      net.Conn
	Software  string
	Since     time.Time
	username  string
	validated bool

	mu     sync.Mutex
	writer *bufio.Writer
}

// New creates a session for conn after a login has been accepted.
func New(conn net.Conn, username string, validated bool) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Conn:      conn,
		Since:     time.Now(),
		username:  username,
		validated: validated,
		writer:    bufio.NewWriter(conn),
	}
}

func (s *Session) Username() string { return s.username }
func (s *Session) Validated() bool  { return s.validated }

// RemoteAddr returns the peer address, or "" for a detached session.
func (s *Session) RemoteAddr() string {
	if s.Conn == nil {
		return ""
	}
	return s.Conn.RemoteAddr().String()
}

// WriteLine sends line terminated with CRLF. It is safe for concurrent use.
func (s *Session) WriteLine(line string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout > 0 {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s)", s.username, s.ID)
}
