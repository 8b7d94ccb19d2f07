package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadLogin  = errors.New("malformed login line")
	ErrBadPacket = errors.New("malformed packet")
)

// UnverifiedPasscode is sent by clients that do not have a passcode.
const UnverifiedPasscode = "-1"

// q construct path elements added by the server.
const (
	QConstructClient     = "qAC" // verified client, packet from its own login
	QConstructUnverified = "qAX" // unverified client
	QConstructGated      = "qAR" // verified client gating a third party
)

// Login is the first line a client sends:
//
//	user <call> [pass <passcode>] [vers <software> <version>] [filter <expr...>]
type Login struct {
	Username string
	Passcode string
	Software string
	Version  string
	Filter   string
}

// IsComment reports whether line is a server/client comment line.
func IsComment(line string) bool {
	return strings.HasPrefix(line, "#")
}

// ParseLogin parses a login line
func ParseLogin(line string) (Login, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "user") {
		return Login{}, fmt.Errorf("%w: %q", ErrBadLogin, line)
	}

	l := Login{Username: fields[1], Passcode: UnverifiedPasscode}
	for i := 2; i < len(fields); i++ {
		switch strings.ToLower(fields[i]) {
		case "pass":
			if i+1 >= len(fields) {
				return Login{}, fmt.Errorf("%w: pass without passcode", ErrBadLogin)
			}
			l.Passcode = fields[i+1]
			i++
		case "vers":
			if i+2 >= len(fields) {
				return Login{}, fmt.Errorf("%w: vers needs software and version", ErrBadLogin)
			}
			l.Software, l.Version = fields[i+1], fields[i+2]
			i += 2
		case "filter":
			l.Filter = strings.Join(fields[i+1:], " ")
			i = len(fields)
		default:
			return Login{}, fmt.Errorf("%w: unexpected %q", ErrBadLogin, fields[i])
		}
	}
	return l, nil
}

// Packet is a parsed TNC2 format packet: SRC>DEST,PATH1,PATH2:payload
type Packet struct {
	Source  string
	Dest    string
	Path    []string
	Payload string
}

// ParsePacket parses a packet line
func ParsePacket(line string) (Packet, error) {
	header, payload, ok := strings.Cut(line, ":")
	if !ok {
		return Packet{}, fmt.Errorf("%w: no payload separator", ErrBadPacket)
	}
	src, rest, ok := strings.Cut(header, ">")
	if !ok || src == "" || rest == "" {
		return Packet{}, fmt.Errorf("%w: bad header %q", ErrBadPacket, header)
	}
	if strings.ContainsAny(src, " \t") {
		return Packet{}, fmt.Errorf("%w: bad source %q", ErrBadPacket, src)
	}

	parts := strings.Split(rest, ",")
	for _, p := range parts {
		if p == "" {
			return Packet{}, fmt.Errorf("%w: empty path element in %q", ErrBadPacket, header)
		}
	}

	return Packet{
		Source:  src,
		Dest:    parts[0],
		Path:    parts[1:],
		Payload: payload,
	}, nil
}

// QConstruct returns the q construct already present in the path, if any.
func (p Packet) QConstruct() (string, bool) {
	for _, e := range p.Path {
		if len(e) == 3 && e[0] == 'q' && e[1] == 'A' {
			return e, true
		}
	}
	return "", false
}

// WithQConstruct returns a copy of p with q and via appended to the path,
// unless the path already carries a q construct.
func (p Packet) WithQConstruct(q, via string) Packet {
	if _, ok := p.QConstruct(); ok {
		return p
	}
	out := p
	out.Path = make([]string, 0, len(p.Path)+2)
	out.Path = append(out.Path, p.Path...)
	out.Path = append(out.Path, q, via)
	return out
}

// String formats the packet back into TNC2 form.
func (p Packet) String() string {
	var b strings.Builder
	b.WriteString(p.Source)
	b.WriteByte('>')
	b.WriteString(p.Dest)
	for _, e := range p.Path {
		b.WriteByte(',')
		b.WriteString(e)
	}
	b.WriteByte(':')
	b.WriteString(p.Payload)
	return b.String()
}

// LoginResponse formats the server's reply to a login.
func LoginResponse(username string, validated bool, server string) string {
	status := "unverified"
	if validated {
		status = "verified"
	}
	return fmt.Sprintf("# logresp %s %s, server %s", username, status, server)
}
