// Package registry keeps the list of client sessions currently attached to the
// server, each tagged with its username and whether it logged in with a valid
// passcode. Connection handling adds and removes sessions; packet routing asks
// whether a validated session with a given username is online.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/vikasavn/packetgate/pkg/logging"
	"github.com/vikasavn/packetgate/pkg/metrics"
)

// MaxUsernameLen is the number of bytes of a username kept in an entry.
// Longer usernames are truncated, not rejected.
const MaxUsernameLen = 15

// Client is a connected session as seen by the registry. The value itself is
// the identity of the entry: it is compared with == and must be of a
// comparable dynamic type (normally a pointer).
type Client interface {
	Username() string
	Validated() bool
}

// Entry is the stored record of one registered session. Fields are fixed at
// Add time; a session whose validation changes must be removed and re-added.
type Entry struct {
	ID        string
	Username  string
	Validated bool
	Since     time.Time

	client Client
	key    string
}

// nameBucket groups the entries sharing a case-folded username.
type nameBucket struct {
	entries   map[*Entry]struct{}
	validated int
}

// Registry manages client registrations
type Registry struct {
	mu      sync.RWMutex
	clients map[Client]*Entry
	byName  map[string]*nameBucket

	logger  logr.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registry events.
func WithLogger(logger logr.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics records registry activity on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a new, empty client registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients: make(map[Client]*Entry),
		byName:  make(map[string]*nameBucket),
		logger:  logr.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers c under its (truncated) username and validation flag.
// Adding an identity that is already registered replaces its entry.
func (r *Registry) Add(c Client) {
	if c == nil {
		return
	}

	// build the entry before taking the lock
	name := truncateUsername(c.Username())
	e := &Entry{
		ID:        uuid.New().String(),
		Username:  name,
		Validated: c.Validated(),
		Since:     r.now(),
		client:    c,
		key:       foldKey(name),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old := r.findByIdentity(c); old != nil {
		r.logger.Info("Client registered twice, replacing entry", "id", old.ID, "username", old.Username)
		r.unlink(old)
	}
	r.link(e)
	r.metrics.ClientAdded(len(r.clients))

	r.logger.V(logging.DEBUG).Info("Registered client",
		"id", e.ID, "username", e.Username, "validated", e.Validated, "clients", len(r.clients))
}

// Remove deregisters c. Removing an identity that is not registered is a no-op.
func (r *Registry) Remove(c Client) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.findByIdentity(c)
	if e == nil {
		return
	}
	r.unlink(e)
	r.metrics.ClientRemoved(len(r.clients))

	r.logger.V(logging.DEBUG).Info("Removed client",
		"id", e.ID, "username", e.Username, "clients", len(r.clients))
}

// IsValidated reports whether a validated client whose stored username is
// exactly length bytes long and matches username[:length], ignoring ASCII
// case, is currently registered.
func (r *Registry) IsValidated(username string, length int) bool {
	if length < 0 || length > len(username) || length > MaxUsernameLen {
		r.metrics.Lookup(false)
		return false
	}
	key := foldKey(username[:length])

	r.mu.RLock()
	b := r.byName[key]
	found := b != nil && b.validated > 0
	r.mu.RUnlock()

	r.metrics.Lookup(found)
	if l := r.logger.V(logging.TRACE); l.Enabled() {
		l.Info("Validated client lookup", "username", username[:length], "found", found)
	}
	return found
}

// Has reports whether c is currently registered.
func (r *Registry) Has(c Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findByIdentity(c) != nil
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns a copy of all entries ordered by username, then by
// registration time. The order is for display only.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.clients))
	for _, e := range r.clients {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].key != out[j].key {
			return out[i].key < out[j].key
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Close releases every entry. The registry stays usable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.clients)
	r.clients = make(map[Client]*Entry)
	r.byName = make(map[string]*nameBucket)
	if n > 0 {
		r.metrics.ClientRemoved(0)
	}
	r.logger.V(logging.DEFAULT).Info("Client list released", "clients", n)
}

// findByIdentity must be called with r.mu held, for reading or writing.
func (r *Registry) findByIdentity(c Client) *Entry {
	return r.clients[c]
}

// link and unlink keep clients and byName in step; r.mu must be write-held.
func (r *Registry) link(e *Entry) {
	r.clients[e.client] = e

	b := r.byName[e.key]
	if b == nil {
		b = &nameBucket{entries: make(map[*Entry]struct{}, 1)}
		r.byName[e.key] = b
	}
	b.entries[e] = struct{}{}
	if e.Validated {
		b.validated++
	}
}

func (r *Registry) unlink(e *Entry) {
	delete(r.clients, e.client)

	b := r.byName[e.key]
	if b == nil {
		return
	}
	if _, ok := b.entries[e]; !ok {
		return
	}
	delete(b.entries, e)
	if e.Validated {
		b.validated--
	}
	if len(b.entries) == 0 {
		delete(r.byName, e.key)
	}
}
