package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasavn/packetgate/pkg/logging"
	"github.com/vikasavn/packetgate/pkg/metrics"
)

type testClient struct {
	username  string
	validated bool
}

func (c *testClient) Username() string { return c.username }
func (c *testClient) Validated() bool  { return c.validated }

func newClient(username string, validated bool) *testClient {
	return &testClient{username: username, validated: validated}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(WithLogger(logging.NewTestLogger()))
}

func TestIsValidated(t *testing.T) {
	tests := []struct {
		name      string
		clients   []*testClient
		username  string
		length    int
		validated bool
	}{
		{
			name:      "validated client",
			clients:   []*testClient{newClient("OH7LZB", true)},
			username:  "OH7LZB",
			length:    6,
			validated: true,
		},
		{
			name:      "unvalidated client",
			clients:   []*testClient{newClient("OH7LZB", false)},
			username:  "OH7LZB",
			length:    6,
			validated: false,
		},
		{
			name:      "case insensitive",
			clients:   []*testClient{newClient("NOCALL", true)},
			username:  "nocall",
			length:    6,
			validated: true,
		},
		{
			name:      "query shorter than stored name",
			clients:   []*testClient{newClient("OH7LZB", true)},
			username:  "OH7LZB",
			length:    5,
			validated: false,
		},
		{
			name:      "prefix of stored name",
			clients:   []*testClient{newClient("OH7LZB", true)},
			username:  "OH7LZ",
			length:    5,
			validated: false,
		},
		{
			name:      "length selects a prefix of the query",
			clients:   []*testClient{newClient("OH7LZ", true)},
			username:  "OH7LZB-1",
			length:    5,
			validated: true,
		},
		{
			name:      "length beyond query",
			clients:   []*testClient{newClient("OH7LZB", true)},
			username:  "OH7LZB",
			length:    7,
			validated: false,
		},
		{
			name:      "negative length",
			clients:   []*testClient{newClient("", true)},
			username:  "",
			length:    -1,
			validated: false,
		},
		{
			name:      "one of several sharing a username is validated",
			clients:   []*testClient{newClient("OH7LZB", false), newClient("oh7lzb", true)},
			username:  "Oh7Lzb",
			length:    6,
			validated: true,
		},
		{
			name:      "empty registry",
			username:  "OH7LZB",
			length:    6,
			validated: false,
		},
		{
			name:      "non-ASCII bytes compare exactly",
			clients:   []*testClient{newClient("ÄBC", true)},
			username:  "äBC",
			length:    len("äBC"),
			validated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			for _, c := range tt.clients {
				r.Add(c)
			}
			assert.Equal(t, tt.validated, r.IsValidated(tt.username, tt.length))
		})
	}
}

func TestAddTruncatesUsername(t *testing.T) {
	r := newTestRegistry(t)
	long := "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	r.Add(newClient(long, true))

	entries := r.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, long[:MaxUsernameLen], entries[0].Username)

	assert.True(t, r.IsValidated(long[:MaxUsernameLen], MaxUsernameLen))
	assert.False(t, r.IsValidated(long, len(long)))
	assert.False(t, r.IsValidated(long, MaxUsernameLen+1))
}

func TestTruncateUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "OH7LZB", want: "OH7LZB"},
		{in: "123456789012345", want: "123456789012345"},
		{in: "1234567890123456", want: "123456789012345"},
		// ä is two bytes and would straddle the limit
		{in: "12345678901234äx", want: "12345678901234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUsername(tt.in), "input %q", tt.in)
	}
}

func TestFoldKey(t *testing.T) {
	assert.Equal(t, "oh7lzb-10", foldKey("OH7LZB-10"))
	assert.Equal(t, "already", foldKey("already"))
	assert.Equal(t, "Ä", foldKey("Ä"))
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	c := newClient("OH7LZB", true)

	r.Add(c)
	require.True(t, r.IsValidated("OH7LZB", 6))
	require.True(t, r.Has(c))

	r.Remove(c)
	assert.False(t, r.IsValidated("OH7LZB", 6))
	assert.False(t, r.Has(c))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.byName)

	// second remove is a no-op
	assert.NotPanics(t, func() { r.Remove(c) })
	assert.Equal(t, 0, r.Len())
}

func TestRemoveUnknownClient(t *testing.T) {
	r := newTestRegistry(t)
	known := newClient("OH7LZB", true)
	r.Add(known)

	r.Remove(newClient("OH7LZB", true))
	r.Remove(nil)

	assert.True(t, r.Has(known))
	assert.True(t, r.IsValidated("OH7LZB", 6))
	assert.Equal(t, 1, r.Len())
}

func TestRemoveKeepsOtherEntriesWithSameUsername(t *testing.T) {
	r := newTestRegistry(t)
	a := newClient("OH7LZB", true)
	b := newClient("OH7LZB", true)
	r.Add(a)
	r.Add(b)

	r.Remove(a)
	assert.True(t, r.IsValidated("OH7LZB", 6))

	r.Remove(b)
	assert.False(t, r.IsValidated("OH7LZB", 6))
}

func TestAddSameIdentityTwice(t *testing.T) {
	r := newTestRegistry(t)
	c := newClient("OH7LZB", true)
	r.Add(c)

	// validation changed: remove and re-add is the contract, but a plain
	// re-add must not leave the old entry behind
	c.validated = false
	r.Add(c)

	assert.Equal(t, 1, r.Len())
	assert.False(t, r.IsValidated("OH7LZB", 6))

	r.Remove(c)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.byName)
}

func TestEndToEndScenario(t *testing.T) {
	r := newTestRegistry(t)
	id1 := newClient("OH7LZB", true)
	id2 := newClient("oh7lzb", false)

	r.Add(id1)
	r.Add(id2)
	assert.True(t, r.IsValidated("OH7LZB", 6))

	r.Remove(id1)
	assert.False(t, r.IsValidated("OH7LZB", 6))
	assert.True(t, r.Has(id2))
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.Add(newClient("OH2MQK", false))
	r.Add(newClient("oh7lzb", true))
	r.Add(newClient("OH7LZB", false))

	type row struct {
		Username  string
		Validated bool
	}
	var got []row
	for _, e := range r.Snapshot() {
		assert.NotEmpty(t, e.ID)
		got = append(got, row{Username: e.Username, Validated: e.Validated})
	}
	want := []row{
		{Username: "OH2MQK", Validated: false},
		{Username: "oh7lzb", Validated: true},
		{Username: "OH7LZB", Validated: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected snapshot (-want +got): %s", diff)
	}
}

func TestClose(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(newClient("OH7LZB", true))
	r.Add(newClient("OH2MQK", true))

	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsValidated("OH7LZB", 6))

	r.Add(newClient("OH7LZB", true))
	assert.True(t, r.IsValidated("OH7LZB", 6))
}

func TestRegistryMetrics(t *testing.T) {
	m, err := metrics.NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)
	r := NewRegistry(WithMetrics(m))

	c := newClient("OH7LZB", true)
	r.Add(c)
	r.IsValidated("OH7LZB", 6)
	r.Remove(c)
	r.IsValidated("OH7LZB", 6)
	assert.Equal(t, 0, r.Len())
}

// indexConsistent checks that byName is exactly clients grouped by key.
func indexConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := 0
	for key, b := range r.byName {
		require.NotEmpty(t, b.entries, "empty bucket %q", key)
		validated := 0
		for e := range b.entries {
			require.Equal(t, key, e.key)
			require.Same(t, e, r.clients[e.client])
			if e.Validated {
				validated++
			}
			seen++
		}
		require.Equal(t, validated, b.validated, "bucket %q", key)
	}
	require.Equal(t, len(r.clients), seen)
}

func TestConcurrentAccess(t *testing.T) {
	const (
		workers = 16
		rounds  = 200
	)
	r := NewRegistry()

	var wg sync.WaitGroup
	kept := make([][]*testClient, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c := newClient(fmt.Sprintf("N%dCALL-%d", w, i%7), i%2 == 0)
				r.Add(c)
				r.IsValidated(c.username, len(c.username))
				if i%3 == 0 {
					kept[w] = append(kept[w], c)
					continue
				}
				r.Remove(c)
			}
		}(w)
	}

	// readers running alongside the writers
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r.IsValidated("N0CALL-0", 8)
					r.Len()
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	want := 0
	for _, cs := range kept {
		for _, c := range cs {
			assert.True(t, r.Has(c))
			want++
		}
	}
	assert.Equal(t, want, r.Len())
	indexConsistent(t, r)
}
