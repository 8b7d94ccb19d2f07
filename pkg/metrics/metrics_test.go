package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	r.ClientAdded(1)
	r.ClientAdded(2)
	r.ClientRemoved(1)
	r.Lookup(true)
	r.Lookup(false)
	r.Lookup(false)
	r.Packet("qAC")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.registeredClients))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.adds))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.removes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues(ResultHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.lookups.WithLabelValues(ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.packets.WithLabelValues("qAC")))
}

func TestRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ClientAdded(1)
		r.ClientRemoved(0)
		r.Lookup(true)
		r.Packet("qAX")
	})
}
