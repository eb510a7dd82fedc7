package metrics

import (
	"errors"
	"testing"
	"time"

	"bitwise74/reactions-api/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIngest(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveIngest("reaction", time.Second, 2048, nil)
	m.ObserveIngest("reaction", time.Second, 99, apperr.New(apperr.UnsupportedType, "nope"))
	m.ObserveIngest("chat", time.Second, 99, errors.New("boom"))
	m.Orphaned()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("reaction", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("reaction", "UnsupportedType")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("chat", "internal")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.uploadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orphaned))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := New(reg)
	require.NoError(t, err)

	second, err := New(reg)
	require.NoError(t, err)

	second.Orphaned()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.orphaned))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveIngest("chat", time.Second, 1, nil)
		m.Orphaned()
	})
}
