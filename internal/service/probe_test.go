package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbe(t *testing.T) {
	res, err := parseProbe([]byte(`{"programs":[],"streams":[{"channels":2}],"format":{"duration":"3.264000"}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Channels)
	assert.InDelta(t, 3.264, res.Duration, 1e-9)
}

func TestParseProbeWithoutDuration(t *testing.T) {
	res, err := parseProbe([]byte(`{"streams":[{"channels":1}],"format":{"duration":"N/A"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Channels)
	assert.Zero(t, res.Duration)
}

func TestParseProbeRejectsMissingAudio(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[],"format":{}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}
