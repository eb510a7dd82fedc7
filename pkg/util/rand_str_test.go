package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandStr(t *testing.T) {
	s := RandStr(12)
	assert.Len(t, s, 12)
	assert.Empty(t, strings.Trim(s, charset))
	assert.Empty(t, RandStr(0))
}
