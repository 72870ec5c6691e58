package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriterLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", false)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Str("room", "alpha").Msg("shown")
	assert.Contains(t, buf.String(), `"room":"alpha"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestNewWithWriterDefaultsToInfo(t *testing.T) {
	for _, level := range []string{"", "nonsense"} {
		logger := NewWithWriter(&bytes.Buffer{}, level, false)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel(), level)
	}
}
