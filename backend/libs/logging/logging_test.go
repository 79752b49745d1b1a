package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(Options{Level: "error", Format: "console", Service: "station-ops"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestEntryTimesAreUTC(t *testing.T) {
	enc := zapcore.NewJSONEncoder(encoderConfig())
	at := time.Date(2026, 3, 10, 12, 30, 0, 0, time.FixedZone("UTC+7", 7*3600))

	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Time: at, Message: "up"}, nil)
	require.NoError(t, err)
	defer buf.Free()

	assert.Contains(t, buf.String(), `"ts":"2026-03-10T05:30:00Z"`)
}
