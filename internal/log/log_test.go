package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	l := newLogger(Config{Level: "info"})
	require.NotNil(t, l)

	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsTraceEnabled())
}

func TestNewLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	l := newLogger(Config{Level: "not-a-level"})

	assert.True(t, l.IsInfoEnabled())
}

func TestLoggerWithFieldReturnsDistinctLogger(t *testing.T) {
	base := newLogger(Config{Level: "debug"})
	child := base.WithField("flow", "1.2.3.4:80")

	assert.True(t, child.IsDebugEnabled())
	assert.NotSame(t, base, child)
}

func TestInitReplacesProcessWideLogger(t *testing.T) {
	original := GetLogger()
	defer func() { Init(Config{Level: "info"}) }()

	Init(Config{Level: "trace"})
	assert.True(t, GetLogger().IsTraceEnabled())
	assert.NotEqual(t, original, GetLogger())
}

func TestMultiWriterFansOutToAllWriters(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter().Add(&a).Add(&b)

	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", a.String())
	assert.Equal(t, "hello", b.String())
}
