package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFieldedLoggerCarriesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)
	defer base.SetOutput(io.Discard)

	logger := NewFieldedLogger(&Fields{"component": "test"})
	logger.Info("hello", "url", "https://example.com")

	out := buf.String()
	require.Contains(t, out, `"component":"test"`)
	require.Contains(t, out, `"url":"https://example.com"`)
	require.Contains(t, out, `"msg":"hello"`)
}

func TestStartIsIdempotent(t *testing.T) {
	Configure(DefaultConfig())
	require.NoError(t, Start())
	require.NoError(t, Start())
	Stop()
}

func TestWriterHookLevelsIncludesOnlyUpToThreshold(t *testing.T) {
	h := &writerHook{level: logrus.WarnLevel}
	levels := h.Levels()
	require.Contains(t, levels, logrus.ErrorLevel)
	require.Contains(t, levels, logrus.WarnLevel)
	require.NotContains(t, levels, logrus.InfoLevel)
}
