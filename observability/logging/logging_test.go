package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrowd", Env: "test", Level: "debug"})
	logger.Debug("order accepted", MaskField("token", "secret"), MaskField("buyer", "jns1abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "order accepted", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "escrowd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, "jns1abc", line["buyer"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrowd", Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestMaskHelpers(t *testing.T) {
	require.Equal(t, " ", MaskValue(" "))
	require.Equal(t, RedactedValue, MaskValue("x"))
	require.Equal(t, "Bearer "+RedactedValue, MaskBearer("Bearer abc.def.ghi"))
	require.Equal(t, RedactedValue, MaskBearer("opaque"))
	require.True(t, IsAllowlisted(" Route "))
	require.Contains(t, RedactionAllowlist(), "requestid")
	require.Equal(t, RedactedValue, MaskField("dsn", "postgres://u:p@db/janus").Value.String())
	require.Equal(t, "jns1buyer", MaskField("buyer", "jns1buyer").Value.String())
	require.Equal(t, "", MaskField("endpoint", "").Value.String())
}
