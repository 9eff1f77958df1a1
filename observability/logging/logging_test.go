package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setup(&buf, Options{Service: "stabled", Env: "test", Level: "debug"})
	logger.Debug("hello", MaskField("passphrase", "secret"), MaskField("reason", "visible"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "stabled", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["passphrase"])
	require.Equal(t, "visible", line["reason"])
	require.Contains(t, line, "timestamp")
}

func TestSetupMasksSecretKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setup(&buf, Options{Service: "stabled"})
	logger.Info("wired",
		"journal_dsn", "postgres://user:pw@db/journal",
		"APIToken", "abc",
		"request_id", "r-1",
		"asset", "WETH",
		"jwt_secret", "",
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["journal_dsn"])
	require.Equal(t, RedactedValue, line["APIToken"])
	require.Equal(t, "r-1", line["request_id"])
	require.Equal(t, "WETH", line["asset"])
	require.Equal(t, "", line["jwt_secret"])
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"passphrase", "Authorization", "oracle_api_key", "PrivateKey"} {
		require.True(t, IsSecretKey(key), key)
	}
	for _, key := range []string{"", "asset", "head_digest", "request_id"} {
		require.False(t, IsSecretKey(key), key)
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setup(&buf, Options{Service: "stabled", Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
