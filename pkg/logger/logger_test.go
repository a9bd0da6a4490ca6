package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/logger"
)

func TestZerologFields(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := logger.NewZerolog(zerolog.New(buff).Level(zerolog.DebugLevel))

	l.Info("state transitioned", "new_state", "connected", "attempt", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "state transitioned", line["message"])
	require.Equal(t, "connected", line["new_state"])
	require.EqualValues(t, 3, line["attempt"])
}

func TestZerologErrorAndDanglingKey(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := logger.NewZerolog(zerolog.New(buff))

	l.Error("dial failed", "error", errors.New("boom"), "orphan")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "boom", line["error"])
	require.Equal(t, "orphan", line["!BADKEY"])
}

func TestZerologLevelFilter(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := logger.NewZerolog(zerolog.New(buff).Level(zerolog.WarnLevel))

	l.Debug("hidden")
	require.Equal(t, 0, buff.Len())
	l.Warn("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, logger.ParseLevel("debug"))
	require.Equal(t, zerolog.InfoLevel, logger.ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, logger.ParseLevel("nope"))
}
