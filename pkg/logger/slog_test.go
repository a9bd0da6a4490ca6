package logger_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/logger"
)

func TestSlogHandlerLevels(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := logger.New(slog.NewJSONHandler(buff, &slog.HandlerOptions{Level: slog.LevelDebug}))

	for level, fn := range map[string]func(string, ...any){
		"ERROR": l.Error,
		"WARN":  l.Warn,
		"INFO":  l.Info,
		"DEBUG": l.Debug,
	} {
		buff.Reset()
		fn("reconnecting", "attempt", 2, "delay", "5s")

		var line struct {
			Level   string `json:"level"`
			Msg     string `json:"msg"`
			Attempt int    `json:"attempt"`
			Delay   string `json:"delay"`
		}
		require.NoError(t, json.Unmarshal(buff.Bytes(), &line), level)
		require.Equal(t, level, line.Level)
		require.Equal(t, "reconnecting", line.Msg)
		require.Equal(t, 2, line.Attempt)
		require.Equal(t, "5s", line.Delay)
	}
}

func TestSlogHandlerFiltersBelowLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l := logger.New(slog.NewJSONHandler(buff, &slog.HandlerOptions{Level: slog.LevelWarn}))

	l.Info("frame received")
	l.Debug("frame received")
	require.Zero(t, buff.Len())

	l.Warn("frame dropped")
	require.Contains(t, buff.String(), "frame dropped")
}

func TestDefaultWritesToStderr(t *testing.T) {
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	stdout, stderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdoutW, stderrW
	l := logger.Default()
	os.Stdout, os.Stderr = stdout, stderr

	l.Info("hidden")
	l.Warn("reconnecting", "attempt", 2)
	require.NoError(t, stdoutW.Close())
	require.NoError(t, stderrW.Close())

	out, err := io.ReadAll(stdoutR)
	require.NoError(t, err)
	require.Empty(t, out)

	errOut, err := io.ReadAll(stderrR)
	require.NoError(t, err)
	var line struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(errOut, &line))
	require.Equal(t, "WARN", line.Level)
	require.Equal(t, "reconnecting", line.Msg)
}
