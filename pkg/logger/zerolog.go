package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0o664
)

// ZerologHandler adapts a zerolog.Logger to Logger. Key/value pairs are
// attached as fields; a dangling key is logged under "!BADKEY" like slog does.
type ZerologHandler struct {
	logger zerolog.Logger
}

var _ Logger = (*ZerologHandler)(nil)

func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

// NewConsole builds a human readable zerolog logger, used by the CLI.
func NewConsole(w io.Writer, level zerolog.Level) *ZerologHandler {
	l := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
	return NewZerolog(l)
}

// NewFile appends JSON lines to the file at path.
func NewFile(path string, level zerolog.Level) (*ZerologHandler, *os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
	if err != nil {
		return nil, nil, err
	}
	l := zerolog.New(zerolog.SyncWriter(f)).Level(level).With().Timestamp().Logger()
	return NewZerolog(l), f, nil
}

func (z *ZerologHandler) Error(msg string, args ...any) {
	withFields(z.logger.Error(), args).Msg(msg)
}

func (z *ZerologHandler) Warn(msg string, args ...any) {
	withFields(z.logger.Warn(), args).Msg(msg)
}

func (z *ZerologHandler) Info(msg string, args ...any) {
	withFields(z.logger.Info(), args).Msg(msg)
}

func (z *ZerologHandler) Debug(msg string, args ...any) {
	withFields(z.logger.Debug(), args).Msg(msg)
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
