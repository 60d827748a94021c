package testlog

import (
	"testing"

	"github.com/danmuck/mikrolink/internal/logging"
	"github.com/rs/zerolog"
)

// Start configures test logging and returns a logger that writes through t.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	out := zerolog.ConsoleWriter{
		Out:          zerolog.NewTestWriter(t),
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	l := zerolog.New(out).Level(logging.Level())
	l.Info().Msgf("test=%s", t.Name())
	return l
}
