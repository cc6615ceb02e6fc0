package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_InitBuildsAtConfiguredLevel(t *testing.T) {
	logger, level, err := Init(&Config{Level: zapcore.WarnLevel})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.Equal(t, zapcore.WarnLevel, level.Level())
}

func Test_InitDefaultsToStderrWhenOutputPathsUnset(t *testing.T) {
	_, _, err := Init(&Config{})
	require.NoError(t, err)
}

func Test_InitWritesToCallerChosenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instrument.log")
	logger, _, err := Init(&Config{OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Infow("hello", "k", "v")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func Test_WritesToTerminalOnlyChecksNamedStandardStreams(t *testing.T) {
	require.False(t, writesToTerminal([]string{filepath.Join(t.TempDir(), "out.log")}))
}

func Test_NullLoggerDiscardsWithoutPanicking(t *testing.T) {
	l := NullLogger()
	require.NotPanics(t, func() { l.Infow("ignored", "k", "v") })
}

func Test_LogSetFansOutToEveryNonNilSink(t *testing.T) {
	a, _, err := Init(&Config{})
	require.NoError(t, err)
	b, _, err := Init(&Config{})
	require.NoError(t, err)

	set := LogSet{a, nil, b}
	require.NotPanics(t, func() {
		set.Errorw("boom", "code", 1)
		set.Warnw("careful", "code", 2)
		set.Debugw("detail", "code", 3)
	})
}

func Test_LogSetEmptyIsNoOp(t *testing.T) {
	var set LogSet
	require.NotPanics(t, func() { set.Errorw("nothing listens") })
}
