package util

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.Level = "debug"
	cfg.Directory = dir
	cfg.Console = false

	require.NoError(t, InitLogger(cfg))
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	name := fmt.Sprintf("lanlink_%s.log", time.Now().Format("2006-01-02"))
	require.True(t, FileExists(filepath.Join(dir, name)))
}

func TestInitLoggerBadLevelFallsBack(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Level = "shouting"
	cfg.Directory = t.TempDir()
	cfg.Console = false

	require.NoError(t, InitLogger(cfg))
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
