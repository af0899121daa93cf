package util

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTLSCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	created, err := EnsureTLSCert(certFile, keyFile, "localhost", "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, created)

	_, err = tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err, "generated pair must load")

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	created, err = EnsureTLSCert(certFile, keyFile)
	require.NoError(t, err)
	assert.False(t, created, "existing pair is kept")
}

func TestInitLogger(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "logs")
	cfg.Console = false
	cfg.Level = "not-a-level"

	closer, err := InitLogger(cfg)
	require.NoError(t, err)
	defer closer.Close()

	logger := ComponentLogger("test")
	logger.Info().Msg("hello")
	assert.FileExists(t, filepath.Join(cfg.Directory, LogFileName))
}

func TestFileHelpers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.False(t, FileExists(dir))
	require.NoError(t, EnsureDir(dir))
	assert.True(t, FileExists(dir))
}
