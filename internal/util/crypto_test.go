package util

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCertRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "api.crt")
	keyFile := filepath.Join(dir, "api.key")

	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile))
	require.True(t, FileExists(certFile))
	require.True(t, FileExists(keyFile))

	// The pair must be loadable the way the API server loads it.
	_, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	raw, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, "lanlink-local", cert.Subject.CommonName)
}

func TestGenerateSelfSignedCertKeyPermissions(t *testing.T) {
	if GetPlatform() == PlatformWindows {
		t.Skip("file mode bits are not meaningful on Windows")
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "api.crt")
	keyFile := filepath.Join(dir, "api.key")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	require.True(t, FileExists(dir))
	require.False(t, FileExists(filepath.Join(dir, "nope.txt")))

	path := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.True(t, FileExists(path))
}
