package proxycache

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTestCA(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Test Root CA"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "ca.pem")
	keyPath = filepath.Join(dir, "ca-key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	return certPath, keyPath
}

func TestNew_PlainConfigBuildsWithoutCAOrFilter(t *testing.T) {
	cfg := DefaultConfig() // New never listens, so the default port is never bound
	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.loop)
	require.Nil(t, p.ca)
	require.Nil(t, p.filter)
	require.Nil(t, p.admin)
}

func TestNew_InterceptLoadsCA(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestCA(t, dir)

	cfg := DefaultConfig()
	cfg.Intercept = true
	cfg.CACertPath = certPath
	cfg.CAKeyPath = keyPath

	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.ca)
}

func TestNew_FilterFileLoaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filters.txt")
	require.NoError(t, os.WriteFile(path, []byte("blocked.example\n"), 0o644))

	cfg := DefaultConfig()
	cfg.FilterFile = path

	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.filter)
	require.True(t, p.filter.Blocks("blocked.example", "80", "/"))
}

func TestNew_AdminAddrBuildsAdminServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminAddr = "127.0.0.1:0"

	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.admin)

	rec := httptest.NewRecorder()
	p.admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = -1
	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
}
