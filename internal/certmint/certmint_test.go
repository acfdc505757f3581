package certmint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeTestCA generates a throwaway root CA and writes it to dir,
// returning the cert/key paths alongside the parsed certificate for
// verification in tests.
func writeTestCA(t *testing.T, dir string) (certPath, keyPath string, caCert *x509.Certificate) {
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

	caCert, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "ca.pem")
	keyPath = filepath.Join(dir, "ca-key.pem")

	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	return certPath, keyPath, caCert
}

func TestLoadCA_MintsLeafSignedByRoot(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, caCert := writeTestCA(t, dir)

	ca, err := LoadCA(certPath, keyPath)
	require.NoError(t, err)

	leaf, err := ca.mint("example.com")
	require.NoError(t, err)
	require.Equal(t, "example.com", leaf.Leaf.DNSNames[0])

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	_, err = leaf.Leaf.Verify(x509.VerifyOptions{DNSName: "example.com", Roots: pool})
	require.NoError(t, err)
}

func TestCA_GetCertificate_CachesByHost(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, _ := writeTestCA(t, dir)
	ca, err := LoadCA(certPath, keyPath)
	require.NoError(t, err)

	hello := &tls.ClientHelloInfo{ServerName: "a.example.com"}
	first, err := ca.GetCertificate(hello)
	require.NoError(t, err)
	second, err := ca.GetCertificate(hello)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestCA_GetCertificate_NoSNI(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, _ := writeTestCA(t, dir)
	ca, err := LoadCA(certPath, keyPath)
	require.NoError(t, err)

	_, err = ca.GetCertificate(&tls.ClientHelloInfo{})
	require.Error(t, err)
}

func TestLeafCache_EvictsOldestStale(t *testing.T) {
	c := newLeafCache(1)
	cert1 := &tls.Certificate{}
	c.put("a", cert1, time.Millisecond)
	time.Sleep(2 * time.Millisecond)

	cert2 := &tls.Certificate{}
	c.put("b", cert2, time.Hour)

	_, ok := c.get("a")
	require.False(t, ok)
	_, ok = c.get("b")
	require.True(t, ok)
}
