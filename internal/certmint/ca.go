// Package certmint loads a local root CA and mints short-lived leaf
// certificates for TLS interception, following the certificate-builder
// shape of the teacher's caddytls/selfsigned.go (ECDSA P-256 key,
// x509.CreateCertificate, SAN list) but signing with the loaded CA instead
// of self-signing, and dispatching by SNI the way
// caddytls/handshake.go's configGroup.GetConfigForClient does.
package certmint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// CA holds the parsed root certificate and key used to sign leaves.
type CA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	leaf *LeafCache
}

// LoadCA parses a PEM-encoded certificate and ECDSA private key from the
// given file paths.
func LoadCA(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("certmint: reading CA cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("certmint: reading CA key: %w", err)
	}

	certBlock, _ := decodePEM(certPEM, "CERTIFICATE")
	if certBlock == nil {
		return nil, fmt.Errorf("certmint: no CERTIFICATE block in %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock)
	if err != nil {
		return nil, fmt.Errorf("certmint: parsing CA cert: %w", err)
	}

	keyBlock, keyType := decodePEM(keyPEM, "EC PRIVATE KEY", "PRIVATE KEY")
	if keyBlock == nil {
		return nil, fmt.Errorf("certmint: no private key block in %s", keyPath)
	}
	key, err := parseECKey(keyBlock, keyType)
	if err != nil {
		return nil, fmt.Errorf("certmint: parsing CA key: %w", err)
	}

	return &CA{cert: cert, key: key, leaf: newLeafCache(128)}, nil
}

// GetCertificate is a tls.Config.GetCertificate callback: it mints (or
// reuses a cached) leaf certificate for the ClientHello's SNI hostname.
func (ca *CA) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := hello.ServerName
	if host == "" {
		return nil, fmt.Errorf("certmint: client hello has no SNI; cannot select a leaf")
	}
	if cert, ok := ca.leaf.get(host); ok {
		return cert, nil
	}
	cert, err := ca.mint(host)
	if err != nil {
		return nil, err
	}
	ca.leaf.put(host, cert, 24*time.Hour)
	return cert, nil
}

// mint builds a new leaf certificate for host, signed by the loaded CA.
func (ca *CA) mint(host string) (*tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certmint: generating leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certmint: generating serial: %w", err)
	}

	notBefore := time.Now().Add(-5 * time.Minute)
	notAfter := notBefore.Add(24 * time.Hour)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"proxycache interception leaf"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{strings.ToLower(host)}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &priv.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("certmint: signing leaf for %s: %w", host, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certmint: parsing leaf for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// ServerTLSConfig returns a tls.Config suitable for the accept-side
// handshake, dispatching the leaf certificate dynamically by SNI.
func (ca *CA) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: ca.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}
