package certmint

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// decodePEM scans data for the first block whose Type matches one of
// wantTypes, returning its DER bytes and which type matched.
func decodePEM(data []byte, wantTypes ...string) ([]byte, string) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ""
		}
		for _, want := range wantTypes {
			if block.Type == want {
				return block.Bytes, want
			}
		}
	}
}

func parseECKey(der []byte, blockType string) (*ecdsa.PrivateKey, error) {
	if blockType == "EC PRIVATE KEY" {
		return x509.ParseECPrivateKey(der)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not ECDSA")
	}
	return ecKey, nil
}
