package certify

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// certValidity extracts the validity window from the first certificate in
// a PEM bundle.
func certValidity(certPEM string) (issuedAt, expiresAt time.Time, err error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, time.Time{}, errors.New("no certificate block in pem data")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse certificate: %w", err)
	}

	return cert.NotBefore, cert.NotAfter, nil
}
