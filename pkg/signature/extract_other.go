//go:build !windows

package signature

import "crypto/x509"

type unsupportedExtractor struct{}

// NewExtractor returns the platform extractor. Authenticode is Windows-only,
// so every file reads as unsigned here.
func NewExtractor() Extractor {
	return unsupportedExtractor{}
}

func (unsupportedExtractor) SignerCertificates(string) ([]*x509.Certificate, error) {
	return nil, ErrNoSignature
}
