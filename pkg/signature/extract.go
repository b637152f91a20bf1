// pkg/signature/extract.go - reading the signer certificate embedded in a package file.

package signature

import (
	"crypto/x509"
	"errors"
	"slices"
)

// ErrNoSignature means the file carries no embedded signature we can read.
var ErrNoSignature = errors.New("no embedded signature")

// Extractor returns the certificates embedded in a signed file, signer first.
type Extractor interface {
	SignerCertificates(path string) ([]*x509.Certificate, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(path string) ([]*x509.Certificate, error)

func (f ExtractorFunc) SignerCertificates(path string) ([]*x509.Certificate, error) {
	return f(path)
}

// orderSignerFirst puts the most likely signer at index 0: a certificate that
// issued none of the others, preferring non-CA code-signing certificates.
func orderSignerFirst(certs []*x509.Certificate) []*x509.Certificate {
	if len(certs) < 2 {
		return certs
	}
	score := func(c *x509.Certificate) int {
		s := 0
		for _, other := range certs {
			if other != c && other.CheckSignatureFrom(c) == nil {
				s -= 4
			}
		}
		if !c.IsCA {
			s += 2
		}
		if slices.Contains(c.ExtKeyUsage, x509.ExtKeyUsageCodeSigning) {
			s++
		}
		return s
	}
	out := slices.Clone(certs)
	slices.SortStableFunc(out, func(a, b *x509.Certificate) int {
		return score(b) - score(a)
	})
	return out
}
