// pkg/signature/verifier.go - decides whether a file's signature satisfies a trust level.

package signature

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/trust"
)

// Whitelist is the part of the trust store the verifier needs.
type Whitelist interface {
	Contains(cert *x509.Certificate) bool
}

// Verifier checks embedded signatures against the three trust tiers.
type Verifier struct {
	extractor         Extractor
	whitelist         Whitelist
	roots             *x509.CertPool
	revocation        RevocationChecker
	revocationTimeout time.Duration
	now               func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRoots replaces the system roots used by the trusted tier.
func WithRoots(pool *x509.CertPool) Option {
	return func(v *Verifier) { v.roots = pool }
}

// WithRevocationChecker sets the revocation checker. nil disables revocation checks.
func WithRevocationChecker(rc RevocationChecker) Option {
	return func(v *Verifier) { v.revocation = rc }
}

// WithRevocationTimeout bounds revocation checking per chain.
func WithRevocationTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.revocationTimeout = d
		}
	}
}

// WithClock overrides the verification time.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier builds a verifier. By default it uses the system roots and online revocation checks.
func NewVerifier(extractor Extractor, whitelist Whitelist, opts ...Option) *Verifier {
	v := &Verifier{
		extractor:         extractor,
		whitelist:         whitelist,
		revocation:        NewOnlineRevocationChecker(),
		revocationTimeout: DefaultRevocationTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyFile reports whether the file is signed at the given level.
// Files without a readable signature are simply not verified.
func (v *Verifier) VerifyFile(path string, level Level) bool {
	certs, err := v.extractor.SignerCertificates(path)
	if err != nil || len(certs) == 0 {
		logging.Warn("No readable signature", "file", path, "error", err)
		return false
	}
	ok := v.VerifyCertificate(certs[0], certs[1:], level)
	if !ok {
		logging.Warn("Signature rejected", "file", path, "level", level.String(), "signer", certs[0].Subject.CommonName)
	}
	return ok
}

// VerifyCertificate checks one signer certificate, with optional intermediates, against level.
func (v *Verifier) VerifyCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, level Level) bool {
	if cert == nil {
		return false
	}
	switch level {
	case AnyCertificate:
		return true
	case TrustedCertificate:
		return v.chainTrusted(cert, intermediates, x509.ExtKeyUsageCodeSigning)
	case WhitelistedCertificate:
		return v.whitelist != nil && v.whitelist.Contains(cert)
	default:
		logging.Warn("Unknown signature verification level", "level", int(level))
		return false
	}
}

// IsCertificateValidAndTrusted checks a standalone certificate file (the device certificate)
// for a valid, unrevoked chain. Any usage is accepted.
func (v *Verifier) IsCertificateValidAndTrusted(certFile string) bool {
	cert, err := trust.ParseCertificateFile(certFile)
	if err != nil {
		logging.Warn("Cannot read certificate", "file", certFile, "error", err)
		return false
	}
	return v.chainTrusted(cert, nil, x509.ExtKeyUsageAny)
}

func (v *Verifier) chainTrusted(cert *x509.Certificate, intermediates []*x509.Certificate, usage x509.ExtKeyUsage) bool {
	pool := x509.NewCertPool()
	for _, c := range intermediates {
		pool.AddCert(c)
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: pool,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{usage},
	})
	if err != nil {
		logging.Debug("Certificate chain not trusted", "subject", cert.Subject.CommonName, "error", err)
		return false
	}
	if v.revocation == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.revocationTimeout)
	defer cancel()
	for _, chain := range chains {
		if v.chainNotRevoked(ctx, chain) {
			return true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return false
}

// chainNotRevoked checks every element except the self-signed root.
func (v *Verifier) chainNotRevoked(ctx context.Context, chain []*x509.Certificate) bool {
	for i := 0; i+1 < len(chain); i++ {
		if err := v.revocation.Check(ctx, chain[i], chain[i+1]); err != nil {
			logging.Warn("Revocation check failed", "subject", chain[i].Subject.CommonName, "error", err)
			return false
		}
	}
	return true
}
