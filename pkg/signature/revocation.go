// pkg/signature/revocation.go - online revocation checks (OCSP first, CRL as fallback).

package signature

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	// ErrRevoked means a responder or CRL reported the certificate as revoked.
	ErrRevoked = errors.New("certificate revoked")
	// ErrRevocationUnknown means no source could confirm the certificate's status.
	ErrRevocationUnknown = errors.New("revocation status unknown")
)

// DefaultRevocationTimeout bounds the whole revocation check of one chain.
const DefaultRevocationTimeout = time.Minute

// RevocationChecker confirms that cert, issued by issuer, is not revoked. Any error means "do not trust".
type RevocationChecker interface {
	Check(ctx context.Context, cert, issuer *x509.Certificate) error
}

// OnlineRevocationChecker queries the certificate's OCSP responders and CRL distribution points.
type OnlineRevocationChecker struct {
	Client *http.Client
}

// NewOnlineRevocationChecker returns a checker using a dedicated HTTP client.
func NewOnlineRevocationChecker() *OnlineRevocationChecker {
	return &OnlineRevocationChecker{Client: &http.Client{}}
}

func (o *OnlineRevocationChecker) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o *OnlineRevocationChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) error {
	var errs []error
	for _, server := range cert.OCSPServer {
		err := o.checkOCSP(ctx, server, cert, issuer)
		if err == nil || errors.Is(err, ErrRevoked) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrRevocationUnknown, ctx.Err())
		}
		errs = append(errs, err)
	}
	for _, dp := range cert.CRLDistributionPoints {
		if !strings.HasPrefix(strings.ToLower(dp), "http") {
			continue
		}
		err := o.checkCRL(ctx, dp, cert, issuer)
		if err == nil || errors.Is(err, ErrRevoked) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrRevocationUnknown, ctx.Err())
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no OCSP responder or CRL distribution point for %q", ErrRevocationUnknown, cert.Subject.CommonName)
	}
	return fmt.Errorf("%w: %v", ErrRevocationUnknown, errors.Join(errs...))
}

func (o *OnlineRevocationChecker) checkOCSP(ctx context.Context, server string, cert, issuer *x509.Certificate) error {
	reqBytes, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return fmt.Errorf("building OCSP request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(reqBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	body, err := o.fetch(req)
	if err != nil {
		return fmt.Errorf("OCSP %s: %w", server, err)
	}
	resp, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return fmt.Errorf("OCSP %s: parsing response: %w", server, err)
	}
	switch resp.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return fmt.Errorf("%w: serial %s (OCSP, at %s)", ErrRevoked, cert.SerialNumber, resp.RevokedAt.Format(time.RFC3339))
	default:
		return fmt.Errorf("OCSP %s: status unknown", server)
	}
}

func (o *OnlineRevocationChecker) checkCRL(ctx context.Context, url string, cert, issuer *x509.Certificate) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	body, err := o.fetch(req)
	if err != nil {
		return fmt.Errorf("CRL %s: %w", url, err)
	}
	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return fmt.Errorf("CRL %s: parsing: %w", url, err)
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("CRL %s: bad signature: %w", url, err)
	}
	if !crl.NextUpdate.IsZero() && time.Now().After(crl.NextUpdate) {
		return fmt.Errorf("CRL %s: expired at %s", url, crl.NextUpdate.Format(time.RFC3339))
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return fmt.Errorf("%w: serial %s (CRL)", ErrRevoked, cert.SerialNumber)
		}
	}
	return nil
}

func (o *OnlineRevocationChecker) fetch(req *http.Request) ([]byte, error) {
	resp, err := o.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	// OCSP responses and CRLs for code-signing CAs are small; cap the read.
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
