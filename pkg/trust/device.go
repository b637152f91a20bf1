// pkg/trust/device.go - the single pinned device certificate issued at provisioning.

package trust

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DeviceCertificate persists one certificate as a PEM file and replaces it on import.
type DeviceCertificate struct {
	mu   sync.RWMutex
	path string
	cert *x509.Certificate
}

// OpenDeviceCertificate loads the certificate at path if present.
func OpenDeviceCertificate(path string) (*DeviceCertificate, error) {
	d := &DeviceCertificate{path: path}
	cert, err := ParseCertificateFile(path)
	switch {
	case err == nil:
		d.cert = cert
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("loading device certificate: %w", err)
	}
	return d, nil
}

// Import replaces the device certificate with data (PEM or DER).
func (d *DeviceCertificate) Import(data []byte) error {
	cert, err := ParseCertificate(data)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("creating device certificate directory: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(d.path, out, 0644); err != nil {
		return fmt.Errorf("writing device certificate: %w", err)
	}
	d.cert = cert
	return nil
}

// ImportFile imports a certificate file.
func (d *DeviceCertificate) ImportFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return d.Import(data)
}

// Available reports whether a device certificate has been imported.
func (d *DeviceCertificate) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cert != nil
}

func (d *DeviceCertificate) Certificate() (*x509.Certificate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cert, d.cert != nil
}

// PEM returns the certificate in PEM form.
func (d *DeviceCertificate) PEM() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cert == nil {
		return "", false
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: d.cert.Raw})), true
}

func (d *DeviceCertificate) IssuerCN() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cert == nil {
		return ""
	}
	return d.cert.Issuer.CommonName
}

func (d *DeviceCertificate) SubjectCN() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cert == nil {
		return ""
	}
	return d.cert.Subject.CommonName
}
