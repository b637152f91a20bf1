// pkg/trust/store.go - whitelist of certificates that satisfy the "whitelisted" signature tier.

package trust

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/utils"
)

// ErrInvalidCertificate is returned when a file holds no parseable certificate.
var ErrInvalidCertificate = errors.New("not a valid certificate")

// Fingerprint returns the lower-case hex SHA-256 over the certificate's DER bytes.
func Fingerprint(cert *x509.Certificate) string {
	return utils.SHA256Hex(cert.Raw)
}

// NormalizeFingerprint strips separators/whitespace and lower-cases a fingerprint string.
func NormalizeFingerprint(fp string) string {
	r := strings.NewReplacer(":", "", " ", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(fp)))
}

// Store keeps one PEM file per certificate, named <fingerprint>.pem. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// OpenStore opens (and creates if needed) a whitelist directory.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("whitelist directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating whitelist directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(fp string) string {
	return filepath.Join(s.dir, fp+".pem")
}

// List returns every certificate in the store. Unreadable files are skipped and logged.
func (s *Store) List() ([]*x509.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *Store) list() ([]*x509.Certificate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading whitelist directory: %w", err)
	}
	var certs []*x509.Certificate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pem") {
			continue
		}
		cert, err := ParseCertificateFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			logging.Warn("Skipping unreadable whitelist entry", "file", e.Name(), "error", err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Add stores cert. Adding a certificate that is already present is a no-op.
func (s *Store) Add(cert *x509.Certificate) error {
	if cert == nil {
		return ErrInvalidCertificate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := Fingerprint(cert)
	path := s.pathFor(fp)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing whitelist entry %s: %w", fp, err)
	}
	logging.Info("Certificate added to whitelist", "fingerprint", fp, "subject", cert.Subject.CommonName)
	return nil
}

// AddFile parses a PEM or DER certificate file and adds it.
func (s *Store) AddFile(path string) error {
	cert, err := ParseCertificateFile(path)
	if err != nil {
		return err
	}
	return s.Add(cert)
}

// Remove deletes cert from the store. Removing an absent certificate is a no-op.
func (s *Store) Remove(cert *x509.Certificate) error {
	if cert == nil {
		return nil
	}
	return s.RemoveFingerprint(Fingerprint(cert))
}

// RemoveFingerprint deletes the entry with the given SHA-256 fingerprint, if any.
func (s *Store) RemoveFingerprint(fp string) error {
	fp = NormalizeFingerprint(fp)
	if fp == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.pathFor(fp))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing whitelist entry %s: %w", fp, err)
	}
	if err == nil {
		logging.Info("Certificate removed from whitelist", "fingerprint", fp)
	}
	return nil
}

// Contains reports whether cert is whitelisted.
func (s *Store) Contains(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	return s.ContainsFingerprint(Fingerprint(cert))
}

// ContainsFingerprint reports whether a certificate with the given SHA-256 fingerprint is whitelisted.
func (s *Store) ContainsFingerprint(fp string) bool {
	fp = NormalizeFingerprint(fp)
	if fp == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// File names are only a lookup key; the content decides.
	cert, err := ParseCertificateFile(s.pathFor(fp))
	if err == nil && Fingerprint(cert) == fp {
		return true
	}
	certs, err := s.list()
	if err != nil {
		return false
	}
	for _, c := range certs {
		if Fingerprint(c) == fp {
			return true
		}
	}
	return false
}

// FingerprintsSHA256 returns the sorted fingerprints of all whitelisted certificates.
func (s *Store) FingerprintsSHA256() ([]string, error) {
	certs, err := s.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(certs))
	fps := make([]string, 0, len(certs))
	for _, c := range certs {
		fp := Fingerprint(c)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps, nil
}

// ParseCertificateFile reads a single PEM or DER encoded certificate.
func ParseCertificateFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cert, nil
}

// ParseCertificate accepts PEM (first CERTIFICATE block) or raw DER.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		return cert, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return cert, nil
}
