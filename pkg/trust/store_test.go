package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		Issuer:       pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestStore_AddIsIdempotent(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "whitelist"))
	require.NoError(t, err)
	cert := selfSigned(t, "Vendor A")

	require.NoError(t, s.Add(cert))
	require.NoError(t, s.Add(cert))

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.True(t, s.Contains(cert))
	assert.True(t, s.ContainsFingerprint(strings.ToUpper(Fingerprint(cert))))
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	a, b := selfSigned(t, "A"), selfSigned(t, "B")
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	require.NoError(t, s.Remove(a))
	require.NoError(t, s.Remove(a))
	assert.False(t, s.Contains(a))
	assert.True(t, s.Contains(b))

	require.NoError(t, s.RemoveFingerprint("deadbeef"))
}

func TestStore_FingerprintsSorted(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	var want []string
	for _, cn := range []string{"A", "B", "C"} {
		c := selfSigned(t, cn)
		want = append(want, Fingerprint(c))
		require.NoError(t, s.Add(c))
	}

	fps, err := s.FingerprintsSHA256()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, fps)
	assert.IsIncreasing(t, fps)
	for _, fp := range fps {
		assert.Len(t, fp, 64)
		assert.Equal(t, strings.ToLower(fp), fp)
	}
}

func TestStore_AddFile(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "wl"))
	require.NoError(t, err)

	cert := selfSigned(t, "DER vendor")
	derPath := filepath.Join(dir, "vendor.cer")
	require.NoError(t, os.WriteFile(derPath, cert.Raw, 0644))
	require.NoError(t, s.AddFile(derPath))
	assert.True(t, s.Contains(cert))

	pemCert := selfSigned(t, "PEM vendor")
	pemPath := filepath.Join(dir, "vendor.pem")
	require.NoError(t, os.WriteFile(pemPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: pemCert.Raw}), 0644))
	require.NoError(t, s.AddFile(pemPath))
	assert.True(t, s.Contains(pemCert))

	junk := filepath.Join(dir, "junk.txt")
	require.NoError(t, os.WriteFile(junk, []byte("not a cert"), 0644))
	err = s.AddFile(junk)
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}

func TestStore_SkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("garbage"), 0644))
	require.NoError(t, s.Add(selfSigned(t, "ok")))

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeviceCertificate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "device.pem")
	d, err := OpenDeviceCertificate(path)
	require.NoError(t, err)
	assert.False(t, d.Available())
	_, ok := d.PEM()
	assert.False(t, ok)

	cert := selfSigned(t, "device-001")
	require.NoError(t, d.Import(cert.Raw))
	assert.True(t, d.Available())
	assert.Equal(t, "device-001", d.SubjectCN())
	assert.Equal(t, "device-001", d.IssuerCN())

	pemText, ok := d.PEM()
	require.True(t, ok)
	assert.Contains(t, pemText, "BEGIN CERTIFICATE")

	reopened, err := OpenDeviceCertificate(path)
	require.NoError(t, err)
	got, ok := reopened.Certificate()
	require.True(t, ok)
	assert.Equal(t, cert.Raw, got.Raw)

	assert.ErrorIs(t, d.Import([]byte("nope")), ErrInvalidCertificate)
}
