//go:build windows

package signature

import (
	"crypto/x509"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// AuthenticodeExtractor reads the embedded PKCS#7 Authenticode blob of a PE/MSI file.
type AuthenticodeExtractor struct{}

// NewExtractor returns the platform extractor.
func NewExtractor() Extractor {
	return AuthenticodeExtractor{}
}

func (AuthenticodeExtractor) SignerCertificates(path string) ([]*x509.Certificate, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	var (
		encoding, contentType, formatType uint32
		store                             windows.Handle
	)
	err = windows.CryptQueryObject(
		windows.CERT_QUERY_OBJECT_FILE,
		unsafe.Pointer(pathPtr),
		windows.CERT_QUERY_CONTENT_FLAG_PKCS7_SIGNED_EMBED,
		windows.CERT_QUERY_FORMAT_FLAG_BINARY,
		0,
		&encoding,
		&contentType,
		&formatType,
		&store,
		nil,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSignature, err)
	}
	defer windows.CertCloseStore(store, 0)

	var certs []*x509.Certificate
	var ctx *windows.CertContext
	for {
		ctx, err = windows.CertEnumCertificatesInStore(store, ctx)
		if ctx == nil {
			break
		}
		der := make([]byte, ctx.Length)
		copy(der, unsafe.Slice(ctx.EncodedCert, ctx.Length))
		cert, perr := x509.ParseCertificate(der)
		if perr != nil {
			continue
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoSignature
	}
	return orderSignerFirst(certs), nil
}
