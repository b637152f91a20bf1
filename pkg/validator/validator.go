// pkg/validator/validator.go - per-type signature gates applied before install.

package validator

import (
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/signature"
)

// Validator decides whether a package's signature is acceptable under the current policy.
type Validator interface {
	VerifySignature(pkg packages.Package) bool
}

// Settings is read on every call so policy changes apply without a restart.
type Settings interface {
	CheckSignature() bool
	SignatureVerificationLevel() signature.Level
}

// FileVerifier is the part of signature.Verifier the MSI validator needs.
type FileVerifier interface {
	VerifyFile(path string, level signature.Level) bool
}

// MsiValidator checks the Authenticode signature embedded in an MSI.
type MsiValidator struct {
	settings Settings
	verifier FileVerifier
}

func NewMsiValidator(settings Settings, verifier FileVerifier) *MsiValidator {
	return &MsiValidator{settings: settings, verifier: verifier}
}

// VerifySignature passes everything when signature checking is off.
func (v *MsiValidator) VerifySignature(pkg packages.Package) bool {
	if !v.settings.CheckSignature() {
		return true
	}
	level := v.settings.SignatureVerificationLevel()
	ok := v.verifier.VerifyFile(pkg.Filepath, level)
	logging.Info("MSI signature check", "package", pkg.FileName(), "level", level.String(), "passed", ok)
	return ok
}
