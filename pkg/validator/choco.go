// pkg/validator/choco.go - nupkg signature checks through "nuget verify".

package validator

import (
	"context"
	"strings"
	"time"

	"github.com/rtsoft/up2date/pkg/installer"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
	"github.com/rtsoft/up2date/pkg/signature"
)

const (
	// nuget error codes seen in verify output.
	codeNotSigned      = "NU3004"
	codeNotWhitelisted = "NU3034"

	// nuget accepts a limited number of fingerprints per invocation.
	fingerprintBatch = 2

	verifyTimeout = 5 * time.Minute
)

// FingerprintSource lists the whitelisted certificate fingerprints.
type FingerprintSource interface {
	FingerprintsSHA256() ([]string, error)
}

// ChocoValidator runs nuget verify against the package.
type ChocoValidator struct {
	settings  Settings
	whitelist FingerprintSource
	runner    installer.Runner
	nuget     string
}

func NewChocoValidator(settings Settings, whitelist FingerprintSource, runner installer.Runner) *ChocoValidator {
	return &ChocoValidator{
		settings:  settings,
		whitelist: whitelist,
		runner:    runner,
		nuget:     installer.NugetCommand(),
	}
}

func (v *ChocoValidator) VerifySignature(pkg packages.Package) bool {
	if !v.settings.CheckSignature() {
		return true
	}
	level := v.settings.SignatureVerificationLevel()
	var ok bool
	switch level {
	case signature.AnyCertificate:
		ok = v.isSigned(pkg)
	case signature.TrustedCertificate:
		ok = v.isTrusted(pkg)
	case signature.WhitelistedCertificate:
		ok = v.isWhitelisted(pkg)
	default:
		logging.Warn("Unknown signature verification level", "level", int(level))
	}
	logging.Info("Choco signature check", "package", pkg.FileName(), "level", level.String(), "passed", ok)
	return ok
}

func (v *ChocoValidator) verify(pkg packages.Package, fingerprints []string) (installer.Output, bool) {
	args := []string{"verify", "-Signatures", pkg.Filepath, "-NonInteractive", "-Verbosity", "quiet"}
	if len(fingerprints) > 0 {
		args = append(args, "-CertificateFingerprint", strings.Join(fingerprints, ";"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	out, err := v.runner.Run(ctx, v.nuget, args...)
	if err != nil {
		logging.Error("Cannot run nuget verify", "package", pkg.FileName(), "error", err)
		return out, false
	}
	return out, true
}

// isSigned passes anything that is not reported as unsigned.
func (v *ChocoValidator) isSigned(pkg packages.Package) bool {
	out, ran := v.verify(pkg, nil)
	if !ran {
		return false
	}
	if out.ExitCode == 0 {
		return true
	}
	if strings.Contains(out.Combined(), codeNotSigned) {
		logging.Warn("Package is not signed", "package", pkg.FileName())
		return false
	}
	// Signed, but the chain may not be trusted; that satisfies this tier.
	return true
}

func (v *ChocoValidator) isTrusted(pkg packages.Package) bool {
	out, ran := v.verify(pkg, nil)
	if !ran {
		return false
	}
	if out.ExitCode == 0 {
		return true
	}
	if strings.Contains(out.Combined(), codeNotSigned) {
		logging.Warn("Package is not signed", "package", pkg.FileName())
	} else {
		logging.Warn("Package signature is not trusted", "package", pkg.FileName(), "exit_code", out.ExitCode)
	}
	return false
}

// isWhitelisted passes when the package is signed and nuget does not reject the signer
// for some batch of whitelisted fingerprints. Chain trust plays no part in this tier.
func (v *ChocoValidator) isWhitelisted(pkg packages.Package) bool {
	if v.whitelist == nil {
		return false
	}
	fps, err := v.whitelist.FingerprintsSHA256()
	if err != nil {
		logging.Error("Cannot read whitelist", "error", err)
		return false
	}
	if len(fps) == 0 {
		logging.Warn("Whitelist is empty", "package", pkg.FileName())
		return false
	}
	for start := 0; start < len(fps); start += fingerprintBatch {
		end := min(start+fingerprintBatch, len(fps))
		out, ran := v.verify(pkg, fps[start:end])
		if !ran {
			return false
		}
		if out.ExitCode == 0 {
			return true
		}
		combined := out.Combined()
		if strings.Contains(combined, codeNotSigned) {
			logging.Warn("Package is not signed", "package", pkg.FileName())
			return false
		}
		if strings.Contains(combined, codeNotWhitelisted) {
			logging.Debug("Signer not in fingerprint batch", "package", pkg.FileName(), "batch", start/fingerprintBatch)
			continue
		}
		logging.Debug("Signer whitelisted, ignoring other verify errors", "package", pkg.FileName(), "exit_code", out.ExitCode)
		return true
	}
	logging.Warn("Package is not signed by a whitelisted certificate", "package", pkg.FileName())
	return false
}
