package packages

import (
	"fmt"
	"strings"
)

// Result is the typed outcome of an install request.
type Result int

const (
	Success Result = iota
	PackageNotSupported
	PackageUnavailable
	FailedToInstallChocoPackage
	GeneralInstallationError
	ChocoNotInstalled
	SignatureVerificationFailed
	RestartNeededResult
	CannotStartInstaller
)

var resultNames = map[Result]string{
	Success:                     "Success",
	PackageNotSupported:         "PackageNotSupported",
	PackageUnavailable:          "PackageUnavailable",
	FailedToInstallChocoPackage: "FailedToInstallChocoPackage",
	GeneralInstallationError:    "GeneralInstallationError",
	ChocoNotInstalled:           "ChocoNotInstalled",
	SignatureVerificationFailed: "SignatureVerificationFailed",
	RestartNeededResult:         "RestartNeeded",
	CannotStartInstaller:        "CannotStartInstaller",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// ParseResult converts a result name back to a Result.
func ParseResult(name string) (Result, error) {
	for result, n := range resultNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return result, nil
		}
	}
	return GeneralInstallationError, fmt.Errorf("unknown install result %q", name)
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(text []byte) error {
	parsed, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsSuccess is true for Success and RestartNeeded; a pending reboot is a qualified success.
func (r Result) IsSuccess() bool {
	return r == Success || r == RestartNeededResult
}

// Status maps an install outcome onto the package lifecycle.
func (r Result) Status() Status {
	switch r {
	case Success:
		return Installed
	case RestartNeededResult:
		return RestartNeeded
	default:
		return Failed
	}
}
