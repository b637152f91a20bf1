package signature

import (
	"fmt"
	"strings"
)

// Level is the minimum trust a package signature must reach.
type Level int

const (
	// AnyCertificate accepts any embedded signature.
	AnyCertificate Level = iota
	// TrustedCertificate requires a chain to a trusted root that is not revoked.
	TrustedCertificate
	// WhitelistedCertificate requires the signer to be in the whitelist.
	WhitelistedCertificate
)

func (l Level) String() string {
	switch l {
	case AnyCertificate:
		return "Any"
	case TrustedCertificate:
		return "Trusted"
	case WhitelistedCertificate:
		return "Whitelisted"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel accepts the short names and the long policy names, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any", "signedbyanycertificate", "anycertificate":
		return AnyCertificate, nil
	case "trusted", "signedbytrustedcertificate", "trustedcertificate":
		return TrustedCertificate, nil
	case "whitelisted", "signedbywhitelistedcertificate", "whitelistedcertificate":
		return WhitelistedCertificate, nil
	}
	return AnyCertificate, fmt.Errorf("unknown signature verification level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
