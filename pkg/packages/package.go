// pkg/packages/package.go - package record held by the registry and its lifecycle states.

package packages

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Status is the lifecycle state of a package tracked by the registry.
type Status int

const (
	Unavailable Status = iota
	Available
	Downloading
	Downloaded
	SuggestedToInstall
	WaitingForConfirmation
	Rejected
	Installing
	Installed
	RestartNeeded
	Failed
)

var statusNames = map[Status]string{
	Unavailable:            "Unavailable",
	Available:              "Available",
	Downloading:            "Downloading",
	Downloaded:             "Downloaded",
	SuggestedToInstall:     "SuggestedToInstall",
	WaitingForConfirmation: "WaitingForConfirmation",
	Rejected:               "Rejected",
	Installing:             "Installing",
	Installed:              "Installed",
	RestartNeeded:          "RestartNeeded",
	Failed:                 "Failed",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts a status name (case-insensitive) back to a Status.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return status, nil
		}
	}
	return Unavailable, fmt.Errorf("unknown package status %q", name)
}

// MarshalText lets the status appear by name in YAML/JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Identity is what a backend reads from a package file without installing it.
type Identity struct {
	ProductCode    string
	ProductName    string
	DisplayVersion string
}

// Metadata is the optional enrichment read from the installed-product database.
type Metadata struct {
	DisplayName     string
	Publisher       string
	DisplayVersion  string
	Version         *int // bytes: [3]-major, [2]-minor, [1][0]-revision
	EstimatedSizeKB *int
	InstallDate     string // yyyymmdd
	URLInfoAbout    string
}

// Package is one artifact in the download directory plus what is known about it.
type Package struct {
	Filepath    string `json:"filepath" yaml:"filepath"`
	ProductCode string `json:"product_code,omitempty" yaml:"product_code,omitempty"`
	ProductName string `json:"product_name,omitempty" yaml:"product_name,omitempty"`

	DisplayName     string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Publisher       string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	DisplayVersion  string `json:"display_version,omitempty" yaml:"display_version,omitempty"`
	FileVersion     string `json:"file_version,omitempty" yaml:"file_version,omitempty"`
	Version         *int   `json:"version,omitempty" yaml:"version,omitempty"`
	EstimatedSizeKB *int   `json:"estimated_size_kb,omitempty" yaml:"estimated_size_kb,omitempty"`
	InstallDate     string `json:"install_date,omitempty" yaml:"install_date,omitempty"`
	URLInfoAbout    string `json:"url_info_about,omitempty" yaml:"url_info_about,omitempty"`

	Status    Status `json:"status" yaml:"status"`
	ErrorCode Result `json:"error_code" yaml:"error_code"`
}

// FileName returns the base name of the package file.
func (p Package) FileName() string {
	return filepath.Base(p.Filepath)
}

// Extension returns the lower-cased file extension including the dot.
func (p Package) Extension() string {
	return Extension(p.Filepath)
}

// Extension returns the lower-cased extension of a file name.
func Extension(fileName string) string {
	return strings.ToLower(filepath.Ext(fileName))
}

// SamePath reports whether two package paths refer to the same file.
// Windows paths are case-insensitive.
func SamePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

// Clone returns a copy that shares no memory with p.
func (p Package) Clone() Package {
	c := p
	if p.Version != nil {
		v := *p.Version
		c.Version = &v
	}
	if p.EstimatedSizeKB != nil {
		v := *p.EstimatedSizeKB
		c.EstimatedSizeKB = &v
	}
	return c
}

// ApplyIdentity copies identity fields onto the package.
func (p *Package) ApplyIdentity(id Identity) {
	p.ProductCode = id.ProductCode
	p.ProductName = id.ProductName
	p.DisplayVersion = id.DisplayVersion
	p.FileVersion = id.DisplayVersion
}

// ApplyMetadata overlays installed-product metadata. Empty values keep what is there.
func (p *Package) ApplyMetadata(m Metadata) {
	if m.DisplayName != "" {
		p.DisplayName = m.DisplayName
	}
	if m.Publisher != "" {
		p.Publisher = m.Publisher
	}
	if m.DisplayVersion != "" {
		p.DisplayVersion = m.DisplayVersion
	}
	if m.Version != nil {
		v := *m.Version
		p.Version = &v
	}
	if m.EstimatedSizeKB != nil {
		v := *m.EstimatedSizeKB
		p.EstimatedSizeKB = &v
	}
	if m.InstallDate != "" {
		p.InstallDate = m.InstallDate
	}
	if m.URLInfoAbout != "" {
		p.URLInfoAbout = m.URLInfoAbout
	}
}

// ClearMetadata drops everything that only makes sense for an installed product.
// DisplayVersion goes back to the version read from the file.
func (p *Package) ClearMetadata() {
	p.DisplayVersion = p.FileVersion
	p.DisplayName = ""
	p.Publisher = ""
	p.Version = nil
	p.EstimatedSizeKB = nil
	p.InstallDate = ""
	p.URLInfoAbout = ""
}
