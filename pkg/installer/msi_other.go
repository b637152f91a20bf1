//go:build !windows

package installer

import "github.com/rtsoft/up2date/pkg/packages"

type unsupportedPropertyReader struct{}

// NewPropertyReader returns the platform MSI property reader.
func NewPropertyReader() PropertyReader { return unsupportedPropertyReader{} }

func (unsupportedPropertyReader) ReadProperties(string) (map[string]string, error) {
	return nil, ErrNotSupported
}

type emptyProductSource struct{}

// NewProductSource returns the installed product source. There are no MSI products off Windows.
func NewProductSource() ProductSource { return emptyProductSource{} }

func (emptyProductSource) InstalledProducts() (map[string]packages.Metadata, error) {
	return map[string]packages.Metadata{}, nil
}
