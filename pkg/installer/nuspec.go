// pkg/installer/nuspec.go - reading package metadata out of a .nupkg without extracting it.

package installer

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mholt/archives"
)

// Nuspec is the subset of the NuGet manifest the choco backend uses.
type Nuspec struct {
	ID      string
	Version string
	Title   string
	Authors string
}

type nuspecDocument struct {
	Metadata struct {
		ID      string `xml:"id"`
		Version string `xml:"version"`
		Title   string `xml:"title"`
		Authors string `xml:"authors"`
	} `xml:"metadata"`
}

// ReadNuspec opens the nupkg at path and decodes the .nuspec at its root.
func ReadNuspec(ctx context.Context, path string) (Nuspec, error) {
	fsys, err := archives.FileSystem(ctx, path, nil)
	if err != nil {
		return Nuspec{}, fmt.Errorf("opening nupkg %s: %w", path, err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Nuspec{}, fmt.Errorf("listing nupkg %s: %w", path, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".nuspec") {
			continue
		}
		f, err := fsys.Open(e.Name())
		if err != nil {
			return Nuspec{}, fmt.Errorf("opening nuspec: %w", err)
		}
		var doc nuspecDocument
		err = xml.NewDecoder(f).Decode(&doc)
		f.Close()
		if err != nil {
			return Nuspec{}, fmt.Errorf("parsing nuspec: %w", err)
		}
		n := Nuspec{
			ID:      strings.TrimSpace(doc.Metadata.ID),
			Version: strings.TrimSpace(doc.Metadata.Version),
			Title:   strings.TrimSpace(doc.Metadata.Title),
			Authors: strings.TrimSpace(doc.Metadata.Authors),
		}
		if n.ID == "" || n.Version == "" {
			return Nuspec{}, fmt.Errorf("nuspec in %s lacks id or version", path)
		}
		return n, nil
	}
	return Nuspec{}, fmt.Errorf("nuspec file not found in %s", path)
}
