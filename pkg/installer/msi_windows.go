//go:build windows

package installer

import (
	"fmt"
	"runtime"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows/registry"

	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/packages"
)

const sFalse = 0x00000001

var uninstallRoots = []string{
	`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`,
	`SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
}

// comPropertyReader opens the MSI read-only through the WindowsInstaller.Installer automation object.
type comPropertyReader struct{}

// NewPropertyReader returns the platform MSI property reader.
func NewPropertyReader() PropertyReader { return comPropertyReader{} }

func (comPropertyReader) ReadProperties(path string) (map[string]string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		if !ok || (oleErr.Code() != ole.S_OK && oleErr.Code() != sFalse) {
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WindowsInstaller.Installer")
	if err != nil {
		return nil, fmt.Errorf("creating WindowsInstaller.Installer: %w", err)
	}
	defer unknown.Release()

	installer, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, err
	}
	defer installer.Release()

	// 0 = msiOpenDatabaseModeReadOnly
	dbVar, err := oleutil.CallMethod(installer, "OpenDatabase", path, 0)
	if err != nil {
		return nil, fmt.Errorf("opening MSI database: %w", err)
	}
	db := dbVar.ToIDispatch()
	defer db.Release()

	viewVar, err := oleutil.CallMethod(db, "OpenView", "SELECT `Property`, `Value` FROM `Property`")
	if err != nil {
		return nil, fmt.Errorf("opening Property view: %w", err)
	}
	view := viewVar.ToIDispatch()
	defer view.Release()

	if _, err := oleutil.CallMethod(view, "Execute"); err != nil {
		return nil, fmt.Errorf("executing Property view: %w", err)
	}
	defer oleutil.CallMethod(view, "Close")

	props := make(map[string]string)
	for {
		recVar, err := oleutil.CallMethod(view, "Fetch")
		if err != nil {
			return nil, fmt.Errorf("fetching property: %w", err)
		}
		rec := recVar.ToIDispatch()
		if rec == nil {
			break
		}
		name, nerr := oleutil.GetProperty(rec, "StringData", 1)
		value, verr := oleutil.GetProperty(rec, "StringData", 2)
		if nerr == nil && verr == nil {
			props[name.ToString()] = value.ToString()
		}
		rec.Release()
	}
	return props, nil
}

type registryProductSource struct{}

// NewProductSource returns the registry-backed installed product source.
func NewProductSource() ProductSource { return registryProductSource{} }

func (registryProductSource) InstalledProducts() (map[string]packages.Metadata, error) {
	products := make(map[string]packages.Metadata)
	opened := 0
	for _, root := range uninstallRoots {
		key, err := registry.OpenKey(registry.LOCAL_MACHINE, root, registry.READ)
		if err != nil {
			logging.Debug("Unable to open uninstall key", "key", root, "error", err)
			continue
		}
		opened++
		names, err := key.ReadSubKeyNames(-1)
		key.Close()
		if err != nil {
			logging.Warn("Unable to read uninstall sub keys", "key", root, "error", err)
			continue
		}
		for _, name := range names {
			// MSI products register under their product code.
			if !strings.HasPrefix(name, "{") {
				continue
			}
			meta, ok := readUninstallEntry(root + `\` + name)
			if !ok {
				continue
			}
			products[name] = meta
		}
	}
	if opened == 0 {
		return nil, fmt.Errorf("no uninstall registry key could be opened")
	}
	return products, nil
}

func readUninstallEntry(path string) (packages.Metadata, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return packages.Metadata{}, false
	}
	defer k.Close()

	var meta packages.Metadata
	meta.DisplayName, _, _ = k.GetStringValue("DisplayName")
	meta.Publisher, _, _ = k.GetStringValue("Publisher")
	meta.DisplayVersion, _, _ = k.GetStringValue("DisplayVersion")
	meta.InstallDate, _, _ = k.GetStringValue("InstallDate")
	meta.URLInfoAbout, _, _ = k.GetStringValue("URLInfoAbout")
	if v, _, err := k.GetIntegerValue("Version"); err == nil {
		n := int(v)
		meta.Version = &n
	}
	if v, _, err := k.GetIntegerValue("EstimatedSize"); err == nil {
		n := int(v)
		meta.EstimatedSizeKB = &n
	}
	return meta, true
}
