// Package buildinfo holds application metadata set at build time.
//
// Release builds set the version with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/nfcdata/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/nfcdata/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var (
	// Name is the technical name used in file names and the relay hello.
	Name = "nfcdata"

	// DirName is the config directory inside the user config path.
	DirName = "nfcdata"

	// DisplayName is shown in the tray, in mDNS and on the CA page.
	DisplayName = "NFC Data"

	Description = "Proximity data exchange for person records and mime payloads"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// ConfigFileName is the settings file looked up in ConfigDir.
const ConfigFileName = "config.toml"

// FullVersion returns the version with the commit when known,
// e.g. "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent is sent by relay clients, e.g. "nfcdata/1.0.0".
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// ConfigDir returns the per-user directory holding settings and relay
// certificates.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, DirName), nil
}

// BuildInfo returns the multi-line text printed by -version.
func BuildInfo() string {
	info := fmt.Sprintf("%s %s\n  %s\n  Go: %s\n  OS/Arch: %s/%s",
		Name, FullVersion(), Description, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		info += "\n  Built: " + BuildTime
	}
	return info
}
