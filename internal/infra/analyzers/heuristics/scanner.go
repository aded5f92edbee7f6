// Package heuristics counts the cheap static indicators: abusable
// permissions, suspicious strings, packer artifacts, obfuscated layouts.
package heuristics

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/apkinfo"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

const maxEntryBytes = 4 << 20

// Permissions commonly abused by banking trojans. Matched against manifest
// strings, so partial installs still count.
var maliciousPermissions = []string{
	"SEND_SMS",
	"RECEIVE_SMS",
	"READ_SMS",
	"READ_CONTACTS",
	"READ_CALL_LOG",
	"SYSTEM_ALERT_WINDOW",
	"BIND_ACCESSIBILITY_SERVICE",
	"REQUEST_INSTALL_PACKAGES",
	"RECEIVE_BOOT_COMPLETED",
	"PROCESS_OUTGOING_CALLS",
}

var suspiciousStrings = []string{
	"frida",
	"xposed",
	"supersu",
	"/system/xbin/su",
	"DexClassLoader",
	"getInstalledPackages",
	"overlay_service",
	"keylog",
	"accessibility_event",
}

// Native libraries shipped by commercial packers.
var packerLibs = []string{
	"libjiagu",
	"libsecexe",
	"libprotectClass",
	"libDexHelper",
	"libshell",
	"libnesec",
}

type Scanner struct{}

func NewScanner() *Scanner { return &Scanner{} }

func (s *Scanner) Scan(ctx context.Context, path string, basic *domain.BasicInfo) (*domain.SecurityReport, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	report := &domain.SecurityReport{}
	singleLetterDirs := map[string]bool{}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, lib := range packerLibs {
			if strings.Contains(f.Name, lib) {
				report.PackedExecutables++
				break
			}
		}

		for _, seg := range strings.Split(f.Name, "/") {
			if len(seg) == 1 {
				singleLetterDirs[seg] = true
			}
		}

		if f.Name != "AndroidManifest.xml" && !apkinfo.TextLike(f.Name) {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			continue
		}

		text := string(data)
		if f.Name == "AndroidManifest.xml" {
			text += "\n" + strings.Join(apkinfo.UTF16Strings(data), "\n")
			for _, perm := range maliciousPermissions {
				report.MaliciousPermissions += strings.Count(text, perm)
			}
		}
		for _, needle := range suspiciousStrings {
			report.SuspiciousStrings += strings.Count(strings.ToLower(text), strings.ToLower(needle))
		}
	}

	// heavily shortened paths are a proguard/obfuscator tell
	report.Obfuscated = len(singleLetterDirs) >= 3

	return report, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntryBytes))
}
