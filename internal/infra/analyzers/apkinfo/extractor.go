// Package apkinfo extracts package metadata from an APK without a full
// binary manifest decode: the zip layout plus string sweeps over the
// manifest give the pipeline what it needs.
package apkinfo

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

// entry read cap, keeps a crafted zip from ballooning memory
const maxEntryBytes = 4 << 20

var (
	urlRe     = regexp.MustCompile(`https?://([A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z0-9-]+)`)
	packageRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*){2,}$`)
)

type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Analyze opens the artifact as a zip and builds the stage-1 report. A file
// that is not a readable archive is an error (the stage is mandatory).
func (e *Extractor) Analyze(ctx context.Context, path string) (*domain.BasicInfo, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a valid package archive: %w", err)
	}
	defer r.Close()

	info := &domain.BasicInfo{
		SHA256:     sum,
		EntryCount: len(r.File),
	}

	domains := map[string]bool{}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := f.Name
		if strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so") {
			info.HasNativeCode = true
		}

		switch {
		case name == "AndroidManifest.xml":
			data, err := readEntry(f)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			e.scanManifest(data, info, domains)
		case TextLike(name):
			data, err := readEntry(f)
			if err != nil {
				continue // one unreadable resource is not fatal
			}
			collectDomains(string(data), domains)
		}
	}

	info.Domains = make([]string, 0, len(domains))
	for d := range domains {
		info.Domains = append(info.Domains, d)
	}
	sort.Strings(info.Domains)

	return info, nil
}

func (e *Extractor) scanManifest(data []byte, info *domain.BasicInfo, domains map[string]bool) {
	// the binary manifest keeps attribute names and literals in a UTF-16
	// string pool, so a string sweep sees them without an AXML decode
	strs := UTF16Strings(data)
	for _, s := range strs {
		switch {
		case s == "debuggable":
			info.Debuggable = true
		case s == "allowBackup":
			info.AllowBackup = true
		case info.PackageName == "" && packageRe.MatchString(s):
			info.PackageName = s
		}
		collectDomains(s, domains)
	}
}

func collectDomains(s string, into map[string]bool) {
	for _, m := range urlRe.FindAllStringSubmatch(s, -1) {
		into[strings.ToLower(m[1])] = true
	}
}

// TextLike reports whether a zip entry is worth sweeping for strings.
func TextLike(name string) bool {
	if strings.HasPrefix(name, "assets/") || strings.HasPrefix(name, "res/raw/") {
		return true
	}
	switch strings.ToLower(strings.TrimPrefix(name, "/")) {
	case "classes.dex", "classes2.dex", "classes3.dex":
		return true
	}
	for _, ext := range []string{".xml", ".json", ".txt", ".html", ".js", ".properties"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntryBytes))
}

// UTF16Strings pulls printable little-endian UTF-16 runs (len >= 3) out of a
// binary blob.
func UTF16Strings(data []byte) []string {
	var out []string
	var run []uint16
	flush := func() {
		if len(run) >= 3 {
			out = append(out, string(utf16.Decode(run)))
		}
		run = run[:0]
	}
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if u >= 0x20 && u < 0x7f {
			run = append(run, u)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
